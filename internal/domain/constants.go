package domain

import "strings"

// OrderType distinguishes collections from disbursements.
type OrderType string

const (
	OrderTypePayin  OrderType = "payin"
	OrderTypePayout OrderType = "payout"
)

// OrderStatus is the canonical, provider-independent order status.
type OrderStatus string

const (
	StatusPending    OrderStatus = "pending"
	StatusProcessing OrderStatus = "processing"
	StatusSuccess    OrderStatus = "success"
	StatusFailed     OrderStatus = "failed"
	StatusExpired    OrderStatus = "expired"
)

// PayoutKind selects the payout destination variant.
type PayoutKind string

const (
	PayoutKindBank       PayoutKind = "bank"
	PayoutKindStablecoin PayoutKind = "stablecoin"
)

const (
	AccountKindMerchant = "merchant"
	AccountKindPlatform = "platform"

	// Notification job statuses
	JobStatusPending = "pending"
	JobStatusDone    = "done"
	JobStatusDead    = "dead"

	AuditEntityOrder = "order"
)

// ParseOrderType accepts the path/query representation of an order type.
func ParseOrderType(v string) (OrderType, bool) {
	switch OrderType(strings.ToLower(strings.TrimSpace(v))) {
	case OrderTypePayin:
		return OrderTypePayin, true
	case OrderTypePayout:
		return OrderTypePayout, true
	default:
		return "", false
	}
}

// IsTerminal reports whether no further transition may leave the status.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailed
}

func (t OrderType) String() string { return string(t) }

func (s OrderStatus) String() string { return string(s) }
