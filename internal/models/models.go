package models

import (
	"time"

	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/google/uuid"
)

type Account struct {
	ID                   uuid.UUID         `json:"id"`
	Kind                 string            `json:"kind"`
	Name                 string            `json:"name"`
	APIKey               string            `json:"api_key"`
	Secret               string            `json:"-"`
	BalanceMicros        int64             `json:"balance"`
	PendingBalanceMicros int64             `json:"pending_balance"`
	CanPayin             bool              `json:"can_payin"`
	CanPayout            bool              `json:"can_payout"`
	PayinRate            domain.RateConfig `json:"-"`
	PayoutRate           domain.RateConfig `json:"-"`
	CreatedAt            time.Time         `json:"created_at"`
}

type Channel struct {
	Name             string            `json:"name"`
	Provider         string            `json:"provider"`
	DefaultRate      domain.RateConfig `json:"-"`
	MinAmountMicros  int64             `json:"min_amount"`
	MaxAmountMicros  int64             `json:"max_amount"` // 0 = unbounded
	Active           bool              `json:"active"`
	HostsPaymentPage bool              `json:"hosts_payment_page"`
}

// AllowsAmount reports whether amount lies within the channel's inclusive bounds.
func (c Channel) AllowsAmount(amount int64) bool {
	if amount < c.MinAmountMicros {
		return false
	}
	return c.MaxAmountMicros == 0 || amount <= c.MaxAmountMicros
}

type AmountRangeRoute struct {
	ID              uuid.UUID `json:"id"`
	MinAmountMicros int64     `json:"min_amount"`
	MaxAmountMicros int64     `json:"max_amount"`
	Channel         string    `json:"channel"`
	Priority        int       `json:"priority"`
	Active          bool      `json:"active"`
}

// Contains reports whether amount lies within the route's inclusive bounds.
func (r AmountRangeRoute) Contains(amount int64) bool {
	return amount >= r.MinAmountMicros && amount <= r.MaxAmountMicros
}

type BankDestination struct {
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	IFSC          string `json:"ifsc"`
	BankName      string `json:"bank_name,omitempty"`
}

type StablecoinDestination struct {
	Network string `json:"network"`
	Address string `json:"address"`
	// Amount after applying the merchant's conversion rate.
	ConvertedAmountMicros int64 `json:"converted_amount"`
}

// PayoutDestination is a tagged union; exactly one variant matching Kind is set.
type PayoutDestination struct {
	Kind       domain.PayoutKind      `json:"kind"`
	Bank       *BankDestination       `json:"bank,omitempty"`
	Stablecoin *StablecoinDestination `json:"stablecoin,omitempty"`
}

type Order struct {
	ID                   uuid.UUID          `json:"id"`
	MerchantID           uuid.UUID          `json:"merchant_id"`
	MerchantOrderID      string             `json:"merchant_order_id"`
	Channel              string             `json:"channel"`
	ActualChannel        string             `json:"actual_channel"`
	Type                 domain.OrderType   `json:"type"`
	PayoutKind           domain.PayoutKind  `json:"payout_kind,omitempty"`
	AmountMicros         int64              `json:"amount"`
	OriginalAmountMicros int64              `json:"original_amount"`
	FeeMicros            int64              `json:"fee"`
	NetAmountMicros      int64              `json:"net_amount"`
	Status               domain.OrderStatus `json:"status"`
	ProviderOrderID      string             `json:"provider_order_id,omitempty"`
	SettlementRef        string             `json:"settlement_ref,omitempty"`
	CallbackURL          string             `json:"callback_url,omitempty"`
	CallbackSent         bool               `json:"callback_sent"`
	CallbackAttempts     int                `json:"callback_attempts"`
	Param                string             `json:"param,omitempty"`
	Destination          *PayoutDestination `json:"destination,omitempty"`
	PayURL               string             `json:"pay_url,omitempty"`
	ProviderResponse     []byte             `json:"-"`
	CallbackPayload      []byte             `json:"-"`
	FailureReason        string             `json:"failure_reason,omitempty"`
	CreatedAt            time.Time          `json:"created_at"`
	ExpiresAt            time.Time          `json:"expires_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// Amounts returns the order's amount/fee/net triple.
func (o *Order) Amounts() domain.Amounts {
	return domain.Amounts{Amount: o.AmountMicros, Fee: o.FeeMicros, Net: o.NetAmountMicros}
}

// EffectiveStatus is the status as shown to readers at now.
func (o *Order) EffectiveStatus(now time.Time) domain.OrderStatus {
	return domain.EffectiveStatus(o.Status, o.ExpiresAt, now)
}

// UpstreamRef is the order reference sent to providers and echoed back in
// their callbacks. Merchant order ids are only unique per merchant, so the
// aggregator id is used instead.
func (o *Order) UpstreamRef() string {
	return o.ID.String()
}

// ServingChannel is the concrete channel that handled the order.
func (o *Order) ServingChannel() string {
	if o.ActualChannel != "" {
		return o.ActualChannel
	}
	return o.Channel
}

type NotificationJob struct {
	ID          uuid.UUID  `json:"id"`
	OrderID     uuid.UUID  `json:"order_id"`
	Attempt     int        `json:"attempt"` // deliveries started, counted on claim
	Status      string     `json:"status"`
	AvailableAt time.Time  `json:"available_at"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type AuditEntry struct {
	ID         uuid.UUID  `json:"id"`
	EntityType string     `json:"entity_type"`
	EntityID   uuid.UUID  `json:"entity_id"`
	ActorID    *uuid.UUID `json:"actor_id,omitempty"`
	Action     string     `json:"action"`
	PrevState  string     `json:"prev_state,omitempty"`
	NextState  string     `json:"next_state,omitempty"`
	Metadata   []byte     `json:"metadata,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
