// Package notify delivers settlement notifications to merchants.
package notify

import (
	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/models"
	"github.com/ayo6706/payment-aggregator/internal/signing"
)

// Webhook status codes as seen by merchants.
const (
	statusSuccess = "1"
	statusFailed  = "0"
)

// BuildPayload renders the merchant webhook for a settled order, signed with
// the merchant's secret. Every value is a string so the merchant can verify
// the signature over exactly what it receives.
func BuildPayload(order models.Order, secret string) map[string]string {
	status := statusFailed
	if order.Status == domain.StatusSuccess {
		status = statusSuccess
	}
	p := map[string]string{
		"status":  status,
		"amount":  domain.FormatAmount(order.AmountMicros),
		"orderId": order.MerchantOrderID,
		"id":      order.ID.String(),
		"utr":     order.SettlementRef,
		"param":   order.Param,
	}
	switch order.Type {
	case domain.OrderTypePayin:
		original := order.OriginalAmountMicros
		if original == 0 {
			original = order.AmountMicros
		}
		p["orderAmount"] = domain.FormatAmount(original)
	case domain.OrderTypePayout:
		p["message"] = order.FailureReason
	}
	p[signing.SignField] = signing.MD5(p, secret, true)
	return p
}

// VerifyPayload checks a webhook body the way a merchant would.
func VerifyPayload(p map[string]string, secret string) bool {
	return signing.Equal(signing.MD5(p, secret, true), p[signing.SignField])
}
