package domain

import "github.com/shopspring/decimal"

// Amounts is the economic triple stored on an order.
type Amounts struct {
	Amount int64
	Fee    int64
	Net    int64
}

// LedgerEffect lists the relative balance mutations caused by one settlement.
// PendingRelease is subtracted from the merchant's pending balance and floored
// at zero by the store.
type LedgerEffect struct {
	MerchantBalanceDelta int64
	PendingRelease       int64
	PlatformBalanceDelta int64

	// Corrected is set when the settled amount differed from the requested
	// amount; Amounts then holds the recomputed values to persist.
	Corrected bool
	Amounts   Amounts
}

// IsZero reports whether the settlement moves no money.
func (e LedgerEffect) IsZero() bool {
	return e.MerchantBalanceDelta == 0 && e.PendingRelease == 0 && e.PlatformBalanceDelta == 0 && !e.Corrected
}

// ComputeLedgerEffect derives the balance mutations for an order of the given
// type reaching status. actualAmount is the provider-reported settled amount
// and is only consulted for successful payins; zero means "not reported".
func ComputeLedgerEffect(orderType OrderType, status OrderStatus, current Amounts, actualAmount int64) LedgerEffect {
	effect := LedgerEffect{Amounts: current}

	switch orderType {
	case OrderTypePayin:
		if status != StatusSuccess {
			return effect
		}
		if actualAmount > 0 && HasDiscrepancy(current.Amount, actualAmount) {
			effect.Amounts = CorrectAmounts(current, actualAmount)
			effect.Corrected = true
		}
		effect.MerchantBalanceDelta = effect.Amounts.Net
		effect.PlatformBalanceDelta = effect.Amounts.Fee
	case OrderTypePayout:
		switch status {
		case StatusSuccess:
			effect.PendingRelease = current.Amount
			effect.PlatformBalanceDelta = current.Fee
		case StatusFailed:
			effect.PendingRelease = current.Amount
			effect.MerchantBalanceDelta = current.Amount + current.Fee
		}
	}
	return effect
}

// HasDiscrepancy reports whether actual differs from requested by more than 0.01.
func HasDiscrepancy(requested, actual int64) bool {
	diff := actual - requested
	if diff < 0 {
		diff = -diff
	}
	return diff > DiscrepancyEpsilonMicros
}

// CorrectAmounts re-derives fee and net for a settled amount using the
// effective rate fee/amount of the original order. A flat fee component is
// scaled along with the proportional part.
func CorrectAmounts(original Amounts, actual int64) Amounts {
	if original.Amount == 0 {
		return Amounts{Amount: actual, Fee: 0, Net: actual}
	}
	fee := decimal.NewFromInt(actual).
		Mul(decimal.NewFromInt(original.Fee)).
		Div(decimal.NewFromInt(original.Amount)).
		Round(0).
		IntPart()
	return Amounts{Amount: actual, Fee: fee, Net: actual - fee}
}
