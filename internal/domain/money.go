package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MicrosPerUnit is the storage scale for every amount column.
const MicrosPerUnit = 1_000_000

// DiscrepancyEpsilonMicros is the tolerance (0.01) below which a settled amount
// is considered equal to the requested amount.
const DiscrepancyEpsilonMicros int64 = 10_000

var micros = decimal.NewFromInt(MicrosPerUnit)

// Money represents an amount stored as BIGINT micros (10^-6) to avoid floating point errors.
type Money struct {
	Amount   int64 // micros
	Currency string
}

// NewMoney creates a new Money instance from micros.
func NewMoney(amount int64, currency string) Money {
	return Money{Amount: amount, Currency: currency}
}

// ToDecimal converts the int64 micros to a shopspring/decimal.Decimal.
func (m Money) ToDecimal() decimal.Decimal {
	return MicrosToDecimal(m.Amount)
}

// Convert applies a conversion rate (target per source unit) and rounds down to micros.
func (m Money) Convert(targetCurrency string, rate decimal.Decimal) Money {
	return Money{
		Amount:   FromDecimal(m.ToDecimal().Mul(rate)),
		Currency: targetCurrency,
	}
}

// String returns the amount with two decimals followed by the currency code.
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.ToDecimal().StringFixed(2), m.Currency)
}

// MicrosToDecimal converts a micros amount into whole units.
func MicrosToDecimal(v int64) decimal.Decimal {
	return decimal.NewFromInt(v).Div(micros)
}

// FromDecimal converts a decimal.Decimal to int64 micros, truncating sub-micro digits.
func FromDecimal(d decimal.Decimal) int64 {
	return d.Mul(micros).IntPart()
}

// ParseAmount parses a provider or merchant supplied decimal string into micros.
func ParseAmount(v string) (int64, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", v, err)
	}
	return FromDecimal(d), nil
}

// FormatAmount renders micros with two decimals, the wire format used towards
// providers and merchants.
func FormatAmount(v int64) string {
	return MicrosToDecimal(v).StringFixed(2)
}
