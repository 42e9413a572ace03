package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// RateConfig is a fee schedule: a percentage of the amount plus an optional
// fixed fee, and the single conversion rate used for stablecoin payouts.
type RateConfig struct {
	Percent        decimal.Decimal // 5 means 5%
	FixedMicros    int64
	ConversionRate decimal.Decimal
}

// IsZero reports whether the schedule was left unset.
func (r RateConfig) IsZero() bool {
	return r.Percent.IsZero() && r.FixedMicros == 0
}

// Fee returns the fee in micros for the given amount, rounded half away from zero.
func (r RateConfig) Fee(amountMicros int64) int64 {
	pct := decimal.NewFromInt(amountMicros).Mul(r.Percent).Div(hundred).Round(0).IntPart()
	return pct + r.FixedMicros
}

// Split returns fee and net amount for the given amount.
func (r RateConfig) Split(amountMicros int64) (fee, net int64, err error) {
	fee = r.Fee(amountMicros)
	if fee < 0 {
		return 0, 0, fmt.Errorf("negative fee %d for amount %d", fee, amountMicros)
	}
	if fee > amountMicros {
		return 0, 0, fmt.Errorf("fee %d exceeds amount %d", fee, amountMicros)
	}
	return fee, amountMicros - fee, nil
}

// Convert applies the conversion rate; a zero rate is treated as 1.
func (r RateConfig) Convert(amountMicros int64) int64 {
	if r.ConversionRate.IsZero() {
		return amountMicros
	}
	return NewMoney(amountMicros, "").Convert("", r.ConversionRate).Amount
}

// ParseRate builds a RateConfig from its stored textual representation.
func ParseRate(percent string, fixedMicros int64, conversion string) (RateConfig, error) {
	rc := RateConfig{FixedMicros: fixedMicros}
	if percent != "" {
		p, err := decimal.NewFromString(percent)
		if err != nil {
			return RateConfig{}, fmt.Errorf("parse rate percent %q: %w", percent, err)
		}
		rc.Percent = p
	}
	if conversion != "" {
		c, err := decimal.NewFromString(conversion)
		if err != nil {
			return RateConfig{}, fmt.Errorf("parse conversion rate %q: %w", conversion, err)
		}
		rc.ConversionRate = c
	}
	return rc, nil
}
