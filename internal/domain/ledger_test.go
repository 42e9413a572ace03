package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const unit = MicrosPerUnit

func TestComputeLedgerEffect_PayinSuccess(t *testing.T) {
	current := Amounts{Amount: 1000 * unit, Fee: 50 * unit, Net: 950 * unit}

	effect := ComputeLedgerEffect(OrderTypePayin, StatusSuccess, current, 1000*unit)

	assert.False(t, effect.Corrected)
	assert.Equal(t, int64(950*unit), effect.MerchantBalanceDelta)
	assert.Equal(t, int64(50*unit), effect.PlatformBalanceDelta)
	assert.Zero(t, effect.PendingRelease)
	// conservation
	assert.Equal(t, current.Amount, effect.MerchantBalanceDelta+effect.PlatformBalanceDelta)
}

func TestComputeLedgerEffect_PayinWithinEpsilon(t *testing.T) {
	current := Amounts{Amount: 1000 * unit, Fee: 50 * unit, Net: 950 * unit}

	effect := ComputeLedgerEffect(OrderTypePayin, StatusSuccess, current, 1000*unit+DiscrepancyEpsilonMicros)

	assert.False(t, effect.Corrected)
	assert.Equal(t, current, effect.Amounts)
}

func TestComputeLedgerEffect_PayinDiscrepancy(t *testing.T) {
	current := Amounts{Amount: 1000 * unit, Fee: 50 * unit, Net: 950 * unit}

	effect := ComputeLedgerEffect(OrderTypePayin, StatusSuccess, current, 800*unit)

	assert.True(t, effect.Corrected)
	assert.Equal(t, Amounts{Amount: 800 * unit, Fee: 40 * unit, Net: 760 * unit}, effect.Amounts)
	assert.Equal(t, int64(760*unit), effect.MerchantBalanceDelta)
	assert.Equal(t, int64(40*unit), effect.PlatformBalanceDelta)
}

func TestComputeLedgerEffect_PayinUnreportedAmount(t *testing.T) {
	current := Amounts{Amount: 1000 * unit, Fee: 50 * unit, Net: 950 * unit}
	effect := ComputeLedgerEffect(OrderTypePayin, StatusSuccess, current, 0)
	assert.False(t, effect.Corrected)
	assert.Equal(t, int64(950*unit), effect.MerchantBalanceDelta)
}

func TestComputeLedgerEffect_PayinFailed(t *testing.T) {
	current := Amounts{Amount: 1000 * unit, Fee: 50 * unit, Net: 950 * unit}
	assert.True(t, ComputeLedgerEffect(OrderTypePayin, StatusFailed, current, 1000*unit).IsZero())
	assert.True(t, ComputeLedgerEffect(OrderTypePayin, StatusProcessing, current, 0).IsZero())
}

func TestComputeLedgerEffect_Payout(t *testing.T) {
	current := Amounts{Amount: 500 * unit, Fee: 10 * unit, Net: 490 * unit}

	ok := ComputeLedgerEffect(OrderTypePayout, StatusSuccess, current, 0)
	assert.Equal(t, int64(500*unit), ok.PendingRelease)
	assert.Equal(t, int64(10*unit), ok.PlatformBalanceDelta)
	assert.Zero(t, ok.MerchantBalanceDelta)

	failed := ComputeLedgerEffect(OrderTypePayout, StatusFailed, current, 0)
	assert.Equal(t, int64(500*unit), failed.PendingRelease)
	assert.Equal(t, int64(510*unit), failed.MerchantBalanceDelta)
	assert.Zero(t, failed.PlatformBalanceDelta)
}

func TestCorrectAmounts_FlatFeeScales(t *testing.T) {
	// 2% + 10 flat on 1000 = 30; settled 500 keeps the 3% effective rate
	got := CorrectAmounts(Amounts{Amount: 1000 * unit, Fee: 30 * unit, Net: 970 * unit}, 500*unit)
	assert.Equal(t, Amounts{Amount: 500 * unit, Fee: 15 * unit, Net: 485 * unit}, got)
}
