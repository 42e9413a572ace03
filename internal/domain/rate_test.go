package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateConfig_Split(t *testing.T) {
	rate := RateConfig{Percent: decimal.NewFromInt(5)}

	fee, net, err := rate.Split(1000 * MicrosPerUnit)
	require.NoError(t, err)
	assert.Equal(t, int64(50*MicrosPerUnit), fee)
	assert.Equal(t, int64(950*MicrosPerUnit), net)
}

func TestRateConfig_FixedComponent(t *testing.T) {
	rate := RateConfig{Percent: decimal.RequireFromString("2.5"), FixedMicros: 3 * MicrosPerUnit}

	fee, net, err := rate.Split(200 * MicrosPerUnit)
	require.NoError(t, err)
	assert.Equal(t, int64(8*MicrosPerUnit), fee)
	assert.Equal(t, int64(192*MicrosPerUnit), net)
}

func TestRateConfig_FeeExceedsAmount(t *testing.T) {
	rate := RateConfig{FixedMicros: 10 * MicrosPerUnit}
	_, _, err := rate.Split(5 * MicrosPerUnit)
	assert.Error(t, err)
}

func TestRateConfig_Convert(t *testing.T) {
	assert.Equal(t, int64(500), RateConfig{}.Convert(500))

	rate := RateConfig{ConversionRate: decimal.RequireFromString("0.0119")}
	assert.Equal(t, int64(11_900_000), rate.Convert(1000*MicrosPerUnit))
}

func TestParseRate(t *testing.T) {
	rc, err := ParseRate("5.5", 1000, "0.012")
	require.NoError(t, err)
	assert.True(t, rc.Percent.Equal(decimal.RequireFromString("5.5")))
	assert.Equal(t, int64(1000), rc.FixedMicros)
	assert.True(t, rc.ConversionRate.Equal(decimal.RequireFromString("0.012")))

	rc, err = ParseRate("", 0, "")
	require.NoError(t, err)
	assert.True(t, rc.IsZero())

	_, err = ParseRate("x", 0, "")
	assert.Error(t, err)
}
