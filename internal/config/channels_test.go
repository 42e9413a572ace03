package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleChannels = `
channels:
  - name: alpha
    hosts_payment_page: true
    min_amount: "10"
    max_amount: "5000"
    rate_percent: "5"
    rate_fixed: "1.5"
    provider:
      type: hashpay
      secret: ${TEST_ALPHA_SECRET}
  - name: beta
    active: false
    provider:
      type: mock
  - name: smart
    dynamic: true
routes:
  - channel: alpha
    min_amount: "0"
    max_amount: "999"
    priority: 5
  - channel: beta
    min_amount: "1000"
    max_amount: "5000"
`

func TestParseChannels(t *testing.T) {
	t.Setenv("TEST_ALPHA_SECRET", "from-env")

	file, err := ParseChannels([]byte(sampleChannels))
	require.NoError(t, err)
	require.Len(t, file.Channels, 3)
	assert.Equal(t, "from-env", file.Channels[0].Provider.Secret)

	alpha, err := file.Channels[0].Model()
	require.NoError(t, err)
	assert.Equal(t, int64(10*domain.MicrosPerUnit), alpha.MinAmountMicros)
	assert.Equal(t, int64(1_500_000), alpha.DefaultRate.FixedMicros)
	assert.Equal(t, "5", alpha.DefaultRate.Percent.String())
	assert.True(t, alpha.Active)

	beta, err := file.Channels[1].Model()
	require.NoError(t, err)
	assert.False(t, beta.Active)
	assert.Zero(t, beta.MaxAmountMicros)

	smart, err := file.Channels[2].Model()
	require.NoError(t, err)
	assert.Equal(t, "dynamic", smart.Provider)

	route, err := file.Routes[0].Model()
	require.NoError(t, err)
	assert.Equal(t, int64(999*domain.MicrosPerUnit), route.MaxAmountMicros)
	assert.True(t, route.Active)
}

func TestParseChannelsRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"empty":           `channels: []`,
		"duplicate":       "channels:\n  - name: a\n    provider: {type: mock}\n  - name: a\n    provider: {type: mock}\n",
		"missing type":    "channels:\n  - name: a\n",
		"unknown target":  "channels:\n  - name: a\n    provider: {type: mock}\nroutes:\n  - channel: b\n    max_amount: \"1\"\n",
		"dynamic target":  "channels:\n  - name: s\n    dynamic: true\nroutes:\n  - channel: s\n    max_amount: \"1\"\n",
		"inverted bounds": "channels:\n  - name: a\n    provider: {type: mock}\nroutes:\n  - channel: a\n    min_amount: \"5\"\n    max_amount: \"1\"\n",
		"bad amount":      "channels:\n  - name: a\n    min_amount: lots\n    provider: {type: mock}\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseChannels([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadChannelsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleChannels), 0o600))

	file, err := LoadChannels(path)
	require.NoError(t, err)
	assert.Len(t, file.Routes, 2)

	_, err = LoadChannels(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
