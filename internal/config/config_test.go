package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", testJWTSecret)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.HTTPPort)
	assert.True(t, cfg.CallbackAckOnError)
	assert.Equal(t, 30*time.Minute, cfg.OrderTTL)
	assert.Equal(t, "order-events", cfg.KafkaOrderTopic)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, int32(50), cfg.NotifyBatchSize)
	assert.Equal(t, time.Minute, cfg.NotifyLease)
}

func TestLoadPrefixedAliases(t *testing.T) {
	t.Setenv("PAYGATE_JWT_SECRET", testJWTSecret)
	t.Setenv("PAYGATE_CALLBACK_ACK_ON_ERROR", "false")
	t.Setenv("PAYGATE_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("PAYGATE_PUBLIC_BASE_URL", "https://pay.example/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.CallbackAckOnError)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, "https://pay.example", cfg.PublicBaseURL)
}

func TestLoadRejectsShortSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "short")
	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("JWT_SECRET", testJWTSecret)
	t.Setenv("NOTIFY_TIMEOUT", "soon")
	_, err := Load()
	require.ErrorContains(t, err, "NOTIFY_TIMEOUT")
}

func TestLoadRejectsLeaseShorterThanDelivery(t *testing.T) {
	t.Setenv("JWT_SECRET", testJWTSecret)
	t.Setenv("NOTIFY_TIMEOUT", "30s")
	t.Setenv("NOTIFY_LEASE", "30s")
	_, err := Load()
	require.ErrorContains(t, err, "NOTIFY_LEASE")

	// 50 jobs at 20/s queue for 2.5s behind the limiter.
	t.Setenv("NOTIFY_LEASE", "32s")
	_, err = Load()
	require.ErrorContains(t, err, "NOTIFY_LEASE")

	t.Setenv("NOTIFY_LEASE", "45s")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, cfg.NotifyLease)
}
