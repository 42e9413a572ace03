package lock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) redis.Cmdable {
	t.Helper()
	if testing.Short() {
		t.Skip("redis container tests disabled in short mode")
	}
	if os.Getenv("PAYGATE_INTEGRATION") == "" {
		t.Skip("set PAYGATE_INTEGRATION=1 to run redis tests")
	}
	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: host + ":" + port.Port()})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestTryAcquireIsExclusive(t *testing.T) {
	locker := NewRedisLocker(startRedis(t))
	ctx := context.Background()

	first, err := locker.TryAcquire(ctx, "order-callback:1", 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := locker.TryAcquire(ctx, "order-callback:1", 5*time.Second)
	require.NoError(t, err)
	assert.Nil(t, second)

	require.NoError(t, first.Release(ctx))
	require.NoError(t, first.Release(ctx))

	third, err := locker.TryAcquire(ctx, "order-callback:1", 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, third)
	require.NoError(t, third.Release(ctx))
}

func TestReleaseLeavesForeignLockAlone(t *testing.T) {
	client := startRedis(t)
	locker := NewRedisLocker(client)
	ctx := context.Background()

	lease, err := locker.TryAcquire(ctx, "order-callback:2", 50*time.Millisecond)
	require.NoError(t, err)
	require.NotNil(t, lease)

	require.Eventually(t, func() bool {
		return client.Exists(ctx, keyPrefix+"order-callback:2").Val() == 0
	}, 2*time.Second, 20*time.Millisecond)

	other, err := locker.TryAcquire(ctx, "order-callback:2", 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, other)

	assert.ErrorIs(t, lease.Release(ctx), ErrNotHeld)
	assert.Equal(t, int64(1), client.Exists(ctx, keyPrefix+"order-callback:2").Val())
	require.NoError(t, other.Release(ctx))
}

func TestNilLockerErrors(t *testing.T) {
	var locker *RedisLocker
	lease, err := locker.TryAcquire(context.Background(), "k", time.Second)
	assert.Error(t, err)
	assert.Nil(t, lease)
}
