// Package lock provides a Redis-backed best-effort mutex used to serialise
// concurrent callbacks for the same order. Row locks in Postgres remain the
// source of truth; the Redis lock only keeps duplicate deliveries from
// queueing up on the same row.
package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "paygate:lock:"

// releaseScript deletes the key only while it still holds our token, so a
// lock that expired and was re-acquired by someone else is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var ErrNotHeld = errors.New("lock not held")

// Lease is a held lock. Release is safe to call more than once.
type Lease struct {
	client redis.Cmdable
	key    string
	token  string
}

// Release gives the lock up. It returns ErrNotHeld when the lease had already
// expired.
func (l *Lease) Release(ctx context.Context) error {
	if l == nil || l.client == nil {
		return nil
	}
	n, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	l.client = nil
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}

// RedisLocker hands out leases with SET NX PX.
type RedisLocker struct {
	client redis.Cmdable
}

func NewRedisLocker(client redis.Cmdable) *RedisLocker {
	return &RedisLocker{client: client}
}

// TryAcquire attempts to take key for ttl without blocking. A nil lease with
// a nil error means someone else holds it.
func (r *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if r == nil || r.client == nil {
		return nil, errors.New("redis locker not configured")
	}
	full := keyPrefix + key
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", full, err)
	}
	if !ok {
		return nil, nil
	}
	return &Lease{client: r.client, key: full, token: token}, nil
}
