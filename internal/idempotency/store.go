// Package idempotency remembers the outcome of merchant order requests so a
// retried POST returns the original response instead of creating a second
// order. Postgres holds the durable record; Redis caches finalized outcomes.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ayo6706/payment-aggregator/internal/repository"
	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrNotFound     = errors.New("idempotency key not found")
	ErrHashMismatch = errors.New("idempotency key reused with a different request")
	ErrInProgress   = errors.New("idempotency key in progress")
)

const cachePrefix = "paygate:idem:"

// Record is a finalized request outcome. ServedBy names the tier that
// answered, "redis" or "postgres".
type Record struct {
	Key         string
	RequestHash string
	Status      int
	Body        []byte
	ContentType string
	ServedBy    string
}

// Source hands out the query set backing durable records.
type Source interface {
	Queries() repository.Querier
}

type Store struct {
	redis redis.Cmdable
	db    Source
	ttl   time.Duration
	poll  time.Duration
}

// NewStore builds a store. A nil redis client disables the cache tier.
func NewStore(redis redis.Cmdable, db Source, ttl time.Duration) *Store {
	return &Store{redis: redis, db: db, ttl: ttl, poll: 50 * time.Millisecond}
}

// ScopedKey namespaces a client supplied key by the merchant that sent it.
func ScopedKey(merchant, key string) string {
	return merchant + "/" + key
}

// Lookup returns the finalized outcome for key. Requests still running
// report ErrInProgress; a different request under the same key reports
// ErrHashMismatch.
func (s *Store) Lookup(ctx context.Context, key, requestHash string) (*Record, error) {
	if rec := s.cached(ctx, key); rec != nil {
		if rec.RequestHash != requestHash {
			return nil, ErrHashMismatch
		}
		return rec, nil
	}

	row, err := s.db.Queries().GetIdempotencyKey(ctx, key)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("get idempotency key: %w", err)
	case row.RequestHash != requestHash:
		return nil, ErrHashMismatch
	case row.InProgress:
		return nil, ErrInProgress
	}

	rec := fromRow(row)
	s.remember(ctx, rec)
	return rec, nil
}

// Reserve claims key for a new request. It reports false when another
// request already holds or completed it.
func (s *Store) Reserve(ctx context.Context, key, requestHash, method, path string) (bool, error) {
	_, err := s.db.Queries().ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{
		IdempotencyKey: key,
		RequestHash:    requestHash,
		Method:         method,
		Path:           path,
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	default:
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
}

// Finalize stores the response for a reserved key and caches it.
func (s *Store) Finalize(ctx context.Context, key, requestHash string, status int, body []byte, contentType string) (*Record, error) {
	row, err := s.db.Queries().FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{
		IdempotencyKey: key,
		RequestHash:    requestHash,
		ResponseStatus: int32(status),
		ResponseBody:   body,
		ContentType:    contentType,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finalize idempotency key: %w", err)
	}
	rec := fromRow(row)
	s.remember(ctx, rec)
	return rec, nil
}

// Release drops an in-progress reservation so the merchant may retry.
func (s *Store) Release(ctx context.Context, key string) error {
	if err := s.db.Queries().ReleaseIdempotencyKey(ctx, key); err != nil {
		return fmt.Errorf("release idempotency key: %w", err)
	}
	return nil
}

// WaitForCompletion polls until the request holding key finishes or ctx
// ends.
func (s *Store) WaitForCompletion(ctx context.Context, key, requestHash string) (*Record, error) {
	return backoff.Retry(ctx, func() (*Record, error) {
		rec, err := s.Lookup(ctx, key, requestHash)
		if err != nil && !errors.Is(err, ErrInProgress) {
			return nil, backoff.Permanent(err)
		}
		return rec, err
	}, backoff.WithBackOff(backoff.NewConstantBackOff(s.poll)), backoff.WithMaxElapsedTime(0))
}

// cached reads a finalized outcome from the Redis hash for key. Cache
// errors are logged and treated as a miss.
func (s *Store) cached(ctx context.Context, key string) *Record {
	if s.redis == nil {
		return nil
	}
	fields, err := s.redis.HGetAll(ctx, cachePrefix+key).Result()
	if err != nil {
		zap.L().Warn("idempotency cache read failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	if len(fields) == 0 {
		return nil
	}
	status, err := strconv.Atoi(fields["status"])
	if err != nil {
		return nil
	}
	return &Record{
		Key:         key,
		RequestHash: fields["hash"],
		Status:      status,
		Body:        []byte(fields["body"]),
		ContentType: fields["content_type"],
		ServedBy:    "redis",
	}
}

func (s *Store) remember(ctx context.Context, rec *Record) {
	if s.redis == nil {
		return
	}
	k := cachePrefix + rec.Key
	_, err := s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, k,
			"hash", rec.RequestHash,
			"status", rec.Status,
			"body", rec.Body,
			"content_type", rec.ContentType,
		)
		p.Expire(ctx, k, s.ttl)
		return nil
	})
	if err != nil {
		zap.L().Warn("idempotency cache write failed", zap.String("key", rec.Key), zap.Error(err))
	}
}

func fromRow(row repository.IdempotencyKey) *Record {
	return &Record{
		Key:         row.IdempotencyKey,
		RequestHash: row.RequestHash,
		Status:      int(row.ResponseStatus),
		Body:        row.ResponseBody,
		ContentType: row.ContentType,
		ServedBy:    "postgres",
	}
}
