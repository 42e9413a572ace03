package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	serializationFailureCode = "40001"
	deadlockDetectedCode     = "40P01"
	txMaxTries               = 3
)

// Store owns the pool and hands out query sets, plain or transactional.
type Store struct {
	pool    *pgxpool.Pool
	queries *Queries
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, queries: New(pool)}
}

func (s *Store) Queries() Querier {
	return s.queries
}

// Ping satisfies the readiness probe contract.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RunInTx executes fn inside one transaction; any error from fn rolls back
// every statement issued through q. Settlements of different orders all
// credit the platform account, so deadlocks and serialization failures are
// retried with a short backoff. fn must be safe to run more than once.
func (s *Store) RunInTx(ctx context.Context, fn func(q Querier) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		err := s.runOnce(ctx, fn)
		if err == nil {
			return struct{}{}, nil
		}
		if !IsRetryableTxError(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		zap.L().Warn("transaction conflict, retrying", zap.Int("attempt", attempt), zap.Error(err))
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(txMaxTries))
	return err
}

func (s *Store) runOnce(ctx context.Context, fn func(q Querier) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	if err := fn(s.queries.WithTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// IsRetryableTxError reports whether Postgres aborted the transaction for a
// conflict that a fresh attempt may not hit.
func IsRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == serializationFailureCode || pgErr.Code == deadlockDetectedCode
}
