package db

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	defaultMaxConns         = 10
	defaultMinConns         = 2
	defaultStatementTimeout = 10 * time.Second
	connectTimeout          = 5 * time.Second
)

// PoolOptions tunes the pool; zero values keep the defaults.
type PoolOptions struct {
	MaxConns int32
	MinConns int32
	// StatementTimeout bounds every statement server side, so a stuck query
	// cannot hold an order's row lock indefinitely.
	StatementTimeout time.Duration
	ApplicationName  string
}

// Connect opens a pgx pool and verifies it with a ping.
func Connect(ctx context.Context, dbURL string, opts ...PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	o := PoolOptions{
		MaxConns:         defaultMaxConns,
		MinConns:         defaultMinConns,
		StatementTimeout: defaultStatementTimeout,
		ApplicationName:  "paygate",
	}
	for _, opt := range opts {
		if opt.MaxConns > 0 {
			o.MaxConns = opt.MaxConns
		}
		if opt.MinConns > 0 {
			o.MinConns = opt.MinConns
		}
		if opt.StatementTimeout > 0 {
			o.StatementTimeout = opt.StatementTimeout
		}
		if opt.ApplicationName != "" {
			o.ApplicationName = opt.ApplicationName
		}
	}

	cfg.MaxConns = o.MaxConns
	cfg.MinConns = o.MinConns
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.ConnConfig.RuntimeParams["application_name"] = o.ApplicationName
	cfg.ConnConfig.RuntimeParams["statement_timeout"] = strconv.FormatInt(o.StatementTimeout.Milliseconds(), 10)

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	zap.L().Debug("database pool ready",
		zap.Int32("max_conns", o.MaxConns),
		zap.Duration("statement_timeout", o.StatementTimeout),
	)
	return pool, nil
}
