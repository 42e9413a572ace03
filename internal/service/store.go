package service

import (
	"context"

	"github.com/ayo6706/payment-aggregator/internal/repository"
)

// QueryStore is the persistence the order services need: plain reads through
// Queries, and RunInTx for every state change that touches an order row
// together with ledger entries or notification jobs.
//
// repository.Store backs it in production and memstore in unit tests.
type QueryStore interface {
	Queries() repository.Querier
	RunInTx(ctx context.Context, fn func(q repository.Querier) error) error
}

var _ QueryStore = (*repository.Store)(nil)
