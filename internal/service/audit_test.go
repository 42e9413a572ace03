package service

import (
	"context"
	"errors"
	"testing"

	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/repository"
	"github.com/ayo6706/payment-aggregator/internal/testutil/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditRecordsTransitions(t *testing.T) {
	store := memstore.New()
	audit := NewAuditService()
	id := uuid.New()

	err := store.RunInTx(context.Background(), func(q repository.Querier) error {
		if err := audit.Record(context.Background(), q, orderTransition{OrderID: id, To: domain.StatusPending}); err != nil {
			return err
		}
		return audit.Record(context.Background(), q, orderTransition{
			OrderID: id,
			From:    domain.StatusProcessing,
			To:      domain.StatusSuccess,
			Detail:  map[string]any{"source": "callback"},
		})
	})
	require.NoError(t, err)

	entries := store.AuditEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "created", entries[0].Action)
	assert.Empty(t, entries[0].PrevState)
	assert.Equal(t, "pending", entries[0].NextState)
	assert.Nil(t, entries[0].Metadata)

	assert.Equal(t, "status_success", entries[1].Action)
	assert.Equal(t, "processing", entries[1].PrevState)
	assert.JSONEq(t, `{"source":"callback"}`, string(entries[1].Metadata))
	assert.Equal(t, domain.AuditEntityOrder, entries[1].EntityType)
	assert.Equal(t, id, entries[1].EntityID)
}

func TestAuditRollsBackWithTransaction(t *testing.T) {
	store := memstore.New()
	audit := NewAuditService()
	boom := errors.New("ledger write failed")

	err := store.RunInTx(context.Background(), func(q repository.Querier) error {
		if err := audit.Record(context.Background(), q, orderTransition{OrderID: uuid.New(), To: domain.StatusPending}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, store.AuditEntries())
}
