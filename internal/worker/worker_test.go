package worker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/models"
	"github.com/ayo6706/payment-aggregator/internal/notify"
	"github.com/ayo6706/payment-aggregator/internal/repository"
	"github.com/ayo6706/payment-aggregator/internal/service"
	"github.com/ayo6706/payment-aggregator/internal/testutil/memstore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedSettledOrders(t *testing.T, store *memstore.Store, callbackURL string, n int) []uuid.UUID {
	t.Helper()
	merchant := store.AddAccount(models.Account{Name: "acme", Secret: "s3cret"})
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		order := models.Order{
			ID:              uuid.New(),
			MerchantID:      merchant.ID,
			MerchantOrderID: uuid.NewString(),
			Type:            domain.OrderTypePayin,
			Status:          domain.StatusSuccess,
			AmountMicros:    10 * domain.MicrosPerUnit,
			CallbackURL:     callbackURL,
		}
		store.PutOrder(order)
		require.NoError(t, store.EnqueueNotification(context.Background(), repository.EnqueueNotificationParams{
			ID:          uuid.New(),
			OrderID:     order.ID,
			AvailableAt: time.Now().Add(-time.Second),
		}))
		ids = append(ids, order.ID)
	}
	return ids
}

func TestNotificationWorkerProcessOnceDeliversBatch(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	store := memstore.New()
	ids := seedSettledOrders(t, store, srv.URL, 3)
	fwd := notify.NewForwarder(store, srv.Client(), time.Second, nil)
	w := NewNotificationWorker(store, fwd).WithRate(1000)

	n, err := w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int32(3), hits.Load())
	for _, id := range ids {
		assert.True(t, store.Order(id).CallbackSent)
	}

	n, err = w.ProcessOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

type countingProcessor struct {
	calls atomic.Int32
}

func (p *countingProcessor) ProcessJob(context.Context, models.NotificationJob) (notify.Outcome, error) {
	p.calls.Add(1)
	return notify.OutcomeDelivered, nil
}

func TestNotificationWorkerWakeTriggersPoll(t *testing.T) {
	store := memstore.New()
	seedSettledOrders(t, store, "http://merchant.invalid/hook", 1)
	proc := &countingProcessor{}
	w := NewNotificationWorker(store, proc).WithPollInterval(time.Hour).WithRate(1000)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	stop := w.Run(ctx)
	defer stop()

	w.Wake()
	w.Wake()
	require.Eventually(t, func() bool { return proc.calls.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

type fakeReconciler struct {
	runs    atomic.Int32
	err     error
	block   chan struct{}
	started chan struct{}
}

func (f *fakeReconciler) SyncStaleOrders(ctx context.Context) (service.ReconcileReport, error) {
	f.runs.Add(1)
	if f.block != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
	return service.ReconcileReport{Checked: 1}, f.err
}

func TestReconciliationWorkerRunsImmediatelyAndOnTick(t *testing.T) {
	rec := &fakeReconciler{err: errors.New("provider down")}
	w := NewReconciliationWorker(rec).WithInterval(20 * time.Millisecond)

	stop := w.Run(context.Background())
	require.Eventually(t, func() bool { return rec.runs.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	stop()
	stop()
}

func TestReconciliationWorkerSkipsOverlappingPass(t *testing.T) {
	rec := &fakeReconciler{block: make(chan struct{}), started: make(chan struct{}, 1)}
	w := NewReconciliationWorker(rec).
		WithInterval(10 * time.Millisecond).
		WithPassTimeout(time.Minute)

	stop := w.Run(context.Background())
	<-rec.started
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), rec.runs.Load(), "ticks during a running pass are dropped")

	close(rec.block)
	require.Eventually(t, func() bool { return rec.runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	stop()
}

func TestReconciliationWorkerStopCancelsPass(t *testing.T) {
	rec := &fakeReconciler{block: make(chan struct{}), started: make(chan struct{}, 1)}
	w := NewReconciliationWorker(rec).
		WithInterval(time.Hour).
		WithPassTimeout(time.Hour)

	stop := w.Run(context.Background())
	<-rec.started

	stopped := make(chan struct{})
	go func() {
		stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not cancel the running pass")
	}
}
