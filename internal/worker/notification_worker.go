package worker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayo6706/payment-aggregator/internal/clock"
	"github.com/ayo6706/payment-aggregator/internal/models"
	"github.com/ayo6706/payment-aggregator/internal/notify"
	"github.com/ayo6706/payment-aggregator/internal/observability"
	"github.com/ayo6706/payment-aggregator/internal/repository"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// JobProcessor performs one delivery attempt for a claimed job.
type JobProcessor interface {
	ProcessJob(ctx context.Context, job models.NotificationJob) (notify.Outcome, error)
}

// NotificationWorker drains due notification jobs. Jobs are leased with
// FOR UPDATE SKIP LOCKED, so several instances can run side by side; a job
// whose worker dies becomes claimable again once the lease runs out.
type NotificationWorker struct {
	store        notify.Store
	processor    JobProcessor
	clock        clock.Clock
	limiter      *rate.Limiter
	pollInterval time.Duration
	batchSize    int32
	concurrency  int
	lease        time.Duration

	wake     chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewNotificationWorker(store notify.Store, processor JobProcessor) *NotificationWorker {
	return &NotificationWorker{
		store:        store,
		processor:    processor,
		clock:        clock.NewSystem(),
		limiter:      rate.NewLimiter(rate.Limit(20), 5),
		pollInterval: 2 * time.Second,
		batchSize:    50,
		concurrency:  8,
		lease:        time.Minute,
		wake:         make(chan struct{}, 1),
		stopCh:       make(chan struct{}),
	}
}

func (w *NotificationWorker) WithPollInterval(d time.Duration) *NotificationWorker {
	if d > 0 {
		w.pollInterval = d
	}
	return w
}

func (w *NotificationWorker) WithBatchSize(n int32) *NotificationWorker {
	if n > 0 {
		w.batchSize = n
	}
	return w
}

// WithRate caps outbound deliveries per second across the whole worker.
func (w *NotificationWorker) WithRate(perSecond float64) *NotificationWorker {
	if perSecond > 0 {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		w.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return w
}

// WithLease sets how long a claimed job stays invisible to other workers.
// It must exceed the merchant request timeout.
func (w *NotificationWorker) WithLease(d time.Duration) *NotificationWorker {
	if d > 0 {
		w.lease = d
	}
	return w
}

func (w *NotificationWorker) WithClock(c clock.Clock) *NotificationWorker {
	if c != nil {
		w.clock = c
	}
	return w
}

// Wake asks for an immediate poll. It never blocks.
func (w *NotificationWorker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Start polls until ctx is canceled or Stop is called.
func (w *NotificationWorker) Start(ctx context.Context) {
	zap.L().Info("notification worker starting",
		zap.Duration("poll_interval", w.pollInterval),
		zap.Int32("batch_size", w.batchSize),
	)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("notification worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("notification worker stop signal received")
			return
		case <-ticker.C:
		case <-w.wake:
		}
		// Keep draining while full batches come back.
		for {
			n, err := w.ProcessOnce(ctx)
			if err != nil {
				observability.IncrementWorkerRun("notification", "failed")
				zap.L().Error("notification batch failed", zap.Error(err))
				break
			}
			observability.IncrementWorkerRun("notification", "success")
			if n < int(w.batchSize) || ctx.Err() != nil {
				break
			}
		}
	}
}

func (w *NotificationWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// Run starts the worker in a goroutine and returns its stop function.
func (w *NotificationWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// ProcessOnce claims one batch of due jobs and delivers them concurrently.
// It returns the number of jobs claimed.
func (w *NotificationWorker) ProcessOnce(ctx context.Context) (int, error) {
	now := w.clock.Now()
	jobs, err := w.store.Queries().ClaimDueNotifications(ctx, repository.ClaimDueNotificationsParams{
		Now:        now,
		LeaseUntil: now.Add(w.lease),
		Limit:      w.batchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("claim notifications: %w", err)
	}
	if len(jobs) == 0 {
		return 0, nil
	}

	var failed atomic.Int32
	p := pool.New().WithMaxGoroutines(w.concurrency)
	for _, job := range jobs {
		p.Go(func() {
			if err := w.limiter.Wait(ctx); err != nil {
				return
			}
			if _, err := w.processor.ProcessJob(ctx, job); err != nil {
				failed.Add(1)
				zap.L().Error("notification job failed",
					zap.String("job_id", job.ID.String()),
					zap.String("order_id", job.OrderID.String()),
					zap.Error(err),
				)
			}
		})
	}
	p.Wait()

	if n := failed.Load(); n > 0 {
		zap.L().Warn("notification batch finished with errors", zap.Int("jobs", len(jobs)), zap.Int32("failed", n))
	}
	return len(jobs), nil
}

func (w *NotificationWorker) String() string {
	return fmt.Sprintf("NotificationWorker(interval=%v, batch=%d)", w.pollInterval, w.batchSize)
}
