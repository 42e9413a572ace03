package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ayo6706/payment-aggregator/internal/observability"
	"github.com/ayo6706/payment-aggregator/internal/service"
	"go.uber.org/zap"
)

// Reconciler polls providers for orders whose callback is overdue.
type Reconciler interface {
	SyncStaleOrders(ctx context.Context) (service.ReconcileReport, error)
}

// ReconciliationWorker drives Reconciler on a fixed interval. A tick that
// fires while the previous pass is still polling providers is skipped.
type ReconciliationWorker struct {
	reconciler  Reconciler
	interval    time.Duration
	passTimeout time.Duration
	running     atomic.Bool
	stopCh      chan struct{}
	stopOnce    sync.Once
	done        chan struct{}
}

func NewReconciliationWorker(r Reconciler) *ReconciliationWorker {
	return &ReconciliationWorker{
		reconciler: r,
		interval:   5 * time.Minute,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// WithPassTimeout bounds a single pass. Zero means the pass may run until
// the next tick would have fired.
func (w *ReconciliationWorker) WithPassTimeout(d time.Duration) *ReconciliationWorker {
	w.passTimeout = d
	return w
}

// Run starts the loop in the background and returns a stop function that
// blocks until the in-flight pass has returned.
func (w *ReconciliationWorker) Run(ctx context.Context) func() {
	go w.loop(ctx)
	return func() {
		w.stopOnce.Do(func() { close(w.stopCh) })
		<-w.done
	}
}

func (w *ReconciliationWorker) loop(ctx context.Context) {
	defer close(w.done)
	log := zap.L().With(zap.String("worker", "reconciliation"))
	log.Info("worker started", zap.Duration("interval", w.interval))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.pass(ctx, log)
	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopped")
			return
		case <-ticker.C:
			w.pass(ctx, log)
		}
	}
}

func (w *ReconciliationWorker) pass(ctx context.Context, log *zap.Logger) {
	if !w.running.CompareAndSwap(false, true) {
		observability.IncrementWorkerRun("reconciliation", "skipped")
		return
	}
	defer w.running.Store(false)

	timeout := w.passTimeout
	if timeout <= 0 {
		timeout = w.interval
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	report, err := w.reconciler.SyncStaleOrders(ctx)
	if err != nil {
		observability.IncrementWorkerRun("reconciliation", "failed")
		log.Error("reconciliation pass failed", zap.Error(err), zap.Int("checked", report.Checked))
		return
	}
	observability.IncrementWorkerRun("reconciliation", "success")
	fields := []zap.Field{
		zap.Int("checked", report.Checked),
		zap.Int("settled", report.Settled),
		zap.Int("failed", report.Failed),
		zap.Duration("took", time.Since(started)),
	}
	if report.Settled > 0 || report.Failed > 0 {
		log.Info("reconciliation pass repaired orders", fields...)
		return
	}
	log.Debug("reconciliation pass finished", fields...)
}
