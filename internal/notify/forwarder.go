package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/payment-aggregator/internal/clock"
	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/models"
	"github.com/ayo6706/payment-aggregator/internal/observability"
	"github.com/ayo6706/payment-aggregator/internal/repository"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// RetryLadder is the delay before each delivery attempt, indexed by attempt-1.
var RetryLadder = []time.Duration{0, 30 * time.Second, 60 * time.Second, 5 * time.Minute, 10 * time.Minute}

// MaxAttempts bounds delivery attempts per order.
var MaxAttempts = len(RetryLadder)

const maxReplyBytes = 64 << 10

// Store is the persistence the forwarder needs.
type Store interface {
	Queries() repository.Querier
}

// Outcome is the result of processing one job.
type Outcome string

const (
	OutcomeDelivered   Outcome = "delivered"
	OutcomeRescheduled Outcome = "rescheduled"
	OutcomeDead        Outcome = "dead"
	OutcomeSkipped     Outcome = "skipped"
)

// Forwarder posts signed settlement payloads to merchant callback URLs.
type Forwarder struct {
	store   Store
	client  *http.Client
	timeout time.Duration
	clock   clock.Clock
}

func NewForwarder(store Store, client *http.Client, timeout time.Duration, clk clock.Clock) *Forwarder {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if clk == nil {
		clk = clock.NewSystem()
	}
	return &Forwarder{store: store, client: client, timeout: timeout, clock: clk}
}

// NextDelay returns the wait before the attempt that follows a failed
// attempt, and false when no attempt remains.
func NextDelay(failedAttempt int) (time.Duration, bool) {
	if failedAttempt < 1 || failedAttempt >= MaxAttempts {
		return 0, false
	}
	return RetryLadder[failedAttempt], true
}

// ProcessJob performs the delivery attempt job.Attempt and records the
// outcome on the job: done, rescheduled on the ladder, or dead.
func (f *Forwarder) ProcessJob(ctx context.Context, job models.NotificationJob) (Outcome, error) {
	q := f.store.Queries()
	log := zap.L().With(zap.String("job_id", job.ID.String()), zap.String("order_id", job.OrderID.String()), zap.Int("attempt", job.Attempt))

	order, err := q.GetOrder(ctx, job.OrderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			if _, err := q.KillNotification(ctx, repository.KillNotificationParams{ID: job.ID, LastError: "order not found"}); err != nil {
				return "", fmt.Errorf("kill orphaned job: %w", err)
			}
			return OutcomeDead, nil
		}
		return "", fmt.Errorf("load order: %w", err)
	}
	if order.CallbackSent || order.CallbackURL == "" {
		if _, err := q.CompleteNotification(ctx, job.ID); err != nil {
			return "", fmt.Errorf("complete job: %w", err)
		}
		return OutcomeSkipped, nil
	}

	// A job reclaimed after its lease lapsed may already have used its last attempt.
	if job.Attempt > MaxAttempts {
		if _, err := q.KillNotification(ctx, repository.KillNotificationParams{ID: job.ID, LastError: lastError(job, "attempts exhausted")}); err != nil {
			return "", fmt.Errorf("kill exhausted job: %w", err)
		}
		observability.IncrementDeadLetter()
		log.Error("merchant notification abandoned after lease expiry")
		return OutcomeDead, nil
	}

	deliverErr := f.attempt(ctx, q, order)
	if deliverErr == nil {
		if _, err := q.CompleteNotification(ctx, job.ID); err != nil {
			return "", fmt.Errorf("complete job: %w", err)
		}
		log.Info("merchant notified")
		return OutcomeDelivered, nil
	}

	delay, ok := NextDelay(job.Attempt)
	if !ok {
		if _, err := q.KillNotification(ctx, repository.KillNotificationParams{ID: job.ID, LastError: deliverErr.Error()}); err != nil {
			return "", fmt.Errorf("kill job: %w", err)
		}
		observability.IncrementDeadLetter()
		log.Error("merchant notification abandoned", zap.Error(deliverErr))
		return OutcomeDead, nil
	}
	if _, err := q.RescheduleNotification(ctx, repository.RescheduleNotificationParams{
		ID:          job.ID,
		AvailableAt: f.clock.Now().Add(delay),
		LastError:   deliverErr.Error(),
	}); err != nil {
		return "", fmt.Errorf("reschedule job: %w", err)
	}
	log.Warn("merchant notification failed, will retry", zap.Duration("retry_in", delay), zap.Error(deliverErr))
	return OutcomeRescheduled, nil
}

// Resend delivers the notification for a settled order once, immediately,
// regardless of earlier attempts.
func (f *Forwarder) Resend(ctx context.Context, orderID uuid.UUID) error {
	q := f.store.Queries()
	order, err := q.GetOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrOrderNotFound
		}
		return fmt.Errorf("load order: %w", err)
	}
	if !order.Status.IsTerminal() {
		return domain.NewValidationError("order", "is not settled yet")
	}
	if order.CallbackURL == "" {
		return domain.NewValidationError("order", "has no callback url")
	}
	return f.attempt(ctx, q, order)
}

// DeadLetters lists jobs that exhausted every attempt, newest first.
func (f *Forwarder) DeadLetters(ctx context.Context, limit int32) ([]models.NotificationJob, error) {
	jobs, err := f.store.Queries().ListDeadNotifications(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead notifications: %w", err)
	}
	return jobs, nil
}

// attempt counts and performs a single delivery.
func (f *Forwarder) attempt(ctx context.Context, q repository.Querier, order models.Order) error {
	merchant, err := q.GetAccount(ctx, order.MerchantID)
	if err != nil {
		return fmt.Errorf("load merchant: %w", err)
	}
	if _, err := q.IncrementCallbackAttempts(ctx, order.ID); err != nil {
		return fmt.Errorf("count attempt: %w", err)
	}

	if err := f.deliver(ctx, order.CallbackURL, BuildPayload(order, merchant.Secret)); err != nil {
		observability.IncrementNotification("failed")
		return err
	}
	observability.IncrementNotification("delivered")
	if _, err := q.MarkCallbackSent(ctx, order.ID); err != nil {
		return fmt.Errorf("mark callback sent: %w", err)
	}
	return nil
}

func (f *Forwarder) deliver(ctx context.Context, endpoint string, payload map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNotificationDelivery, err)
	}
	defer resp.Body.Close()
	reply, _ := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", domain.ErrNotificationDelivery, resp.StatusCode)
	}
	if !strings.Contains(strings.ToLower(string(reply)), "ok") {
		return fmt.Errorf("%w: unexpected reply %q", domain.ErrNotificationDelivery, truncate(string(reply), 100))
	}
	return nil
}

func lastError(job models.NotificationJob, reason string) string {
	if job.LastError == "" {
		return reason
	}
	return reason + ": " + job.LastError
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
