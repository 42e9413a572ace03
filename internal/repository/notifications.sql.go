package repository

import (
	"context"
	"time"

	"github.com/ayo6706/payment-aggregator/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const notificationColumns = `id, order_id, attempt, status, available_at, locked_until, last_error, created_at, updated_at`

func scanNotification(row pgx.Row) (models.NotificationJob, error) {
	var (
		j           models.NotificationJob
		lockedUntil pgtype.Timestamptz
	)
	if err := row.Scan(&j.ID, &j.OrderID, &j.Attempt, &j.Status, &j.AvailableAt, &lockedUntil, &j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return models.NotificationJob{}, err
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		j.LockedUntil = &t
	}
	return j, nil
}

func scanNotifications(rows pgx.Rows) ([]models.NotificationJob, error) {
	defer rows.Close()
	var items []models.NotificationJob
	for rows.Next() {
		j, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, j)
	}
	return items, rows.Err()
}

// At most one pending job exists per order; a second enqueue is a no-op.
const enqueueNotification = `
INSERT INTO notification_jobs (id, order_id, attempt, status, available_at, created_at, updated_at)
VALUES ($1, $2, 0, 'pending', $3, NOW(), NOW())
ON CONFLICT (order_id) WHERE status = 'pending' DO NOTHING
`

type EnqueueNotificationParams struct {
	ID          uuid.UUID
	OrderID     uuid.UUID
	AvailableAt time.Time
}

func (q *Queries) EnqueueNotification(ctx context.Context, arg EnqueueNotificationParams) error {
	_, err := q.db.Exec(ctx, enqueueNotification, ToPgUUID(arg.ID), ToPgUUID(arg.OrderID), arg.AvailableAt)
	return err
}

// Claiming starts a delivery attempt, so the counter moves here rather than on
// reschedule: a worker that dies mid-request still uses up the attempt.
const claimDueNotifications = `
UPDATE notification_jobs
SET attempt = attempt + 1, locked_until = $2, updated_at = NOW()
WHERE id IN (
    SELECT id FROM notification_jobs
    WHERE status = 'pending'
      AND available_at <= $1
      AND (locked_until IS NULL OR locked_until < $1)
    ORDER BY available_at ASC
    LIMIT $3
    FOR UPDATE SKIP LOCKED
)
RETURNING ` + notificationColumns

type ClaimDueNotificationsParams struct {
	Now        time.Time
	LeaseUntil time.Time
	Limit      int32
}

func (q *Queries) ClaimDueNotifications(ctx context.Context, arg ClaimDueNotificationsParams) ([]models.NotificationJob, error) {
	rows, err := q.db.Query(ctx, claimDueNotifications, arg.Now, arg.LeaseUntil, arg.Limit)
	if err != nil {
		return nil, err
	}
	return scanNotifications(rows)
}

const completeNotification = `
UPDATE notification_jobs
SET status = 'done', locked_until = NULL, updated_at = NOW()
WHERE id = $1 AND status = 'pending'
`

func (q *Queries) CompleteNotification(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, completeNotification, ToPgUUID(id))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const rescheduleNotification = `
UPDATE notification_jobs
SET available_at = $2, last_error = $3, locked_until = NULL, updated_at = NOW()
WHERE id = $1 AND status = 'pending'
`

type RescheduleNotificationParams struct {
	ID          uuid.UUID
	AvailableAt time.Time
	LastError   string
}

func (q *Queries) RescheduleNotification(ctx context.Context, arg RescheduleNotificationParams) (int64, error) {
	result, err := q.db.Exec(ctx, rescheduleNotification, ToPgUUID(arg.ID), arg.AvailableAt, arg.LastError)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const killNotification = `
UPDATE notification_jobs
SET status = 'dead', last_error = $2, locked_until = NULL, updated_at = NOW()
WHERE id = $1 AND status = 'pending'
`

type KillNotificationParams struct {
	ID        uuid.UUID
	LastError string
}

func (q *Queries) KillNotification(ctx context.Context, arg KillNotificationParams) (int64, error) {
	result, err := q.db.Exec(ctx, killNotification, ToPgUUID(arg.ID), arg.LastError)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listDeadNotifications = `
SELECT ` + notificationColumns + `
FROM notification_jobs
WHERE status = 'dead'
ORDER BY updated_at DESC
LIMIT $1
`

func (q *Queries) ListDeadNotifications(ctx context.Context, limit int32) ([]models.NotificationJob, error) {
	rows, err := q.db.Query(ctx, listDeadNotifications, limit)
	if err != nil {
		return nil, err
	}
	return scanNotifications(rows)
}
