package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/models"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const orderColumns = `id, merchant_id, merchant_order_id, channel, actual_channel, type, payout_kind,
    amount, original_amount, fee, net_amount, status, provider_order_id, settlement_ref,
    callback_url, callback_sent, callback_attempts, param, destination, pay_url,
    provider_response, callback_payload, failure_reason, created_at, expires_at, updated_at`

func scanOrder(row pgx.Row) (models.Order, error) {
	var (
		o           models.Order
		orderType   string
		payoutKind  string
		status      string
		destination []byte
		expiresAt   pgtype.Timestamptz
	)
	if err := row.Scan(
		&o.ID, &o.MerchantID, &o.MerchantOrderID, &o.Channel, &o.ActualChannel, &orderType, &payoutKind,
		&o.AmountMicros, &o.OriginalAmountMicros, &o.FeeMicros, &o.NetAmountMicros, &status, &o.ProviderOrderID, &o.SettlementRef,
		&o.CallbackURL, &o.CallbackSent, &o.CallbackAttempts, &o.Param, &destination, &o.PayURL,
		&o.ProviderResponse, &o.CallbackPayload, &o.FailureReason, &o.CreatedAt, &expiresAt, &o.UpdatedAt,
	); err != nil {
		return models.Order{}, err
	}
	o.Type = domain.OrderType(orderType)
	o.PayoutKind = domain.PayoutKind(payoutKind)
	o.Status = domain.OrderStatus(status)
	o.ExpiresAt = fromPgTimestamptz(expiresAt)
	if len(destination) > 0 {
		var dest models.PayoutDestination
		if err := json.Unmarshal(destination, &dest); err != nil {
			return models.Order{}, fmt.Errorf("decode destination for order %s: %w", o.ID, err)
		}
		o.Destination = &dest
	}
	return o, nil
}

func scanOrders(rows pgx.Rows) ([]models.Order, error) {
	defer rows.Close()
	var items []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

const createOrder = `
INSERT INTO orders (
    id, merchant_id, merchant_order_id, channel, actual_channel, type, payout_kind,
    amount, original_amount, fee, net_amount, status, callback_url, param, destination,
    created_at, expires_at, updated_at
) VALUES (
    $1, $2, $3, $4, $5, $6, $7,
    $8, $9, $10, $11, $12, $13, $14, $15,
    NOW(), $16, NOW()
)
RETURNING created_at, updated_at
`

// CreateOrder inserts a new order and fills in its timestamps. A reused
// (merchant, merchant order id) pair yields domain.ErrDuplicateOrder.
func (q *Queries) CreateOrder(ctx context.Context, arg *models.Order) error {
	var destination []byte
	if arg.Destination != nil {
		var err error
		destination, err = json.Marshal(arg.Destination)
		if err != nil {
			return fmt.Errorf("encode destination: %w", err)
		}
	}
	err := q.db.QueryRow(ctx, createOrder,
		ToPgUUID(arg.ID),
		ToPgUUID(arg.MerchantID),
		arg.MerchantOrderID,
		arg.Channel,
		arg.ActualChannel,
		string(arg.Type),
		string(arg.PayoutKind),
		arg.AmountMicros,
		arg.OriginalAmountMicros,
		arg.FeeMicros,
		arg.NetAmountMicros,
		string(arg.Status),
		arg.CallbackURL,
		arg.Param,
		destination,
		toPgTimestamptz(arg.ExpiresAt),
	).Scan(&arg.CreatedAt, &arg.UpdatedAt)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("merchant order %q: %w", arg.MerchantOrderID, domain.ErrDuplicateOrder)
		}
		return err
	}
	return nil
}

const getOrder = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

func (q *Queries) GetOrder(ctx context.Context, id uuid.UUID) (models.Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrder, ToPgUUID(id)))
}

const getOrderForUpdate = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

func (q *Queries) GetOrderForUpdate(ctx context.Context, id uuid.UUID) (models.Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderForUpdate, ToPgUUID(id)))
}

const getOrderByMerchantOrderID = `
SELECT ` + orderColumns + `
FROM orders
WHERE merchant_id = $1 AND merchant_order_id = $2 AND ($3::text = '' OR type = $3::text)
`

type GetOrderByMerchantOrderIDParams struct {
	MerchantID      uuid.UUID
	MerchantOrderID string
	Type            domain.OrderType // empty matches any type
}

func (q *Queries) GetOrderByMerchantOrderID(ctx context.Context, arg GetOrderByMerchantOrderIDParams) (models.Order, error) {
	return scanOrder(q.db.QueryRow(ctx, getOrderByMerchantOrderID, ToPgUUID(arg.MerchantID), arg.MerchantOrderID, string(arg.Type)))
}

const updateOrderProviderResult = `
UPDATE orders
SET status = $2,
    provider_order_id = $3,
    pay_url = $4,
    provider_response = $5,
    failure_reason = $6,
    updated_at = NOW()
WHERE id = $1 AND status = 'pending'
`

type UpdateOrderProviderResultParams struct {
	ID               uuid.UUID
	Status           domain.OrderStatus
	ProviderOrderID  string
	PayURL           string
	ProviderResponse []byte
	FailureReason    string
}

func (q *Queries) UpdateOrderProviderResult(ctx context.Context, arg UpdateOrderProviderResultParams) (int64, error) {
	result, err := q.db.Exec(ctx, updateOrderProviderResult,
		ToPgUUID(arg.ID),
		string(arg.Status),
		arg.ProviderOrderID,
		arg.PayURL,
		arg.ProviderResponse,
		arg.FailureReason,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// Compare-and-swap on status: terminal rows are never rewritten. Empty
// reference fields keep their stored value.
const settleOrder = `
UPDATE orders
SET status = $2,
    settlement_ref = COALESCE(NULLIF($3::text, ''), settlement_ref),
    provider_order_id = COALESCE(NULLIF($4::text, ''), provider_order_id),
    callback_payload = $5,
    failure_reason = COALESCE(NULLIF($6::text, ''), failure_reason),
    updated_at = NOW()
WHERE id = $1 AND status NOT IN ('success', 'failed')
`

type SettleOrderParams struct {
	ID              uuid.UUID
	Status          domain.OrderStatus
	SettlementRef   string
	ProviderOrderID string
	CallbackPayload []byte
	FailureReason   string
}

func (q *Queries) SettleOrder(ctx context.Context, arg SettleOrderParams) (int64, error) {
	result, err := q.db.Exec(ctx, settleOrder,
		ToPgUUID(arg.ID),
		string(arg.Status),
		arg.SettlementRef,
		arg.ProviderOrderID,
		arg.CallbackPayload,
		arg.FailureReason,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const correctOrderAmounts = `
UPDATE orders
SET amount = $2, fee = $3, net_amount = $4, updated_at = NOW()
WHERE id = $1
`

type CorrectOrderAmountsParams struct {
	ID              uuid.UUID
	AmountMicros    int64
	FeeMicros       int64
	NetAmountMicros int64
}

func (q *Queries) CorrectOrderAmounts(ctx context.Context, arg CorrectOrderAmountsParams) (int64, error) {
	result, err := q.db.Exec(ctx, correctOrderAmounts, ToPgUUID(arg.ID), arg.AmountMicros, arg.FeeMicros, arg.NetAmountMicros)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listStaleOrders = `
SELECT ` + orderColumns + `
FROM orders
WHERE status IN ('pending', 'processing') AND created_at < $1
ORDER BY created_at ASC
LIMIT $2
`

type ListStaleOrdersParams struct {
	CreatedBefore time.Time
	Limit         int32
}

func (q *Queries) ListStaleOrders(ctx context.Context, arg ListStaleOrdersParams) ([]models.Order, error) {
	rows, err := q.db.Query(ctx, listStaleOrders, toPgTimestamptz(arg.CreatedBefore), arg.Limit)
	if err != nil {
		return nil, err
	}
	return scanOrders(rows)
}

const incrementCallbackAttempts = `
UPDATE orders SET callback_attempts = callback_attempts + 1, updated_at = NOW()
WHERE id = $1
RETURNING callback_attempts
`

func (q *Queries) IncrementCallbackAttempts(ctx context.Context, id uuid.UUID) (int, error) {
	var attempts int
	err := q.db.QueryRow(ctx, incrementCallbackAttempts, ToPgUUID(id)).Scan(&attempts)
	return attempts, err
}

const markCallbackSent = `UPDATE orders SET callback_sent = TRUE, updated_at = NOW() WHERE id = $1 AND NOT callback_sent`

func (q *Queries) MarkCallbackSent(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, markCallbackSent, ToPgUUID(id))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
