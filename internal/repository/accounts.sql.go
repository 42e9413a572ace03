package repository

import (
	"context"
	"fmt"

	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const accountColumns = `id, kind, name, COALESCE(api_key, ''), secret, balance, pending_balance,
    can_payin, can_payout,
    payin_rate_percent::text, payin_rate_fixed,
    payout_rate_percent::text, payout_rate_fixed,
    conversion_rate::text, created_at`

func scanAccount(row pgx.Row) (models.Account, error) {
	var (
		a                               models.Account
		payinPct, payoutPct, conversion string
		payinFixed, payoutFixed         int64
	)
	if err := row.Scan(
		&a.ID, &a.Kind, &a.Name, &a.APIKey, &a.Secret, &a.BalanceMicros, &a.PendingBalanceMicros,
		&a.CanPayin, &a.CanPayout,
		&payinPct, &payinFixed,
		&payoutPct, &payoutFixed,
		&conversion, &a.CreatedAt,
	); err != nil {
		return models.Account{}, err
	}
	var err error
	if a.PayinRate, err = domain.ParseRate(payinPct, payinFixed, conversion); err != nil {
		return models.Account{}, fmt.Errorf("account %s payin rate: %w", a.ID, err)
	}
	if a.PayoutRate, err = domain.ParseRate(payoutPct, payoutFixed, conversion); err != nil {
		return models.Account{}, fmt.Errorf("account %s payout rate: %w", a.ID, err)
	}
	return a, nil
}

const getAccount = `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

func (q *Queries) GetAccount(ctx context.Context, id uuid.UUID) (models.Account, error) {
	return scanAccount(q.db.QueryRow(ctx, getAccount, ToPgUUID(id)))
}

const getAccountByAPIKey = `SELECT ` + accountColumns + ` FROM accounts WHERE api_key = $1 AND kind = 'merchant'`

func (q *Queries) GetAccountByAPIKey(ctx context.Context, apiKey string) (models.Account, error) {
	return scanAccount(q.db.QueryRow(ctx, getAccountByAPIKey, apiKey))
}

const getPlatformAccount = `SELECT ` + accountColumns + ` FROM accounts WHERE kind = 'platform'`

func (q *Queries) GetPlatformAccount(ctx context.Context) (models.Account, error) {
	return scanAccount(q.db.QueryRow(ctx, getPlatformAccount))
}

const adjustBalance = `UPDATE accounts SET balance = balance + $1 WHERE id = $2`

type AdjustBalanceParams struct {
	ID          uuid.UUID
	DeltaMicros int64
}

func (q *Queries) AdjustBalance(ctx context.Context, arg AdjustBalanceParams) (int64, error) {
	result, err := q.db.Exec(ctx, adjustBalance, arg.DeltaMicros, ToPgUUID(arg.ID))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

// Moves DebitMicros out of the available balance and PendingMicros into the
// pending balance, but only while the balance covers the debit.
const reservePayoutFunds = `
UPDATE accounts
SET balance = balance - $1,
    pending_balance = pending_balance + $2
WHERE id = $3 AND balance >= $1
`

type ReservePayoutFundsParams struct {
	ID            uuid.UUID
	DebitMicros   int64
	PendingMicros int64
}

func (q *Queries) ReservePayoutFunds(ctx context.Context, arg ReservePayoutFundsParams) (int64, error) {
	result, err := q.db.Exec(ctx, reservePayoutFunds, arg.DebitMicros, arg.PendingMicros, ToPgUUID(arg.ID))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const releasePendingFunds = `UPDATE accounts SET pending_balance = GREATEST(pending_balance - $1, 0) WHERE id = $2`

type ReleasePendingFundsParams struct {
	ID           uuid.UUID
	AmountMicros int64
}

func (q *Queries) ReleasePendingFunds(ctx context.Context, arg ReleasePendingFundsParams) (int64, error) {
	result, err := q.db.Exec(ctx, releasePendingFunds, arg.AmountMicros, ToPgUUID(arg.ID))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
