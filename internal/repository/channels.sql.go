package repository

import (
	"context"
	"fmt"

	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const channelColumns = `name, provider, default_rate_percent::text, default_rate_fixed,
    min_amount, max_amount, active, hosts_payment_page`

func scanChannel(row pgx.Row) (models.Channel, error) {
	var (
		c     models.Channel
		pct   string
		fixed int64
	)
	if err := row.Scan(&c.Name, &c.Provider, &pct, &fixed, &c.MinAmountMicros, &c.MaxAmountMicros, &c.Active, &c.HostsPaymentPage); err != nil {
		return models.Channel{}, err
	}
	rate, err := domain.ParseRate(pct, fixed, "")
	if err != nil {
		return models.Channel{}, fmt.Errorf("channel %s rate: %w", c.Name, err)
	}
	c.DefaultRate = rate
	return c, nil
}

const getChannel = `SELECT ` + channelColumns + ` FROM channels WHERE name = $1`

func (q *Queries) GetChannel(ctx context.Context, name string) (models.Channel, error) {
	return scanChannel(q.db.QueryRow(ctx, getChannel, name))
}

const listChannels = `SELECT ` + channelColumns + ` FROM channels ORDER BY name`

func (q *Queries) ListChannels(ctx context.Context) ([]models.Channel, error) {
	rows, err := q.db.Query(ctx, listChannels)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

const upsertChannel = `
INSERT INTO channels (name, provider, default_rate_percent, default_rate_fixed, min_amount, max_amount, active, hosts_payment_page, updated_at)
VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8, NOW())
ON CONFLICT (name) DO UPDATE
SET provider = EXCLUDED.provider,
    default_rate_percent = EXCLUDED.default_rate_percent,
    default_rate_fixed = EXCLUDED.default_rate_fixed,
    min_amount = EXCLUDED.min_amount,
    max_amount = EXCLUDED.max_amount,
    active = EXCLUDED.active,
    hosts_payment_page = EXCLUDED.hosts_payment_page,
    updated_at = NOW()
`

func (q *Queries) UpsertChannel(ctx context.Context, arg models.Channel) error {
	_, err := q.db.Exec(ctx, upsertChannel,
		arg.Name,
		arg.Provider,
		arg.DefaultRate.Percent.String(),
		arg.DefaultRate.FixedMicros,
		arg.MinAmountMicros,
		arg.MaxAmountMicros,
		arg.Active,
		arg.HostsPaymentPage,
	)
	return err
}

const listActiveRoutes = `
SELECT r.id, r.min_amount, r.max_amount, r.channel, r.priority, r.active
FROM amount_range_routes r
JOIN channels c ON c.name = r.channel
WHERE r.active AND c.active
ORDER BY r.priority DESC, r.min_amount ASC
`

func (q *Queries) ListActiveRoutes(ctx context.Context) ([]models.AmountRangeRoute, error) {
	rows, err := q.db.Query(ctx, listActiveRoutes)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.AmountRangeRoute
	for rows.Next() {
		var r models.AmountRangeRoute
		if err := rows.Scan(&r.ID, &r.MinAmountMicros, &r.MaxAmountMicros, &r.Channel, &r.Priority, &r.Active); err != nil {
			return nil, err
		}
		items = append(items, r)
	}
	return items, rows.Err()
}

const deleteRoutes = `DELETE FROM amount_range_routes`

func (q *Queries) DeleteRoutes(ctx context.Context) error {
	_, err := q.db.Exec(ctx, deleteRoutes)
	return err
}

const insertRoute = `
INSERT INTO amount_range_routes (id, min_amount, max_amount, channel, priority, active)
VALUES ($1, $2, $3, $4, $5, $6)
`

func (q *Queries) InsertRoute(ctx context.Context, arg models.AmountRangeRoute) error {
	id := arg.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	_, err := q.db.Exec(ctx, insertRoute, ToPgUUID(id), arg.MinAmountMicros, arg.MaxAmountMicros, arg.Channel, arg.Priority, arg.Active)
	return err
}
