package repository_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/ayo6706/payment-aggregator/internal/db"
	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/models"
	"github.com/ayo6706/payment-aggregator/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	testPool *pgxpool.Pool
	setupErr error
)

func TestMain(m *testing.M) {
	if os.Getenv("PAYGATE_INTEGRATION") == "" {
		setupErr = errors.New("set PAYGATE_INTEGRATION=1 to run postgres tests")
		os.Exit(m.Run())
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			Env:          map[string]string{"POSTGRES_PASSWORD": "secret", "POSTGRES_USER": "postgres", "POSTGRES_DB": "paygate"},
			ExposedPorts: []string{"5432/tcp"},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		setupErr = fmt.Errorf("start postgres container: %w", err)
		os.Exit(m.Run())
	}

	setupErr = initDatabase(ctx, container)
	code := m.Run()

	if testPool != nil {
		testPool.Close()
	}
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func initDatabase(ctx context.Context, c testcontainers.Container) error {
	host, err := c.Host(ctx)
	if err != nil {
		return fmt.Errorf("container host: %w", err)
	}
	port, err := c.MappedPort(ctx, "5432/tcp")
	if err != nil {
		return fmt.Errorf("container port: %w", err)
	}
	dsn := fmt.Sprintf("postgres://postgres:secret@%s:%s/paygate?sslmode=disable", host, port.Port())

	if err := db.MigrateUp(ctx, dsn); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	pool, err := db.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	testPool = pool
	return nil
}

func requirePostgres(t *testing.T) *repository.Store {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres tests skipped in short mode")
	}
	if setupErr != nil {
		t.Skipf("postgres unavailable: %v", setupErr)
	}
	return repository.NewStore(testPool)
}

func seedMerchant(t *testing.T, ctx context.Context, balance int64) uuid.UUID {
	t.Helper()
	id := uuid.New()
	_, err := testPool.Exec(ctx, `
		INSERT INTO accounts (id, kind, name, api_key, secret, balance, payin_rate_percent)
		VALUES ($1, 'merchant', $2, $3, 'secret', $4, 2.5)`,
		id, "merchant-"+id.String()[:8], "pk_"+id.String(), balance)
	require.NoError(t, err)
	return id
}

func newOrder(merchantID uuid.UUID, merchantOrderID string, amount int64) *models.Order {
	return &models.Order{
		ID:                   uuid.New(),
		MerchantID:           merchantID,
		MerchantOrderID:      merchantOrderID,
		Channel:              "mock",
		ActualChannel:        "mock",
		Type:                 domain.OrderTypePayin,
		AmountMicros:         amount,
		OriginalAmountMicros: amount,
		FeeMicros:            amount / 20,
		NetAmountMicros:      amount - amount/20,
		Status:               domain.StatusPending,
		CallbackURL:          "https://merchant.example/notify",
		ExpiresAt:            time.Now().Add(30 * time.Minute),
	}
}

func TestAccountsRoundTrip(t *testing.T) {
	store := requirePostgres(t)
	ctx := context.Background()
	q := store.Queries()

	platform, err := q.GetPlatformAccount(ctx)
	require.NoError(t, err)
	assert.Equal(t, "platform", platform.Name)

	id := seedMerchant(t, ctx, 0)
	acct, err := q.GetAccountByAPIKey(ctx, "pk_"+id.String())
	require.NoError(t, err)
	assert.Equal(t, id, acct.ID)
	assert.True(t, acct.CanPayin)

	_, err = q.GetAccountByAPIKey(ctx, "pk_missing")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestReservePayoutFundsRequiresBalance(t *testing.T) {
	store := requirePostgres(t)
	ctx := context.Background()
	q := store.Queries()
	id := seedMerchant(t, ctx, 1_000_000)

	n, err := q.ReservePayoutFunds(ctx, repository.ReservePayoutFundsParams{ID: id, DebitMicros: 2_000_000, PendingMicros: 2_000_000})
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = q.ReservePayoutFunds(ctx, repository.ReservePayoutFundsParams{ID: id, DebitMicros: 600_000, PendingMicros: 500_000})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	acct, err := q.GetAccount(ctx, id)
	require.NoError(t, err)
	assert.EqualValues(t, 400_000, acct.BalanceMicros)
	assert.EqualValues(t, 500_000, acct.PendingBalanceMicros)
}

func TestOrderMerchantIDIsUnique(t *testing.T) {
	store := requirePostgres(t)
	ctx := context.Background()
	q := store.Queries()
	merchant := seedMerchant(t, ctx, 0)

	require.NoError(t, q.CreateOrder(ctx, newOrder(merchant, "INV-1", 1_000_000)))
	err := q.CreateOrder(ctx, newOrder(merchant, "INV-1", 1_000_000))
	assert.ErrorIs(t, err, domain.ErrDuplicateOrder)

	other := seedMerchant(t, ctx, 0)
	assert.NoError(t, q.CreateOrder(ctx, newOrder(other, "INV-1", 1_000_000)))
}

func TestSettleOrderOnlyOnce(t *testing.T) {
	store := requirePostgres(t)
	ctx := context.Background()
	q := store.Queries()
	order := newOrder(seedMerchant(t, ctx, 0), "INV-SETTLE", 2_000_000)
	require.NoError(t, q.CreateOrder(ctx, order))

	n, err := q.SettleOrder(ctx, repository.SettleOrderParams{ID: order.ID, Status: domain.StatusSuccess, SettlementRef: "UTR1"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	n, err = q.SettleOrder(ctx, repository.SettleOrderParams{ID: order.ID, Status: domain.StatusFailed})
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := q.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, got.Status)
	assert.Equal(t, "UTR1", got.SettlementRef)
}

func TestRunInTxRollsBack(t *testing.T) {
	store := requirePostgres(t)
	ctx := context.Background()
	id := seedMerchant(t, ctx, 0)
	boom := errors.New("boom")

	err := store.RunInTx(ctx, func(q repository.Querier) error {
		if _, err := q.AdjustBalance(ctx, repository.AdjustBalanceParams{ID: id, DeltaMicros: 5_000_000}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	acct, err := store.Queries().GetAccount(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, acct.BalanceMicros)
}

func TestNotificationJobLifecycle(t *testing.T) {
	store := requirePostgres(t)
	ctx := context.Background()
	q := store.Queries()
	order := newOrder(seedMerchant(t, ctx, 0), "INV-NOTIFY", 1_000_000)
	require.NoError(t, q.CreateOrder(ctx, order))

	now := time.Now()
	jobID := uuid.New()
	require.NoError(t, q.EnqueueNotification(ctx, repository.EnqueueNotificationParams{ID: jobID, OrderID: order.ID, AvailableAt: now.Add(-time.Second)}))

	// Only one pending job per order; the second enqueue is absorbed.
	require.NoError(t, q.EnqueueNotification(ctx, repository.EnqueueNotificationParams{ID: uuid.New(), OrderID: order.ID, AvailableAt: now}))

	claimed, err := q.ClaimDueNotifications(ctx, repository.ClaimDueNotificationsParams{Now: now, LeaseUntil: now.Add(time.Minute), Limit: 10})
	require.NoError(t, err)
	var claimedJob *models.NotificationJob
	perOrder := 0
	for i := range claimed {
		if claimed[i].ID == jobID {
			claimedJob = &claimed[i]
		}
		if claimed[i].OrderID == order.ID {
			perOrder++
		}
	}
	require.NotNil(t, claimedJob)
	assert.Equal(t, 1, perOrder)
	assert.Equal(t, 1, claimedJob.Attempt)

	again, err := q.ClaimDueNotifications(ctx, repository.ClaimDueNotificationsParams{Now: now, LeaseUntil: now.Add(time.Minute), Limit: 10})
	require.NoError(t, err)
	for _, j := range again {
		assert.NotEqual(t, jobID, j.ID, "leased job must not be claimed twice")
	}

	later := now.Add(2 * time.Minute)
	reclaimed, err := q.ClaimDueNotifications(ctx, repository.ClaimDueNotificationsParams{Now: later, LeaseUntil: later.Add(time.Minute), Limit: 10})
	require.NoError(t, err)
	var attempt int
	for _, j := range reclaimed {
		if j.ID == jobID {
			attempt = j.Attempt
		}
	}
	assert.Equal(t, 2, attempt, "an expired lease is reclaimed as a new attempt")

	n, err := q.KillNotification(ctx, repository.KillNotificationParams{ID: jobID, LastError: "merchant replied FAIL"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	dead, err := q.ListDeadNotifications(ctx, 100)
	require.NoError(t, err)
	var deadJob *models.NotificationJob
	for i := range dead {
		if dead[i].ID == jobID {
			deadJob = &dead[i]
		}
	}
	require.NotNil(t, deadJob)
	assert.Equal(t, 2, deadJob.Attempt)
	assert.Equal(t, "merchant replied FAIL", deadJob.LastError)
}

func TestIdempotencyKeyReservation(t *testing.T) {
	store := requirePostgres(t)
	ctx := context.Background()
	q := store.Queries()
	key := "acme:" + uuid.NewString()

	_, err := q.ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{IdempotencyKey: key, RequestHash: "h1", Method: "POST", Path: "/v1/payins"})
	require.NoError(t, err)

	_, err = q.ReserveIdempotencyKey(ctx, repository.ReserveIdempotencyKeyParams{IdempotencyKey: key, RequestHash: "h1", Method: "POST", Path: "/v1/payins"})
	assert.ErrorIs(t, err, pgx.ErrNoRows)

	row, err := q.FinalizeIdempotencyKey(ctx, repository.FinalizeIdempotencyKeyParams{
		IdempotencyKey: key, RequestHash: "h1", ResponseStatus: 201, ResponseBody: []byte(`{"id":"x"}`), ContentType: "application/json",
	})
	require.NoError(t, err)
	assert.False(t, row.InProgress)
	assert.EqualValues(t, 201, row.ResponseStatus)

	// finalized keys survive a release
	require.NoError(t, q.ReleaseIdempotencyKey(ctx, key))
	_, err = q.GetIdempotencyKey(ctx, key)
	assert.NoError(t, err)
}
