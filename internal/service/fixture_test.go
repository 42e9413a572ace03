package service

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/payment-aggregator/internal/clock"
	"github.com/ayo6706/payment-aggregator/internal/config"
	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/models"
	"github.com/ayo6706/payment-aggregator/internal/provider"
	"github.com/ayo6706/payment-aggregator/internal/provider/mock"
	"github.com/ayo6706/payment-aggregator/internal/routing"
	"github.com/ayo6706/payment-aggregator/internal/testutil/memstore"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testChannels = `
channels:
  - name: fast
    rate_percent: "3"
    provider: {type: mock, secret: fast-secret, options: {failure_rate: "0", min_delay: 0s, max_delay: 0s}}
  - name: strict
    strict_signature: true
    provider: {type: mock, secret: strict-secret, options: {failure_rate: "0", min_delay: 0s, max_delay: 0s}}
  - name: broken
    provider: {type: mock, secret: broken-secret, options: {failure_rate: "1", min_delay: 0s, max_delay: 0s}}
  - name: capped
    min_amount: "10"
    max_amount: "100"
    provider: {type: mock, secret: capped-secret, options: {failure_rate: "0", min_delay: 0s, max_delay: 0s}}
  - name: off
    active: false
    provider: {type: mock, secret: off-secret, options: {failure_rate: "0", min_delay: 0s, max_delay: 0s}}
  - name: smart
    dynamic: true
routes:
  - channel: fast
    min_amount: "0"
    max_amount: "999"
  - channel: strict
    min_amount: "1000"
    max_amount: "5000"
`

type fixture struct {
	store      *memstore.Store
	clock      *clock.Manual
	router     *routing.Router
	settlement *SettlementService
	orders     *OrderService
	callbacks  *CallbackService
	recon      *ReconciliationService
	merchant   models.Account
}

func units(n int64) int64 { return n * domain.MicrosPerUnit }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	file, err := config.ParseChannels([]byte(testChannels))
	require.NoError(t, err)
	factories := provider.NewRegistry()
	mock.Register(factories)
	registry, err := routing.NewRegistry(factories, file, provider.Deps{Logger: zap.NewNop()})
	require.NoError(t, err)

	store := memstore.New()
	clk := clock.NewManual(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	store.SetClock(clk.Now)
	require.NoError(t, registry.Sync(context.Background(), store))

	router := routing.NewRouter(registry, store.Queries(), "https://agg.example")
	settlement := NewSettlementService(store, clk)
	merchant := store.AddAccount(models.Account{
		Name:       "acme",
		APIKey:     "pk_acme",
		Secret:     "acme-secret",
		CanPayin:   true,
		CanPayout:  true,
		PayinRate:  domain.RateConfig{Percent: decimal.NewFromInt(5)},
		PayoutRate: domain.RateConfig{Percent: decimal.NewFromInt(2), FixedMicros: units(1)},
	})

	return &fixture{
		store:      store,
		clock:      clk,
		router:     router,
		settlement: settlement,
		orders:     NewOrderService(store, router, settlement, clk, 30*time.Minute),
		callbacks:  NewCallbackService(registry, settlement, store, CallbackOptions{AckOnError: true}).WithClock(clk),
		recon:      NewReconciliationService(store, router, settlement, 15*time.Minute, 50).WithClock(clk),
		merchant:   merchant,
	}
}

func (f *fixture) adapter(t *testing.T, channel string) *mock.Adapter {
	t.Helper()
	entry, ok := f.router.Registry().Lookup(channel)
	require.True(t, ok)
	a, ok := entry.Adapter.(*mock.Adapter)
	require.True(t, ok)
	return a
}

func (f *fixture) fund(amount int64) {
	acct := f.store.Account(f.merchant.ID)
	acct.BalanceMicros += amount
	f.store.AddAccount(acct)
}

func (f *fixture) payin(t *testing.T, channel, merchantOrderID string, amount int64) models.Order {
	t.Helper()
	order, err := f.orders.CreatePayin(context.Background(), CreatePayinInput{
		MerchantID:      f.merchant.ID,
		MerchantOrderID: merchantOrderID,
		Channel:         channel,
		Amount:          amount,
		CallbackURL:     "https://merchant.example/hook",
	})
	require.NoError(t, err)
	return order
}

func bankPayout(f *fixture, channel, merchantOrderID string, amount int64) CreatePayoutInput {
	return CreatePayoutInput{
		MerchantID:      f.merchant.ID,
		MerchantOrderID: merchantOrderID,
		Channel:         channel,
		Amount:          amount,
		CallbackURL:     "https://merchant.example/hook",
		Destination: models.PayoutDestination{
			Kind: domain.PayoutKindBank,
			Bank: &models.BankDestination{AccountName: "Ravi", AccountNumber: "000123", IFSC: "HDFC0001"},
		},
	}
}

func callbackBody(t *testing.T, params map[string]string) []byte {
	t.Helper()
	body, err := json.Marshal(params)
	require.NoError(t, err)
	return body
}

func providerRequest(t *testing.T, params map[string]string) provider.CallbackRequest {
	t.Helper()
	return provider.CallbackRequest{Body: callbackBody(t, params)}
}
