package service

import (
	"context"
	"testing"
	"time"

	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatePayinComputesFeeFromMerchantRate(t *testing.T) {
	f := newFixture(t)
	order := f.payin(t, "fast", "M-1", units(1000))

	assert.Equal(t, domain.StatusProcessing, order.Status)
	assert.Equal(t, units(1000), order.AmountMicros)
	assert.Equal(t, units(50), order.FeeMicros)
	assert.Equal(t, units(950), order.NetAmountMicros)
	assert.NotEmpty(t, order.ProviderOrderID)
	assert.Contains(t, order.PayURL, order.ProviderOrderID)
	assert.Empty(t, order.ActualChannel)
	assert.Equal(t, f.clock.Now().Add(30*time.Minute), order.ExpiresAt)

	acct := f.store.Account(f.merchant.ID)
	assert.Zero(t, acct.BalanceMicros, "creating a payin moves no money")
}

func TestCreatePayinFallsBackToChannelRate(t *testing.T) {
	f := newFixture(t)
	acct := f.store.Account(f.merchant.ID)
	acct.PayinRate = domain.RateConfig{}
	f.store.AddAccount(acct)

	order := f.payin(t, "fast", "M-1", units(200))
	assert.Equal(t, units(6), order.FeeMicros)
	assert.Equal(t, units(194), order.NetAmountMicros)
}

func TestCreatePayinDynamicRouting(t *testing.T) {
	f := newFixture(t)

	small := f.payin(t, "smart", "M-small", units(500))
	assert.Equal(t, "smart", small.Channel)
	assert.Equal(t, "fast", small.ActualChannel)

	large := f.payin(t, "smart", "M-large", units(1000))
	assert.Equal(t, "strict", large.ActualChannel)

	_, err := f.orders.CreatePayin(context.Background(), CreatePayinInput{
		MerchantID:      f.merchant.ID,
		MerchantOrderID: "M-huge",
		Channel:         "smart",
		Amount:          units(10000),
	})
	require.ErrorIs(t, err, domain.ErrNoRoute)
	assert.EqualError(t, err, "no route configured for this amount")
}

func TestCreatePayinRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   CreatePayinInput
		want error
	}{
		{"missing order id", CreatePayinInput{Channel: "fast", Amount: units(10)}, domain.ErrValidation},
		{"zero amount", CreatePayinInput{MerchantOrderID: "x", Channel: "fast"}, domain.ErrValidation},
		{"sub cent amount", CreatePayinInput{MerchantOrderID: "x", Channel: "fast", Amount: 1_234}, domain.ErrValidation},
		{"relative callback", CreatePayinInput{MerchantOrderID: "x", Channel: "fast", Amount: units(10), CallbackURL: "/hook"}, domain.ErrValidation},
		{"unknown channel", CreatePayinInput{MerchantOrderID: "x", Channel: "nope", Amount: units(10)}, domain.ErrUnknownChannel},
		{"inactive channel", CreatePayinInput{MerchantOrderID: "x", Channel: "off", Amount: units(10)}, domain.ErrChannelInactive},
		{"below channel minimum", CreatePayinInput{MerchantOrderID: "x", Channel: "capped", Amount: units(5)}, domain.ErrAmountOutOfRange},
		{"above channel maximum", CreatePayinInput{MerchantOrderID: "x", Channel: "capped", Amount: units(101)}, domain.ErrAmountOutOfRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.in.MerchantID = f.merchant.ID
			_, err := f.orders.CreatePayin(ctx, tc.in)
			require.ErrorIs(t, err, tc.want)
			assert.True(t, IsClientError(err))
		})
	}

	_, err := f.orders.CreatePayin(ctx, CreatePayinInput{MerchantID: uuid.New(), MerchantOrderID: "x", Channel: "fast", Amount: units(10)})
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}

func TestCreatePayinCapabilityDisabled(t *testing.T) {
	f := newFixture(t)
	acct := f.store.Account(f.merchant.ID)
	acct.CanPayin = false
	f.store.AddAccount(acct)

	_, err := f.orders.CreatePayin(context.Background(), CreatePayinInput{
		MerchantID: f.merchant.ID, MerchantOrderID: "M-1", Channel: "fast", Amount: units(10),
	})
	require.ErrorIs(t, err, domain.ErrCapabilityDisabled)
}

func TestMerchantOrderIDIsUniquePerMerchant(t *testing.T) {
	f := newFixture(t)
	f.payin(t, "fast", "M-dup", units(10))

	_, err := f.orders.CreatePayin(context.Background(), CreatePayinInput{
		MerchantID: f.merchant.ID, MerchantOrderID: "M-dup", Channel: "fast", Amount: units(20),
	})
	require.ErrorIs(t, err, domain.ErrDuplicateOrder)

	other := f.store.AddAccount(models.Account{Name: "other", CanPayin: true})
	_, err = f.orders.CreatePayin(context.Background(), CreatePayinInput{
		MerchantID: other.ID, MerchantOrderID: "M-dup", Channel: "fast", Amount: units(20),
	})
	require.NoError(t, err)
}

func TestCreatePayinUpstreamFailureLeavesOrderFailed(t *testing.T) {
	f := newFixture(t)
	order, err := f.orders.CreatePayin(context.Background(), CreatePayinInput{
		MerchantID: f.merchant.ID, MerchantOrderID: "M-1", Channel: "broken", Amount: units(100),
		CallbackURL: "https://merchant.example/hook",
	})

	var upstream *domain.UpstreamProviderError
	require.ErrorAs(t, err, &upstream)
	assert.Equal(t, "broken", upstream.Channel)
	assert.Equal(t, "provider temporarily unavailable", upstream.Message)
	assert.ErrorIs(t, err, domain.ErrUpstreamProvider)
	assert.False(t, IsClientError(err))

	stored := f.store.Order(order.ID)
	assert.Equal(t, domain.StatusFailed, stored.Status)
	assert.Equal(t, "provider temporarily unavailable", stored.FailureReason)
	assert.Empty(t, f.store.Jobs(), "the creator already knows the outcome")
}

func TestCreatePayoutReservesFunds(t *testing.T) {
	f := newFixture(t)
	f.fund(units(500))

	order, err := f.orders.CreatePayout(context.Background(), bankPayout(f, "fast", "P-1", units(100)))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, order.Status)
	// 2% + 1.00 fixed
	assert.Equal(t, units(3), order.FeeMicros)
	assert.Equal(t, domain.PayoutKindBank, order.PayoutKind)

	acct := f.store.Account(f.merchant.ID)
	assert.Equal(t, units(397), acct.BalanceMicros)
	assert.Equal(t, units(100), acct.PendingBalanceMicros)
}

func TestCreatePayoutInsufficientFunds(t *testing.T) {
	f := newFixture(t)
	f.fund(units(100))

	_, err := f.orders.CreatePayout(context.Background(), bankPayout(f, "fast", "P-1", units(100)))
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	acct := f.store.Account(f.merchant.ID)
	assert.Equal(t, units(100), acct.BalanceMicros)
	assert.Zero(t, acct.PendingBalanceMicros)

	_, err = f.orders.GetOrder(context.Background(), f.merchant.ID, "P-1", "")
	require.ErrorIs(t, err, domain.ErrOrderNotFound, "the order insert rolls back with the reservation")
}

func TestCreatePayoutUpstreamFailureRestoresBalance(t *testing.T) {
	f := newFixture(t)
	f.fund(units(500))

	_, err := f.orders.CreatePayout(context.Background(), bankPayout(f, "broken", "P-1", units(100)))
	require.ErrorIs(t, err, domain.ErrUpstreamProvider)

	acct := f.store.Account(f.merchant.ID)
	assert.Equal(t, units(500), acct.BalanceMicros)
	assert.Zero(t, acct.PendingBalanceMicros)
	assert.Zero(t, f.store.Platform().BalanceMicros)
}

func TestCreatePayoutStablecoinConversion(t *testing.T) {
	f := newFixture(t)
	f.fund(units(1000))
	acct := f.store.Account(f.merchant.ID)
	acct.PayoutRate.ConversionRate = decimal.RequireFromString("0.0119")
	f.store.AddAccount(acct)

	in := bankPayout(f, "fast", "P-usdt", units(840))
	in.Destination = models.PayoutDestination{
		Kind:       domain.PayoutKindStablecoin,
		Stablecoin: &models.StablecoinDestination{Network: "TRC20", Address: "TXYZ"},
	}
	order, err := f.orders.CreatePayout(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, order.Destination)
	require.NotNil(t, order.Destination.Stablecoin)
	assert.Equal(t, int64(9_996_000), order.Destination.Stablecoin.ConvertedAmountMicros)
	assert.Equal(t, units(840), order.AmountMicros)
}

func TestCreatePayoutDestinationValidation(t *testing.T) {
	f := newFixture(t)
	f.fund(units(1000))

	in := bankPayout(f, "fast", "P-1", units(10))
	in.Destination.Bank.IFSC = ""
	_, err := f.orders.CreatePayout(context.Background(), in)
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "destination.bank.ifsc", verr.Field)

	in = bankPayout(f, "fast", "P-2", units(10))
	in.Destination.Kind = "cash"
	_, err = f.orders.CreatePayout(context.Background(), in)
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestGetOrderReportsExpiry(t *testing.T) {
	f := newFixture(t)
	pending := models.Order{
		ID:              uuid.New(),
		MerchantID:      f.merchant.ID,
		MerchantOrderID: "M-stale",
		Channel:         "fast",
		Type:            domain.OrderTypePayin,
		Status:          domain.StatusPending,
		ExpiresAt:       f.clock.Now().Add(time.Minute),
	}
	f.store.PutOrder(pending)

	got, err := f.orders.GetOrder(context.Background(), f.merchant.ID, "M-stale", domain.OrderTypePayin)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)

	f.clock.Advance(2 * time.Minute)
	got, err = f.orders.GetOrder(context.Background(), f.merchant.ID, "M-stale", domain.OrderTypePayin)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, got.Status)
	assert.Equal(t, domain.StatusPending, f.store.Order(pending.ID).Status, "expiry is never stored")

	_, err = f.orders.GetOrder(context.Background(), f.merchant.ID, "M-stale", domain.OrderTypePayout)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
}

func TestGetBalance(t *testing.T) {
	f := newFixture(t)
	f.fund(units(42))

	acct, err := f.orders.GetBalance(context.Background(), f.merchant.ID)
	require.NoError(t, err)
	assert.Equal(t, units(42), acct.BalanceMicros)

	_, err = f.orders.GetBalance(context.Background(), f.store.Platform().ID)
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}
