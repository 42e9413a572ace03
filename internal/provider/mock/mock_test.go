package mock

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/provider"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func instant(failureRate float64) Options {
	return Options{FailureRate: failureRate, SuccessRate: 1}
}

func TestCreatePayinAlwaysSucceeds(t *testing.T) {
	a := NewWithOptions("mock", "s3cret", instant(0), provider.Deps{Logger: zap.NewNop()})

	res := a.CreatePayin(context.Background(), provider.PayinRequest{OrderID: "ORD-1", Amount: 10 * domain.MicrosPerUnit})
	require.True(t, res.Success)
	assert.True(t, strings.HasPrefix(res.ProviderOrderID, "MOCK-"))
	assert.NotEmpty(t, res.PayURL)

	q := a.QueryPayin(context.Background(), "ORD-1")
	require.True(t, q.Success)
	assert.Equal(t, domain.StatusProcessing, q.Status)
}

func TestCreatePayoutAlwaysFails(t *testing.T) {
	a := NewWithOptions("mock", "s3cret", instant(1), provider.Deps{Logger: zap.NewNop()})

	res := a.CreatePayout(context.Background(), provider.PayoutRequest{OrderID: "PO-1", Amount: domain.MicrosPerUnit})
	assert.False(t, res.Success)
	assert.Equal(t, "provider temporarily unavailable", res.Error)
	assert.False(t, a.QueryPayout(context.Background(), "PO-1").Success)
}

func TestSimulateHonoursContext(t *testing.T) {
	opts := instant(0)
	opts.MinDelay = time.Minute
	opts.MaxDelay = time.Minute
	a := NewWithOptions("mock", "s3cret", opts, provider.Deps{Logger: zap.NewNop()})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := a.CreatePayin(ctx, provider.PayinRequest{OrderID: "ORD-2"})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "canceled")
}

func TestSettleProducesVerifiableCallback(t *testing.T) {
	a := NewWithOptions("mock", "s3cret", instant(0), provider.Deps{Logger: zap.NewNop()})
	require.True(t, a.CreatePayin(context.Background(), provider.PayinRequest{OrderID: "ORD-3", Amount: 5 * domain.MicrosPerUnit}).Success)

	params, ok := a.Settle("ORD-3", domain.StatusSuccess)
	require.True(t, ok)
	body, err := json.Marshal(params)
	require.NoError(t, err)
	req := provider.CallbackRequest{Body: body}

	require.True(t, a.VerifyCallbackSignature(req))
	data, err := a.ParseCallback(req, domain.OrderTypePayin)
	require.NoError(t, err)
	assert.Equal(t, "ORD-3", data.OrderID)
	assert.Equal(t, domain.StatusSuccess, data.Status)
	assert.Equal(t, int64(5*domain.MicrosPerUnit), data.ActualAmount)
	assert.NotEmpty(t, data.SettlementRef)

	_, ok = a.Settle("unknown", domain.StatusSuccess)
	assert.False(t, ok)
}

func TestAutoCallbackDelivered(t *testing.T) {
	got := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- body
		_, _ = w.Write([]byte(ackToken))
	}))
	defer srv.Close()

	opts := instant(0)
	opts.AutoCallback = true
	opts.CallbackDelay = 10 * time.Millisecond
	a := NewWithOptions("mock", "s3cret", opts, provider.Deps{HTTP: srv.Client(), Logger: zap.NewNop()})
	require.True(t, a.CreatePayout(context.Background(), provider.PayoutRequest{OrderID: "PO-9", Amount: domain.MicrosPerUnit, NotifyURL: srv.URL}).Success)

	select {
	case body := <-got:
		assert.True(t, a.VerifyCallbackSignature(provider.CallbackRequest{Body: body}))
	case <-time.After(5 * time.Second):
		t.Fatal("callback not delivered")
	}
}

func TestNewParsesOptions(t *testing.T) {
	a, err := New("mock", provider.Config{Type: Type, Secret: "x", Options: map[string]string{
		"failure_rate":   "0.5",
		"auto_callback":  "true",
		"callback_delay": "2s",
	}}, provider.Deps{Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.Equal(t, 0.5, a.opts.FailureRate)
	assert.True(t, a.opts.AutoCallback)
	assert.Equal(t, 2*time.Second, a.opts.CallbackDelay)

	_, err = New("mock", provider.Config{Options: map[string]string{"failure_rate": "lots"}}, provider.Deps{})
	require.Error(t, err)
}
