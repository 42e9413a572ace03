package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRetryQueryRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	body, err := RetryQuery(context.Background(), func() ([]byte, error) {
		return PostJSON(context.Background(), srv.Client(), srv.URL, map[string]string{"a": "b"}, nil)
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryQueryStopsOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := RetryQuery(context.Background(), func() ([]byte, error) {
		return PostJSON(context.Background(), srv.Client(), srv.URL, nil, nil)
	})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.Code)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEndpoint(t *testing.T) {
	assert.Equal(t, "https://p.example/api/x", Endpoint("https://p.example/", "/api/x"))
	assert.Equal(t, "https://p.example/api/x", Endpoint("https://p.example", "api/x"))
}

type stubAdapter struct{ name string }

func (s stubAdapter) Name() string { return s.name }
func (stubAdapter) CreatePayin(context.Context, PayinRequest) PayinResult { return PayinResult{} }
func (stubAdapter) CreatePayout(context.Context, PayoutRequest) PayoutResult { return PayoutResult{} }
func (stubAdapter) QueryPayin(context.Context, string) QueryResult { return QueryResult{} }
func (stubAdapter) QueryPayout(context.Context, string) QueryResult { return QueryResult{} }
func (stubAdapter) VerifyCallbackSignature(CallbackRequest) bool { return true }
func (stubAdapter) ParseCallback(CallbackRequest, domain.OrderType) (CallbackData, error) {
	return CallbackData{}, nil
}
func (stubAdapter) AckToken() string { return "ok" }

func TestRegistryCreate(t *testing.T) {
	reg := NewRegistry()
	var gotDeps Deps
	reg.Register("stub", func(name string, cfg Config, deps Deps) (Adapter, error) {
		gotDeps = deps
		return stubAdapter{name: name}, nil
	})

	a, err := reg.Create("chan-a", Config{Type: "stub"}, Deps{Logger: zap.NewNop()})
	require.NoError(t, err)
	assert.Equal(t, "chan-a", a.Name())
	assert.NotNil(t, gotDeps.HTTP)
	assert.Equal(t, []string{"stub"}, reg.Types())

	_, err = reg.Create("chan-b", Config{Type: "missing"}, Deps{})
	require.Error(t, err)
}
