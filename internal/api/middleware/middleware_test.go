package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestTraceMiddlewareReusesInboundID(t *testing.T) {
	var seen string
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/callbacks/hp-upi/payin", nil)
	req.Header.Set(HeaderRequestID, "prov-req-42")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	assert.Equal(t, "prov-req-42", seen)
	assert.Equal(t, "prov-req-42", w.Header().Get(HeaderTraceID))
}

func TestTraceMiddlewareReplacesUnusableID(t *testing.T) {
	var seen string
	h := TraceMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))

	for _, bad := range []string{strings.Repeat("x", maxTraceIDLen+1), "has space"} {
		req := httptest.NewRequest(http.MethodGet, "/v1/balance", nil)
		req.Header.Set(HeaderTraceID, bad)
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.NotEqual(t, bad, seen)
		assert.Len(t, seen, 36)
	}
}

func TestRecoverMiddlewareWritesProblem(t *testing.T) {
	h := TraceMiddleware(RecoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/channels", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/problem+json")
	assert.Contains(t, w.Body.String(), "internal/panic")
}

func TestRecoverMiddlewareRepanicsOnAbort(t *testing.T) {
	h := RecoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}

func TestLoggingMiddlewareNamesMerchant(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tagMerchant(r.Context(), "m-1")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte("{}"))
	})
	h := TraceMiddleware(LoggingMiddleware(zap.New(core))(inner))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/v1/payins", nil))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "m-1", fields["merchant_id"])
	assert.EqualValues(t, http.StatusCreated, fields["status"])
	assert.EqualValues(t, 2, fields["bytes"])
}

func TestSurface(t *testing.T) {
	assert.Equal(t, "callback", surface("/callbacks/smart/payin"))
	assert.Equal(t, "merchant", surface("/v1/payins"))
	assert.Equal(t, "admin", surface("/admin/channels"))
	assert.Equal(t, "infra", surface("/health/live"))
}
