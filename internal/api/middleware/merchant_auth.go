package middleware

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/payment-aggregator/internal/api/problem"
	"github.com/ayo6706/payment-aggregator/internal/models"
	"github.com/ayo6706/payment-aggregator/internal/signing"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

const (
	HeaderAPIKey = "X-Api-Key"
	HeaderSign   = "X-Sign"

	maxSignedBody = 1 << 20
)

// MerchantLookup resolves a merchant from its public API key.
type MerchantLookup interface {
	GetAccountByAPIKey(ctx context.Context, apiKey string) (models.Account, error)
}

// MerchantAuth authenticates merchant requests. X-Sign must equal the
// uppercase canonical MD5 of the JSON body fields (query parameters for
// requests without a body) keyed with the merchant secret.
func MerchantAuth(lookup MerchantLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get(HeaderAPIKey)
			sign := r.Header.Get(HeaderSign)
			if apiKey == "" || sign == "" {
				problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/missing-credentials"), "", "X-Api-Key and X-Sign headers are required")
				return
			}

			merchant, err := lookup.GetAccountByAPIKey(r.Context(), apiKey)
			if err != nil {
				if !errors.Is(err, pgx.ErrNoRows) {
					zap.L().Error("merchant lookup failed", zap.Error(err))
					problem.Write(w, r, http.StatusInternalServerError, problem.Type("auth/unavailable"), "", "authentication unavailable")
					return
				}
				problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/unknown-api-key"), "", "unknown api key")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody))
			if err != nil {
				problem.Write(w, r, http.StatusBadRequest, problem.Type("request/invalid-body"), "", "Failed to read request body")
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))

			params, err := signedParams(r, body)
			if err != nil {
				problem.Write(w, r, http.StatusBadRequest, problem.Type("request/invalid-body"), "", "request body must be a JSON object")
				return
			}
			if !signing.Equal(signing.MD5(params, merchant.Secret, true), sign) {
				zap.L().Warn("merchant signature mismatch", zap.String("merchant_id", merchant.ID.String()), zap.String("path", r.URL.Path))
				problem.Write(w, r, http.StatusUnauthorized, problem.Type("auth/signature-mismatch"), "", "signature mismatch")
				return
			}

			tagMerchant(r.Context(), merchant.ID.String())
			ctx := context.WithValue(r.Context(), merchantContextKey, merchant)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SignedParams returns the parameter set a merchant signs for r.
func signedParams(r *http.Request, body []byte) (map[string]string, error) {
	if len(bytes.TrimSpace(body)) > 0 {
		return signing.FlattenJSON(body)
	}
	params := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}
	return params, nil
}

// MerchantFromContext returns the authenticated merchant.
func MerchantFromContext(ctx context.Context) (models.Account, bool) {
	m, ok := ctx.Value(merchantContextKey).(models.Account)
	return m, ok
}
