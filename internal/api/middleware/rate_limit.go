package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ayo6706/payment-aggregator/internal/api/problem"
	"github.com/go-chi/httprate"
)

// PublicRateLimiter limits requests per IP for unauthenticated routes.
func PublicRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second, httprate.WithLimitHandler(tooManyRequests(fmt.Sprintf("Rate limit of %d req/s exceeded for this IP", rps))))
}

// CallbackRateLimiter limits provider callbacks per channel and source IP.
func CallbackRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint),
		httprate.WithLimitHandler(tooManyRequests(fmt.Sprintf("Rate limit of %d req/s exceeded for this channel", rps))),
	)
}

// MerchantRateLimiter limits authenticated merchants by merchant id, falling
// back to the operator id and then the client IP.
func MerchantRateLimiter(rps int) func(http.Handler) http.Handler {
	return httprate.Limit(rps, time.Second,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if m, ok := MerchantFromContext(r.Context()); ok {
				return "merchant:" + m.ID.String(), nil
			}
			if op := OperatorIDFromContext(r.Context()); op != "" {
				return "operator:" + op, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(tooManyRequests(fmt.Sprintf("Rate limit of %d req/s exceeded for this client", rps))),
	)
}

func tooManyRequests(detail string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		problem.Write(w, r, http.StatusTooManyRequests, problem.Type("rate-limit-exceeded"), "", detail)
	}
}
