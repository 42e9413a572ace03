package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/payment-aggregator/internal/observability"
	"github.com/go-chi/chi/v5"
)

// MetricsMiddleware records latency per route pattern. Requests that match no
// route share one label so probing unknown callback paths cannot blow up the
// series count.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		done := observability.TrackInFlight(surface(r.URL.Path))
		defer done()

		start := time.Now()
		rec := newResponseRecorder(w)
		next.ServeHTTP(rec, r)

		observability.ObserveHTTP(r.Method, routePattern(r), rec.status, time.Since(start))
	})
}

func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if pattern := rc.RoutePattern(); pattern != "" && pattern != "/*" {
			return pattern
		}
	}
	return "unmatched"
}

// surface groups paths by caller population.
func surface(path string) string {
	switch {
	case strings.HasPrefix(path, "/callbacks/"):
		return "callback"
	case strings.HasPrefix(path, "/v1/"):
		return "merchant"
	case strings.HasPrefix(path, "/admin/"):
		return "admin"
	default:
		return "infra"
	}
}
