package middleware

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// LoggingMiddleware writes one access log line per request, naming the
// merchant or operator when authentication identified one.
func LoggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := newResponseRecorder(w)

			next.ServeHTTP(rec, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("route", routePattern(r)),
				zap.Int("status", rec.status),
				zap.Int("bytes", rec.bytes),
				zap.Duration("duration", time.Since(start)),
			}
			if tag := tagFromContext(r.Context()); tag != nil {
				fields = append(fields, zap.String("trace_id", tag.traceID))
				if tag.merchant != "" {
					fields = append(fields, zap.String("merchant_id", tag.merchant))
				}
				if tag.operator != "" {
					fields = append(fields, zap.String("operator_id", tag.operator))
				}
			}

			switch {
			case rec.status >= http.StatusInternalServerError:
				logger.Warn("http_request", fields...)
			case rec.status == http.StatusUnauthorized || rec.status == http.StatusTooManyRequests:
				logger.Info("http_request_rejected", fields...)
			default:
				logger.Info("http_request", fields...)
			}
		})
	}
}

type responseRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func newResponseRecorder(w http.ResponseWriter) *responseRecorder {
	return &responseRecorder{ResponseWriter: w, status: http.StatusOK}
}

func (rr *responseRecorder) WriteHeader(code int) {
	if rr.wroteHeader {
		return
	}
	rr.status = code
	rr.wroteHeader = true
	rr.ResponseWriter.WriteHeader(code)
}

func (rr *responseRecorder) Write(b []byte) (int, error) {
	if !rr.wroteHeader {
		rr.wroteHeader = true
	}
	n, err := rr.ResponseWriter.Write(b)
	rr.bytes += n
	return n, err
}

func (rr *responseRecorder) Unwrap() http.ResponseWriter {
	return rr.ResponseWriter
}
