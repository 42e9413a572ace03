package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

const (
	HeaderTraceID   = "X-Trace-ID"
	HeaderRequestID = "X-Request-ID"
	maxTraceIDLen   = 64
)

// requestTag travels with the request and is filled in by inner middleware,
// so the access log written on the way out can name the caller.
type requestTag struct {
	traceID  string
	merchant string
	operator string
}

// TraceMiddleware assigns every request a trace id. An inbound X-Trace-ID,
// or the X-Request-ID some providers send, is reused when it is short and
// printable.
func TraceMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := inboundTraceID(r)
		if traceID == "" {
			traceID = uuid.NewString()
		}
		r.Header.Set(HeaderTraceID, traceID)
		w.Header().Set(HeaderTraceID, traceID)

		ctx := context.WithValue(r.Context(), traceContextKey, &requestTag{traceID: traceID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func inboundTraceID(r *http.Request) string {
	for _, h := range []string{HeaderTraceID, HeaderRequestID} {
		if v := strings.TrimSpace(r.Header.Get(h)); v != "" && printableID(v) {
			return v
		}
	}
	return ""
}

func printableID(v string) bool {
	if len(v) > maxTraceIDLen {
		return false
	}
	for i := 0; i < len(v); i++ {
		if v[i] < 0x21 || v[i] > 0x7e {
			return false
		}
	}
	return true
}

func tagFromContext(ctx context.Context) *requestTag {
	if ctx == nil {
		return nil
	}
	tag, _ := ctx.Value(traceContextKey).(*requestTag)
	return tag
}

func tagMerchant(ctx context.Context, merchantID string) {
	if tag := tagFromContext(ctx); tag != nil {
		tag.merchant = merchantID
	}
}

func tagOperator(ctx context.Context, operatorID string) {
	if tag := tagFromContext(ctx); tag != nil {
		tag.operator = operatorID
	}
}
