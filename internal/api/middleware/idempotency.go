package middleware

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/ayo6706/payment-aggregator/internal/api/problem"
	"github.com/ayo6706/payment-aggregator/internal/idempotency"
	"github.com/ayo6706/payment-aggregator/internal/observability"
	"github.com/ayo6706/payment-aggregator/internal/signing"
	"go.uber.org/zap"
)

const (
	HeaderIdempotencyKey = "Idempotency-Key"
	HeaderReplay         = "X-Idempotent-Replay"

	maxIdempotencyKeyLen = 128
	replayWait           = 5 * time.Second
)

// IdempotencyMiddleware replays the stored response when a merchant repeats a
// POST with the same Idempotency-Key. Requests without the header pass
// through; uniqueness of merchantOrderId still guards them. Keys are scoped to
// the authenticated merchant, so this must run after MerchantAuth.
//
// Two requests are the same when their signed parameter sets are equal, so a
// client that re-serialises its JSON with different key order still replays.
// A 5xx outcome releases the key and the merchant may retry.
func IdempotencyMiddleware(store *idempotency.Store, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get(HeaderIdempotencyKey)
			if r.Method != http.MethodPost || store == nil || header == "" {
				next.ServeHTTP(w, r)
				return
			}
			if len(header) > maxIdempotencyKeyLen {
				observability.IncrementIdempotencyEvent("invalid_key")
				problem.Write(w, r, http.StatusBadRequest, problem.Type("idempotency/invalid-key"), "", "Idempotency-Key must be at most 128 characters")
				return
			}

			owner := "anonymous"
			if m, ok := MerchantFromContext(r.Context()); ok {
				owner = m.ID.String()
			}
			key := idempotency.ScopedKey(owner, header)

			body, err := io.ReadAll(r.Body)
			if err != nil {
				problem.Write(w, r, http.StatusBadRequest, problem.Type("request/invalid-body"), "", "Failed to read request body")
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))
			fingerprint := requestFingerprint(r.URL.Path, body)
			log := logger.With(zap.String("idempotency_key", key), zap.String("path", r.URL.Path))

			rec, err := store.Lookup(r.Context(), key, fingerprint)
			switch {
			case err == nil:
				observability.IncrementIdempotencyEvent("replay")
				replay(w, rec)
				return
			case errors.Is(err, idempotency.ErrHashMismatch):
				observability.IncrementIdempotencyEvent("hash_mismatch")
				problem.Write(w, r, http.StatusConflict, problem.Type("idempotency/key-conflict"), "", "Idempotency-Key was already used with a different request")
				return
			case errors.Is(err, idempotency.ErrInProgress):
				awaitOriginal(w, r, store, key, fingerprint, log)
				return
			case !errors.Is(err, idempotency.ErrNotFound):
				observability.IncrementIdempotencyEvent("lookup_error")
				log.Warn("idempotency lookup failed", zap.Error(err))
			}

			reserved, err := store.Reserve(r.Context(), key, fingerprint, r.Method, r.URL.Path)
			if err != nil {
				observability.IncrementIdempotencyEvent("reserve_error")
				log.Error("idempotency reserve failed", zap.Error(err))
				problem.Write(w, r, http.StatusServiceUnavailable, problem.Type("idempotency/unavailable"), "", "idempotency store unavailable, retry later")
				return
			}
			if !reserved {
				// Lost the race to a concurrent twin.
				awaitOriginal(w, r, store, key, fingerprint, log)
				return
			}
			observability.IncrementIdempotencyEvent("reserved")

			capture := &captureWriter{ResponseWriter: w}
			next.ServeHTTP(capture, r)

			// The merchant already has its answer; bookkeeping must not be cut
			// short by a disconnect.
			ctx := context.WithoutCancel(r.Context())
			status := capture.statusCode()
			if status >= http.StatusInternalServerError {
				if err := store.Release(ctx, key); err != nil {
					log.Warn("idempotency release failed", zap.Error(err))
				}
				observability.IncrementIdempotencyEvent("released")
				return
			}
			contentType := capture.Header().Get("Content-Type")
			if contentType == "" {
				contentType = "application/json"
			}
			if _, err := store.Finalize(ctx, key, fingerprint, status, capture.body.Bytes(), contentType); err != nil {
				observability.IncrementIdempotencyEvent("finalize_error")
				log.Warn("idempotency finalize failed", zap.Error(err))
				return
			}
			observability.IncrementIdempotencyEvent("finalized")
		})
	}
}

// awaitOriginal blocks until the request holding key completes, then replays
// its response.
func awaitOriginal(w http.ResponseWriter, r *http.Request, store *idempotency.Store, key, fingerprint string, log *zap.Logger) {
	ctx, cancel := context.WithTimeout(r.Context(), replayWait)
	defer cancel()

	rec, err := store.WaitForCompletion(ctx, key, fingerprint)
	switch {
	case err == nil:
		observability.IncrementIdempotencyEvent("replay_after_wait")
		replay(w, rec)
	case errors.Is(err, idempotency.ErrHashMismatch):
		observability.IncrementIdempotencyEvent("hash_mismatch")
		problem.Write(w, r, http.StatusConflict, problem.Type("idempotency/key-conflict"), "", "Idempotency-Key was already used with a different request")
	default:
		observability.IncrementIdempotencyEvent("in_progress_conflict")
		log.Info("idempotent request still running", zap.Error(err))
		problem.Write(w, r, http.StatusConflict, problem.Type("idempotency/in-progress"), "", "a request with this Idempotency-Key is still being processed")
	}
}

// requestFingerprint hashes the path with the canonical form of the signed
// parameters. Bodies that are not flat JSON objects fall back to raw bytes.
func requestFingerprint(path string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(path))
	h.Write([]byte{0})
	if params, err := signing.FlattenJSON(body); err == nil {
		h.Write([]byte(signing.Canonical(params, "")))
	} else {
		h.Write(body)
	}
	return hex.EncodeToString(h.Sum(nil))
}

type captureWriter struct {
	http.ResponseWriter
	status int
	body   bytes.Buffer
}

func (c *captureWriter) WriteHeader(code int) {
	if c.status == 0 {
		c.status = code
	}
	c.ResponseWriter.WriteHeader(code)
}

func (c *captureWriter) Write(b []byte) (int, error) {
	if c.status == 0 {
		c.status = http.StatusOK
	}
	c.body.Write(b)
	return c.ResponseWriter.Write(b)
}

func (c *captureWriter) statusCode() int {
	if c.status == 0 {
		return http.StatusOK
	}
	return c.status
}

func replay(w http.ResponseWriter, rec *idempotency.Record) {
	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set(HeaderReplay, rec.ServedBy)
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
}
