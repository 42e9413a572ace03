package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/provider"
	"github.com/ayo6706/payment-aggregator/internal/service"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// CallbackHandler receives provider callbacks. Providers only understand
// their literal acknowledgement token, so replies are plain text rather
// than problem documents.
type CallbackHandler struct {
	callbacks *service.CallbackService
}

func NewCallbackHandler(callbacks *service.CallbackService) *CallbackHandler {
	return &CallbackHandler{callbacks: callbacks}
}

// Handle handles POST /callbacks/{channel}/{type}.
func (h *CallbackHandler) Handle(w http.ResponseWriter, r *http.Request) {
	channel := chi.URLParam(r, "channel")
	orderType, ok := domain.ParseOrderType(chi.URLParam(r, "type"))
	if !ok {
		writeText(w, http.StatusNotFound, "unknown order type")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeText(w, http.StatusBadRequest, "unreadable body")
		return
	}

	resp, err := h.callbacks.Handle(r.Context(), channel, orderType, provider.CallbackRequest{
		Header: r.Header.Clone(),
		Body:   body,
	})
	if err != nil && !expectedCallbackOutcome(err) {
		zap.L().Debug("callback handled with error", zap.String("channel", channel), zap.Error(err))
	}
	writeText(w, resp.Status, resp.Body)
}

func expectedCallbackOutcome(err error) bool {
	return errors.Is(err, domain.ErrCallbackAlreadyTerminal) || errors.Is(err, domain.ErrCallbackOrderNotFound)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
