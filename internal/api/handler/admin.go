package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ayo6706/payment-aggregator/internal/api/middleware"
	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/models"
	"github.com/ayo6706/payment-aggregator/internal/notify"
	"github.com/ayo6706/payment-aggregator/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AdminHandler serves the operator API.
type AdminHandler struct {
	orders    *service.OrderService
	forwarder *notify.Forwarder
	recon     *service.ReconciliationService
}

func NewAdminHandler(orders *service.OrderService, forwarder *notify.Forwarder, recon *service.ReconciliationService) *AdminHandler {
	return &AdminHandler{orders: orders, forwarder: forwarder, recon: recon}
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-order-id", "Invalid order ID")
		return uuid.Nil, false
	}
	return id, true
}

// GetOrder handles GET /admin/orders/{id}.
func (h *AdminHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	order, err := h.orders.GetOrderByID(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, "get order", err)
		return
	}
	RespondJSON(w, http.StatusOK, order)
}

// ResendNotification handles POST /admin/orders/{id}/notify.
func (h *AdminHandler) ResendNotification(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	if err := h.forwarder.Resend(r.Context(), id); err != nil {
		writeServiceError(w, r, "resend notification", err)
		return
	}
	zap.L().Info("notification resent by operator",
		zap.String("order_id", id.String()),
		zap.String("operator_id", middleware.OperatorIDFromContext(r.Context())),
	)
	RespondJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
}

// ListDeadLetters handles GET /admin/notifications/dead.
func (h *AdminHandler) ListDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := int32(50)
	if v := strings.TrimSpace(r.URL.Query().Get("limit")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 || parsed > 500 {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-limit", "limit must be between 1 and 500")
			return
		}
		limit = int32(parsed)
	}
	jobs, err := h.forwarder.DeadLetters(r.Context(), limit)
	if err != nil {
		writeServiceError(w, r, "list dead notifications", err)
		return
	}
	if jobs == nil {
		jobs = []models.NotificationJob{}
	}
	RespondJSON(w, http.StatusOK, map[string]any{
		"items": jobs,
		"count": len(jobs),
		"limit": limit,
	})
}

type channelView struct {
	Name             string `json:"name"`
	DisplayName      string `json:"display_name"`
	Provider         string `json:"provider,omitempty"`
	Dynamic          bool   `json:"dynamic"`
	Active           bool   `json:"active"`
	StrictSignature  bool   `json:"strict_signature"`
	HostsPaymentPage bool   `json:"hosts_payment_page"`
	MinAmount        string `json:"min_amount"`
	MaxAmount        string `json:"max_amount,omitempty"`
	BalanceSupported bool   `json:"balance_supported"`
	Balance          string `json:"balance,omitempty"`
	BalanceError     string `json:"balance_error,omitempty"`
}

// ListChannels handles GET /admin/channels. Provider balances are fetched
// live for channels whose adapter supports it.
func (h *AdminHandler) ListChannels(w http.ResponseWriter, r *http.Request) {
	balances := make(map[string]service.ChannelBalance)
	for _, b := range h.recon.ChannelBalances(r.Context()) {
		balances[b.Channel] = b
	}

	out := make([]channelView, 0)
	for _, e := range h.recon.Channels() {
		v := channelView{
			Name:             e.Name,
			DisplayName:      e.DisplayName,
			Provider:         e.Channel.Provider,
			Dynamic:          e.Dynamic,
			Active:           e.Channel.Active,
			StrictSignature:  e.StrictSignature,
			HostsPaymentPage: e.HostsPaymentPage,
			MinAmount:        domain.FormatAmount(e.Channel.MinAmountMicros),
		}
		if e.Channel.MaxAmountMicros > 0 {
			v.MaxAmount = domain.FormatAmount(e.Channel.MaxAmountMicros)
		}
		if b, ok := balances[e.Name]; ok {
			v.BalanceSupported = b.Supported
			v.BalanceError = b.Error
			if b.Supported && b.Error == "" {
				v.Balance = domain.FormatAmount(b.Balance)
			}
		}
		out = append(out, v)
	}
	RespondJSON(w, http.StatusOK, map[string]any{"items": out})
}

// SubmitSettlementRef handles POST /admin/orders/{id}/settlement-ref.
func (h *AdminHandler) SubmitSettlementRef(w http.ResponseWriter, r *http.Request) {
	id, ok := orderIDParam(w, r)
	if !ok {
		return
	}
	var req struct {
		SettlementRef string `json:"utr"`
	}
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	if err := h.recon.SubmitSettlementRef(r.Context(), id, req.SettlementRef); err != nil {
		if errors.Is(err, service.ErrUnsupported) {
			RespondError(w, r, http.StatusUnprocessableEntity, "channel/unsupported", err.Error())
			return
		}
		writeServiceError(w, r, "submit settlement reference", err)
		return
	}
	RespondJSON(w, http.StatusAccepted, map[string]string{"status": "submitted"})
}

// RunReconciliation handles POST /admin/reconciliation/run.
func (h *AdminHandler) RunReconciliation(w http.ResponseWriter, r *http.Request) {
	report, err := h.recon.SyncStaleOrders(r.Context())
	if err != nil {
		writeServiceError(w, r, "reconciliation", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]int{
		"checked": report.Checked,
		"settled": report.Settled,
		"failed":  report.Failed,
	})
}
