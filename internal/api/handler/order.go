package handler

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/ayo6706/payment-aggregator/internal/api/middleware"
	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/models"
	"github.com/ayo6706/payment-aggregator/internal/provider"
	"github.com/ayo6706/payment-aggregator/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// OrderHandler serves the signed merchant API.
type OrderHandler struct {
	orders *service.OrderService
}

func NewOrderHandler(orders *service.OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

// amountField accepts an amount as a JSON string or number and keeps its
// literal text so it parses exactly.
type amountField string

func (a *amountField) UnmarshalJSON(b []byte) error {
	*a = amountField(strings.Trim(string(bytes.TrimSpace(b)), `"`))
	return nil
}

type customerRequest struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type createPayinRequest struct {
	MerchantOrderID string          `json:"merchantOrderId"`
	Channel         string          `json:"channel"`
	Amount          amountField     `json:"amount"`
	CallbackURL     string          `json:"callbackUrl"`
	Param           string          `json:"param"`
	Customer        customerRequest `json:"customer"`
}

type bankRequest struct {
	AccountName   string `json:"accountName"`
	AccountNumber string `json:"accountNumber"`
	IFSC          string `json:"ifsc"`
	BankName      string `json:"bankName"`
}

type stablecoinRequest struct {
	Network string `json:"network"`
	Address string `json:"address"`
}

type destinationRequest struct {
	Kind       string             `json:"kind"`
	Bank       *bankRequest       `json:"bank"`
	Stablecoin *stablecoinRequest `json:"stablecoin"`
}

type createPayoutRequest struct {
	MerchantOrderID string             `json:"merchantOrderId"`
	Channel         string             `json:"channel"`
	Amount          amountField        `json:"amount"`
	CallbackURL     string             `json:"callbackUrl"`
	Param           string             `json:"param"`
	Destination     destinationRequest `json:"destination"`
}

// OrderResponse is the merchant-facing view of an order.
type OrderResponse struct {
	ID              string `json:"id"`
	MerchantOrderID string `json:"merchantOrderId"`
	Type            string `json:"type"`
	Channel         string `json:"channel"`
	Status          string `json:"status"`
	Amount          string `json:"amount"`
	OriginalAmount  string `json:"originalAmount,omitempty"`
	Fee             string `json:"fee"`
	NetAmount       string `json:"netAmount"`
	PayURL          string `json:"payUrl,omitempty"`
	SettlementRef   string `json:"utr,omitempty"`
	FailureReason   string `json:"message,omitempty"`
	Param           string `json:"param,omitempty"`
	CreatedAt       string `json:"createdAt"`
	ExpiresAt       string `json:"expiresAt,omitempty"`
}

func toOrderResponse(o models.Order) OrderResponse {
	resp := OrderResponse{
		ID:              o.ID.String(),
		MerchantOrderID: o.MerchantOrderID,
		Type:            string(o.Type),
		Channel:         o.Channel,
		Status:          string(o.Status),
		Amount:          domain.FormatAmount(o.AmountMicros),
		Fee:             domain.FormatAmount(o.FeeMicros),
		NetAmount:       domain.FormatAmount(o.NetAmountMicros),
		PayURL:          o.PayURL,
		SettlementRef:   o.SettlementRef,
		FailureReason:   o.FailureReason,
		Param:           o.Param,
		CreatedAt:       o.CreatedAt.UTC().Format(time.RFC3339),
	}
	if o.OriginalAmountMicros != 0 && o.OriginalAmountMicros != o.AmountMicros {
		resp.OriginalAmount = domain.FormatAmount(o.OriginalAmountMicros)
	}
	if !o.ExpiresAt.IsZero() {
		resp.ExpiresAt = o.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return resp
}

func parseAmount(v amountField) (int64, error) {
	if strings.TrimSpace(string(v)) == "" {
		return 0, domain.NewValidationError("amount", "is required")
	}
	amount, err := domain.ParseAmount(string(v))
	if err != nil {
		return 0, domain.NewValidationError("amount", "must be a decimal number")
	}
	return amount, nil
}

// CreatePayin handles POST /v1/payins.
func (h *OrderHandler) CreatePayin(w http.ResponseWriter, r *http.Request) {
	merchant, ok := middleware.MerchantFromContext(r.Context())
	if !ok {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req createPayinRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeServiceError(w, r, "create payin", err)
		return
	}
	ip, _ := httprate.KeyByIP(r)

	order, err := h.orders.CreatePayin(r.Context(), service.CreatePayinInput{
		MerchantID:      merchant.ID,
		MerchantOrderID: req.MerchantOrderID,
		Channel:         req.Channel,
		Amount:          amount,
		CallbackURL:     req.CallbackURL,
		Param:           req.Param,
		Customer: provider.Customer{
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
			IP:    ip,
		},
	})
	if err != nil {
		writeServiceError(w, r, "create payin", err)
		return
	}
	RespondJSON(w, http.StatusCreated, toOrderResponse(order))
}

// CreatePayout handles POST /v1/payouts.
func (h *OrderHandler) CreatePayout(w http.ResponseWriter, r *http.Request) {
	merchant, ok := middleware.MerchantFromContext(r.Context())
	if !ok {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var req createPayoutRequest
	if err := decodeJSON(r, &req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeServiceError(w, r, "create payout", err)
		return
	}

	order, err := h.orders.CreatePayout(r.Context(), service.CreatePayoutInput{
		MerchantID:      merchant.ID,
		MerchantOrderID: req.MerchantOrderID,
		Channel:         req.Channel,
		Amount:          amount,
		CallbackURL:     req.CallbackURL,
		Param:           req.Param,
		Destination:     req.Destination.toModel(),
	})
	if err != nil {
		writeServiceError(w, r, "create payout", err)
		return
	}
	RespondJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (d destinationRequest) toModel() models.PayoutDestination {
	out := models.PayoutDestination{Kind: domain.PayoutKind(strings.ToLower(strings.TrimSpace(d.Kind)))}
	if d.Bank != nil {
		out.Bank = &models.BankDestination{
			AccountName:   d.Bank.AccountName,
			AccountNumber: d.Bank.AccountNumber,
			IFSC:          d.Bank.IFSC,
			BankName:      d.Bank.BankName,
		}
	}
	if d.Stablecoin != nil {
		out.Stablecoin = &models.StablecoinDestination{
			Network: d.Stablecoin.Network,
			Address: d.Stablecoin.Address,
		}
	}
	return out
}

// GetOrder handles GET /v1/orders/{merchantOrderId}?type=payin|payout.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	merchant, ok := middleware.MerchantFromContext(r.Context())
	if !ok {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	var orderType domain.OrderType
	if raw := r.URL.Query().Get("type"); raw != "" {
		t, valid := domain.ParseOrderType(raw)
		if !valid {
			RespondError(w, r, http.StatusBadRequest, "request/invalid-type", "type must be payin or payout")
			return
		}
		orderType = t
	}

	order, err := h.orders.GetOrder(r.Context(), merchant.ID, chi.URLParam(r, "merchantOrderId"), orderType)
	if err != nil {
		writeServiceError(w, r, "get order", err)
		return
	}
	RespondJSON(w, http.StatusOK, toOrderResponse(order))
}

// GetBalance handles GET /v1/balance.
func (h *OrderHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	merchant, ok := middleware.MerchantFromContext(r.Context())
	if !ok {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}
	acct, err := h.orders.GetBalance(r.Context(), merchant.ID)
	if err != nil {
		writeServiceError(w, r, "get balance", err)
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{
		"balance":        domain.FormatAmount(acct.BalanceMicros),
		"pendingBalance": domain.FormatAmount(acct.PendingBalanceMicros),
	})
}
