package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/ayo6706/payment-aggregator/internal/api/problem"
	"github.com/ayo6706/payment-aggregator/internal/domain"
	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

// RespondJSON writes a JSON response.
func RespondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// RespondError writes an error response.
func RespondError(w http.ResponseWriter, r *http.Request, status int, problemType, message string) {
	if problemType != "" && problemType != "about:blank" && !strings.HasPrefix(problemType, "http") {
		problemType = problem.Type(problemType)
	}
	problem.Write(w, r, status, problemType, http.StatusText(status), message)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	return dec.Decode(dst)
}

type errorMapping struct {
	target      error
	status      int
	problemType string
}

var domainErrors = []errorMapping{
	{domain.ErrValidation, http.StatusBadRequest, "request/validation"},
	{domain.ErrDuplicateOrder, http.StatusConflict, "order/duplicate"},
	{domain.ErrInsufficientFunds, http.StatusUnprocessableEntity, "order/insufficient-funds"},
	{domain.ErrUnknownChannel, http.StatusBadRequest, "channel/unknown"},
	{domain.ErrNoRoute, http.StatusUnprocessableEntity, "channel/no-route"},
	{domain.ErrChannelInactive, http.StatusUnprocessableEntity, "channel/inactive"},
	{domain.ErrAmountOutOfRange, http.StatusUnprocessableEntity, "channel/amount-out-of-range"},
	{domain.ErrCapabilityDisabled, http.StatusForbidden, "merchant/capability-disabled"},
	{domain.ErrUpstreamProvider, http.StatusBadGateway, "provider/upstream-error"},
	{domain.ErrNotificationDelivery, http.StatusBadGateway, "notification/not-acknowledged"},
	{domain.ErrOrderNotFound, http.StatusNotFound, "order/not-found"},
	{domain.ErrAccountNotFound, http.StatusNotFound, "account/not-found"},
	{domain.ErrSignatureMismatch, http.StatusUnauthorized, "auth/signature-mismatch"},
}

// writeServiceError maps service and domain errors to problem responses.
// Unrecognised errors are logged and reported as 500 with a generic detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		problem.WriteInvalid(w, r, verr.Field, verr.Reason)
		return
	}
	for _, m := range domainErrors {
		if errors.Is(err, m.target) {
			RespondError(w, r, m.status, m.problemType, err.Error())
			return
		}
	}
	if status, problemType, message, ok := mapDBError(err); ok {
		RespondError(w, r, status, problemType, message)
		return
	}
	zap.L().Error(op+" failed", zap.Error(err), zap.String("path", r.URL.Path))
	RespondError(w, r, http.StatusInternalServerError, "internal-server-error", op+" failed")
}

func mapDBError(err error) (status int, problemType, message string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return 0, "", "", false
	}

	switch pgErr.Code {
	case "23505": // unique_violation
		return http.StatusConflict, "db/unique-violation", "resource already exists", true
	case "23514": // check_violation
		return http.StatusBadRequest, "db/check-violation", "request violates data constraints", true
	default:
		return 0, "", "", false
	}
}
