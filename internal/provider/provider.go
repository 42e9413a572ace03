// Package provider defines the contract every upstream payment provider
// adapter implements, and the helpers adapters share.
package provider

import (
	"context"
	"net/http"

	"github.com/ayo6706/payment-aggregator/internal/domain"
)

// Customer is the payer information forwarded on payin creation.
type Customer struct {
	Name  string
	Email string
	Phone string
	IP    string
}

// Beneficiary is the payout destination as sent upstream.
type Beneficiary struct {
	Kind          domain.PayoutKind
	AccountName   string
	AccountNumber string
	IFSC          string
	BankName      string
	Network       string
	Address       string
}

type PayinRequest struct {
	OrderID   string // aggregator order reference, echoed back in callbacks
	Amount    int64  // micros
	NotifyURL string
	Customer  Customer
}

type PayinResult struct {
	Success         bool
	ProviderOrderID string
	PayURL          string
	DeepLinks       map[string]string
	Raw             []byte
	Error           string
}

type PayoutRequest struct {
	OrderID     string
	Amount      int64 // micros, already converted for stablecoin payouts
	Beneficiary Beneficiary
	NotifyURL   string
}

type PayoutResult struct {
	Success         bool
	ProviderOrderID string
	Raw             []byte
	Error           string
}

type QueryResult struct {
	Success       bool
	Status        domain.OrderStatus
	SettlementRef string
	Amount        int64
	Raw           []byte
	Error         string
}

type BalanceResult struct {
	Success bool
	Balance int64
	Error   string
}

type SubmitResult struct {
	Success bool
	Error   string
}

// CallbackRequest is an inbound provider callback as received over HTTP.
type CallbackRequest struct {
	Header http.Header
	Body   []byte
}

// CallbackData is the canonical tuple extracted from a provider callback.
type CallbackData struct {
	OrderID         string // the reference sent in PayinRequest/PayoutRequest
	Status          domain.OrderStatus
	SettlementRef   string
	ActualAmount    int64 // micros, 0 when the provider did not report it
	ProviderOrderID string
	Message         string
}

// Adapter is implemented once per upstream provider. Business operations never
// return Go errors: transport and protocol failures come back as a result with
// Success false and Error set.
type Adapter interface {
	Name() string
	CreatePayin(ctx context.Context, req PayinRequest) PayinResult
	CreatePayout(ctx context.Context, req PayoutRequest) PayoutResult
	QueryPayin(ctx context.Context, orderID string) QueryResult
	QueryPayout(ctx context.Context, orderID string) QueryResult
	VerifyCallbackSignature(req CallbackRequest) bool
	ParseCallback(req CallbackRequest, orderType domain.OrderType) (CallbackData, error)
	// AckToken is the literal body the provider expects in reply to a callback.
	AckToken() string
}

// BalanceQuerier is implemented by adapters whose provider exposes a balance endpoint.
type BalanceQuerier interface {
	GetBalance(ctx context.Context) BalanceResult
}

// SettlementRefSubmitter is implemented by adapters that accept a manually
// supplied settlement reference for reconciliation.
type SettlementRefSubmitter interface {
	SubmitSettlementRef(ctx context.Context, orderID, ref string) SubmitResult
}
