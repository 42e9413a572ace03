// Package mock simulates an upstream provider for local development. It adds
// random latency, fails a configurable share of requests and can deliver a
// signed callback to the notify URL on its own.
package mock

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/provider"
	"github.com/ayo6706/payment-aggregator/internal/signing"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	Type     = "mock"
	ackToken = "ok"
)

func Register(reg *provider.Registry) {
	reg.Register(Type, func(name string, cfg provider.Config, deps provider.Deps) (provider.Adapter, error) {
		return New(name, cfg, deps)
	})
}

// Options tune the simulation.
type Options struct {
	// FailureRate is the probability of failure (0.0 to 1.0). Default: 0.1 (10%)
	FailureRate  float64
	MinDelay     time.Duration
	MaxDelay     time.Duration
	AutoCallback bool
	// CallbackDelay is how long after creation the simulated callback fires.
	CallbackDelay time.Duration
	// SuccessRate is the share of simulated callbacks reporting success.
	SuccessRate float64
}

type record struct {
	providerOrderID string
	amount          int64
	status          domain.OrderStatus
	utr             string
}

type Adapter struct {
	name   string
	secret string
	opts   Options
	deps   provider.Deps
	logger *zap.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	orders map[string]record
}

func New(name string, cfg provider.Config, deps provider.Deps) (*Adapter, error) {
	opts := Options{
		FailureRate:   0.1,
		MinDelay:      200 * time.Millisecond,
		MaxDelay:      800 * time.Millisecond,
		CallbackDelay: 3 * time.Second,
		SuccessRate:   0.9,
	}
	if err := applyOptions(&opts, cfg.Options); err != nil {
		return nil, fmt.Errorf("mock options: %w", err)
	}
	return NewWithOptions(name, cfg.Secret, opts, deps), nil
}

// NewWithOptions builds a mock adapter without going through the registry.
func NewWithOptions(name, secret string, opts Options, deps provider.Deps) *Adapter {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{
		name:   name,
		secret: secret,
		opts:   opts,
		deps:   deps,
		logger: logger.With(zap.String("channel", name)),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		orders: make(map[string]record),
	}
}

func applyOptions(opts *Options, raw map[string]string) error {
	for k, v := range raw {
		var err error
		switch k {
		case "failure_rate":
			opts.FailureRate, err = strconv.ParseFloat(v, 64)
		case "success_rate":
			opts.SuccessRate, err = strconv.ParseFloat(v, 64)
		case "min_delay":
			opts.MinDelay, err = time.ParseDuration(v)
		case "max_delay":
			opts.MaxDelay, err = time.ParseDuration(v)
		case "callback_delay":
			opts.CallbackDelay, err = time.ParseDuration(v)
		case "auto_callback":
			opts.AutoCallback, err = strconv.ParseBool(v)
		}
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
	}
	return nil
}

func (a *Adapter) Name() string     { return a.name }
func (a *Adapter) AckToken() string { return ackToken }

// simulate sleeps for a random delay and then randomly fails.
func (a *Adapter) simulate(ctx context.Context) error {
	a.mu.Lock()
	delay := a.opts.MinDelay
	if span := a.opts.MaxDelay - a.opts.MinDelay; span > 0 {
		delay += time.Duration(a.rng.Int63n(int64(span)))
	}
	fail := a.rng.Float64() < a.opts.FailureRate
	a.mu.Unlock()

	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return fmt.Errorf("provider call canceled: %w", ctx.Err())
	}
	if fail {
		return errors.New("provider temporarily unavailable")
	}
	return nil
}

// Format: MOCK-YYYYMMDD-HHMMSS-XXXXX
func (a *Adapter) reference() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return fmt.Sprintf("MOCK-%s-%05d", time.Now().Format("20060102-150405"), a.rng.Intn(100000))
}

func (a *Adapter) CreatePayin(ctx context.Context, req provider.PayinRequest) provider.PayinResult {
	if err := a.simulate(ctx); err != nil {
		return provider.PayinResult{Error: err.Error()}
	}
	ref := a.reference()
	a.remember(req.OrderID, record{providerOrderID: ref, amount: req.Amount, status: domain.StatusProcessing})
	a.scheduleCallback(req.OrderID, req.NotifyURL)
	return provider.PayinResult{
		Success:         true,
		ProviderOrderID: ref,
		PayURL:          "https://mock.invalid/pay/" + ref,
	}
}

func (a *Adapter) CreatePayout(ctx context.Context, req provider.PayoutRequest) provider.PayoutResult {
	if err := a.simulate(ctx); err != nil {
		return provider.PayoutResult{Error: err.Error()}
	}
	ref := a.reference()
	a.remember(req.OrderID, record{providerOrderID: ref, amount: req.Amount, status: domain.StatusProcessing})
	a.scheduleCallback(req.OrderID, req.NotifyURL)
	return provider.PayoutResult{Success: true, ProviderOrderID: ref}
}

func (a *Adapter) QueryPayin(ctx context.Context, orderID string) provider.QueryResult {
	return a.query(orderID)
}

func (a *Adapter) QueryPayout(ctx context.Context, orderID string) provider.QueryResult {
	return a.query(orderID)
}

func (a *Adapter) query(orderID string) provider.QueryResult {
	a.mu.Lock()
	rec, ok := a.orders[orderID]
	a.mu.Unlock()
	if !ok {
		return provider.QueryResult{Error: "order not found"}
	}
	return provider.QueryResult{Success: true, Status: rec.status, SettlementRef: rec.utr, Amount: rec.amount}
}

// Settle decides the final outcome of a remembered order, as the simulated
// provider would before calling back.
func (a *Adapter) Settle(orderID string, status domain.OrderStatus) (map[string]string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.orders[orderID]
	if !ok {
		return nil, false
	}
	rec.status = status
	if status == domain.StatusSuccess {
		rec.utr = fmt.Sprintf("UTR%012d", a.rng.Int63n(1_000_000_000_000))
	}
	a.orders[orderID] = rec
	return a.CallbackParams(orderID, rec.providerOrderID, rec.amount, status, rec.utr), true
}

// CallbackParams builds a signed callback body.
func (a *Adapter) CallbackParams(orderID, providerOrderID string, amount int64, status domain.OrderStatus, utr string) map[string]string {
	params := map[string]string{
		"order_id":          orderID,
		"provider_order_id": providerOrderID,
		"amount":            domain.FormatAmount(amount),
		"status":            string(status),
		"utr":               utr,
	}
	params[signing.SignField] = signing.HMACSHA256(params, a.secret)
	return params
}

func (a *Adapter) remember(orderID string, rec record) {
	a.mu.Lock()
	a.orders[orderID] = rec
	a.mu.Unlock()
}

func (a *Adapter) scheduleCallback(orderID, notifyURL string) {
	if !a.opts.AutoCallback || notifyURL == "" || a.deps.HTTP == nil {
		return
	}
	a.mu.Lock()
	status := domain.StatusFailed
	if a.rng.Float64() < a.opts.SuccessRate {
		status = domain.StatusSuccess
	}
	a.mu.Unlock()

	time.AfterFunc(a.opts.CallbackDelay, func() {
		params, ok := a.Settle(orderID, status)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		body, err := provider.PostJSON(ctx, a.deps.HTTP, notifyURL, params, nil)
		if err != nil {
			a.logger.Warn("mock callback delivery failed", zap.String("order_ref", orderID), zap.Error(err))
			return
		}
		a.logger.Debug("mock callback delivered", zap.String("order_ref", orderID), zap.ByteString("response", body))
	})
}

func (a *Adapter) VerifyCallbackSignature(req provider.CallbackRequest) bool {
	params, err := signing.FlattenJSON(req.Body)
	if err != nil {
		return false
	}
	return signing.Equal(signing.HMACSHA256(params, a.secret), params[signing.SignField])
}

func (a *Adapter) ParseCallback(req provider.CallbackRequest, _ domain.OrderType) (provider.CallbackData, error) {
	var body struct {
		OrderID         string `json:"order_id"`
		ProviderOrderID string `json:"provider_order_id"`
		Amount          string `json:"amount"`
		Status          string `json:"status"`
		UTR             string `json:"utr"`
	}
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return provider.CallbackData{}, fmt.Errorf("decode callback: %w", err)
	}
	if body.OrderID == "" {
		return provider.CallbackData{}, errors.New("callback missing order_id")
	}
	var amount int64
	if body.Amount != "" {
		var err error
		if amount, err = domain.ParseAmount(body.Amount); err != nil {
			return provider.CallbackData{}, err
		}
	}
	return provider.CallbackData{
		OrderID:         body.OrderID,
		Status:          mapStatus(body.Status),
		SettlementRef:   body.UTR,
		ActualAmount:    amount,
		ProviderOrderID: body.ProviderOrderID,
	}, nil
}

func mapStatus(s string) domain.OrderStatus {
	switch domain.OrderStatus(strings.ToLower(strings.TrimSpace(s))) {
	case domain.StatusSuccess:
		return domain.StatusSuccess
	case domain.StatusFailed:
		return domain.StatusFailed
	case domain.StatusProcessing:
		return domain.StatusProcessing
	case domain.StatusExpired:
		return domain.StatusExpired
	default:
		return domain.StatusPending
	}
}

var _ provider.Adapter = (*Adapter)(nil)
