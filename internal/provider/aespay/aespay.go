// Package aespay adapts providers that exchange AES-256-CBC encrypted JSON
// envelopes. The AES key doubles as the bearer credential and the inner
// payload carries a lowercase MD5 keyed hash.
package aespay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/provider"
	"github.com/ayo6706/payment-aggregator/internal/signing"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	Type     = "aespay"
	ackToken = "SUCCESS"

	pathPayin       = "/v2/collect"
	pathPayout      = "/v2/disburse"
	pathPayinQuery  = "/v2/collect/query"
	pathPayoutQuery = "/v2/disburse/query"
)

func Register(reg *provider.Registry) {
	reg.Register(Type, func(name string, cfg provider.Config, deps provider.Deps) (provider.Adapter, error) {
		return New(name, cfg, deps)
	})
}

type Adapter struct {
	name   string
	cfg    provider.Config
	deps   provider.Deps
	logger *zap.Logger
	key    []byte
}

func New(name string, cfg provider.Config, deps provider.Deps) (*Adapter, error) {
	if cfg.BaseURL == "" || cfg.MerchantID == "" || cfg.Secret == "" {
		return nil, errors.New("aespay requires base_url, merchant_id and secret")
	}
	key, err := ParseKey(cfg.AESKey)
	if err != nil {
		return nil, fmt.Errorf("aespay aes_key: %w", err)
	}
	return &Adapter{name: name, cfg: cfg, deps: deps, logger: deps.Logger.With(zap.String("channel", name)), key: key}, nil
}

func (a *Adapter) Name() string     { return a.name }
func (a *Adapter) AckToken() string { return ackToken }

// Envelope is the outer wire format in both directions.
type Envelope struct {
	Code int    `json:"code,omitempty"`
	Msg  string `json:"msg,omitempty"`
	Data string `json:"data"`
}

type createData struct {
	TradeNo   string            `json:"tradeNo"`
	PayURL    string            `json:"payUrl"`
	DeepLinks map[string]string `json:"deepLinks"`
}

type queryData struct {
	TradeNo string `json:"tradeNo"`
	State   string `json:"state"`
	Amount  string `json:"amount"`
	UTR     string `json:"utr"`
}

// Seal signs params and wraps them in an encrypted envelope.
func (a *Adapter) Seal(params map[string]string) (Envelope, error) {
	params[signing.SignField] = signing.MD5(params, a.cfg.Secret, false)
	plain, err := json.Marshal(params)
	if err != nil {
		return Envelope{}, err
	}
	data, err := Encrypt(a.key, plain)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Data: data}, nil
}

func (a *Adapter) open(encoded string) (map[string]string, error) {
	plain, err := Decrypt(a.key, encoded)
	if err != nil {
		return nil, err
	}
	return signing.FlattenJSON(plain)
}

func (a *Adapter) call(ctx context.Context, path string, params map[string]string, out any) ([]byte, error) {
	params["mchNo"] = a.cfg.MerchantID
	env, err := a.Seal(params)
	if err != nil {
		return nil, fmt.Errorf("seal request: %w", err)
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+a.cfg.AESKey)

	raw, err := provider.PostJSON(ctx, a.deps.HTTP, provider.Endpoint(a.cfg.BaseURL, path), env, header)
	if err != nil {
		return raw, err
	}
	var resp Envelope
	if err := json.Unmarshal(raw, &resp); err != nil {
		return raw, fmt.Errorf("decode response: %w", err)
	}
	if resp.Code != http.StatusOK {
		return raw, fmt.Errorf("provider rejected request: code=%d msg=%s", resp.Code, resp.Msg)
	}
	plain, err := Decrypt(a.key, resp.Data)
	if err != nil {
		return raw, fmt.Errorf("decrypt response: %w", err)
	}
	if err := json.Unmarshal(plain, out); err != nil {
		return raw, fmt.Errorf("decode response data: %w", err)
	}
	return raw, nil
}

func (a *Adapter) CreatePayin(ctx context.Context, req provider.PayinRequest) provider.PayinResult {
	var data createData
	raw, err := a.call(ctx, pathPayin, map[string]string{
		"outTradeNo": req.OrderID,
		"amount":     domain.FormatAmount(req.Amount),
		"notifyUrl":  req.NotifyURL,
		"name":       req.Customer.Name,
		"email":      req.Customer.Email,
		"mobile":     req.Customer.Phone,
	}, &data)
	if err != nil {
		a.logger.Warn("aespay payin failed", zap.String("order_ref", req.OrderID), zap.Error(err))
		return provider.PayinResult{Raw: raw, Error: err.Error()}
	}
	return provider.PayinResult{Success: true, ProviderOrderID: data.TradeNo, PayURL: data.PayURL, DeepLinks: data.DeepLinks, Raw: raw}
}

func (a *Adapter) CreatePayout(ctx context.Context, req provider.PayoutRequest) provider.PayoutResult {
	if req.Beneficiary.Kind == domain.PayoutKindStablecoin {
		return provider.PayoutResult{Error: "aespay does not support stablecoin payouts"}
	}
	var data createData
	raw, err := a.call(ctx, pathPayout, map[string]string{
		"outTradeNo": req.OrderID,
		"amount":     domain.FormatAmount(req.Amount),
		"notifyUrl":  req.NotifyURL,
		"holder":     req.Beneficiary.AccountName,
		"account":    req.Beneficiary.AccountNumber,
		"ifsc":       req.Beneficiary.IFSC,
	}, &data)
	if err != nil {
		a.logger.Warn("aespay payout failed", zap.String("order_ref", req.OrderID), zap.Error(err))
		return provider.PayoutResult{Raw: raw, Error: err.Error()}
	}
	return provider.PayoutResult{Success: true, ProviderOrderID: data.TradeNo, Raw: raw}
}

func (a *Adapter) QueryPayin(ctx context.Context, orderID string) provider.QueryResult {
	return a.query(ctx, pathPayinQuery, orderID)
}

func (a *Adapter) QueryPayout(ctx context.Context, orderID string) provider.QueryResult {
	return a.query(ctx, pathPayoutQuery, orderID)
}

func (a *Adapter) query(ctx context.Context, path, orderID string) provider.QueryResult {
	var raw []byte
	data, err := provider.RetryQuery(ctx, func() (queryData, error) {
		var data queryData
		body, err := a.call(ctx, path, map[string]string{"outTradeNo": orderID}, &data)
		raw = body
		return data, err
	})
	if err != nil {
		return provider.QueryResult{Raw: raw, Error: err.Error()}
	}
	amount, _ := domain.ParseAmount(data.Amount)
	return provider.QueryResult{Success: true, Status: mapStatus(data.State), SettlementRef: data.UTR, Amount: amount, Raw: raw}
}

func (a *Adapter) callbackParams(body []byte) (map[string]string, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("decode callback envelope: %w", err)
	}
	if env.Data == "" {
		return nil, errors.New("callback envelope has no data")
	}
	return a.open(env.Data)
}

func (a *Adapter) VerifyCallbackSignature(req provider.CallbackRequest) bool {
	params, err := a.callbackParams(req.Body)
	if err != nil {
		return false
	}
	return signing.Equal(signing.MD5(params, a.cfg.Secret, false), params[signing.SignField])
}

func (a *Adapter) ParseCallback(req provider.CallbackRequest, _ domain.OrderType) (provider.CallbackData, error) {
	params, err := a.callbackParams(req.Body)
	if err != nil {
		return provider.CallbackData{}, err
	}
	orderNo := strings.TrimSpace(params["outTradeNo"])
	if orderNo == "" {
		return provider.CallbackData{}, errors.New("callback missing outTradeNo")
	}
	var amount int64
	if v := params["amount"]; v != "" {
		if amount, err = domain.ParseAmount(v); err != nil {
			return provider.CallbackData{}, err
		}
	}
	return provider.CallbackData{
		OrderID:         orderNo,
		Status:          mapStatus(params["state"]),
		SettlementRef:   params["utr"],
		ActualAmount:    amount,
		ProviderOrderID: params["tradeNo"],
		Message:         params["remark"],
	}, nil
}

func mapStatus(state string) domain.OrderStatus {
	switch strings.TrimSpace(state) {
	case "1":
		return domain.StatusSuccess
	case "2":
		return domain.StatusFailed
	case "3":
		return domain.StatusProcessing
	case "4":
		return domain.StatusExpired
	default:
		return domain.StatusPending
	}
}

var _ provider.Adapter = (*Adapter)(nil)
