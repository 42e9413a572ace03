// Package hashpay adapts providers that sign form-encoded requests with an
// uppercase MD5 keyed hash over the canonical string.
package hashpay

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/provider"
	"github.com/ayo6706/payment-aggregator/internal/signing"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	Type     = "hashpay"
	ackToken = "success"

	pathPayin       = "/api/pay/create"
	pathPayout      = "/api/payout/create"
	pathPayinQuery  = "/api/pay/query"
	pathPayoutQuery = "/api/payout/query"
	pathBalance     = "/api/balance"
)

// Register adds the hashpay factory to reg.
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
}

func New(name string, cfg provider.Config, deps provider.Deps) (*Adapter, error) {
	if cfg.BaseURL == "" || cfg.MerchantID == "" || cfg.Secret == "" {
		return nil, errors.New("hashpay requires base_url, merchant_id and secret")
	}
	return &Adapter{name: name, cfg: cfg, deps: deps, logger: deps.Logger.With(zap.String("channel", name))}, nil
}

func (a *Adapter) Name() string     { return a.name }
func (a *Adapter) AckToken() string { return ackToken }

type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type createData struct {
	OrderNo     string            `json:"orderNo"`
	PlatOrderNo string            `json:"platOrderNo"`
	PayURL      string            `json:"payUrl"`
	DeepLinks   map[string]string `json:"deepLinks"`
}

type queryData struct {
	OrderNo     string `json:"orderNo"`
	PlatOrderNo string `json:"platOrderNo"`
	Status      string `json:"status"`
	Amount      string `json:"amount"`
	UTR         string `json:"utr"`
}

type balanceData struct {
	Balance string `json:"balance"`
}

func (a *Adapter) sign(params map[string]string) url.Values {
	params["mchId"] = a.cfg.MerchantID
	params["sign"] = signing.MD5(params, a.cfg.Secret, true)
	form := url.Values{}
	for k, v := range params {
		if v != "" {
			form.Set(k, v)
		}
	}
	return form
}

func (a *Adapter) call(ctx context.Context, path string, params map[string]string) ([]byte, envelope, error) {
	body, err := provider.PostForm(ctx, a.deps.HTTP, provider.Endpoint(a.cfg.BaseURL, path), a.sign(params), nil)
	if err != nil {
		return body, envelope{}, err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return body, envelope{}, fmt.Errorf("decode response: %w", err)
	}
	if env.Code != 0 {
		return body, env, fmt.Errorf("provider rejected request: code=%d msg=%s", env.Code, env.Msg)
	}
	return body, env, nil
}

func (a *Adapter) CreatePayin(ctx context.Context, req provider.PayinRequest) provider.PayinResult {
	raw, env, err := a.call(ctx, pathPayin, map[string]string{
		"orderNo":       req.OrderID,
		"amount":        domain.FormatAmount(req.Amount),
		"notifyUrl":     req.NotifyURL,
		"customerName":  req.Customer.Name,
		"customerEmail": req.Customer.Email,
		"customerPhone": req.Customer.Phone,
		"clientIp":      req.Customer.IP,
	})
	if err != nil {
		a.logger.Warn("hashpay payin failed", zap.String("order_ref", req.OrderID), zap.Error(err))
		return provider.PayinResult{Raw: raw, Error: err.Error()}
	}
	var data createData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return provider.PayinResult{Raw: raw, Error: fmt.Sprintf("decode payin data: %v", err)}
	}
	return provider.PayinResult{
		Success:         true,
		ProviderOrderID: data.PlatOrderNo,
		PayURL:          data.PayURL,
		DeepLinks:       data.DeepLinks,
		Raw:             raw,
	}
}

func (a *Adapter) CreatePayout(ctx context.Context, req provider.PayoutRequest) provider.PayoutResult {
	if req.Beneficiary.Kind == domain.PayoutKindStablecoin {
		return provider.PayoutResult{Error: "hashpay does not support stablecoin payouts"}
	}
	raw, env, err := a.call(ctx, pathPayout, map[string]string{
		"orderNo":     req.OrderID,
		"amount":      domain.FormatAmount(req.Amount),
		"notifyUrl":   req.NotifyURL,
		"accountName": req.Beneficiary.AccountName,
		"accountNo":   req.Beneficiary.AccountNumber,
		"ifsc":        req.Beneficiary.IFSC,
		"bankName":    req.Beneficiary.BankName,
	})
	if err != nil {
		a.logger.Warn("hashpay payout failed", zap.String("order_ref", req.OrderID), zap.Error(err))
		return provider.PayoutResult{Raw: raw, Error: err.Error()}
	}
	var data createData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return provider.PayoutResult{Raw: raw, Error: fmt.Sprintf("decode payout data: %v", err)}
	}
	return provider.PayoutResult{Success: true, ProviderOrderID: data.PlatOrderNo, Raw: raw}
}

func (a *Adapter) QueryPayin(ctx context.Context, orderID string) provider.QueryResult {
	return a.query(ctx, pathPayinQuery, orderID)
}

func (a *Adapter) QueryPayout(ctx context.Context, orderID string) provider.QueryResult {
	return a.query(ctx, pathPayoutQuery, orderID)
}

func (a *Adapter) query(ctx context.Context, path, orderID string) provider.QueryResult {
	type queried struct {
		raw  []byte
		data queryData
	}
	res, err := provider.RetryQuery(ctx, func() (queried, error) {
		raw, env, err := a.call(ctx, path, map[string]string{"orderNo": orderID})
		if err != nil {
			return queried{raw: raw}, err
		}
		var data queryData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return queried{raw: raw}, fmt.Errorf("decode query data: %w", err)
		}
		return queried{raw: raw, data: data}, nil
	})
	if err != nil {
		return provider.QueryResult{Raw: res.raw, Error: err.Error()}
	}
	amount, _ := domain.ParseAmount(res.data.Amount)
	return provider.QueryResult{
		Success:       true,
		Status:        mapStatus(res.data.Status),
		SettlementRef: res.data.UTR,
		Amount:        amount,
		Raw:           res.raw,
	}
}

// GetBalance reports the merchant balance held at the provider.
func (a *Adapter) GetBalance(ctx context.Context) provider.BalanceResult {
	res, err := provider.RetryQuery(ctx, func() (balanceData, error) {
		_, env, err := a.call(ctx, pathBalance, map[string]string{})
		if err != nil {
			return balanceData{}, err
		}
		var data balanceData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return balanceData{}, fmt.Errorf("decode balance data: %w", err)
		}
		return data, nil
	})
	if err != nil {
		return provider.BalanceResult{Error: err.Error()}
	}
	balance, err := domain.ParseAmount(res.Balance)
	if err != nil {
		return provider.BalanceResult{Error: err.Error()}
	}
	return provider.BalanceResult{Success: true, Balance: balance}
}

func callbackParams(body []byte) (map[string]string, error) {
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return nil, fmt.Errorf("parse form callback: %w", err)
	}
	params := make(map[string]string, len(values))
	for k := range values {
		params[k] = values.Get(k)
	}
	return params, nil
}

func (a *Adapter) VerifyCallbackSignature(req provider.CallbackRequest) bool {
	params, err := callbackParams(req.Body)
	if err != nil {
		return false
	}
	return signing.Equal(signing.MD5(params, a.cfg.Secret, true), params[signing.SignField])
}

func (a *Adapter) ParseCallback(req provider.CallbackRequest, _ domain.OrderType) (provider.CallbackData, error) {
	params, err := callbackParams(req.Body)
	if err != nil {
		return provider.CallbackData{}, err
	}
	orderNo := strings.TrimSpace(params["orderNo"])
	if orderNo == "" {
		return provider.CallbackData{}, errors.New("callback missing orderNo")
	}
	var amount int64
	if v := params["amount"]; v != "" {
		if amount, err = domain.ParseAmount(v); err != nil {
			return provider.CallbackData{}, err
		}
	}
	return provider.CallbackData{
		OrderID:         orderNo,
		Status:          mapStatus(params["status"]),
		SettlementRef:   params["utr"],
		ActualAmount:    amount,
		ProviderOrderID: params["platOrderNo"],
		Message:         params["msg"],
	}, nil
}

func mapStatus(code string) domain.OrderStatus {
	switch strings.TrimSpace(code) {
	case "0":
		return domain.StatusPending
	case "1":
		return domain.StatusProcessing
	case "2":
		return domain.StatusSuccess
	case "3":
		return domain.StatusFailed
	case "4":
		return domain.StatusExpired
	default:
		return domain.StatusPending
	}
}

var (
	_ provider.Adapter        = (*Adapter)(nil)
	_ provider.BalanceQuerier = (*Adapter)(nil)
)
