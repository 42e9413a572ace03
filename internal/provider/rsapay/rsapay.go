// Package rsapay adapts providers that authenticate JSON requests with an
// RSA PKCS#1 v1.5 SHA-256 signature over the canonical string.
package rsapay

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/provider"
	"github.com/ayo6706/payment-aggregator/internal/signing"
	json "github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	Type     = "rsapay"
	ackToken = "OK"

	pathPayin       = "/api/v1/payin/create"
	pathPayout      = "/api/v1/payout/create"
	pathPayinQuery  = "/api/v1/payin/query"
	pathPayoutQuery = "/api/v1/payout/query"
	pathSubmitUTR   = "/api/v1/payin/utr"
)

func Register(reg *provider.Registry) {
	reg.Register(Type, func(name string, cfg provider.Config, deps provider.Deps) (provider.Adapter, error) {
		return New(name, cfg, deps)
	})
}

type Adapter struct {
	name       string
	cfg        provider.Config
	deps       provider.Deps
	logger     *zap.Logger
	privateKey *rsa.PrivateKey
	publicKey  *rsa.PublicKey
}

func New(name string, cfg provider.Config, deps provider.Deps) (*Adapter, error) {
	if cfg.BaseURL == "" || cfg.MerchantID == "" {
		return nil, errors.New("rsapay requires base_url and merchant_id")
	}
	priv, err := ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("rsapay private_key: %w", err)
	}
	pub, err := ParsePublicKey(cfg.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("rsapay public_key: %w", err)
	}
	return &Adapter{
		name:       name,
		cfg:        cfg,
		deps:       deps,
		logger:     deps.Logger.With(zap.String("channel", name)),
		privateKey: priv,
		publicKey:  pub,
	}, nil
}

func (a *Adapter) Name() string     { return a.name }
func (a *Adapter) AckToken() string { return ackToken }

// Sign returns the base64 RSA-SHA256 signature of the canonical string.
func Sign(key *rsa.PrivateKey, params map[string]string) (string, error) {
	digest := sha256.Sum256([]byte(signing.Canonical(params)))
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a base64 RSA-SHA256 signature over the canonical string.
func Verify(key *rsa.PublicKey, params map[string]string, signature string) bool {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil || len(sig) == 0 {
		return false
	}
	digest := sha256.Sum256([]byte(signing.Canonical(params)))
	return rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], sig) == nil
}

type response struct {
	Success bool            `json:"success"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type createData struct {
	OrderNo    string            `json:"orderNo"`
	CashierURL string            `json:"cashierUrl"`
	DeepLinks  map[string]string `json:"deeplinks"`
}

type queryData struct {
	OrderNo string `json:"orderNo"`
	Status  string `json:"status"`
	Amount  string `json:"amount"`
	UTR     string `json:"utr"`
}

func (a *Adapter) call(ctx context.Context, path string, params map[string]string) ([]byte, response, error) {
	params["merchantNo"] = a.cfg.MerchantID
	sig, err := Sign(a.privateKey, params)
	if err != nil {
		return nil, response{}, fmt.Errorf("sign request: %w", err)
	}
	params[signing.SignField] = sig

	raw, err := provider.PostJSON(ctx, a.deps.HTTP, provider.Endpoint(a.cfg.BaseURL, path), params, nil)
	if err != nil {
		return raw, response{}, err
	}
	var resp response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return raw, response{}, fmt.Errorf("decode response: %w", err)
	}
	if !resp.Success {
		return raw, resp, fmt.Errorf("provider rejected request: code=%s message=%s", resp.Code, resp.Message)
	}
	return raw, resp, nil
}

func (a *Adapter) CreatePayin(ctx context.Context, req provider.PayinRequest) provider.PayinResult {
	raw, resp, err := a.call(ctx, pathPayin, map[string]string{
		"merchantOrderNo": req.OrderID,
		"amount":          domain.FormatAmount(req.Amount),
		"notifyUrl":       req.NotifyURL,
		"payerName":       req.Customer.Name,
		"payerEmail":      req.Customer.Email,
		"payerPhone":      req.Customer.Phone,
	})
	if err != nil {
		a.logger.Warn("rsapay payin failed", zap.String("order_ref", req.OrderID), zap.Error(err))
		return provider.PayinResult{Raw: raw, Error: err.Error()}
	}
	var data createData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return provider.PayinResult{Raw: raw, Error: fmt.Sprintf("decode payin data: %v", err)}
	}
	return provider.PayinResult{
		Success:         true,
		ProviderOrderID: data.OrderNo,
		PayURL:          data.CashierURL,
		DeepLinks:       data.DeepLinks,
		Raw:             raw,
	}
}

func (a *Adapter) CreatePayout(ctx context.Context, req provider.PayoutRequest) provider.PayoutResult {
	params := map[string]string{
		"merchantOrderNo": req.OrderID,
		"amount":          domain.FormatAmount(req.Amount),
		"notifyUrl":       req.NotifyURL,
	}
	switch req.Beneficiary.Kind {
	case domain.PayoutKindStablecoin:
		params["payoutType"] = "USDT"
		params["network"] = req.Beneficiary.Network
		params["walletAddress"] = req.Beneficiary.Address
	default:
		params["payoutType"] = "BANK"
		params["accountName"] = req.Beneficiary.AccountName
		params["accountNumber"] = req.Beneficiary.AccountNumber
		params["ifsc"] = req.Beneficiary.IFSC
		params["bankName"] = req.Beneficiary.BankName
	}
	raw, resp, err := a.call(ctx, pathPayout, params)
	if err != nil {
		a.logger.Warn("rsapay payout failed", zap.String("order_ref", req.OrderID), zap.Error(err))
		return provider.PayoutResult{Raw: raw, Error: err.Error()}
	}
	var data createData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return provider.PayoutResult{Raw: raw, Error: fmt.Sprintf("decode payout data: %v", err)}
	}
	return provider.PayoutResult{Success: true, ProviderOrderID: data.OrderNo, Raw: raw}
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
		body, resp, err := a.call(ctx, path, map[string]string{"merchantOrderNo": orderID})
		raw = body
		if err != nil {
			return queryData{}, err
		}
		var data queryData
		if err := json.Unmarshal(resp.Data, &data); err != nil {
			return queryData{}, fmt.Errorf("decode query data: %w", err)
		}
		return data, nil
	})
	if err != nil {
		return provider.QueryResult{Raw: raw, Error: err.Error()}
	}
	amount, _ := domain.ParseAmount(data.Amount)
	return provider.QueryResult{
		Success:       true,
		Status:        mapStatus(data.Status),
		SettlementRef: data.UTR,
		Amount:        amount,
		Raw:           raw,
	}
}

// SubmitSettlementRef forwards a customer supplied UTR so the provider can
// match an unreconciled payin.
func (a *Adapter) SubmitSettlementRef(ctx context.Context, orderID, ref string) provider.SubmitResult {
	if strings.TrimSpace(ref) == "" {
		return provider.SubmitResult{Error: "settlement reference required"}
	}
	if _, _, err := a.call(ctx, pathSubmitUTR, map[string]string{"merchantOrderNo": orderID, "utr": ref}); err != nil {
		return provider.SubmitResult{Error: err.Error()}
	}
	return provider.SubmitResult{Success: true}
}

func (a *Adapter) VerifyCallbackSignature(req provider.CallbackRequest) bool {
	params, err := signing.FlattenJSON(req.Body)
	if err != nil {
		return false
	}
	return Verify(a.publicKey, params, params[signing.SignField])
}

func (a *Adapter) ParseCallback(req provider.CallbackRequest, _ domain.OrderType) (provider.CallbackData, error) {
	params, err := signing.FlattenJSON(req.Body)
	if err != nil {
		return provider.CallbackData{}, err
	}
	orderNo := strings.TrimSpace(params["merchantOrderNo"])
	if orderNo == "" {
		return provider.CallbackData{}, errors.New("callback missing merchantOrderNo")
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
		ProviderOrderID: params["orderNo"],
		Message:         params["message"],
	}, nil
}

func mapStatus(status string) domain.OrderStatus {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "SUCCESS", "PAID", "COMPLETED":
		return domain.StatusSuccess
	case "FAILED", "REJECTED", "CANCELLED":
		return domain.StatusFailed
	case "PROCESSING", "PAYING":
		return domain.StatusProcessing
	case "EXPIRED", "TIMEOUT":
		return domain.StatusExpired
	default:
		return domain.StatusPending
	}
}

var (
	_ provider.Adapter                = (*Adapter)(nil)
	_ provider.SettlementRefSubmitter = (*Adapter)(nil)
)
