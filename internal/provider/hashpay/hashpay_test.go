package hashpay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/ayo6706/payment-aggregator/internal/domain"
	"github.com/ayo6706/payment-aggregator/internal/provider"
	"github.com/ayo6706/payment-aggregator/internal/signing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "hp-secret"

func newTestAdapter(t *testing.T, handler http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	a, err := New("hp-main", provider.Config{
		Type:       Type,
		BaseURL:    srv.URL,
		MerchantID: "M100",
		Secret:     testSecret,
	}, provider.Deps{HTTP: srv.Client(), Logger: zap.NewNop()})
	require.NoError(t, err)
	return a
}

func formParams(t *testing.T, r *http.Request) map[string]string {
	t.Helper()
	require.NoError(t, r.ParseForm())
	params := make(map[string]string)
	for k := range r.PostForm {
		params[k] = r.PostForm.Get(k)
	}
	return params
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New("hp", provider.Config{BaseURL: "http://x"}, provider.Deps{Logger: zap.NewNop()})
	require.Error(t, err)
}

func TestCreatePayinSignsRequest(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathPayin, r.URL.Path)
		params := formParams(t, r)
		assert.Equal(t, "M100", params["mchId"])
		assert.Equal(t, "ORD-1", params["orderNo"])
		assert.Equal(t, "500.00", params["amount"])
		assert.Equal(t, signing.MD5(params, testSecret, true), params["sign"])
		_, _ = w.Write([]byte(`{"code":0,"msg":"ok","data":{"orderNo":"ORD-1","platOrderNo":"HP-77","payUrl":"https://pay.example/77","deepLinks":{"upi":"upi://pay?x=1"}}}`))
	})

	res := a.CreatePayin(context.Background(), provider.PayinRequest{
		OrderID:   "ORD-1",
		Amount:    500 * domain.MicrosPerUnit,
		NotifyURL: "https://agg.example/callbacks/hp-main/payin",
	})
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "HP-77", res.ProviderOrderID)
	assert.Equal(t, "https://pay.example/77", res.PayURL)
	assert.Equal(t, "upi://pay?x=1", res.DeepLinks["upi"])
	assert.NotEmpty(t, res.Raw)
}

func TestCreatePayinRejectedByProvider(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":1001,"msg":"amount below minimum"}`))
	})

	res := a.CreatePayin(context.Background(), provider.PayinRequest{OrderID: "ORD-2", Amount: domain.MicrosPerUnit})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "amount below minimum")
}

func TestCreatePayoutRejectsStablecoin(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no upstream call expected")
	})

	res := a.CreatePayout(context.Background(), provider.PayoutRequest{
		OrderID:     "PO-1",
		Amount:      domain.MicrosPerUnit,
		Beneficiary: provider.Beneficiary{Kind: domain.PayoutKindStablecoin, Network: "TRC20", Address: "T..."},
	})
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Error)
}

func TestQueryPayinMapsStatus(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathPayinQuery, r.URL.Path)
		_, _ = w.Write([]byte(`{"code":0,"data":{"orderNo":"ORD-3","status":"2","amount":"250.50","utr":"UTR123"}}`))
	})

	res := a.QueryPayin(context.Background(), "ORD-3")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, domain.StatusSuccess, res.Status)
	assert.Equal(t, "UTR123", res.SettlementRef)
	assert.Equal(t, int64(250_500_000), res.Amount)
}

func TestGetBalance(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, pathBalance, r.URL.Path)
		_, _ = w.Write([]byte(`{"code":0,"data":{"balance":"1200.00"}}`))
	})

	res := a.GetBalance(context.Background())
	require.True(t, res.Success, res.Error)
	assert.Equal(t, int64(1200*domain.MicrosPerUnit), res.Balance)
}

func signedCallback(params map[string]string) []byte {
	params["sign"] = signing.MD5(params, testSecret, true)
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	return []byte(form.Encode())
}

func TestCallbackVerifyAndParse(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	body := signedCallback(map[string]string{
		"orderNo":     "ORD-9",
		"platOrderNo": "HP-9",
		"amount":      "800.00",
		"status":      "2",
		"utr":         "UTR9",
	})
	req := provider.CallbackRequest{Header: http.Header{}, Body: body}

	require.True(t, a.VerifyCallbackSignature(req))
	data, err := a.ParseCallback(req, domain.OrderTypePayin)
	require.NoError(t, err)
	assert.Equal(t, "ORD-9", data.OrderID)
	assert.Equal(t, "HP-9", data.ProviderOrderID)
	assert.Equal(t, domain.StatusSuccess, data.Status)
	assert.Equal(t, "UTR9", data.SettlementRef)
	assert.Equal(t, int64(800*domain.MicrosPerUnit), data.ActualAmount)
	assert.Equal(t, "success", a.AckToken())
}

func TestCallbackTamperedSignature(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	body := signedCallback(map[string]string{"orderNo": "ORD-9", "amount": "800.00", "status": "2"})
	values, err := url.ParseQuery(string(body))
	require.NoError(t, err)
	values.Set("amount", "8000.00")

	assert.False(t, a.VerifyCallbackSignature(provider.CallbackRequest{Body: []byte(values.Encode())}))
}

func TestCallbackMissingOrderNo(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {})
	_, err := a.ParseCallback(provider.CallbackRequest{Body: []byte("status=2")}, domain.OrderTypePayin)
	require.Error(t, err)
}

func TestMapStatus(t *testing.T) {
	cases := map[string]domain.OrderStatus{
		"0":  domain.StatusPending,
		"1":  domain.StatusProcessing,
		"2":  domain.StatusSuccess,
		"3":  domain.StatusFailed,
		"4":  domain.StatusExpired,
		"99": domain.StatusPending,
	}
	for in, want := range cases {
		assert.Equal(t, want, mapStatus(in), in)
	}
}
