package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNotification(t *testing.T) {
	now := time.Now()
	cases := []struct {
		name    string
		body    string
		query   url.Values
		kind    Kind
		id      string
		wantErr bool
	}{
		{name: "string id", body: `{"type":"payment","action":"payment.updated","data":{"id":"GW-99"}}`, kind: KindPayment, id: "GW-99"},
		{name: "numeric id", body: `{"type":"payment","data":{"id":123456789012}}`, kind: KindPayment, id: "123456789012"},
		{name: "query form", query: url.Values{"type": {"payment"}, "data.id": {"77"}}, kind: KindPayment, id: "77"},
		{name: "merchant order", body: `{"type":"merchant_order","data":{"id":"1"}}`, kind: KindUnsupported, id: "1"},
		{name: "missing id", body: `{"type":"payment","data":{}}`, kind: KindPayment, wantErr: true},
		{name: "garbage", body: `not json`, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n, err := ParseNotification([]byte(tc.body), tc.query, now)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrMalformedNotification)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.kind, n.Kind)
			assert.Equal(t, tc.id, n.GatewayPaymentID)
		})
	}
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"tok-1","token_type":"bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/v1/payments", handler)
	mux.HandleFunc("/v1/payments/", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return NewHTTPClient(HTTPConfig{
		BaseURL:         srv.URL,
		TokenURL:        srv.URL + "/oauth/token",
		ClientID:        "id",
		ClientSecret:    "secret",
		NotificationURL: "https://pedix.test/api/v1/webhooks/gateway",
		Timeout:         5 * time.Second,
	})
}

func TestHTTPClientCreateInstrument(t *testing.T) {
	var got createPaymentReq
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		assert.Equal(t, "PED-1:tk", r.Header.Get("X-Idempotency-Key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"id":5550001,"status":"pending","point_of_interaction":{"transaction_data":{"qr_code":"000201PIX","qr_code_base64":"iVBOR"}}}`))
	})

	inst, err := c.CreateInstrument(context.Background(), InstrumentRequest{
		Amount:      decimal.NewFromInt(500),
		Currency:    "BRL",
		Description: "order PED-1",
		Metadata:    Metadata{OrderID: "PED-1", Token: "tk", Timestamp: "2026-01-01T00:00:00Z"},
	})
	require.NoError(t, err)
	assert.Equal(t, "5550001", inst.InstrumentID)
	assert.Equal(t, "000201PIX", inst.QRPayload)
	assert.Equal(t, "iVBOR", inst.QRImage)

	assert.Equal(t, "500.00", got.TransactionAmount.String())
	assert.Equal(t, "PED-1", got.ExternalReference)
	assert.Equal(t, "tk", got.Metadata.Token)
	assert.Equal(t, "https://pedix.test/api/v1/webhooks/gateway", got.NotificationURL)
}

func TestHTTPClientFetchPayment(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/payments/GW-99":
			w.Write([]byte(`{"id":"GW-99","status":"approved","transaction_amount":500.004,"currency_id":"BRL","external_reference":"PED-2","metadata":{"token":"tk"}}`))
		default:
			http.NotFound(w, r)
		}
	})

	p, err := c.FetchPayment(context.Background(), "GW-99")
	require.NoError(t, err)
	assert.Equal(t, "approved", p.Status)
	assert.Equal(t, "500.004", p.Amount.String())
	assert.Equal(t, "PED-2", p.Metadata.OrderID)
	assert.Equal(t, "tk", p.Metadata.Token)

	_, err = c.FetchPayment(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestHTTPClientUpstreamFailure(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.FetchPayment(context.Background(), "GW-1")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrPaymentNotFound)
}

func TestStubApprove(t *testing.T) {
	s := NewStub()
	_, err := s.CreateInstrument(context.Background(), InstrumentRequest{
		Amount:   decimal.NewFromInt(10),
		Metadata: Metadata{OrderID: "PED-1", Token: "tk"},
	})
	require.NoError(t, err)
	require.NoError(t, s.Approve("GW-1", "PED-1"))
	assert.Error(t, s.Approve("GW-2", "PED-404"))

	p, err := s.FetchPayment(context.Background(), "GW-1")
	require.NoError(t, err)
	assert.Equal(t, "approved", p.Status)
	assert.Equal(t, "tk", p.Metadata.Token)
	assert.EqualValues(t, 1, s.FetchCalls())
}
