package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"pedix/internal/logger"
)

type HTTPConfig struct {
	BaseURL         string
	TokenURL        string
	ClientID        string
	ClientSecret    string
	NotificationURL string
	Timeout         time.Duration
}

// HTTPClient talks to the gateway REST API. Requests carry an OAuth2 bearer obtained with
// the client credentials grant; the token source caches and refreshes it.
type HTTPClient struct {
	baseURL         string
	notificationURL string
	client          *http.Client
}

func NewHTTPClient(cfg HTTPConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	base := &http.Client{Timeout: cfg.Timeout}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := cc.Client(ctx)
	client.Timeout = cfg.Timeout
	return &HTTPClient{
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		notificationURL: cfg.NotificationURL,
		client:          client,
	}
}

type createPaymentReq struct {
	TransactionAmount json.Number `json:"transaction_amount"`
	CurrencyID        string      `json:"currency_id,omitempty"`
	Description       string      `json:"description"`
	PaymentMethodID   string      `json:"payment_method_id"`
	ExternalReference string      `json:"external_reference"`
	NotificationURL   string      `json:"notification_url,omitempty"`
	DateOfExpiration  string      `json:"date_of_expiration,omitempty"`
	Metadata          Metadata    `json:"metadata"`
}

type paymentResp struct {
	ID                 json.Number `json:"id"`
	Status             string      `json:"status"`
	TransactionAmount  json.Number `json:"transaction_amount"`
	CurrencyID         string      `json:"currency_id"`
	ExternalReference  string      `json:"external_reference"`
	Metadata           Metadata    `json:"metadata"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

func (c *HTTPClient) CreateInstrument(ctx context.Context, req InstrumentRequest) (*Instrument, error) {
	payload := createPaymentReq{
		TransactionAmount: json.Number(req.Amount.StringFixed(2)),
		CurrencyID:        req.Currency,
		Description:       req.Description,
		PaymentMethodID:   "pix",
		ExternalReference: req.Metadata.OrderID,
		NotificationURL:   c.notificationURL,
		Metadata:          req.Metadata,
	}
	if !req.ExpiresAt.IsZero() {
		payload.DateOfExpiration = req.ExpiresAt.UTC().Format("2006-01-02T15:04:05.000Z07:00")
	}
	body, _ := json.Marshal(payload)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/payments", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	// The token is unique per request, so a retried create never opens a second instrument.
	httpReq.Header.Set("X-Idempotency-Key", req.Metadata.OrderID+":"+req.Metadata.Token)

	var out paymentResp
	if err := c.do(httpReq, &out); err != nil {
		return nil, fmt.Errorf("create instrument: %w", err)
	}
	logger.S().Infow("gateway_instrument_created", "order_id", req.Metadata.OrderID, "instrument_id", out.ID.String())
	return &Instrument{
		InstrumentID: out.ID.String(),
		QRPayload:    out.PointOfInteraction.TransactionData.QRCode,
		QRImage:      out.PointOfInteraction.TransactionData.QRCodeBase64,
	}, nil
}

func (c *HTTPClient) FetchPayment(ctx context.Context, id string) (*PaymentDetails, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/payments/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var out paymentResp
	if err := c.do(httpReq, &out); err != nil {
		return nil, fmt.Errorf("fetch payment %s: %w", id, err)
	}
	amount, err := decimal.NewFromString(out.TransactionAmount.String())
	if err != nil {
		return nil, fmt.Errorf("fetch payment %s: bad amount %q: %w", id, out.TransactionAmount, err)
	}
	md := out.Metadata
	if md.OrderID == "" {
		md.OrderID = out.ExternalReference
	}
	return &PaymentDetails{
		ID:       out.ID.String(),
		Status:   out.Status,
		Amount:   amount,
		Currency: out.CurrencyID,
		Metadata: md,
	}, nil
}

func (c *HTTPClient) do(req *http.Request, out interface{}) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusNotFound {
		return ErrPaymentNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		logger.S().Warnw("gateway_error_response", "method", req.Method, "path", req.URL.Path, "status", resp.StatusCode, "body", string(body))
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(out)
}
