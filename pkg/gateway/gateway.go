// Package gateway is the minimal contract with the external QR payment gateway.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrPaymentNotFound = errors.New("gateway: payment not found")

// Metadata is echoed back by the gateway untouched. Token is opaque to the gateway.
type Metadata struct {
	OrderID   string `json:"order_id"`
	Token     string `json:"token"`
	Timestamp string `json:"timestamp"`
}

type InstrumentRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Description string
	ExpiresAt   time.Time
	Metadata    Metadata
}

type Instrument struct {
	InstrumentID string
	QRPayload    string
	QRImage      string // base64 PNG, may be empty
}

// PaymentDetails is the authoritative record fetched by id.
type PaymentDetails struct {
	ID       string
	Status   string
	Amount   decimal.Decimal
	Currency string
	Metadata Metadata
}

type Client interface {
	CreateInstrument(ctx context.Context, req InstrumentRequest) (*Instrument, error)
	FetchPayment(ctx context.Context, id string) (*PaymentDetails, error)
}
