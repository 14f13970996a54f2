package ws

import (
	"context"
	"time"

	"pedix/internal/domain"
	"pedix/internal/models"
	"pedix/internal/payment"
)

// StatusMessage is what payment status subscribers receive.
type StatusMessage struct {
	Type       string    `json:"type"`
	OrderID    string    `json:"order_id"`
	Status     string    `json:"status"`
	Terminal   bool      `json:"terminal"`
	QRPayload  string    `json:"qr_payload,omitempty"`
	QRImageURL string    `json:"qr_image_url,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
	At         time.Time `json:"at"`
}

func statusMessage(req *models.PaymentRequest, at time.Time) StatusMessage {
	st := domain.PaymentStatus(req.Status)
	msg := StatusMessage{
		Type:      "payment_status",
		OrderID:   req.OrderID,
		Status:    req.Status,
		Terminal:  st.Terminal(),
		ExpiresAt: req.ExpiresAt,
		At:        at.UTC(),
	}
	if !msg.Terminal {
		msg.QRPayload = req.QRPayload
		msg.QRImageURL = req.QRImageURL
	}
	return msg
}

// PaymentHub streams status changes to clients waiting on a QR payment.
type PaymentHub struct {
	*Hub
}

func NewPaymentHub() *PaymentHub {
	return &PaymentHub{Hub: NewHub()}
}

var _ payment.Observer = (*PaymentHub)(nil)

func (p *PaymentHub) OnTransition(_ context.Context, t payment.Transition) {
	p.Broadcast(t.Request.OrderID, statusMessage(t.Request, t.At), t.To.Terminal())
}
