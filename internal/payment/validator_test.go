package payment

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"pedix/internal/domain"
	"pedix/internal/models"
	"pedix/pkg/gateway"
)

func TestValidator(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v := NewValidator(DefaultTolerance, func() time.Time { return now })

	base := func() (*models.PaymentRequest, *gateway.PaymentDetails) {
		req := &models.PaymentRequest{
			OrderID:   "PED-1",
			Amount:    decimal.RequireFromString("500"),
			Token:     "tok",
			Status:    string(domain.StatusPending),
			ExpiresAt: now.Add(time.Minute),
		}
		d := &gateway.PaymentDetails{
			ID:       "GW-1",
			Status:   domain.GatewayStatusApproved,
			Amount:   decimal.RequireFromString("500"),
			Metadata: gateway.Metadata{OrderID: "PED-1", Token: "tok"},
		}
		return req, d
	}

	cases := []struct {
		name   string
		mutate func(*models.PaymentRequest, *gateway.PaymentDetails)
		reason domain.RejectReason
	}{
		{name: "valid", mutate: func(*models.PaymentRequest, *gateway.PaymentDetails) {}},
		{name: "within tolerance above", mutate: func(_ *models.PaymentRequest, d *gateway.PaymentDetails) {
			d.Amount = decimal.RequireFromString("500.01")
		}},
		{name: "within tolerance below", mutate: func(_ *models.PaymentRequest, d *gateway.PaymentDetails) {
			d.Amount = decimal.RequireFromString("499.99")
		}},
		{name: "over tolerance", reason: domain.ReasonAmountMismatch, mutate: func(_ *models.PaymentRequest, d *gateway.PaymentDetails) {
			d.Amount = decimal.RequireFromString("500.011")
		}},
		{name: "under tolerance", reason: domain.ReasonAmountMismatch, mutate: func(_ *models.PaymentRequest, d *gateway.PaymentDetails) {
			d.Amount = decimal.RequireFromString("499.98")
		}},
		{name: "token mismatch", reason: domain.ReasonTokenMismatch, mutate: func(_ *models.PaymentRequest, d *gateway.PaymentDetails) {
			d.Metadata.Token = "forged"
		}},
		{name: "missing token", reason: domain.ReasonMissingFields, mutate: func(_ *models.PaymentRequest, d *gateway.PaymentDetails) {
			d.Metadata.Token = ""
		}},
		{name: "missing order", reason: domain.ReasonMissingFields, mutate: func(_ *models.PaymentRequest, d *gateway.PaymentDetails) {
			d.Metadata.OrderID = ""
		}},
		{name: "expired at boundary", reason: domain.ReasonExpired, mutate: func(r *models.PaymentRequest, _ *gateway.PaymentDetails) {
			r.ExpiresAt = now
		}},
		{name: "terminal", reason: domain.ReasonAlreadyTerminal, mutate: func(r *models.PaymentRequest, _ *gateway.PaymentDetails) {
			r.Status = string(domain.StatusCancelled)
		}},
		{name: "amount checked before token", reason: domain.ReasonAmountMismatch, mutate: func(_ *models.PaymentRequest, d *gateway.PaymentDetails) {
			d.Amount = decimal.RequireFromString("1")
			d.Metadata.Token = "forged"
		}},
		{name: "token checked before expiry", reason: domain.ReasonTokenMismatch, mutate: func(r *models.PaymentRequest, d *gateway.PaymentDetails) {
			r.ExpiresAt = now.Add(-time.Hour)
			d.Metadata.Token = "forged"
		}},
		{name: "expiry checked before status", reason: domain.ReasonExpired, mutate: func(r *models.PaymentRequest, _ *gateway.PaymentDetails) {
			r.ExpiresAt = now.Add(-time.Hour)
			r.Status = string(domain.StatusExpired)
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req, d := base()
			tc.mutate(req, d)
			reason, ok := v.Validate(req, d)
			assert.Equal(t, tc.reason == "", ok)
			assert.Equal(t, tc.reason, reason)
		})
	}

	reason, ok := v.Validate(nil, nil)
	assert.False(t, ok)
	assert.Equal(t, domain.ReasonMissingFields, reason)
}
