package payment

import (
	"time"

	"github.com/shopspring/decimal"

	"pedix/internal/domain"
	"pedix/internal/models"
	"pedix/internal/token"
	"pedix/pkg/gateway"
)

var DefaultTolerance = decimal.RequireFromString("0.01")

// Validator checks a fetched gateway payment against the stored request. It never mutates
// either side.
type Validator struct {
	Tolerance decimal.Decimal
	Now       func() time.Time
}

func NewValidator(tolerance decimal.Decimal, now func() time.Time) Validator {
	if now == nil {
		now = time.Now
	}
	return Validator{Tolerance: tolerance, Now: now}
}

// Validate returns ok, or the first failing reason in this order: missing fields, amount,
// token, expiry, status.
func (v Validator) Validate(req *models.PaymentRequest, d *gateway.PaymentDetails) (domain.RejectReason, bool) {
	if req == nil || d == nil || d.ID == "" || d.Status == "" ||
		d.Metadata.OrderID == "" || d.Metadata.Token == "" || req.Token == "" {
		return domain.ReasonMissingFields, false
	}
	if d.Amount.Sub(req.Amount).Abs().GreaterThan(v.Tolerance) {
		return domain.ReasonAmountMismatch, false
	}
	if !token.Equal(d.Metadata.Token, req.Token) {
		return domain.ReasonTokenMismatch, false
	}
	if !v.Now().Before(req.ExpiresAt) {
		return domain.ReasonExpired, false
	}
	if req.Status != string(domain.StatusPending) {
		return domain.ReasonAlreadyTerminal, false
	}
	return "", true
}
