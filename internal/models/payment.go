package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentRequest is a single-use, time-bounded intent to collect payment for one order.
// ActiveOrderID mirrors OrderID while the request is PENDING and is NULL otherwise, so the
// unique index allows exactly one non-terminal request per order.
type PaymentRequest struct {
	ID                 string          `gorm:"primaryKey;size:36" json:"id"`
	OrderID            string          `gorm:"size:64;not null;index" json:"order_id"`
	ActiveOrderID      *string         `gorm:"size:64;uniqueIndex" json:"-"`
	Amount             decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Currency           string          `gorm:"size:3;not null" json:"currency"`
	Description        string          `gorm:"size:255" json:"description"`
	Token              string          `gorm:"size:128;not null" json:"-"`
	Status             string          `gorm:"size:20;not null;index" json:"status"`
	Method             string          `gorm:"size:20;not null" json:"method"`
	CustomerID         string          `gorm:"size:64;index" json:"customer_id"`
	MerchantID         string          `gorm:"size:64" json:"merchant_id,omitempty"`
	CourierID          string          `gorm:"size:64" json:"courier_id,omitempty"`
	GatewayReferenceID string          `gorm:"size:128;index" json:"gateway_reference_id,omitempty"`
	QRPayload          string          `gorm:"type:text" json:"qr_payload,omitempty"`
	QRImageURL         string          `gorm:"type:text" json:"qr_image_url,omitempty"`
	GatewayPaymentID   string          `gorm:"size:128;index" json:"gateway_payment_id,omitempty"`
	PlatformFeeRate    decimal.Decimal `gorm:"type:decimal(6,4)" json:"platform_fee_rate"`
	PlatformFee        decimal.Decimal `gorm:"type:decimal(20,2)" json:"platform_fee"`
	PayoutAmount       decimal.Decimal `gorm:"type:decimal(20,2)" json:"payout_amount"`
	ExpiresAt          time.Time       `gorm:"not null;index" json:"expires_at"`
	SettledAt          *time.Time      `json:"settled_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

func (PaymentRequest) TableName() string {
	return "payment_requests"
}
