package models

import "time"

// AuditLog is append-only. Rows are never updated or deleted.
type AuditLog struct {
	ID               string    `gorm:"primaryKey;size:36" json:"id"`
	Event            string    `gorm:"size:64;not null;index" json:"event"`
	OrderID          string    `gorm:"size:64;index" json:"order_id,omitempty"`
	GatewayPaymentID string    `gorm:"size:128;index" json:"gateway_payment_id,omitempty"`
	Reason           string    `gorm:"size:64" json:"reason,omitempty"`
	Metadata         string    `gorm:"type:text" json:"metadata,omitempty"` // JSON
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}
