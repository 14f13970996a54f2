package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletTransaction is the append-only record of one ledger mutation.
type WalletTransaction struct {
	ID               string          `gorm:"primaryKey;size:36" json:"id"`
	UserID           string          `gorm:"size:64;not null;index" json:"user_id"`
	Type             string          `gorm:"size:20;not null;index" json:"type"` // credit, debit, reserve, release
	Amount           decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	ReferenceOrderID string          `gorm:"size:64;index" json:"reference_order_id,omitempty"`
	Reason           string          `gorm:"size:255" json:"reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

func (WalletTransaction) TableName() string {
	return "wallet_transactions"
}
