package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is a prepaid balance. Version is bumped on every write and guards concurrent updates.
type Wallet struct {
	UserID        string          `gorm:"primaryKey;size:64" json:"user_id"`
	Balance       decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"balance"`
	ReservedTotal decimal.Decimal `gorm:"type:decimal(20,2);not null;default:0" json:"reserved_total"`
	Currency      string          `gorm:"size:3;not null" json:"currency"`
	Version       int64           `gorm:"not null;default:0" json:"-"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}

// WalletReservation is the handle returned by a reserve call. One per order.
type WalletReservation struct {
	OrderID   string          `gorm:"primaryKey;size:64" json:"order_id"`
	UserID    string          `gorm:"size:64;not null;index" json:"user_id"`
	Amount    decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"amount"`
	Status    string          `gorm:"size:20;not null" json:"status"` // RESERVED, CONFIRMED, RELEASED
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (WalletReservation) TableName() string {
	return "wallet_reservations"
}
