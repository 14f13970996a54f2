package models

import "time"

// Notification is an in-app message about a payment. OrderID ties it to the order so a
// client can show the history of one payment.
type Notification struct {
	ID        string     `gorm:"primaryKey;size:36" json:"id"`
	UserID    string     `gorm:"size:64;not null;index:idx_notifications_user_order" json:"user_id"`
	OrderID   string     `gorm:"size:64;index:idx_notifications_user_order" json:"order_id,omitempty"`
	Type      string     `gorm:"size:50;not null;index" json:"type"`
	Title     string     `gorm:"size:255" json:"title"`
	Body      string     `gorm:"type:text" json:"body"`
	Data      string     `gorm:"type:text" json:"data"` // JSON payload
	ReadAt    *time.Time `json:"read_at"`
	CreatedAt time.Time  `gorm:"index" json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}
