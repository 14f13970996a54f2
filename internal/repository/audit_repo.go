package repository

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"pedix/internal/audit"
	"pedix/internal/models"
)

// AuditLogRepository is the durable audit.Log. It only ever inserts.
type AuditLogRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewAuditLogRepository(db *gorm.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db, now: time.Now}
}

var _ audit.Log = (*AuditLogRepository)(nil)

func (r *AuditLogRepository) Append(ctx context.Context, e audit.Entry) error {
	audit.Prepare(&e, r.now())
	row := models.AuditLog{
		ID:               e.ID,
		Event:            e.Event,
		OrderID:          e.OrderID,
		GatewayPaymentID: e.GatewayPaymentID,
		Reason:           e.Reason,
		CreatedAt:        e.CreatedAt,
	}
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		row.Metadata = string(b)
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

// List returns matches oldest first, the same order they were appended.
func (r *AuditLogRepository) List(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	q := r.db.WithContext(ctx).Model(&models.AuditLog{}).Order("created_at ASC, id ASC")
	if f.Event != "" {
		q = q.Where("event = ?", f.Event)
	}
	if f.OrderID != "" {
		q = q.Where("order_id = ?", f.OrderID)
	}
	if f.GatewayPaymentID != "" {
		q = q.Where("gateway_payment_id = ?", f.GatewayPaymentID)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var rows []models.AuditLog
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]audit.Entry, 0, len(rows))
	for _, row := range rows {
		e := audit.Entry{
			ID:               row.ID,
			Event:            row.Event,
			OrderID:          row.OrderID,
			GatewayPaymentID: row.GatewayPaymentID,
			Reason:           row.Reason,
			CreatedAt:        row.CreatedAt,
		}
		if row.Metadata != "" {
			if err := json.Unmarshal([]byte(row.Metadata), &e.Metadata); err != nil {
				return nil, err
			}
		}
		out = append(out, e)
	}
	return out, nil
}
