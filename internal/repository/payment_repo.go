package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pedix/internal/domain"
	"pedix/internal/models"
	"pedix/internal/payment"
)

// PaymentRequestRepository is the gorm-backed payment.Store. The unique index on
// active_order_id enforces one PENDING request per order across processes.
type PaymentRequestRepository struct {
	db *gorm.DB
}

func NewPaymentRequestRepository(db *gorm.DB) *PaymentRequestRepository {
	return &PaymentRequestRepository{db: db}
}

var _ payment.Store = (*PaymentRequestRepository)(nil)

const createAttempts = 4

func (r *PaymentRequestRepository) Create(ctx context.Context, req *models.PaymentRequest) (*models.PaymentRequest, bool, error) {
	row := *req
	orderID := req.OrderID
	row.ActiveOrderID = &orderID
	row.ExpiresAt = row.ExpiresAt.UTC()
	row.CreatedAt = row.CreatedAt.UTC()
	for i := 0; i < createAttempts; i++ {
		res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
		if res.Error != nil {
			return nil, false, res.Error
		}
		if res.RowsAffected == 1 {
			return &row, true, nil
		}
		var existing models.PaymentRequest
		err := r.db.WithContext(ctx).Where("active_order_id = ?", orderID).First(&existing).Error
		if err == nil {
			return &existing, false, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, false, err
		}
		// The blocking request went terminal between the insert and the read.
	}
	return nil, false, &domain.ConflictError{Message: "payment request for order " + orderID + " is contended"}
}

func (r *PaymentRequestRepository) Get(ctx context.Context, orderID string) (*models.PaymentRequest, error) {
	var p models.PaymentRequest
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("created_at DESC").First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.NotFoundError{Resource: "payment request", ID: orderID}
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PaymentRequestRepository) CompareAndTransition(ctx context.Context, orderID, requestID string, expected, next domain.PaymentStatus) (bool, error) {
	if !domain.CanTransition(expected, next) {
		return false, nil
	}
	return r.cas(ctx, orderID, requestID, expected, next, map[string]interface{}{})
}

func (r *PaymentRequestRepository) Settle(ctx context.Context, s payment.Settlement) (bool, error) {
	settledAt := s.SettledAt.UTC()
	return r.cas(ctx, s.OrderID, s.RequestID, domain.StatusPending, domain.StatusApproved, map[string]interface{}{
		"gateway_payment_id": s.GatewayPaymentID,
		"platform_fee_rate":  s.Split.PlatformFeeRate,
		"platform_fee":       s.Split.PlatformFee,
		"payout_amount":      s.Split.PayoutAmount,
		"settled_at":         settledAt,
	})
}

func (r *PaymentRequestRepository) cas(ctx context.Context, orderID, requestID string, expected, next domain.PaymentStatus, fields map[string]interface{}) (bool, error) {
	fields["status"] = string(next)
	fields["updated_at"] = time.Now().UTC()
	if next.Terminal() {
		fields["active_order_id"] = nil
	}
	res := r.db.WithContext(ctx).Model(&models.PaymentRequest{}).
		Where("id = ? AND order_id = ? AND status = ?", requestID, orderID, string(expected)).
		Updates(fields)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *PaymentRequestRepository) SetInstrument(ctx context.Context, requestID, instrumentID, qrPayload, qrImageURL string) error {
	res := r.db.WithContext(ctx).Model(&models.PaymentRequest{}).Where("id = ?", requestID).Updates(map[string]interface{}{
		"gateway_reference_id": instrumentID,
		"qr_payload":           qrPayload,
		"qr_image_url":         qrImageURL,
		"updated_at":           time.Now().UTC(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &domain.NotFoundError{Resource: "payment request", ID: requestID}
	}
	return nil
}

func (r *PaymentRequestRepository) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*models.PaymentRequest, error) {
	q := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", string(domain.StatusPending), now.UTC()).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var list []*models.PaymentRequest
	err := q.Find(&list).Error
	return list, err
}

// ListByStatus backs the admin listing.
func (r *PaymentRequestRepository) ListByStatus(ctx context.Context, status string, limit, offset int) ([]models.PaymentRequest, error) {
	q := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var list []models.PaymentRequest
	err := q.Find(&list).Error
	return list, err
}
