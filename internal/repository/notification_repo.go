package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"pedix/internal/domain"
	"pedix/internal/models"
)

// NotificationFilter narrows List. UserID is required; an empty OrderID spans all orders.
type NotificationFilter struct {
	UserID     string
	OrderID    string
	UnreadOnly bool
	Limit      int
	Offset     int
}

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(n).Error
}

func (r *NotificationRepository) scope(ctx context.Context, f NotificationFilter) *gorm.DB {
	q := r.db.WithContext(ctx).Model(&models.Notification{}).Where("user_id = ?", f.UserID)
	if f.OrderID != "" {
		q = q.Where("order_id = ?", f.OrderID)
	}
	if f.UnreadOnly {
		q = q.Where("read_at IS NULL")
	}
	return q
}

// List returns the newest notifications first.
func (r *NotificationRepository) List(ctx context.Context, f NotificationFilter) ([]models.Notification, error) {
	var list []models.Notification
	q := r.scope(ctx, f).Order("created_at DESC").Order("id")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	return list, q.Find(&list).Error
}

func (r *NotificationRepository) UnreadCount(ctx context.Context, userID, orderID string) (int64, error) {
	var n int64
	err := r.scope(ctx, NotificationFilter{UserID: userID, OrderID: orderID, UnreadOnly: true}).Count(&n).Error
	return n, err
}

// MarkRead marks one of the user's notifications read. Marking it again is a no-op.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID string) error {
	res := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ? AND read_at IS NULL", id, userID).
		Update("read_at", time.Now().UTC())
	if res.Error != nil || res.RowsAffected > 0 {
		return res.Error
	}
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return &domain.NotFoundError{Resource: "notification", ID: id}
	}
	return nil
}

// MarkOrderRead marks every unread notification of the user for one order and returns
// how many changed.
func (r *NotificationRepository) MarkOrderRead(ctx context.Context, userID, orderID string) (int64, error) {
	res := r.scope(ctx, NotificationFilter{UserID: userID, OrderID: orderID, UnreadOnly: true}).
		Update("read_at", time.Now().UTC())
	return res.RowsAffected, res.Error
}
