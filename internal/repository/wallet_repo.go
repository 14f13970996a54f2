package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pedix/internal/domain"
	"pedix/internal/models"
	"pedix/internal/wallet"
)

// WalletRepository is the gorm-backed wallet.Store. Every Apply runs in one transaction
// guarded by the wallet version and the reservation status.
type WalletRepository struct {
	db *gorm.DB
}

func NewWalletRepository(db *gorm.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

var _ wallet.Store = (*WalletRepository)(nil)

func (r *WalletRepository) GetWallet(ctx context.Context, userID string) (*models.Wallet, error) {
	var w models.Wallet
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.NotFoundError{Resource: "wallet", ID: userID}
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *WalletRepository) GetReservation(ctx context.Context, orderID string) (*models.WalletReservation, error) {
	var res models.WalletReservation
	err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&res).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, &domain.NotFoundError{Resource: "wallet reservation", ID: orderID}
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

func (r *WalletRepository) Apply(ctx context.Context, m wallet.Mutation) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := applyWallet(tx, m); err != nil {
			return err
		}
		if m.Reservation != nil {
			if err := applyReservation(tx, m); err != nil {
				return err
			}
		}
		return tx.Create(&m.Tx).Error
	})
}

func applyWallet(tx *gorm.DB, m wallet.Mutation) error {
	w := m.Wallet
	if m.Create {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&w)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return wallet.ErrVersionConflict
		}
		return nil
	}
	res := tx.Model(&models.Wallet{}).
		Where("user_id = ? AND version = ?", w.UserID, m.ExpectedVersion).
		Updates(map[string]interface{}{
			"balance":        w.Balance,
			"reserved_total": w.ReservedTotal,
			"version":        w.Version,
			"updated_at":     w.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return wallet.ErrVersionConflict
	}
	return nil
}

func applyReservation(tx *gorm.DB, m wallet.Mutation) error {
	rv := *m.Reservation
	if m.ExpectedReservationStatus == "" {
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rv)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return wallet.ErrVersionConflict
		}
		return nil
	}
	res := tx.Model(&models.WalletReservation{}).
		Where("order_id = ? AND status = ?", rv.OrderID, m.ExpectedReservationStatus).
		Updates(map[string]interface{}{
			"status":     rv.Status,
			"updated_at": rv.UpdatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return wallet.ErrVersionConflict
	}
	return nil
}

func (r *WalletRepository) Transactions(ctx context.Context, userID string, limit int) ([]models.WalletTransaction, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var list []models.WalletTransaction
	err := q.Find(&list).Error
	return list, err
}
