package wallet

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"pedix/internal/domain"
	"pedix/internal/lock"
	"pedix/internal/logger"
	"pedix/internal/models"
)

const maxAttempts = 16

// Ledger serialises mutations per user in process; the store's version check keeps several
// processes honest. Balance never goes negative: confirm is the only debit and it re-checks
// the balance inside the guarded write.
type Ledger struct {
	store    Store
	users    *lock.Keyed
	currency string
	now      func() time.Time
}

func NewLedger(store Store, currency string) *Ledger {
	return &Ledger{store: store, users: lock.NewKeyed(), currency: currency, now: time.Now}
}

func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// Wallet returns the user's wallet, or an empty one when none exists yet.
func (l *Ledger) Wallet(ctx context.Context, userID string) (*models.Wallet, error) {
	w, _, err := l.load(ctx, userID)
	return w, err
}

func (l *Ledger) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	w, _, err := l.load(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}

func (l *Ledger) Reservation(ctx context.Context, orderID string) (*models.WalletReservation, error) {
	return l.store.GetReservation(ctx, orderID)
}

func (l *Ledger) Transactions(ctx context.Context, userID string, limit int) ([]models.WalletTransaction, error) {
	return l.store.Transactions(ctx, userID, limit)
}

func (l *Ledger) load(ctx context.Context, userID string) (*models.Wallet, bool, error) {
	w, err := l.store.GetWallet(ctx, userID)
	var nf *domain.NotFoundError
	if errors.As(err, &nf) {
		return &models.Wallet{UserID: userID, Balance: decimal.Zero, ReservedTotal: decimal.Zero, Currency: l.currency}, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return w, false, nil
}

func validAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return &domain.ValidationError{Field: "amount", Message: "must be positive"}
	}
	if !amount.Equal(amount.Round(2)) {
		return &domain.ValidationError{Field: "amount", Message: "must have at most two decimal places"}
	}
	return nil
}

// retry runs fn again while the store reports a version conflict.
func retry(fn func() error) error {
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err = fn(); !errors.Is(err, ErrVersionConflict) {
			return err
		}
		runtime.Gosched()
	}
	return fmt.Errorf("wallet: gave up after %d attempts: %w", maxAttempts, err)
}

func (l *Ledger) tx(userID, typ string, amount decimal.Decimal, orderID, reason string) models.WalletTransaction {
	return models.WalletTransaction{
		ID:               uuid.NewString(),
		UserID:           userID,
		Type:             typ,
		Amount:           amount,
		ReferenceOrderID: orderID,
		Reason:           reason,
		CreatedAt:        l.now().UTC(),
	}
}

// Credit always succeeds for a valid amount.
func (l *Ledger) Credit(ctx context.Context, userID string, amount decimal.Decimal, reason string) (*models.Wallet, error) {
	if userID == "" {
		return nil, &domain.ValidationError{Field: "user_id", Message: "is required"}
	}
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	unlock := l.users.Lock(userID)
	defer unlock()

	var out *models.Wallet
	err := retry(func() error {
		w, isNew, err := l.load(ctx, userID)
		if err != nil {
			return err
		}
		next := *w
		next.Balance = w.Balance.Add(amount)
		next.Version = w.Version + 1
		next.UpdatedAt = l.now().UTC()
		if err := l.store.Apply(ctx, Mutation{
			Wallet:          next,
			Create:          isNew,
			ExpectedVersion: w.Version,
			Tx:              l.tx(userID, domain.WalletTxCredit, amount, "", reason),
		}); err != nil {
			return err
		}
		out = &next
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.S().Infow("wallet_credited", "user_id", userID, "amount", amount.StringFixed(2), "reason", reason,
		"balance", out.Balance.StringFixed(2))
	return out, nil
}

// Reserve checks the balance and records a reservation. Funds are not held: two
// reservations may both pass against the same balance, and Confirm decides.
func (l *Ledger) Reserve(ctx context.Context, userID string, amount decimal.Decimal, orderID string) (*models.WalletReservation, error) {
	if userID == "" || orderID == "" {
		return nil, &domain.ValidationError{Message: "user_id and order_id are required"}
	}
	if err := validAmount(amount); err != nil {
		return nil, err
	}
	unlock := l.users.Lock(userID)
	defer unlock()

	var out *models.WalletReservation
	err := retry(func() error {
		existing, err := l.store.GetReservation(ctx, orderID)
		if err == nil {
			if existing.UserID == userID && existing.Amount.Equal(amount) && existing.Status == domain.ReservationReserved {
				out = existing
				return nil
			}
			return &domain.ConflictError{Message: fmt.Sprintf("order %s already has a %s wallet reservation", orderID, existing.Status)}
		}
		var nf *domain.NotFoundError
		if !errors.As(err, &nf) {
			return err
		}

		w, isNew, err := l.load(ctx, userID)
		if err != nil {
			return err
		}
		if w.Balance.LessThan(amount) {
			return &domain.InsufficientFundsError{UserID: userID, Balance: w.Balance, Required: amount}
		}
		now := l.now().UTC()
		res := &models.WalletReservation{
			OrderID: orderID, UserID: userID, Amount: amount,
			Status: domain.ReservationReserved, CreatedAt: now, UpdatedAt: now,
		}
		next := *w
		next.ReservedTotal = w.ReservedTotal.Add(amount)
		next.Version = w.Version + 1
		next.UpdatedAt = now
		if err := l.store.Apply(ctx, Mutation{
			Wallet:          next,
			Create:          isNew,
			ExpectedVersion: w.Version,
			Tx:              l.tx(userID, domain.WalletTxReserve, amount, orderID, ""),
			Reservation:     res,
		}); err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.S().Infow("wallet_reserved", "user_id", userID, "order_id", orderID, "amount", amount.StringFixed(2))
	return out, nil
}

// Confirm re-checks the balance and debits the reserved amount. It is the only operation
// that decreases a balance. On InsufficientFunds the reservation stays open so the user
// can top up and confirm again.
func (l *Ledger) Confirm(ctx context.Context, orderID string) (*models.WalletReservation, error) {
	res, err := l.store.GetReservation(ctx, orderID)
	if err != nil {
		return nil, err
	}
	unlock := l.users.Lock(res.UserID)
	defer unlock()

	var out *models.WalletReservation
	var balance decimal.Decimal
	err = retry(func() error {
		res, err := l.store.GetReservation(ctx, orderID)
		if err != nil {
			return err
		}
		if res.Status != domain.ReservationReserved {
			return &domain.ConflictError{Message: fmt.Sprintf("wallet reservation for order %s is %s", orderID, res.Status)}
		}
		w, _, err := l.load(ctx, res.UserID)
		if err != nil {
			return err
		}
		if w.Balance.LessThan(res.Amount) {
			return &domain.InsufficientFundsError{UserID: res.UserID, Balance: w.Balance, Required: res.Amount}
		}
		now := l.now().UTC()
		next := *w
		next.Balance = w.Balance.Sub(res.Amount)
		next.ReservedTotal = decimal.Max(decimal.Zero, w.ReservedTotal.Sub(res.Amount))
		next.Version = w.Version + 1
		next.UpdatedAt = now
		confirmed := *res
		confirmed.Status = domain.ReservationConfirmed
		confirmed.UpdatedAt = now
		if err := l.store.Apply(ctx, Mutation{
			Wallet:                    next,
			ExpectedVersion:           w.Version,
			Tx:                        l.tx(res.UserID, domain.WalletTxDebit, res.Amount, orderID, "confirm"),
			Reservation:               &confirmed,
			ExpectedReservationStatus: domain.ReservationReserved,
		}); err != nil {
			return err
		}
		out = &confirmed
		balance = next.Balance
		return nil
	})
	if err != nil {
		var ife *domain.InsufficientFundsError
		if errors.As(err, &ife) {
			logger.S().Warnw("wallet_confirm_insufficient", "user_id", ife.UserID, "order_id", orderID,
				"balance", ife.Balance.StringFixed(2), "required", ife.Required.StringFixed(2))
		}
		return nil, err
	}
	logger.S().Infow("wallet_confirmed", "user_id", out.UserID, "order_id", orderID,
		"amount", out.Amount.StringFixed(2), "balance", balance.StringFixed(2))
	return out, nil
}

// Release closes an open reservation. The balance is untouched since reserve never debited.
func (l *Ledger) Release(ctx context.Context, orderID string) (*models.WalletReservation, error) {
	res, err := l.store.GetReservation(ctx, orderID)
	if err != nil {
		return nil, err
	}
	unlock := l.users.Lock(res.UserID)
	defer unlock()

	var out *models.WalletReservation
	err = retry(func() error {
		res, err := l.store.GetReservation(ctx, orderID)
		if err != nil {
			return err
		}
		switch res.Status {
		case domain.ReservationReleased:
			out = res
			return nil
		case domain.ReservationConfirmed:
			return &domain.ConflictError{Message: fmt.Sprintf("wallet reservation for order %s is already confirmed", orderID)}
		}
		w, _, err := l.load(ctx, res.UserID)
		if err != nil {
			return err
		}
		now := l.now().UTC()
		next := *w
		next.ReservedTotal = decimal.Max(decimal.Zero, w.ReservedTotal.Sub(res.Amount))
		next.Version = w.Version + 1
		next.UpdatedAt = now
		released := *res
		released.Status = domain.ReservationReleased
		released.UpdatedAt = now
		if err := l.store.Apply(ctx, Mutation{
			Wallet:                    next,
			ExpectedVersion:           w.Version,
			Tx:                        l.tx(res.UserID, domain.WalletTxRelease, res.Amount, orderID, ""),
			Reservation:               &released,
			ExpectedReservationStatus: domain.ReservationReserved,
		}); err != nil {
			return err
		}
		out = &released
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.S().Infow("wallet_released", "user_id", out.UserID, "order_id", orderID)
	return out, nil
}
