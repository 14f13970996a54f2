package wallet

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"pedix/internal/audit"
	"pedix/internal/commission"
	"pedix/internal/domain"
	"pedix/internal/logger"
	"pedix/internal/models"
	"pedix/internal/settlement"
)

type PayInput struct {
	OrderID string          `json:"order_id"`
	PayerID string          `json:"payer_id"`
	PayeeID string          `json:"payee_id"`
	Amount  decimal.Decimal `json:"amount"`
}

type Receipt struct {
	Reservation  models.WalletReservation `json:"reservation"`
	Split        commission.Split         `json:"split"`
	PayerBalance decimal.Decimal          `json:"payer_balance"`
}

// PaymentService is the prepaid-balance payment method: reserve, confirm, split the gross
// and credit the payee with the payout.
type PaymentService struct {
	ledger   *Ledger
	engine   *commission.Engine
	notifier settlement.Notifier
	audit    audit.Log
}

func NewPaymentService(ledger *Ledger, engine *commission.Engine, notifier settlement.Notifier, log audit.Log) *PaymentService {
	return &PaymentService{ledger: ledger, engine: engine, notifier: notifier, audit: log}
}

func (s *PaymentService) Ledger() *Ledger { return s.ledger }

func (s *PaymentService) record(ctx context.Context, e audit.Entry) {
	if err := s.audit.Append(ctx, e); err != nil {
		logger.S().Errorw("audit_append_failed", "event", e.Event, "order_id", e.OrderID, "error", err)
	}
}

func insufficientMeta(err error) (string, map[string]interface{}) {
	var ife *domain.InsufficientFundsError
	if !errors.As(err, &ife) {
		return "", nil
	}
	return "InsufficientFunds", map[string]interface{}{
		"user_id":  ife.UserID,
		"balance":  ife.Balance.StringFixed(2),
		"required": ife.Required.StringFixed(2),
	}
}

func (s *PaymentService) Reserve(ctx context.Context, userID string, amount decimal.Decimal, orderID string) (*models.WalletReservation, error) {
	res, err := s.ledger.Reserve(ctx, userID, amount, orderID)
	if err != nil {
		if reason, meta := insufficientMeta(err); meta != nil {
			s.record(ctx, audit.Entry{Event: domain.AuditWalletInsufficient, OrderID: orderID, Reason: reason, Metadata: meta})
		}
		return nil, err
	}
	s.record(ctx, audit.Entry{
		Event:    domain.AuditWalletReserved,
		OrderID:  orderID,
		Metadata: map[string]interface{}{"user_id": userID, "amount": amount.StringFixed(2)},
	})
	return res, nil
}

// Confirm debits the reservation and settles it. payeeID may be empty when the payout is
// handled elsewhere.
func (s *PaymentService) Confirm(ctx context.Context, orderID, payeeID string) (*Receipt, error) {
	reserved, err := s.ledger.Reservation(ctx, orderID)
	if err != nil {
		return nil, err
	}
	// Split before the debit: a payer must never be charged for a payment that cannot settle.
	split, err := s.engine.Split(domain.MethodWallet, reserved.Amount)
	if err != nil {
		return nil, err
	}

	res, err := s.ledger.Confirm(ctx, orderID)
	if err != nil {
		if reason, meta := insufficientMeta(err); meta != nil {
			s.record(ctx, audit.Entry{Event: domain.AuditWalletInsufficient, OrderID: orderID, Reason: reason, Metadata: meta})
		}
		return nil, err
	}
	s.record(ctx, audit.Entry{
		Event:    domain.AuditWalletConfirmed,
		OrderID:  orderID,
		Metadata: map[string]interface{}{"user_id": res.UserID, "amount": res.Amount.StringFixed(2)},
	})

	if payeeID != "" && split.PayoutAmount.IsPositive() {
		if _, err := s.ledger.Credit(ctx, payeeID, split.PayoutAmount, "payout:"+orderID); err != nil {
			// The payer is already debited; the payout is recorded for reconciliation.
			logger.S().Errorw("wallet_payout_failed", "order_id", orderID, "payee_id", payeeID, "error", err)
			s.record(ctx, audit.Entry{
				Event:    domain.AuditReconciliationRequired,
				OrderID:  orderID,
				Reason:   "payout_failed",
				Metadata: map[string]interface{}{"payee_id": payeeID, "amount": split.PayoutAmount.StringFixed(2), "error": err.Error()},
			})
		} else {
			s.record(ctx, audit.Entry{
				Event:    domain.AuditWalletCredited,
				OrderID:  orderID,
				Metadata: map[string]interface{}{"user_id": payeeID, "amount": split.PayoutAmount.StringFixed(2), "reason": "payout"},
			})
		}
	}

	now := time.Now().UTC()
	if err := s.notifier.Notify(ctx, settlement.Event{
		PaymentID:    "wallet:" + orderID,
		OrderID:      orderID,
		Status:       string(domain.StatusApproved),
		Amount:       res.Amount,
		Method:       domain.MethodWallet,
		PlatformFee:  split.PlatformFee,
		PayoutAmount: split.PayoutAmount,
		Timestamp:    now,
	}); err != nil {
		logger.S().Errorw("settlement_notify_failed", "order_id", orderID, "method", domain.MethodWallet, "error", err)
	}
	s.record(ctx, audit.Entry{
		Event:   domain.AuditWalletSettled,
		OrderID: orderID,
		Metadata: map[string]interface{}{
			"gross_amount":  split.GrossAmount.StringFixed(2),
			"platform_fee":  split.PlatformFee.StringFixed(2),
			"payout_amount": split.PayoutAmount.StringFixed(2),
			"payee_id":      payeeID,
		},
	})

	balance, err := s.ledger.Balance(ctx, res.UserID)
	if err != nil {
		return nil, err
	}
	return &Receipt{Reservation: *res, Split: split, PayerBalance: balance}, nil
}

func (s *PaymentService) Release(ctx context.Context, orderID string) (*models.WalletReservation, error) {
	res, err := s.ledger.Release(ctx, orderID)
	if err != nil {
		return nil, err
	}
	s.record(ctx, audit.Entry{
		Event:    domain.AuditWalletReleased,
		OrderID:  orderID,
		Metadata: map[string]interface{}{"user_id": res.UserID, "amount": res.Amount.StringFixed(2)},
	})
	return res, nil
}

// Pay runs reserve and confirm back to back. A confirm that fails before the debit releases
// the reservation so the order can be paid again.
func (s *PaymentService) Pay(ctx context.Context, in PayInput) (*Receipt, error) {
	if in.PayerID != "" && in.PayerID == in.PayeeID {
		return nil, &domain.ValidationError{Field: "payee_id", Message: "must differ from payer_id"}
	}
	if _, err := s.Reserve(ctx, in.PayerID, in.Amount, in.OrderID); err != nil {
		return nil, err
	}
	receipt, err := s.Confirm(ctx, in.OrderID, in.PayeeID)
	if err != nil {
		var ife *domain.InsufficientFundsError
		if errors.As(err, &ife) || errors.Is(err, commission.ErrNoTable) {
			if _, rerr := s.Release(ctx, in.OrderID); rerr != nil {
				logger.S().Errorw("wallet_release_failed", "order_id", in.OrderID, "error", rerr)
			}
		}
		return nil, err
	}
	return receipt, nil
}

// TopUp credits a wallet from outside the payment flow (manual or test top-ups).
func (s *PaymentService) TopUp(ctx context.Context, userID string, amount decimal.Decimal, reason string) (*models.Wallet, error) {
	w, err := s.ledger.Credit(ctx, userID, amount, reason)
	if err != nil {
		return nil, err
	}
	s.record(ctx, audit.Entry{
		Event:    domain.AuditWalletCredited,
		Metadata: map[string]interface{}{"user_id": userID, "amount": amount.StringFixed(2), "reason": reason},
	})
	return w, nil
}
