package payment

import (
	"context"
	"errors"
	"time"

	"pedix/internal/audit"
	"pedix/internal/commission"
	"pedix/internal/domain"
	"pedix/internal/idempotency"
	"pedix/internal/lock"
	"pedix/internal/logger"
	"pedix/internal/models"
	"pedix/internal/settlement"
	"pedix/pkg/gateway"
)

// Processor consumes gateway notifications. The notification body is only a wake-up: every
// decision is made on the payment record fetched back from the gateway.
type Processor struct {
	m         *Machine
	gateway   gateway.Client
	ledger    idempotency.Ledger
	engine    *commission.Engine
	notifier  settlement.Notifier
	validator Validator
	inflight  *lock.Keyed
}

func NewProcessor(m *Machine, gw gateway.Client, ledger idempotency.Ledger, engine *commission.Engine,
	notifier settlement.Notifier, validator Validator) *Processor {
	return &Processor{
		m:         m,
		gateway:   gw,
		ledger:    ledger,
		engine:    engine,
		notifier:  notifier,
		validator: validator,
		inflight:  lock.NewKeyed(),
	}
}

// Process classifies one notification. A non-nil error means the notification should be
// retried later; every classified outcome is final for this delivery.
func (p *Processor) Process(ctx context.Context, n gateway.Notification) (domain.Outcome, error) {
	log := logger.SW("gateway_payment_id", n.GatewayPaymentID, "type", n.Type, "action", n.Action)
	log.Infow("webhook_received", "outcome", domain.OutcomeReceived)

	if n.Kind != gateway.KindPayment {
		log.Infow("webhook_ignored", "outcome", domain.OutcomeIgnored)
		return domain.OutcomeIgnored, nil
	}

	unlock := p.inflight.Lock(n.GatewayPaymentID)
	defer unlock()

	done, err := idempotency.Processed(ctx, p.ledger, n.GatewayPaymentID)
	if err != nil {
		return "", err
	}
	if done {
		p.m.record(ctx, audit.Entry{Event: string(domain.OutcomeDuplicateIgnored), GatewayPaymentID: n.GatewayPaymentID})
		log.Infow("webhook_duplicate", "outcome", domain.OutcomeDuplicateIgnored)
		return domain.OutcomeDuplicateIgnored, nil
	}

	details, err := p.gateway.FetchPayment(ctx, n.GatewayPaymentID)
	if err != nil {
		p.m.record(ctx, audit.Entry{
			Event:            domain.AuditGatewayError,
			GatewayPaymentID: n.GatewayPaymentID,
			Reason:           "fetch_payment",
			Metadata:         map[string]interface{}{"error": err.Error()},
		})
		return "", &domain.ExternalGatewayError{Op: "fetch_payment", Err: err}
	}

	orderID := details.Metadata.OrderID
	if orderID == "" {
		return p.reject(ctx, n, details, "", domain.ReasonMissingFields), nil
	}
	req, err := p.m.store.Get(ctx, orderID)
	var nf *domain.NotFoundError
	if errors.As(err, &nf) {
		return p.reject(ctx, n, details, orderID, domain.ReasonUnknownOrder), nil
	}
	if err != nil {
		return "", err
	}

	reason, ok := p.validator.Validate(req, details)
	if !ok {
		return p.invalid(ctx, n, details, req, reason)
	}

	switch details.Status {
	case domain.GatewayStatusApproved:
		return p.apply(ctx, n, details, req)
	case domain.GatewayStatusRejected, domain.GatewayStatusCancelled:
		return p.declined(ctx, n, details, req)
	default:
		p.m.record(ctx, audit.Entry{
			Event:            string(domain.OutcomeNotApproved),
			OrderID:          req.OrderID,
			GatewayPaymentID: n.GatewayPaymentID,
			Reason:           details.Status,
		})
		log.Infow("webhook_not_approved", "order_id", req.OrderID, "gateway_status", details.Status)
		return domain.OutcomeNotApproved, nil
	}
}

func (p *Processor) reject(ctx context.Context, n gateway.Notification, d *gateway.PaymentDetails, orderID string, reason domain.RejectReason) domain.Outcome {
	p.m.record(ctx, audit.Entry{
		Event:            string(domain.OutcomeRejected),
		OrderID:          orderID,
		GatewayPaymentID: n.GatewayPaymentID,
		Reason:           string(reason),
		Metadata:         map[string]interface{}{"gateway_status": d.Status, "amount": d.Amount.String()},
	})
	if reason.Authenticity() {
		authErr := &domain.AuthenticityError{Reason: reason, OrderID: orderID}
		p.m.record(ctx, audit.Entry{
			Event:            domain.AuditAuthenticityError,
			OrderID:          orderID,
			GatewayPaymentID: n.GatewayPaymentID,
			Reason:           string(reason),
			Metadata:         map[string]interface{}{"error": authErr.Error()},
		})
		logger.S().Warnw("payment_authenticity_failed", "order_id", orderID, "gateway_payment_id", n.GatewayPaymentID, "reason", reason)
	} else {
		logger.S().Infow("webhook_rejected", "order_id", orderID, "gateway_payment_id", n.GatewayPaymentID, "reason", reason)
	}
	return domain.OutcomeRejected
}

// invalid handles a failed validation. Approvals that lost to expiry or cancellation are
// final and flagged for manual reconciliation; everything else leaves the request untouched.
func (p *Processor) invalid(ctx context.Context, n gateway.Notification, d *gateway.PaymentDetails, req *models.PaymentRequest, reason domain.RejectReason) (domain.Outcome, error) {
	late := reason == domain.ReasonExpired || reason == domain.ReasonAlreadyTerminal
	if !late {
		return p.reject(ctx, n, d, req.OrderID, reason), nil
	}
	if d.Status != domain.GatewayStatusApproved {
		if reason == domain.ReasonExpired && req.Status == string(domain.StatusPending) {
			if _, err := p.m.expire(ctx, req, "webhook"); err != nil {
				return "", err
			}
		}
		return p.reject(ctx, n, d, req.OrderID, reason), nil
	}
	if req.Status == string(domain.StatusApproved) && req.GatewayPaymentID == n.GatewayPaymentID {
		return p.alreadyApplied(ctx, n, req)
	}
	if reason == domain.ReasonExpired && req.Status == string(domain.StatusPending) {
		if _, err := p.m.expire(ctx, req, "webhook"); err != nil {
			return "", err
		}
	}
	return p.late(ctx, n, d, req, string(reason))
}

func (p *Processor) apply(ctx context.Context, n gateway.Notification, d *gateway.PaymentDetails, req *models.PaymentRequest) (domain.Outcome, error) {
	split, err := p.engine.Split(domain.MethodGatewayQR, req.Amount)
	if err != nil {
		return "", err
	}
	now := p.m.Now()
	ok, err := p.m.settle(ctx, req, Settlement{
		OrderID:          req.OrderID,
		RequestID:        req.ID,
		GatewayPaymentID: n.GatewayPaymentID,
		Split:            split,
		SettledAt:        now,
	})
	if err != nil {
		return "", err
	}
	if !ok {
		cur, err := p.m.store.Get(ctx, req.OrderID)
		if err != nil {
			return "", err
		}
		if cur.Status == string(domain.StatusApproved) && cur.GatewayPaymentID == n.GatewayPaymentID {
			return p.alreadyApplied(ctx, n, cur)
		}
		return p.late(ctx, n, d, cur, "cas_lost")
	}

	event := settlement.Event{
		PaymentID:    n.GatewayPaymentID,
		OrderID:      req.OrderID,
		Status:       string(domain.StatusApproved),
		Amount:       req.Amount,
		Method:       domain.MethodGatewayQR,
		PlatformFee:  split.PlatformFee,
		PayoutAmount: split.PayoutAmount,
		Timestamp:    now,
	}
	if err := p.notifier.Notify(ctx, event); err != nil {
		logger.S().Errorw("settlement_notify_failed", "order_id", req.OrderID, "gateway_payment_id", n.GatewayPaymentID, "error", err)
	}
	p.mark(ctx, n, req.OrderID, domain.OutcomeApplied)
	p.m.record(ctx, audit.Entry{
		Event:            string(domain.OutcomeApplied),
		OrderID:          req.OrderID,
		GatewayPaymentID: n.GatewayPaymentID,
		Metadata: map[string]interface{}{
			"request_id":        req.ID,
			"gross_amount":      split.GrossAmount.StringFixed(2),
			"platform_fee_rate": split.PlatformFeeRate.String(),
			"platform_fee":      split.PlatformFee.StringFixed(2),
			"payout_amount":     split.PayoutAmount.StringFixed(2),
		},
	})
	logger.S().Infow("payment_applied", "order_id", req.OrderID, "gateway_payment_id", n.GatewayPaymentID,
		"amount", req.Amount.StringFixed(2), "platform_fee", split.PlatformFee.StringFixed(2))
	return domain.OutcomeApplied, nil
}

// declined ends the request when the gateway reports the instrument's payment as failed.
func (p *Processor) declined(ctx context.Context, n gateway.Notification, d *gateway.PaymentDetails, req *models.PaymentRequest) (domain.Outcome, error) {
	ok, err := p.m.transition(ctx, req, domain.StatusRejected, audit.Entry{
		Event:            string(domain.OutcomeNotApproved),
		OrderID:          req.OrderID,
		GatewayPaymentID: n.GatewayPaymentID,
		Reason:           d.Status,
		Metadata:         map[string]interface{}{"request_id": req.ID, "transition": string(domain.StatusRejected)},
	})
	if err != nil {
		return "", err
	}
	if ok {
		p.mark(ctx, n, req.OrderID, domain.OutcomeNotApproved)
	}
	logger.S().Infow("webhook_declined", "order_id", req.OrderID, "gateway_payment_id", n.GatewayPaymentID,
		"gateway_status", d.Status, "transitioned", ok)
	return domain.OutcomeNotApproved, nil
}

// late records an approval that arrived after the request reached another terminal state.
// No funds are settled; the entry flags the payment for manual reconciliation.
func (p *Processor) late(ctx context.Context, n gateway.Notification, d *gateway.PaymentDetails, req *models.PaymentRequest, reason string) (domain.Outcome, error) {
	p.m.record(ctx, audit.Entry{
		Event:            string(domain.OutcomeLateApprovalRejected),
		OrderID:          req.OrderID,
		GatewayPaymentID: n.GatewayPaymentID,
		Reason:           reason,
		Metadata:         map[string]interface{}{"request_id": req.ID, "request_status": req.Status},
	})
	p.m.record(ctx, audit.Entry{
		Event:            domain.AuditReconciliationRequired,
		OrderID:          req.OrderID,
		GatewayPaymentID: n.GatewayPaymentID,
		Reason:           req.Status,
		Metadata:         map[string]interface{}{"amount": d.Amount.StringFixed(2), "request_id": req.ID},
	})
	p.mark(ctx, n, req.OrderID, domain.OutcomeLateApprovalRejected)
	logger.S().Warnw("late_approval_rejected", "order_id", req.OrderID, "gateway_payment_id", n.GatewayPaymentID,
		"request_status", req.Status, "reason", reason)
	return domain.OutcomeLateApprovalRejected, nil
}

// alreadyApplied covers a settlement committed by an earlier delivery whose ledger mark
// was lost or is still on its way.
func (p *Processor) alreadyApplied(ctx context.Context, n gateway.Notification, req *models.PaymentRequest) (domain.Outcome, error) {
	p.mark(ctx, n, req.OrderID, domain.OutcomeApplied)
	p.m.record(ctx, audit.Entry{
		Event:            string(domain.OutcomeDuplicateIgnored),
		OrderID:          req.OrderID,
		GatewayPaymentID: n.GatewayPaymentID,
	})
	return domain.OutcomeDuplicateIgnored, nil
}

func (p *Processor) mark(ctx context.Context, n gateway.Notification, orderID string, outcome domain.Outcome) {
	_, _, err := p.ledger.Mark(ctx, idempotency.Record{
		GatewayPaymentID: n.GatewayPaymentID,
		OrderID:          orderID,
		Outcome:          string(outcome),
		ProcessedAt:      time.Now().UTC(),
	})
	if err != nil {
		logger.S().Errorw("idempotency_mark_failed", "gateway_payment_id", n.GatewayPaymentID, "error", err)
	}
}

// settle commits PENDING -> APPROVED with the split in one store write.
func (m *Machine) settle(ctx context.Context, req *models.PaymentRequest, s Settlement) (bool, error) {
	ok, err := m.store.Settle(ctx, s)
	if err != nil || !ok {
		return false, err
	}
	settledAt := s.SettledAt
	req.Status = string(domain.StatusApproved)
	req.ActiveOrderID = nil
	req.GatewayPaymentID = s.GatewayPaymentID
	req.PlatformFeeRate = s.Split.PlatformFeeRate
	req.PlatformFee = s.Split.PlatformFee
	req.PayoutAmount = s.Split.PayoutAmount
	req.SettledAt = &settledAt
	m.publish(ctx, req, domain.StatusPending, domain.StatusApproved)
	return true, nil
}
