package payment

import (
	"context"
	"sync"
	"time"

	"pedix/internal/audit"
	"pedix/internal/domain"
	"pedix/internal/logger"
	"pedix/internal/models"
)

// Transition is published after a status change has been committed.
type Transition struct {
	Request *models.PaymentRequest
	From    domain.PaymentStatus
	To      domain.PaymentStatus
	At      time.Time
}

// Observer reacts to committed transitions. Observers cannot veto or roll back a
// transition; their failures are theirs to log.
type Observer interface {
	OnTransition(ctx context.Context, t Transition)
}

type ObserverFunc func(ctx context.Context, t Transition)

func (f ObserverFunc) OnTransition(ctx context.Context, t Transition) { f(ctx, t) }

// Machine owns every status change of a payment request. Service, Processor and Sweeper
// share one Machine so they share the audit trail and the observers.
type Machine struct {
	store Store
	audit audit.Log
	now   func() time.Time

	mu        sync.RWMutex
	observers []Observer
}

func NewMachine(store Store, log audit.Log) *Machine {
	return &Machine{store: store, audit: log, now: time.Now}
}

// SetClock replaces time.Now. Used by tests and the CLI.
func (m *Machine) SetClock(now func() time.Time) {
	m.now = now
}

func (m *Machine) Now() time.Time {
	return m.now().UTC()
}

func (m *Machine) Store() Store {
	return m.store
}

func (m *Machine) Observe(o Observer) {
	m.mu.Lock()
	m.observers = append(m.observers, o)
	m.mu.Unlock()
}

// Get returns the latest request for the order. A PENDING request past its expiry is
// expired on the way out.
func (m *Machine) Get(ctx context.Context, orderID string) (*models.PaymentRequest, error) {
	req, err := m.store.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if req.Status != string(domain.StatusPending) || m.Now().Before(req.ExpiresAt) {
		return req, nil
	}
	ok, err := m.expire(ctx, req, "read")
	if err != nil {
		return nil, err
	}
	if !ok {
		return m.store.Get(ctx, orderID)
	}
	return req, nil
}

// transition CASes req from its current status to next. On success req is updated in
// place, entry is audited and observers are told.
func (m *Machine) transition(ctx context.Context, req *models.PaymentRequest, next domain.PaymentStatus, entry audit.Entry) (bool, error) {
	from := domain.PaymentStatus(req.Status)
	ok, err := m.store.CompareAndTransition(ctx, req.OrderID, req.ID, from, next)
	if err != nil || !ok {
		return false, err
	}
	req.Status = string(next)
	req.ActiveOrderID = nil
	m.record(ctx, entry)
	m.publish(ctx, req, from, next)
	return true, nil
}

func (m *Machine) expire(ctx context.Context, req *models.PaymentRequest, source string) (bool, error) {
	ok, err := m.transition(ctx, req, domain.StatusExpired, audit.Entry{
		Event:   domain.AuditExpired,
		OrderID: req.OrderID,
		Metadata: map[string]interface{}{
			"request_id": req.ID,
			"expires_at": req.ExpiresAt,
			"source":     source,
		},
	})
	if ok {
		logger.S().Infow("payment_request_expired", "order_id", req.OrderID, "request_id", req.ID, "source", source)
	}
	return ok, err
}

// record appends to the audit log. A failed append is logged; the state change it
// describes has already been committed.
func (m *Machine) record(ctx context.Context, e audit.Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = m.Now()
	}
	if err := m.audit.Append(ctx, e); err != nil {
		logger.S().Errorw("audit_append_failed", "event", e.Event, "order_id", e.OrderID,
			"gateway_payment_id", e.GatewayPaymentID, "error", err)
	}
}

func (m *Machine) publish(ctx context.Context, req *models.PaymentRequest, from, to domain.PaymentStatus) {
	m.mu.RLock()
	obs := append([]Observer(nil), m.observers...)
	m.mu.RUnlock()

	t := Transition{Request: clone(req), From: from, To: to, At: m.Now()}
	for _, o := range obs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.S().Errorw("payment_observer_panic", "order_id", req.OrderID, "panic", r)
				}
			}()
			o.OnTransition(ctx, t)
		}()
	}
}
