package gateway

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
)

// Stub is an in-memory gateway for development and tests. Instruments are recorded by
// order id and payments are seeded with SetPayment or Approve.
type Stub struct {
	mu          sync.Mutex
	seq         int64
	instruments map[string]InstrumentRequest
	payments    map[string]PaymentDetails

	CreateErr  error
	FetchErr   error
	fetchCalls int64
}

func NewStub() *Stub {
	return &Stub{
		instruments: make(map[string]InstrumentRequest),
		payments:    make(map[string]PaymentDetails),
	}
}

func (s *Stub) CreateInstrument(_ context.Context, req InstrumentRequest) (*Instrument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return nil, s.CreateErr
	}
	s.seq++
	s.instruments[req.Metadata.OrderID] = req
	return &Instrument{
		InstrumentID: fmt.Sprintf("stub_%d", s.seq),
		QRPayload:    fmt.Sprintf("stub-qr:%s:%s", req.Metadata.OrderID, req.Amount.StringFixed(2)),
	}, nil
}

func (s *Stub) FetchPayment(_ context.Context, id string) (*PaymentDetails, error) {
	atomic.AddInt64(&s.fetchCalls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FetchErr != nil {
		return nil, s.FetchErr
	}
	p, ok := s.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	return &p, nil
}

// Instrument returns the last create request seen for orderID.
func (s *Stub) Instrument(orderID string) (InstrumentRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.instruments[orderID]
	return r, ok
}

func (s *Stub) SetPayment(p PaymentDetails) {
	s.mu.Lock()
	s.payments[p.ID] = p
	s.mu.Unlock()
}

// Approve records an approved payment echoing the metadata of the order's instrument, the
// way a real customer payment would.
func (s *Stub) Approve(paymentID, orderID string) error {
	return s.settle(paymentID, orderID, "approved", nil)
}

// ApproveAmount is Approve with a different paid amount.
func (s *Stub) ApproveAmount(paymentID, orderID string, amount decimal.Decimal) error {
	return s.settle(paymentID, orderID, "approved", &amount)
}

func (s *Stub) settle(paymentID, orderID, status string, amount *decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.instruments[orderID]
	if !ok {
		return fmt.Errorf("stub: no instrument for order %s", orderID)
	}
	p := PaymentDetails{
		ID:       paymentID,
		Status:   status,
		Amount:   req.Amount,
		Currency: req.Currency,
		Metadata: req.Metadata,
	}
	if amount != nil {
		p.Amount = *amount
	}
	s.payments[paymentID] = p
	return nil
}

func (s *Stub) FetchCalls() int64 {
	return atomic.LoadInt64(&s.fetchCalls)
}
