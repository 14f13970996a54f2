// Package payment drives QR payment requests from creation through gateway confirmation,
// cancellation or expiry.
package payment

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pedix/internal/commission"
	"pedix/internal/domain"
	"pedix/internal/models"
)

// Settlement is written together with the PENDING -> APPROVED transition.
type Settlement struct {
	OrderID          string
	RequestID        string
	GatewayPaymentID string
	Split            commission.Split
	SettledAt        time.Time
}

// Store persists payment requests. All writes are guarded by the current status, so
// concurrent writers never need a lock held across calls.
type Store interface {
	// Create inserts req unless a PENDING request already exists for its order, in which
	// case that request is returned with created=false.
	Create(ctx context.Context, req *models.PaymentRequest) (*models.PaymentRequest, bool, error)
	// Get returns the most recent request for the order or *domain.NotFoundError.
	Get(ctx context.Context, orderID string) (*models.PaymentRequest, error)
	// CompareAndTransition moves the request from expected to next. It returns false, nil
	// when the status no longer matches.
	CompareAndTransition(ctx context.Context, orderID, requestID string, expected, next domain.PaymentStatus) (bool, error)
	// Settle is CompareAndTransition(PENDING, APPROVED) that also stores the split.
	Settle(ctx context.Context, s Settlement) (bool, error)
	SetInstrument(ctx context.Context, requestID, instrumentID, qrPayload, qrImageURL string) error
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]*models.PaymentRequest, error)
}

// MemoryStore keeps requests in process. Returned values are copies.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[string]*models.PaymentRequest
	byOrder map[string][]string // request ids in creation order
	active  map[string]string   // orderID -> PENDING request id
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]*models.PaymentRequest),
		byOrder: make(map[string][]string),
		active:  make(map[string]string),
	}
}

func clone(r *models.PaymentRequest) *models.PaymentRequest {
	c := *r
	if r.ActiveOrderID != nil {
		v := *r.ActiveOrderID
		c.ActiveOrderID = &v
	}
	if r.SettledAt != nil {
		v := *r.SettledAt
		c.SettledAt = &v
	}
	return &c
}

func (s *MemoryStore) Create(_ context.Context, req *models.PaymentRequest) (*models.PaymentRequest, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.active[req.OrderID]; ok {
		return clone(s.byID[id]), false, nil
	}
	stored := clone(req)
	orderID := req.OrderID
	stored.ActiveOrderID = &orderID
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = stored.CreatedAt
	s.byID[stored.ID] = stored
	s.byOrder[orderID] = append(s.byOrder[orderID], stored.ID)
	s.active[orderID] = stored.ID
	return clone(stored), true, nil
}

func (s *MemoryStore) Get(_ context.Context, orderID string) (*models.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byOrder[orderID]
	if len(ids) == 0 {
		return nil, &domain.NotFoundError{Resource: "payment request", ID: orderID}
	}
	return clone(s.byID[ids[len(ids)-1]]), nil
}

func (s *MemoryStore) CompareAndTransition(_ context.Context, orderID, requestID string, expected, next domain.PaymentStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.casTarget(orderID, requestID, expected, next)
	if !ok {
		return false, nil
	}
	s.apply(r, next, time.Now().UTC())
	return true, nil
}

func (s *MemoryStore) Settle(_ context.Context, st Settlement) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.casTarget(st.OrderID, st.RequestID, domain.StatusPending, domain.StatusApproved)
	if !ok {
		return false, nil
	}
	settledAt := st.SettledAt.UTC()
	r.GatewayPaymentID = st.GatewayPaymentID
	r.PlatformFeeRate = st.Split.PlatformFeeRate
	r.PlatformFee = st.Split.PlatformFee
	r.PayoutAmount = st.Split.PayoutAmount
	r.SettledAt = &settledAt
	s.apply(r, domain.StatusApproved, settledAt)
	return true, nil
}

func (s *MemoryStore) casTarget(orderID, requestID string, expected, next domain.PaymentStatus) (*models.PaymentRequest, bool) {
	if !domain.CanTransition(expected, next) {
		return nil, false
	}
	r, ok := s.byID[requestID]
	if !ok || r.OrderID != orderID || r.Status != string(expected) {
		return nil, false
	}
	return r, true
}

func (s *MemoryStore) apply(r *models.PaymentRequest, next domain.PaymentStatus, at time.Time) {
	r.Status = string(next)
	r.UpdatedAt = at
	if next.Terminal() {
		r.ActiveOrderID = nil
		if s.active[r.OrderID] == r.ID {
			delete(s.active, r.OrderID)
		}
	}
}

func (s *MemoryStore) SetInstrument(_ context.Context, requestID, instrumentID, qrPayload, qrImageURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[requestID]
	if !ok {
		return &domain.NotFoundError{Resource: "payment request", ID: requestID}
	}
	r.GatewayReferenceID = instrumentID
	r.QRPayload = qrPayload
	r.QRImageURL = qrImageURL
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]*models.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.PaymentRequest
	for _, id := range s.active {
		r := s.byID[id]
		if !now.Before(r.ExpiresAt) {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// amountsMatch reports whether two amounts are equal to the cent.
func amountsMatch(a, b decimal.Decimal) bool {
	return a.Round(2).Equal(b.Round(2))
}
