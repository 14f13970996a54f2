// Package idempotency records gateway payment ids that were processed to completion.
package idempotency

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrNotFound = errors.New("gateway payment id not processed")

type Record struct {
	GatewayPaymentID string    `json:"gateway_payment_id"`
	OrderID          string    `json:"order_id"`
	Outcome          string    `json:"outcome"`
	ProcessedAt      time.Time `json:"processed_at"`
}

// Ledger is insert-once: Mark never overwrites an existing record.
type Ledger interface {
	Get(ctx context.Context, gatewayPaymentID string) (*Record, error)
	// Mark stores r unless the id is already present. Returns the stored record and
	// whether this call created it.
	Mark(ctx context.Context, r Record) (*Record, bool, error)
}

// Processed reports whether id is in the ledger.
func Processed(ctx context.Context, l Ledger, gatewayPaymentID string) (bool, error) {
	_, err := l.Get(ctx, gatewayPaymentID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

type MemoryLedger struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{records: make(map[string]Record)}
}

func (l *MemoryLedger) Get(_ context.Context, id string) (*Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &r, nil
}

func (l *MemoryLedger) Mark(_ context.Context, r Record) (*Record, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.records[r.GatewayPaymentID]; ok {
		return &existing, false, nil
	}
	if r.ProcessedAt.IsZero() {
		r.ProcessedAt = time.Now().UTC()
	}
	l.records[r.GatewayPaymentID] = r
	return &r, true, nil
}
