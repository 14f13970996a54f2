// Package audit is the append-only record of every payment state transition and rejection.
package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Entry struct {
	ID               string                 `json:"id"`
	Event            string                 `json:"event"`
	OrderID          string                 `json:"order_id,omitempty"`
	GatewayPaymentID string                 `json:"gateway_payment_id,omitempty"`
	Reason           string                 `json:"reason,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
}

// Filter narrows List. Zero fields match everything; Limit 0 means no limit.
type Filter struct {
	Event            string
	OrderID          string
	GatewayPaymentID string
	Limit            int
}

func (f Filter) Match(e Entry) bool {
	if f.Event != "" && e.Event != f.Event {
		return false
	}
	if f.OrderID != "" && e.OrderID != f.OrderID {
		return false
	}
	if f.GatewayPaymentID != "" && e.GatewayPaymentID != f.GatewayPaymentID {
		return false
	}
	return true
}

// Log has no update or delete.
type Log interface {
	Append(ctx context.Context, e Entry) error
	List(ctx context.Context, f Filter) ([]Entry, error)
}

// Prepare fills ID and CreatedAt when the caller left them empty.
func Prepare(e *Entry, now time.Time) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now.UTC()
	}
}

type MemoryLog struct {
	mu      sync.RWMutex
	entries []Entry
	now     func() time.Time
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{now: time.Now}
}

func (l *MemoryLog) Append(_ context.Context, e Entry) error {
	Prepare(&e, l.now())
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
	return nil
}

// List returns matches in append order.
func (l *MemoryLog) List(_ context.Context, f Filter) ([]Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Entry
	for _, e := range l.entries {
		if !f.Match(e) {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// Count is a test and CLI convenience.
func Count(ctx context.Context, l Log, f Filter) (int, error) {
	entries, err := l.List(ctx, f)
	return len(entries), err
}
