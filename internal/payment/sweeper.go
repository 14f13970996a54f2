package payment

import (
	"context"
	"sync"
	"time"

	"pedix/internal/domain"
	"pedix/internal/logger"
	"pedix/internal/models"
)

// Sweeper periodically expires PENDING requests past their deadline. Losing a race with the
// processor is a no-op.
type Sweeper struct {
	m        *Machine
	interval time.Duration
	batch    int
}

func NewSweeper(m *Machine, interval time.Duration, batch int) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batch <= 0 {
		batch = 200
	}
	return &Sweeper{m: m, interval: interval, batch: batch}
}

// SweepOnce expires every overdue request and returns how many transitions it won.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	expired := 0
	for round := 0; round < 50; round++ {
		reqs, err := s.m.store.ListExpiredPending(ctx, s.m.Now(), s.batch)
		if err != nil {
			return expired, err
		}
		won := 0
		for _, r := range reqs {
			ok, err := s.m.expire(ctx, r, "sweeper")
			if err != nil {
				return expired, err
			}
			if ok {
				won++
			}
		}
		expired += won
		// A short page, or a page where every row was taken by someone else, ends the sweep.
		if len(reqs) < s.batch || won == 0 {
			break
		}
	}
	return expired, nil
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	logger.S().Infow("expiry_sweeper_started", "interval", s.interval.String(), "batch", s.batch)
	for {
		select {
		case <-ctx.Done():
			logger.S().Infow("expiry_sweeper_stopped")
			return
		case <-ticker.C:
			n, err := s.SweepOnce(ctx)
			if err != nil {
				logger.S().Errorw("expiry_sweep_failed", "error", err)
				continue
			}
			if n > 0 {
				logger.S().Infow("expiry_sweep_done", "expired", n)
			}
		}
	}
}

// ExpiryScheduler arms one timer per request at its deadline. Timers are dropped as soon as
// the request reaches any terminal state, so resolved requests leave no background work.
type ExpiryScheduler struct {
	m      *Machine
	mu     sync.Mutex
	timers map[string]*time.Timer
}

func NewExpiryScheduler(m *Machine) *ExpiryScheduler {
	s := &ExpiryScheduler{m: m, timers: make(map[string]*time.Timer)}
	m.Observe(s)
	return s
}

func (s *ExpiryScheduler) Schedule(req *models.PaymentRequest) {
	d := req.ExpiresAt.Sub(s.m.Now())
	if d < 0 {
		d = 0
	}
	orderID, id := req.OrderID, req.ID
	t := time.AfterFunc(d, func() { s.fire(orderID, id) })

	s.mu.Lock()
	if old, ok := s.timers[id]; ok {
		old.Stop()
	}
	s.timers[id] = t
	s.mu.Unlock()
}

func (s *ExpiryScheduler) fire(orderID, requestID string) {
	s.cancel(requestID)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := s.m.store.Get(ctx, orderID)
	if err != nil {
		logger.S().Warnw("expiry_timer_lookup_failed", "order_id", orderID, "error", err)
		return
	}
	if req.ID != requestID || req.Status != string(domain.StatusPending) {
		return
	}
	if _, err := s.m.expire(ctx, req, "timer"); err != nil {
		logger.S().Errorw("expiry_timer_failed", "order_id", orderID, "error", err)
	}
}

func (s *ExpiryScheduler) OnTransition(_ context.Context, t Transition) {
	if t.To.Terminal() {
		s.cancel(t.Request.ID)
	}
}

func (s *ExpiryScheduler) cancel(requestID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[requestID]; ok {
		t.Stop()
		delete(s.timers, requestID)
	}
}

// Pending is the number of armed timers.
func (s *ExpiryScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop disarms every timer. The sweeper picks up whatever is left after a restart.
func (s *ExpiryScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
}
