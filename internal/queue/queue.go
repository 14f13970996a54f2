// Package queue decouples webhook acknowledgement from processing. The webhook handler
// hands a parsed notification to a Dispatcher and answers immediately.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"pedix/internal/domain"
	"pedix/internal/logger"
	"pedix/pkg/gateway"
)

var (
	ErrQueueFull   = errors.New("queue: full")
	ErrPoolStopped = errors.New("queue: worker pool stopped")
)

// Processor is satisfied by *payment.Processor.
type Processor interface {
	Process(ctx context.Context, n gateway.Notification) (domain.Outcome, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, n gateway.Notification) error
}

// WorkerPool processes notifications in process with a fixed number of workers.
// Failed deliveries are retried with a linear backoff up to MaxAttempts.
//
// A notification has already been acknowledged when it reaches Dispatch, so a full
// buffer is not a reason to lose it: Dispatch waits up to EnqueueWait for room and then
// hands the notification to a bounded set of overflow goroutines. Only when those are
// exhausted too does it return ErrQueueFull.
type WorkerPool struct {
	proc        Processor
	jobs        chan gateway.Notification
	overflow    chan struct{}
	MaxAttempts int
	Backoff     time.Duration
	EnqueueWait time.Duration
	// Dropped, when set, is called for a notification that exhausted its attempts.
	Dropped func(n gateway.Notification, err error)

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewWorkerPool(proc Processor, workers, buffer int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	if buffer < workers {
		buffer = workers
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &WorkerPool{
		proc:        proc,
		jobs:        make(chan gateway.Notification, buffer),
		overflow:    make(chan struct{}, buffer),
		MaxAttempts: 3,
		Backoff:     time.Second,
		EnqueueWait: 100 * time.Millisecond,
		ctx:         ctx,
		cancel:      cancel,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.work()
	}
	return p
}

func (p *WorkerPool) Dispatch(_ context.Context, n gateway.Notification) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrPoolStopped
	}
	select {
	case p.jobs <- n:
		return nil
	default:
	}

	wait := time.NewTimer(p.EnqueueWait)
	defer wait.Stop()
	select {
	case p.jobs <- n:
		return nil
	case <-wait.C:
	}

	select {
	case p.overflow <- struct{}{}:
	default:
		return ErrQueueFull
	}
	logger.S().Warnw("notification_overflow", "gateway_payment_id", n.GatewayPaymentID)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.overflow }()
		p.process(n)
	}()
	return nil
}

func (p *WorkerPool) work() {
	defer p.wg.Done()
	for n := range p.jobs {
		p.process(n)
	}
}

func (p *WorkerPool) process(n gateway.Notification) {
	if err := run(p.ctx, p.proc, n, p.MaxAttempts, p.Backoff); err != nil && p.Dropped != nil {
		p.Dropped(n, err)
	}
}

// run processes n until it succeeds, attempts run out, or ctx ends, and returns the last
// error in the latter two cases.
func run(ctx context.Context, proc Processor, n gateway.Notification, attempts int, backoff time.Duration) error {
	for attempt := 1; ; attempt++ {
		outcome, err := proc.Process(ctx, n)
		if err == nil {
			logger.S().Debugw("notification_processed", "gateway_payment_id", n.GatewayPaymentID, "outcome", outcome)
			return nil
		}
		if attempt >= attempts {
			logger.S().Errorw("notification_dropped", "gateway_payment_id", n.GatewayPaymentID,
				"attempts", attempt, "error", err)
			return err
		}
		logger.S().Warnw("notification_retry", "gateway_payment_id", n.GatewayPaymentID,
			"attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff * time.Duration(attempt)):
		}
	}
}

// Stop rejects new work and waits for queued notifications to drain.
func (p *WorkerPool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.stopped {
		p.stopped = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ctx.Err()
	}
}

// Inline processes on the caller's goroutine. Used by tests and the CLI.
type Inline struct {
	Proc Processor
}

func (d Inline) Dispatch(ctx context.Context, n gateway.Notification) error {
	_, err := d.Proc.Process(ctx, n)
	return err
}
