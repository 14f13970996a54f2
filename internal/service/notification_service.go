package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"pedix/internal/domain"
	"pedix/internal/logger"
	"pedix/internal/models"
	"pedix/internal/payment"
)

const (
	notifyBuffer  = 256
	notifyTimeout = 10 * time.Second
)

type NotificationStore interface {
	Create(ctx context.Context, n *models.Notification) error
}

// NotificationService persists in-app notifications and pushes them. It observes payment
// transitions and delivers on its own workers, so a slow database or FCM never holds up
// the payment path. Failures are logged and never affect the payment.
type NotificationService struct {
	repo NotificationStore
	fcm  *FCMService

	mu      sync.RWMutex
	stopped bool
	jobs    chan payment.Transition
	wg      sync.WaitGroup
}

func NewNotificationService(repo NotificationStore, fcm *FCMService, workers int) *NotificationService {
	if workers < 1 {
		workers = 1
	}
	s := &NotificationService{repo: repo, fcm: fcm, jobs: make(chan payment.Transition, notifyBuffer)}
	s.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go s.worker()
	}
	return s
}

var _ payment.Observer = (*NotificationService)(nil)

func (s *NotificationService) worker() {
	defer s.wg.Done()
	for t := range s.jobs {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		s.deliver(ctx, t)
		cancel()
	}
}

// Close stops accepting transitions and waits for queued ones until ctx ends.
func (s *NotificationService) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.jobs)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *NotificationService) Notify(ctx context.Context, userID, notifType, title, body string, data map[string]interface{}) error {
	var dataJSON string
	if data != nil {
		b, _ := json.Marshal(data)
		dataJSON = string(b)
	}
	orderID, _ := data["order_id"].(string)
	err := s.repo.Create(ctx, &models.Notification{
		UserID:  userID,
		OrderID: orderID,
		Type:    notifType,
		Title:   title,
		Body:    body,
		Data:    dataJSON,
	})
	if err != nil {
		return err
	}
	if err := s.fcm.SendToUser(ctx, userID, notifType, title, body, data); err != nil {
		logger.S().Warnw("push_failed", "user_id", userID, "type", notifType, "error", err)
	}
	return nil
}

// OnTransition queues the transition without blocking. When the queue is full the
// notification is dropped and logged.
func (s *NotificationService) OnTransition(_ context.Context, t payment.Transition) {
	if t.To != domain.StatusApproved && t.To != domain.StatusExpired {
		return
	}
	req := *t.Request
	t.Request = &req

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.jobs <- t:
	default:
		logger.S().Warnw("payment_notification_dropped", "order_id", req.OrderID, "status", t.To, "reason", "queue_full")
	}
}

func (s *NotificationService) deliver(ctx context.Context, t payment.Transition) {
	req := t.Request
	data := map[string]interface{}{
		"order_id": req.OrderID,
		"amount":   req.Amount.StringFixed(2),
	}
	var err error
	switch t.To {
	case domain.StatusApproved:
		err = s.notifyApproved(ctx, req, data)
	case domain.StatusExpired:
		err = s.notify(ctx, req.CustomerID, "PAYMENT_EXPIRED", "Payment expired",
			"Your payment for order "+req.OrderID+" expired. Start a new one to continue.", data)
	default:
		return
	}
	if err != nil {
		logger.S().Warnw("payment_notification_failed", "order_id", req.OrderID, "status", t.To, "error", err)
	}
}

func (s *NotificationService) notifyApproved(ctx context.Context, req *models.PaymentRequest, data map[string]interface{}) error {
	if err := s.notify(ctx, req.CustomerID, "PAYMENT_CONFIRMED", "Payment confirmed",
		"Your payment for order "+req.OrderID+" was successful.", data); err != nil {
		return err
	}
	if req.CourierID == "" {
		return nil
	}
	payout := map[string]interface{}{
		"order_id":      req.OrderID,
		"payout_amount": req.PayoutAmount.StringFixed(2),
	}
	return s.notify(ctx, req.CourierID, "PAYOUT_CREDITED", "Payout credited",
		"Order "+req.OrderID+" was paid.", payout)
}

func (s *NotificationService) notify(ctx context.Context, userID, notifType, title, body string, data map[string]interface{}) error {
	if userID == "" {
		return nil
	}
	return s.Notify(ctx, userID, notifType, title, body, data)
}
