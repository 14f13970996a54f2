// Package settlement tells the order collaborator that a payment settled.
package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"

	"pedix/internal/logger"
)

// Event is the settlement message. The order side owns retries for its own state.
type Event struct {
	PaymentID    string          `json:"payment_id"`
	OrderID      string          `json:"order_id"`
	Status       string          `json:"status"`
	Amount       decimal.Decimal `json:"amount"`
	Method       string          `json:"method"`
	PlatformFee  decimal.Decimal `json:"platform_fee"`
	PayoutAmount decimal.Decimal `json:"payout_amount"`
	Timestamp    time.Time       `json:"timestamp"`
}

type Notifier interface {
	Notify(ctx context.Context, e Event) error
}

// KafkaNotifier publishes events keyed by order id so one order's events stay ordered.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaNotifier(producer sarama.SyncProducer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic}
}

// NewKafkaProducer builds a sync producer that waits for all in-sync replicas.
func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Version = sarama.V2_1_0_0
	return sarama.NewSyncProducer(brokers, cfg)
}

func (n *KafkaNotifier) Notify(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal settlement: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: n.topic,
		Key:   sarama.StringEncoder(e.OrderID),
		Value: sarama.ByteEncoder(data),
	}
	partition, offset, err := n.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("publish settlement for order %s: %w", e.OrderID, err)
	}
	logger.S().Infow("settlement_published", "order_id", e.OrderID, "payment_id", e.PaymentID,
		"topic", n.topic, "partition", partition, "offset", offset)
	return nil
}

func (n *KafkaNotifier) Close() error {
	return n.producer.Close()
}

// LogNotifier only logs. Used when no broker is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, e Event) error {
	logger.S().Infow("settlement_notified", "order_id", e.OrderID, "payment_id", e.PaymentID,
		"status", e.Status, "amount", e.Amount.StringFixed(2), "method", e.Method)
	return nil
}

// Recorder keeps every event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
