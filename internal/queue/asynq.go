package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"pedix/config"
	"pedix/internal/logger"
	"pedix/pkg/gateway"
)

const TypeGatewayNotification = "payment:gateway_notification"

func RedisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}
}

// AsynqDispatcher persists notifications in redis so they survive a restart between
// acknowledgement and processing.
type AsynqDispatcher struct {
	client *asynq.Client
}

func NewAsynqDispatcher(opt asynq.RedisClientOpt) *AsynqDispatcher {
	return &AsynqDispatcher{client: asynq.NewClient(opt)}
}

func NewNotificationTask(n gateway.Notification) (*asynq.Task, error) {
	n.RawPayload = nil
	payload, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeGatewayNotification, payload), nil
}

func (d *AsynqDispatcher) Dispatch(ctx context.Context, n gateway.Notification) error {
	task, err := NewNotificationTask(n)
	if err != nil {
		return err
	}
	info, err := d.client.EnqueueContext(ctx, task, asynq.MaxRetry(5), asynq.Timeout(time.Minute))
	if err != nil {
		return fmt.Errorf("enqueue gateway notification: %w", err)
	}
	logger.S().Debugw("notification_enqueued", "gateway_payment_id", n.GatewayPaymentID, "task_id", info.ID)
	return nil
}

func (d *AsynqDispatcher) Close() error {
	return d.client.Close()
}

// HandleNotification returns an asynq handler. A processing error makes asynq retry the
// task; duplicates are absorbed by the processor's idempotency ledger.
func HandleNotification(proc Processor) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var n gateway.Notification
		if err := json.Unmarshal(t.Payload(), &n); err != nil {
			return fmt.Errorf("decode notification: %v: %w", err, asynq.SkipRetry)
		}
		outcome, err := proc.Process(ctx, n)
		if err != nil {
			return err
		}
		logger.S().Debugw("notification_processed", "gateway_payment_id", n.GatewayPaymentID, "outcome", outcome)
		return nil
	}
}

func NewServeMux(proc Processor) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeGatewayNotification, HandleNotification(proc))
	return mux
}

func NewAsynqServer(opt asynq.RedisClientOpt, concurrency int) *asynq.Server {
	return asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{"default": 1},
		Logger:      logger.S(),
	})
}
