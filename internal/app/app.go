// Package app wires configuration into the running payment core. Both the HTTP server
// and payctl build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"pedix/config"
	"pedix/internal/audit"
	"pedix/internal/cache"
	"pedix/internal/commission"
	"pedix/internal/database"
	"pedix/internal/domain"
	"pedix/internal/idempotency"
	"pedix/internal/logger"
	"pedix/internal/payment"
	"pedix/internal/queue"
	"pedix/internal/repository"
	"pedix/internal/service"
	"pedix/internal/settlement"
	"pedix/internal/token"
	"pedix/internal/wallet"
	"pedix/internal/ws"
	"pedix/pkg/cloudinary"
	"pedix/pkg/gateway"
)

type App struct {
	Config *config.Config
	DB     *gorm.DB // nil with the memory driver

	Audit     audit.Log
	Machine   *payment.Machine
	Payments  *payment.Service
	Processor *payment.Processor
	Sweeper   *payment.Sweeper
	Scheduler *payment.ExpiryScheduler
	Wallets   *wallet.PaymentService
	Hub       *ws.PaymentHub

	PaymentRepo   *repository.PaymentRequestRepository
	Notifications *repository.NotificationRepository
	Dispatcher    queue.Dispatcher
	Redis         *redis.Client

	closers []func(context.Context) error
}

// Options switch off parts payctl does not need.
type Options struct {
	// NoQueue processes webhook notifications inline instead of through a worker pool
	// or asynq.
	NoQueue bool
}

func New(cfg *config.Config, opts Options) (*App, error) {
	a := &App{Config: cfg}
	if err := a.build(opts); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *App) build(opts Options) error {
	cfg := a.Config

	var (
		paymentStore payment.Store
		walletStore  wallet.Store
	)
	if cfg.Database.Driver == "memory" {
		a.Audit = audit.NewMemoryLog()
		paymentStore = payment.NewMemoryStore()
		walletStore = wallet.NewMemoryStore()
	} else {
		db, err := database.NewDB(&cfg.Database)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		if err := database.AutoMigrate(db); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		a.DB = db
		a.onClose(func(context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		})
		a.PaymentRepo = repository.NewPaymentRequestRepository(db)
		a.Notifications = repository.NewNotificationRepository(db)
		a.Audit = repository.NewAuditLogRepository(db)
		paymentStore = a.PaymentRepo
		walletStore = repository.NewWalletRepository(db)
	}

	engine, err := buildEngine(cfg.Commission)
	if err != nil {
		return err
	}
	tokens, err := token.NewIssuer(cfg.Payment.TokenSecret)
	if err != nil {
		return err
	}
	tolerance, err := decimal.NewFromString(cfg.Payment.AmountTolerance)
	if err != nil {
		return fmt.Errorf("PAYMENT_AMOUNT_TOLERANCE: %w", err)
	}

	ledger, err := a.buildLedger(cfg.Payment.IdempotencyDB)
	if err != nil {
		return err
	}
	notifier, err := a.buildNotifier(cfg.Kafka)
	if err != nil {
		return err
	}
	gw := buildGateway(cfg.Gateway)

	m := payment.NewMachine(paymentStore, a.Audit)
	a.Machine = m
	a.Payments = payment.NewService(m, gw, tokens, payment.ServiceConfig{
		Lifetime:  cfg.Payment.RequestLifetime,
		Currency:  cfg.Payment.Currency,
		PublicKey: cfg.Gateway.PublicKey,
	})
	a.Processor = payment.NewProcessor(m, gw, ledger, engine, notifier, payment.NewValidator(tolerance, m.Now))
	a.Sweeper = payment.NewSweeper(m, cfg.Payment.SweepInterval, cfg.Payment.SweepBatchSize)
	a.Scheduler = payment.NewExpiryScheduler(m)
	a.Payments.SetScheduler(a.Scheduler)
	a.onClose(func(context.Context) error {
		a.Scheduler.Stop()
		return nil
	})

	// The status cache observes first so polls see terminal statuses as early as possible.
	if cfg.Redis.Addr != "" {
		a.Redis = cache.NewRedisClient(cfg.Redis)
		a.onClose(func(context.Context) error { return a.Redis.Close() })
		statusCache := cache.NewStatusCache(a.Redis, cfg.Redis.StatusTTL)
		a.Payments.SetStatusCache(statusCache)
		m.Observe(statusCache)
	}

	a.Hub = ws.NewPaymentHub()
	m.Observe(a.Hub)

	if a.Notifications != nil {
		pushes := service.NewNotificationService(a.Notifications, service.NewFCMService(cfg.Firebase.ServiceAccountPath), 2)
		a.onClose(pushes.Close)
		m.Observe(pushes)
	}

	if cfg.Cloudinary.CloudName != "" {
		host, err := cloudinary.NewQRHostFromConfig(cloudinary.Config{
			CloudName: cfg.Cloudinary.CloudName,
			APIKey:    cfg.Cloudinary.APIKey,
			APISecret: cfg.Cloudinary.APISecret,
			Folder:    cfg.Cloudinary.QRFolder,
		})
		if err != nil {
			return fmt.Errorf("cloudinary: %w", err)
		}
		a.Payments.SetQRHost(host)
	}

	switch {
	case opts.NoQueue:
		a.Dispatcher = queue.Inline{Proc: a.Processor}
	case cfg.Redis.Addr != "":
		d := queue.NewAsynqDispatcher(queue.RedisOpt(cfg.Redis))
		a.onClose(func(context.Context) error { return d.Close() })
		a.Dispatcher = d
	default:
		pool := queue.NewWorkerPool(a.Processor, cfg.Payment.WebhookWorkers, 1024)
		pool.Dropped = a.flagDropped
		a.onClose(pool.Stop)
		a.Dispatcher = pool
	}

	a.Wallets = wallet.NewPaymentService(wallet.NewLedger(walletStore, cfg.Payment.Currency), engine, notifier, a.Audit)
	return nil
}

func buildEngine(cfg config.CommissionConfig) (*commission.Engine, error) {
	var (
		tables map[string]commission.RateTable
		err    error
	)
	if cfg.RatesFile != "" {
		tables, err = commission.LoadFile(cfg.RatesFile)
	} else {
		tables, err = commission.DefaultTables(cfg.GatewayQRRate, cfg.WalletRate)
	}
	if err != nil {
		return nil, fmt.Errorf("commission rates: %w", err)
	}
	engine, err := commission.NewEngine(tables)
	if err != nil {
		return nil, err
	}
	if err := engine.Require(domain.MethodGatewayQR, domain.MethodWallet); err != nil {
		return nil, fmt.Errorf("commission rates: %w", err)
	}
	return engine, nil
}

func (a *App) buildLedger(path string) (idempotency.Ledger, error) {
	if path == "" {
		return idempotency.NewMemoryLedger(), nil
	}
	l, err := idempotency.OpenBolt(path)
	if err != nil {
		return nil, fmt.Errorf("open idempotency ledger: %w", err)
	}
	a.onClose(func(context.Context) error { return l.Close() })
	return l, nil
}

func (a *App) buildNotifier(cfg config.KafkaConfig) (settlement.Notifier, error) {
	if len(cfg.Brokers) == 0 {
		return settlement.LogNotifier{}, nil
	}
	producer, err := settlement.NewKafkaProducer(cfg.Brokers)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	n := settlement.NewKafkaNotifier(producer, cfg.SettlementTopic)
	a.onClose(func(context.Context) error { return n.Close() })
	return n, nil
}

func buildGateway(cfg config.GatewayConfig) gateway.Client {
	if cfg.Mode != "http" {
		logger.S().Warnw("gateway_stub_enabled", "mode", cfg.Mode)
		return gateway.NewStub()
	}
	return gateway.NewHTTPClient(gateway.HTTPConfig{
		BaseURL:         cfg.BaseURL,
		TokenURL:        cfg.TokenURL,
		ClientID:        cfg.ClientID,
		ClientSecret:    cfg.ClientSecret,
		NotificationURL: cfg.NotificationURL,
		Timeout:         cfg.Timeout,
	})
}

// flagDropped audits an acknowledged notification that could not be processed so an
// operator can replay it.
func (a *App) flagDropped(n gateway.Notification, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.Audit.Append(ctx, audit.Entry{
		Event:            domain.AuditReconciliationRequired,
		GatewayPaymentID: n.GatewayPaymentID,
		Reason:           "processing_failed",
		Metadata:         map[string]interface{}{"action": n.Action, "error": cause.Error()},
	})
	if err != nil {
		logger.S().Errorw("replay_flag_failed", "gateway_payment_id", n.GatewayPaymentID, "error", err)
	}
}

// AsynqServer returns the notification consumer when redis is configured.
func (a *App) AsynqServer() (*asynq.Server, *asynq.ServeMux, bool) {
	if a.Config.Redis.Addr == "" {
		return nil, nil, false
	}
	return queue.NewAsynqServer(queue.RedisOpt(a.Config.Redis), a.Config.Payment.WebhookWorkers), queue.NewServeMux(a.Processor), true
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
