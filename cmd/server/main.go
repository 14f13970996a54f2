package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pedix/config"
	"pedix/internal/app"
	"pedix/internal/handler"
	"pedix/internal/logger"
	"pedix/internal/router"
)

func main() {
	cfg := config.Load()
	if err := logger.Init(cfg.Server.Env); err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.S()

	a, err := app.New(cfg, app.Options{})
	if err != nil {
		log.Fatalw("startup_failed", "error", err)
	}

	bg, stopBackground := context.WithCancel(context.Background())
	go a.Sweeper.Run(bg)

	queueSrv, mux, ok := a.AsynqServer()
	if ok {
		if err := queueSrv.Start(mux); err != nil {
			log.Fatalw("queue_start_failed", "error", err)
		}
		log.Infow("queue_started", "backend", "asynq", "redis", cfg.Redis.Addr)
	}

	engine := router.Setup(cfg, router.Deps{
		Payments:      a.Payments,
		Wallets:       a.Wallets,
		Audit:         a.Audit,
		PaymentLister: paymentLister(a),
		Notifications: a.Notifications,
		Dispatcher:    a.Dispatcher,
		Hub:           a.Hub,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      engine,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		log.Infow("server_listening", "port", cfg.Server.Port, "env", cfg.Server.Env, "db_driver", cfg.Database.Driver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("listen_failed", "error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Infow("shutting_down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server_shutdown_failed", "error", err)
	}
	if queueSrv != nil {
		queueSrv.Shutdown()
	}
	stopBackground()
	if err := a.Close(ctx); err != nil {
		log.Errorw("close_failed", "error", err)
	}
	log.Infow("server_stopped")
}

// paymentLister avoids handing the router a typed nil when there is no database.
func paymentLister(a *app.App) handler.PaymentLister {
	if a.PaymentRepo == nil {
		return nil
	}
	return a.PaymentRepo
}
