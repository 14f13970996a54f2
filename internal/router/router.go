package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pedix/config"
	"pedix/internal/audit"
	"pedix/internal/handler"
	"pedix/internal/middleware"
	"pedix/internal/payment"
	"pedix/internal/queue"
	"pedix/internal/repository"
	"pedix/internal/wallet"
	"pedix/internal/ws"
)

// Deps are the services the HTTP layer exposes. Notifications and PaymentLister may be
// nil when running without a database.
type Deps struct {
	Payments      *payment.Service
	Wallets       *wallet.PaymentService
	Audit         audit.Log
	PaymentLister handler.PaymentLister
	Notifications *repository.NotificationRepository
	Dispatcher    queue.Dispatcher
	Hub           *ws.PaymentHub
}

func Setup(cfg *config.Config, d Deps) *gin.Engine {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger("/healthz"))
	r.Use(middleware.RateLimit(middleware.NewKeyedLimiter(100, 60*time.Second)))

	paymentHandler := handler.NewPaymentHandler(d.Payments)
	webhookHandler := handler.NewGatewayWebhookHandler(d.Dispatcher, d.Audit, cfg.Payment.WebhookSecret)
	walletHandler := handler.NewWalletHandler(d.Wallets)
	adminHandler := handler.NewAdminHandler(d.Wallets, d.Audit, d.PaymentLister)

	authMw := middleware.AuthRequired(&cfg.JWT)
	createLimit := middleware.RateLimitBy(middleware.NewKeyedLimiter(20, time.Minute), middleware.GetUserID)

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/api/v1")
	{
		api.GET("/payments/config", paymentHandler.Config)

		payments := api.Group("/payments")
		payments.Use(authMw)
		{
			payments.POST("", createLimit, paymentHandler.Create)
			payments.GET("/:order_id", paymentHandler.Get)
			payments.GET("/:order_id/status", paymentHandler.Status)
			payments.POST("/:order_id/cancel", paymentHandler.Cancel)
		}

		me := api.Group("/me")
		me.Use(authMw)
		{
			me.GET("/wallet", walletHandler.GetBalance)
			me.GET("/wallet/transactions", walletHandler.Transactions)
			if d.Notifications != nil {
				notificationHandler := handler.NewNotificationHandler(d.Notifications)
				me.GET("/notifications", notificationHandler.List)
				me.PUT("/notifications/:id/read", notificationHandler.MarkRead)
				me.PUT("/orders/:order_id/notifications/read", notificationHandler.MarkOrderRead)
			}
		}

		w := api.Group("/wallet")
		w.Use(authMw)
		{
			w.POST("/reservations", walletHandler.Reserve)
			w.POST("/reservations/:order_id/confirm", walletHandler.Confirm)
			w.POST("/reservations/:order_id/release", walletHandler.Release)
			w.POST("/pay", walletHandler.Pay)
		}

		admin := api.Group("/admin")
		admin.Use(authMw, middleware.AdminRequired())
		{
			admin.GET("/wallets/:user_id", adminHandler.GetWallet)
			admin.POST("/wallets/:user_id/credit", adminHandler.CreditWallet)
			admin.GET("/audit", adminHandler.ListAudit)
			admin.GET("/payments", adminHandler.ListPayments)
		}

		api.POST("/webhooks/gateway", webhookHandler.Handle)
	}

	r.GET("/ws/payments/:order_id", ws.UpgradePaymentWS(&cfg.JWT, d.Hub, d.Payments, d.Payments.Lifetime()))

	return r
}
