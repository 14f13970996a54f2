package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"pedix/internal/audit"
	"pedix/internal/domain"
	"pedix/internal/logger"
	"pedix/internal/queue"
	"pedix/pkg/gateway"
)

const maxWebhookBody = 64 << 10

// GatewayWebhookHandler acknowledges every delivery with 200 and hands it to the queue.
// The gateway retries on anything else, and the notification body is never trusted
// beyond the payment id, so there is nothing to gain from rejecting here. A delivery the
// queue cannot take is audited for replay, since the gateway will not send it again.
type GatewayWebhookHandler struct {
	dispatcher queue.Dispatcher
	audit      audit.Log
	secret     string
	now        func() time.Time
}

func NewGatewayWebhookHandler(dispatcher queue.Dispatcher, log audit.Log, secret string) *GatewayWebhookHandler {
	return &GatewayWebhookHandler{dispatcher: dispatcher, audit: log, secret: secret, now: time.Now}
}

func (h *GatewayWebhookHandler) Handle(c *gin.Context) {
	defer c.JSON(http.StatusOK, gin.H{"received": true})

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		logger.S().Warnw("webhook_body_unreadable", "error", err)
		return
	}
	if h.secret != "" && !h.verifySignature(body, c.GetHeader("X-Signature")) {
		logger.S().Warnw("webhook_signature_mismatch", "ip", c.ClientIP())
	}
	n, err := gateway.ParseNotification(body, c.Request.URL.Query(), h.now())
	if err != nil {
		logger.S().Warnw("webhook_malformed", "error", err, "body", string(body))
		return
	}
	if n.Kind != gateway.KindPayment {
		logger.S().Infow("webhook_ignored", "type", n.Type, "action", n.Action)
		return
	}
	if err := h.dispatcher.Dispatch(c.Request.Context(), n); err != nil {
		logger.S().Errorw("webhook_dispatch_failed", "gateway_payment_id", n.GatewayPaymentID, "error", err)
		h.flagForReplay(c, n, err)
		return
	}
	logger.S().Infow("webhook_received", "gateway_payment_id", n.GatewayPaymentID, "action", n.Action)
}

func (h *GatewayWebhookHandler) flagForReplay(c *gin.Context, n gateway.Notification, cause error) {
	if h.audit == nil {
		return
	}
	err := h.audit.Append(c.Request.Context(), audit.Entry{
		Event:            domain.AuditReconciliationRequired,
		GatewayPaymentID: n.GatewayPaymentID,
		Reason:           "dispatch_failed",
		Metadata: map[string]interface{}{
			"action":      n.Action,
			"received_at": n.ReceivedAt,
			"error":       cause.Error(),
		},
	})
	if err != nil {
		logger.S().Errorw("webhook_replay_flag_failed", "gateway_payment_id", n.GatewayPaymentID, "error", err)
	}
}

func (h *GatewayWebhookHandler) verifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(signature), []byte(expected))
}
