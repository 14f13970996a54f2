package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"pedix/config"
	"pedix/internal/auth"
	"pedix/internal/domain"
	"pedix/internal/logger"
	"pedix/internal/models"
)

// DefaultSessionLimit matches the payment request lifetime; a subscriber never outlives
// the request it watches.
const DefaultSessionLimit = 15 * time.Minute

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// RequestReader is satisfied by *payment.Service.
type RequestReader interface {
	Get(ctx context.Context, orderID string) (*models.PaymentRequest, error)
}

// UpgradePaymentWS streams the status of one order. The server closes the socket once a
// terminal status has been sent or after limit, whichever comes first.
func UpgradePaymentWS(cfg *config.JWTConfig, hub *PaymentHub, reader RequestReader, limit time.Duration) gin.HandlerFunc {
	if limit <= 0 {
		limit = DefaultSessionLimit
	}
	return func(c *gin.Context) {
		orderID := c.Param("order_id")
		token := c.Query("token")
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token required"})
			return
		}
		claims, err := auth.ParseAccessToken(cfg, token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		req, err := reader.Get(c.Request.Context(), orderID)
		if err != nil {
			var nf *domain.NotFoundError
			if errors.As(err, &nf) {
				c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if !CanWatch(claims, req) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		client := NewClient(orderID, claims.UserID)
		// Subscribe before re-reading so no transition falls between the two.
		hub.Register(client)
		defer client.Close()

		if req, err = reader.Get(context.Background(), orderID); err == nil {
			msg := statusMessage(req, time.Now())
			data, _ := json.Marshal(msg)
			client.deliver(outbound{data: data, final: msg.Terminal})
		}

		go func() {
			readPump(conn)
			client.Close()
		}()
		reason := writePump(client, conn, limit)
		logger.S().Debugw("payment_ws_closed", "order_id", orderID, "user_id", claims.UserID, "reason", reason)
	}
}

// CanWatch allows the parties to the order and admins.
func CanWatch(claims *auth.Claims, req *models.PaymentRequest) bool {
	if claims.Role == domain.RoleAdmin {
		return true
	}
	switch claims.UserID {
	case req.CustomerID, req.MerchantID, req.CourierID:
		return claims.UserID != ""
	}
	return false
}

// writePump copies messages from the client to the connection until a final message,
// the session limit, or a dead peer.
func writePump(c *Client, conn *websocket.Conn, limit time.Duration) string {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	deadline := time.NewTimer(limit)
	defer deadline.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return "client_closed"
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
				return "write_error"
			}
			if msg.final {
				closeWith(conn, websocket.CloseNormalClosure, "payment finished")
				return "terminal"
			}
		case <-deadline.C:
			closeWith(conn, websocket.CloseNormalClosure, "session limit reached")
			return "timeout"
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return "ping_error"
			}
		}
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func readPump(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
