package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pedix/config"
	"pedix/internal/auth"
	"pedix/internal/domain"
	"pedix/internal/models"
	"pedix/internal/payment"
)

var jwtCfg = &config.JWTConfig{AccessSecret: "ws-test", AccessExpiry: time.Hour}

type fakeReader struct {
	mu  sync.Mutex
	req *models.PaymentRequest
}

func (f *fakeReader) Get(_ context.Context, orderID string) (*models.PaymentRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.req == nil || f.req.OrderID != orderID {
		return nil, &domain.NotFoundError{Resource: "payment request", ID: orderID}
	}
	c := *f.req
	return &c, nil
}

func serve(t *testing.T, hub *PaymentHub, reader RequestReader, limit time.Duration) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws/payments/:order_id", UpgradePaymentWS(jwtCfg, hub, reader, limit))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func dial(t *testing.T, srv *httptest.Server, orderID, userID, role string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	tok, err := auth.GenerateAccessToken(jwtCfg, userID, role)
	require.NoError(t, err)
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/payments/" + orderID + "?token=" + tok
	return websocket.DefaultDialer.Dial(u, nil)
}

func readStatus(t *testing.T, conn *websocket.Conn) StatusMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg StatusMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func expectClose(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func pending() *models.PaymentRequest {
	return &models.PaymentRequest{OrderID: "PED-1", CustomerID: "cust-1", Status: string(domain.StatusPending),
		QRPayload: "000201", ExpiresAt: time.Now().Add(time.Minute)}
}

func TestStreamClosesAtTerminalStatus(t *testing.T) {
	hub := NewPaymentHub()
	reader := &fakeReader{req: pending()}
	srv := serve(t, hub, reader, time.Minute)

	conn, _, err := dial(t, srv, "PED-1", "cust-1", domain.RoleCustomer)
	require.NoError(t, err)
	defer conn.Close()

	first := readStatus(t, conn)
	assert.Equal(t, "PENDING", first.Status)
	assert.Equal(t, "000201", first.QRPayload)
	assert.False(t, first.Terminal)

	approvedReq := pending()
	approvedReq.Status = string(domain.StatusApproved)
	hub.OnTransition(context.Background(), payment.Transition{Request: approvedReq, From: domain.StatusPending, To: domain.StatusApproved, At: time.Now()})

	last := readStatus(t, conn)
	assert.Equal(t, "APPROVED", last.Status)
	assert.True(t, last.Terminal)
	assert.Empty(t, last.QRPayload)
	expectClose(t, conn)

	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestStreamAlreadyTerminal(t *testing.T) {
	req := pending()
	req.Status = string(domain.StatusExpired)
	srv := serve(t, NewPaymentHub(), &fakeReader{req: req}, time.Minute)

	conn, _, err := dial(t, srv, "PED-1", "cust-1", domain.RoleCustomer)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "EXPIRED", readStatus(t, conn).Status)
	expectClose(t, conn)
}

func TestStreamSessionLimit(t *testing.T) {
	srv := serve(t, NewPaymentHub(), &fakeReader{req: pending()}, 50*time.Millisecond)

	conn, _, err := dial(t, srv, "PED-1", "cust-1", domain.RoleCustomer)
	require.NoError(t, err)
	defer conn.Close()

	readStatus(t, conn)
	expectClose(t, conn)
}

func TestStreamRejectsStrangers(t *testing.T) {
	srv := serve(t, NewPaymentHub(), &fakeReader{req: pending()}, time.Minute)

	_, resp, err := dial(t, srv, "PED-1", "someone-else", domain.RoleCustomer)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = dial(t, srv, "PED-404", "cust-1", domain.RoleCustomer)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	conn, _, err := dial(t, srv, "PED-1", "ops", domain.RoleAdmin)
	require.NoError(t, err)
	conn.Close()
}

func TestHubDropsAfterClose(t *testing.T) {
	hub := NewHub()
	c := NewClient("k", "u")
	hub.Register(c)
	assert.Equal(t, 1, hub.Broadcast("k", map[string]string{"a": "b"}, false))
	c.Close()
	c.Close()
	assert.Equal(t, 0, hub.ClientCount())
	assert.Equal(t, 0, hub.Broadcast("k", nil, false))
	assert.False(t, c.deliver(outbound{}))
}
