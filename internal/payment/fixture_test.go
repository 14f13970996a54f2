package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"pedix/internal/audit"
	"pedix/internal/commission"
	"pedix/internal/idempotency"
	"pedix/internal/settlement"
	"pedix/internal/token"
	"pedix/pkg/gateway"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	clock    *fakeClock
	store    *MemoryStore
	audit    *audit.MemoryLog
	gw       *gateway.Stub
	ledger   *idempotency.MemoryLedger
	notifier *settlement.Recorder
	m        *Machine
	svc      *Service
	proc     *Processor
	sweeper  *Sweeper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:    &fakeClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)},
		store:    NewMemoryStore(),
		audit:    audit.NewMemoryLog(),
		gw:       gateway.NewStub(),
		ledger:   idempotency.NewMemoryLedger(),
		notifier: &settlement.Recorder{},
	}
	f.m = NewMachine(f.store, f.audit)
	f.m.SetClock(f.clock.Now)

	tokens, err := token.NewIssuer("test-secret")
	require.NoError(t, err)
	f.svc = NewService(f.m, f.gw, tokens, ServiceConfig{Lifetime: DefaultLifetime, Currency: "BRL", PublicKey: "APP_USR-public"})

	tables, err := commission.DefaultTables("0.15", "0.10")
	require.NoError(t, err)
	engine, err := commission.NewEngine(tables)
	require.NoError(t, err)
	f.proc = NewProcessor(f.m, f.gw, f.ledger, engine, f.notifier, NewValidator(DefaultTolerance, f.clock.Now))
	f.sweeper = NewSweeper(f.m, time.Second, 2)
	return f
}

func (f *fixture) create(t *testing.T, orderID, amount string) string {
	t.Helper()
	req, err := f.svc.Create(context.Background(), CreateInput{OrderID: orderID, Amount: decimal.RequireFromString(amount)})
	require.NoError(t, err)
	return req.ID
}

func (f *fixture) deliver(t *testing.T, gatewayPaymentID string) (string, error) {
	t.Helper()
	n := gateway.Notification{
		Kind:             gateway.KindPayment,
		Type:             "payment",
		Action:           "payment.updated",
		GatewayPaymentID: gatewayPaymentID,
		ReceivedAt:       f.clock.Now(),
	}
	out, err := f.proc.Process(context.Background(), n)
	return string(out), err
}

func (f *fixture) count(t *testing.T, filter audit.Filter) int {
	t.Helper()
	n, err := audit.Count(context.Background(), f.audit, filter)
	require.NoError(t, err)
	return n
}

func (f *fixture) status(t *testing.T, orderID string) string {
	t.Helper()
	req, err := f.svc.Get(context.Background(), orderID)
	require.NoError(t, err)
	return req.Status
}
