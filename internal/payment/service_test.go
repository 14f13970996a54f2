package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pedix/internal/audit"
	"pedix/internal/domain"
	"pedix/internal/token"
	"pedix/pkg/gateway"
)

func TestCreateIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.Create(ctx, CreateInput{OrderID: "PED-1", Amount: decimal.NewFromInt(500), Description: "order PED-1"})
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusPending), first.Status)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), first.ExpiresAt)
	assert.NotEmpty(t, first.Token)
	assert.NotEmpty(t, first.QRPayload)
	assert.NotEmpty(t, first.GatewayReferenceID)

	second, err := f.svc.Create(ctx, CreateInput{OrderID: "PED-1", Amount: decimal.RequireFromString("500.00")})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.Token, second.Token)
	assert.Equal(t, 1, f.count(t, audit.Filter{Event: domain.AuditRequestCreated}))

	inst, ok := f.gw.Instrument("PED-1")
	require.True(t, ok)
	assert.Equal(t, first.Token, inst.Metadata.Token)
}

func TestConcurrentCreateYieldsOneRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 20
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := f.svc.Create(ctx, CreateInput{OrderID: "PED-C", Amount: decimal.NewFromInt(42)})
			if assert.NoError(t, err) {
				ids[i] = req.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, f.count(t, audit.Filter{Event: domain.AuditRequestCreated, OrderID: "PED-C"}))
}

func TestConcurrentStoreCreateYieldsOneRequest(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make(chan string, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, _, err := store.Create(ctx, newPending("PED-S", time.Now().Add(time.Minute)))
			if assert.NoError(t, err) {
				results <- req.ID
			}
		}(i)
	}
	wg.Wait()
	close(results)

	seen := map[string]bool{}
	for id := range results {
		seen[id] = true
	}
	assert.Len(t, seen, 1)
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	cases := []CreateInput{
		{OrderID: "", Amount: decimal.NewFromInt(1)},
		{OrderID: "PED-1", Amount: decimal.Zero},
		{OrderID: "PED-1", Amount: decimal.NewFromInt(-5)},
		{OrderID: "PED-1", Amount: decimal.RequireFromString("1.005")},
	}
	for _, in := range cases {
		_, err := f.svc.Create(context.Background(), in)
		var ve *domain.ValidationError
		assert.ErrorAs(t, err, &ve, "input %+v", in)
	}
}

func TestCreateConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, "PED-1", "500")

	_, err := f.svc.Create(ctx, CreateInput{OrderID: "PED-1", Amount: decimal.NewFromInt(400)})
	var ce *domain.ConflictError
	assert.ErrorAs(t, err, &ce)

	require.NoError(t, f.gw.Approve("GW-1", "PED-1"))
	out, err := f.deliver(t, "GW-1")
	require.NoError(t, err)
	require.Equal(t, string(domain.OutcomeApplied), out)

	_, err = f.svc.Create(ctx, CreateInput{OrderID: "PED-1", Amount: decimal.NewFromInt(500)})
	assert.ErrorAs(t, err, &ce)
}

func TestCreateGatewayFailureCancelsRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.gw.CreateErr = errors.New("upstream timeout")

	_, err := f.svc.Create(ctx, CreateInput{OrderID: "PED-G", Amount: decimal.NewFromInt(10)})
	var ge *domain.ExternalGatewayError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "create_instrument", ge.Op)
	assert.Equal(t, string(domain.StatusCancelled), f.status(t, "PED-G"))
	assert.Equal(t, 1, f.count(t, audit.Filter{Event: domain.AuditInstrumentFailed}))

	f.gw.CreateErr = nil
	req, err := f.svc.Create(ctx, CreateInput{OrderID: "PED-G", Amount: decimal.NewFromInt(10)})
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusPending), req.Status)
}

func TestCreateReplacesExpiredRequest(t *testing.T) {
	f := newFixture(t)
	old := f.create(t, "PED-1", "500")
	f.clock.Advance(16 * time.Minute)

	fresh := f.create(t, "PED-1", "500")
	assert.NotEqual(t, old, fresh)
	assert.Equal(t, 1, f.count(t, audit.Filter{Event: domain.AuditExpired, OrderID: "PED-1"}))
}

func TestScenarioAExpiresWithoutWebhook(t *testing.T) {
	f := newFixture(t)
	f.create(t, "PED-1", "500")

	f.clock.Advance(15*time.Minute + time.Second)
	assert.Equal(t, string(domain.StatusExpired), f.status(t, "PED-1"))

	st, err := f.svc.Status(context.Background(), "PED-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusExpired, st)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.create(t, "PED-1", "20")

	req, err := f.svc.Cancel(ctx, "PED-1", "customer_abandoned")
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusCancelled), req.Status)

	_, err = f.svc.Cancel(ctx, "PED-1", "again")
	var ce *domain.ConflictError
	assert.ErrorAs(t, err, &ce)

	_, err = f.svc.Cancel(ctx, "PED-404", "")
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)

	entries, err := f.audit.List(ctx, audit.Filter{Event: domain.AuditCancelled})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "customer_abandoned", entries[0].Reason)
}

func TestObserversSeeEveryTransition(t *testing.T) {
	f := newFixture(t)
	var mu sync.Mutex
	var seen []domain.PaymentStatus
	f.m.Observe(ObserverFunc(func(_ context.Context, tr Transition) {
		mu.Lock()
		seen = append(seen, tr.To)
		mu.Unlock()
	}))
	f.m.Observe(ObserverFunc(func(context.Context, Transition) { panic("observer bug") }))

	f.create(t, "PED-1", "10")
	_, err := f.svc.Cancel(context.Background(), "PED-1", "")
	require.NoError(t, err)

	f.create(t, "PED-2", "10")
	require.NoError(t, f.gw.Approve("GW-2", "PED-2"))
	_, err = f.deliver(t, "GW-2")
	require.NoError(t, err)

	assert.Equal(t, []domain.PaymentStatus{domain.StatusCancelled, domain.StatusApproved}, seen)
}

func TestExpirySchedulerExpiresAndDisarms(t *testing.T) {
	store := NewMemoryStore()
	log := audit.NewMemoryLog()
	m := NewMachine(store, log)
	tokens, err := token.NewIssuer("s")
	require.NoError(t, err)
	gw := gateway.NewStub()
	svc := NewService(m, gw, tokens, ServiceConfig{Lifetime: 40 * time.Millisecond})
	sched := NewExpiryScheduler(m)
	svc.SetScheduler(sched)
	defer sched.Stop()
	ctx := context.Background()

	_, err = svc.Create(ctx, CreateInput{OrderID: "PED-T", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	assert.Equal(t, 1, sched.Pending())

	require.Eventually(t, func() bool {
		req, err := store.Get(ctx, "PED-T")
		return err == nil && req.Status == string(domain.StatusExpired)
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, sched.Pending())

	_, err = svc.Create(ctx, CreateInput{OrderID: "PED-U", Amount: decimal.NewFromInt(1)})
	require.NoError(t, err)
	require.Equal(t, 1, sched.Pending())
	_, err = svc.Cancel(ctx, "PED-U", "")
	require.NoError(t, err)
	assert.Equal(t, 0, sched.Pending())
}

func TestAwaitTerminal(t *testing.T) {
	f := newFixture(t)
	f.create(t, "PED-W", "30")
	require.NoError(t, f.gw.Approve("GW-W", "PED-W"))

	go func() {
		time.Sleep(20 * time.Millisecond)
		f.deliver(t, "GW-W")
	}()

	req, err := f.svc.AwaitTerminal(context.Background(), "PED-W", 5*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, string(domain.StatusApproved), req.Status)
}

func TestAwaitTerminalStopsOnContext(t *testing.T) {
	f := newFixture(t)
	f.create(t, "PED-W", "30")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	req, err := f.svc.AwaitTerminal(ctx, "PED-W", 5*time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, req)
	assert.Equal(t, string(domain.StatusPending), req.Status)
}

type fakeCache map[string]domain.PaymentStatus

func (c fakeCache) Status(_ context.Context, orderID string) (domain.PaymentStatus, bool) {
	st, ok := c[orderID]
	return st, ok
}

func (c fakeCache) Claim(_ context.Context, orderID, _ string) {
	delete(c, orderID)
}

func TestStatusPrefersCache(t *testing.T) {
	f := newFixture(t)
	f.svc.SetStatusCache(fakeCache{"PED-X": domain.StatusApproved})

	st, err := f.svc.Status(context.Background(), "PED-X")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, st)

	_, err = f.svc.Status(context.Background(), "PED-Y")
	var nf *domain.NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestCreateClaimsCachedStatus(t *testing.T) {
	f := newFixture(t)
	cache := fakeCache{"PED-Z": domain.StatusExpired}
	f.svc.SetStatusCache(cache)

	f.create(t, "PED-Z", "20.00")

	st, err := f.svc.Status(context.Background(), "PED-Z")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, st)
}

type fakeHost struct{ err error }

func (h fakeHost) HostQR(_ context.Context, orderID, _ string) (string, error) {
	return "https://cdn.test/" + orderID + ".png", h.err
}

func TestQRImageHosting(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, "", f.svc.hostQR(context.Background(), "PED-1", ""))
	assert.Equal(t, "data:image/png;base64,AAA", f.svc.hostQR(context.Background(), "PED-1", "AAA"))

	f.svc.SetQRHost(fakeHost{})
	assert.Equal(t, "https://cdn.test/PED-1.png", f.svc.hostQR(context.Background(), "PED-1", "AAA"))

	f.svc.SetQRHost(fakeHost{err: errors.New("down")})
	assert.Equal(t, "data:image/png;base64,AAA", f.svc.hostQR(context.Background(), "PED-1", "AAA"))
}
