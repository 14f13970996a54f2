package wallet

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pedix/internal/audit"
	"pedix/internal/commission"
	"pedix/internal/domain"
	"pedix/internal/settlement"
)

func newPaymentService(t *testing.T) (*PaymentService, *audit.MemoryLog, *settlement.Recorder) {
	t.Helper()
	tables, err := commission.DefaultTables("0.15", "0.10")
	require.NoError(t, err)
	engine, err := commission.NewEngine(tables)
	require.NoError(t, err)
	log := audit.NewMemoryLog()
	rec := &settlement.Recorder{}
	return NewPaymentService(NewLedger(NewMemoryStore(), "BRL"), engine, rec, log), log, rec
}

func TestPaySettlesAndPaysOutCourier(t *testing.T) {
	ctx := context.Background()
	svc, log, rec := newPaymentService(t)
	_, err := svc.TopUp(ctx, "customer-1", d("200"), "manual")
	require.NoError(t, err)

	receipt, err := svc.Pay(ctx, PayInput{OrderID: "PED-10", PayerID: "customer-1", PayeeID: "courier-1", Amount: d("33.33")})
	require.NoError(t, err)
	assert.Equal(t, "3.33", receipt.Split.PlatformFee.StringFixed(2))
	assert.Equal(t, "30.00", receipt.Split.PayoutAmount.StringFixed(2))
	assert.Equal(t, "166.67", receipt.PayerBalance.StringFixed(2))

	courier, err := svc.Ledger().Balance(ctx, "courier-1")
	require.NoError(t, err)
	assert.Equal(t, "30.00", courier.StringFixed(2))

	events := rec.Events()
	require.Len(t, events, 1)
	assert.Equal(t, domain.MethodWallet, events[0].Method)
	assert.Equal(t, "PED-10", events[0].OrderID)

	for _, ev := range []string{domain.AuditWalletReserved, domain.AuditWalletConfirmed, domain.AuditWalletSettled} {
		n, err := audit.Count(ctx, log, audit.Filter{Event: ev, OrderID: "PED-10"})
		require.NoError(t, err)
		assert.Equal(t, 1, n, ev)
	}
}

func TestPayInsufficientFundsReleases(t *testing.T) {
	ctx := context.Background()
	svc, log, rec := newPaymentService(t)
	_, err := svc.TopUp(ctx, "customer-1", d("10"), "manual")
	require.NoError(t, err)

	_, err = svc.Pay(ctx, PayInput{OrderID: "PED-11", PayerID: "customer-1", Amount: d("25")})
	var ife *domain.InsufficientFundsError
	require.ErrorAs(t, err, &ife)
	assert.Equal(t, "10.00", ife.Balance.StringFixed(2))
	assert.Empty(t, rec.Events())

	n, err := audit.Count(ctx, log, audit.Filter{Event: domain.AuditWalletInsufficient})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestConfirmFailureAfterReserveReleasesInPay(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newPaymentService(t)
	_, err := svc.TopUp(ctx, "customer-1", d("100"), "manual")
	require.NoError(t, err)

	// An outstanding reservation confirmed first drains the balance under Pay's feet.
	_, err = svc.Reserve(ctx, "customer-1", d("80"), "PED-A")
	require.NoError(t, err)
	_, err = svc.Reserve(ctx, "customer-1", d("50"), "PED-B")
	require.NoError(t, err)
	_, err = svc.Confirm(ctx, "PED-A", "")
	require.NoError(t, err)

	_, err = svc.Confirm(ctx, "PED-B", "")
	var ife *domain.InsufficientFundsError
	require.ErrorAs(t, err, &ife)

	res, err := svc.Release(ctx, "PED-B")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationReleased, res.Status)
}

func TestPayRejectsSelfPayout(t *testing.T) {
	svc, _, _ := newPaymentService(t)
	_, err := svc.Pay(context.Background(), PayInput{OrderID: "PED-1", PayerID: "u", PayeeID: "u", Amount: d("1")})
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestPayWithoutWalletRatesLeavesPayerUntouched(t *testing.T) {
	ctx := context.Background()
	engine, err := commission.NewEngine(map[string]commission.RateTable{"gateway_qr": {Rate: d("0.15")}})
	require.NoError(t, err)
	log := audit.NewMemoryLog()
	rec := &settlement.Recorder{}
	svc := NewPaymentService(NewLedger(NewMemoryStore(), "BRL"), engine, rec, log)
	_, err = svc.TopUp(ctx, "customer-1", d("100"), "manual")
	require.NoError(t, err)

	_, err = svc.Pay(ctx, PayInput{OrderID: "PED-40", PayerID: "customer-1", PayeeID: "courier-1", Amount: d("40")})
	require.Error(t, err)
	assert.ErrorIs(t, err, commission.ErrNoTable)

	payer, err := svc.Ledger().Balance(ctx, "customer-1")
	require.NoError(t, err)
	assert.Equal(t, "100.00", payer.StringFixed(2))
	res, err := svc.Ledger().Reservation(ctx, "PED-40")
	require.NoError(t, err)
	assert.Equal(t, domain.ReservationReleased, res.Status)
	assert.Empty(t, rec.Events())

	n, err := audit.Count(ctx, log, audit.Filter{Event: domain.AuditWalletConfirmed, OrderID: "PED-40"})
	require.NoError(t, err)
	assert.Zero(t, n)
}
