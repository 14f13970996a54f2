package commission

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestComputeExactAmounts(t *testing.T) {
	s := Compute(d("1000"), RateTable{Rate: d("0.15")})
	assert.True(t, s.PlatformFee.Equal(d("150.00")), s.PlatformFee.String())
	assert.True(t, s.PayoutAmount.Equal(d("850.00")), s.PayoutAmount.String())
}

func TestComputeSumInvariant(t *testing.T) {
	rates := []string{"0.15", "0.10", "0.07", "0.333", "0.0125"}
	amounts := []string{"33.33", "0.01", "0.05", "1", "10.10", "99.99", "100.005", "12345.67", "1000000"}

	for _, r := range rates {
		for _, a := range amounts {
			s := Compute(d(a), RateTable{Rate: d(r)})
			assert.True(t, s.PlatformFee.Add(s.PayoutAmount).Equal(d(a)), "rate=%s gross=%s", r, a)
			assert.True(t, s.PlatformFee.Equal(s.PlatformFee.Round(2)), "fee not rounded: %s", s.PlatformFee)
			assert.False(t, s.PayoutAmount.IsNegative())
		}
	}
}

func TestCompute3333(t *testing.T) {
	s := Compute(d("33.33"), RateTable{Rate: d("0.15")})
	assert.Equal(t, "5.00", s.PlatformFee.StringFixed(2))
	assert.Equal(t, "28.33", s.PayoutAmount.StringFixed(2))
	assert.True(t, s.PlatformFee.Add(s.PayoutAmount).Equal(d("33.33")))
}

func TestRateForTiers(t *testing.T) {
	e, err := NewEngine(map[string]RateTable{
		"gateway_qr": {Rate: d("0.15"), Tiers: []Tier{
			{MinAmount: d("5000"), Rate: d("0.08")},
			{MinAmount: d("1000"), Rate: d("0.12")},
		}},
	})
	require.NoError(t, err)

	cases := []struct {
		gross string
		rate  string
	}{
		{"999.99", "0.15"},
		{"1000", "0.12"},
		{"4999", "0.12"},
		{"5000", "0.08"},
	}
	for _, tc := range cases {
		s, err := e.Split("gateway_qr", d(tc.gross))
		require.NoError(t, err)
		assert.True(t, s.PlatformFeeRate.Equal(d(tc.rate)), "gross=%s got %s", tc.gross, s.PlatformFeeRate)
	}
}

func TestEngineUnknownPath(t *testing.T) {
	e, err := NewEngine(nil)
	require.NoError(t, err)
	_, err = e.Split("crypto", d("10"))
	assert.Error(t, err)
}

func TestNewEngineRejectsBadRate(t *testing.T) {
	_, err := NewEngine(map[string]RateTable{"wallet": {Rate: d("1.5")}})
	assert.Error(t, err)
}

func TestDefaultTables(t *testing.T) {
	tables, err := DefaultTables("0.15", "0.10")
	require.NoError(t, err)
	e, err := NewEngine(tables)
	require.NoError(t, err)

	s, err := e.Split("wallet", d("200"))
	require.NoError(t, err)
	assert.Equal(t, "20.00", s.PlatformFee.StringFixed(2))

	_, err = DefaultTables("abc", "0.10")
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rates.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
gateway_qr:
  rate: 0.15
  tiers:
    - min_amount: 1000
      rate: "0.12"
wallet:
  rate: "0.10"
`), 0o600))

	tables, err := LoadFile(path)
	require.NoError(t, err)
	require.Contains(t, tables, "gateway_qr")
	assert.True(t, tables["gateway_qr"].Rate.Equal(d("0.15")))
	require.Len(t, tables["gateway_qr"].Tiers, 1)
	assert.True(t, tables["gateway_qr"].Tiers[0].MinAmount.Equal(d("1000")))
	assert.True(t, tables["wallet"].Rate.Equal(d("0.10")))
}

func TestRequireReportsMissingPath(t *testing.T) {
	e, err := NewEngine(map[string]RateTable{"gateway_qr": {Rate: d("0.15")}})
	require.NoError(t, err)

	assert.NoError(t, e.Require("gateway_qr"))
	err = e.Require("gateway_qr", "wallet")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoTable)
	assert.Contains(t, err.Error(), `"wallet"`)
}
