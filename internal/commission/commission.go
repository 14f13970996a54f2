// Package commission splits a gross payment into platform fee and payout.
package commission

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Split is derived from a gross amount and never stored on its own.
type Split struct {
	GrossAmount     decimal.Decimal `json:"gross_amount"`
	PlatformFeeRate decimal.Decimal `json:"platform_fee_rate"`
	PlatformFee     decimal.Decimal `json:"platform_fee"`
	PayoutAmount    decimal.Decimal `json:"payout_amount"`
}

// Tier overrides the base rate for gross amounts at or above MinAmount.
type Tier struct {
	MinAmount decimal.Decimal `yaml:"min_amount"`
	Rate      decimal.Decimal `yaml:"rate"`
}

// RateTable holds the fee rate for one payment path.
type RateTable struct {
	Rate  decimal.Decimal `yaml:"rate"`
	Tiers []Tier          `yaml:"tiers"`
}

// RateFor returns the rate of the highest tier whose minimum is <= gross, or the base rate.
func (t RateTable) RateFor(gross decimal.Decimal) decimal.Decimal {
	rate := t.Rate
	for _, tier := range t.Tiers {
		if gross.GreaterThanOrEqual(tier.MinAmount) {
			rate = tier.Rate
		}
	}
	return rate
}

func (t RateTable) validate() error {
	if t.Rate.IsNegative() || t.Rate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("rate %s out of range [0,1]", t.Rate)
	}
	for _, tier := range t.Tiers {
		if tier.Rate.IsNegative() || tier.Rate.GreaterThan(decimal.NewFromInt(1)) {
			return fmt.Errorf("tier rate %s out of range [0,1]", tier.Rate)
		}
	}
	return nil
}

var ErrNoTable = errors.New("no commission table for")

// Engine computes splits against per-path rate tables.
type Engine struct {
	tables map[string]RateTable
}

func NewEngine(tables map[string]RateTable) (*Engine, error) {
	e := &Engine{tables: make(map[string]RateTable, len(tables))}
	for path, t := range tables {
		if err := t.validate(); err != nil {
			return nil, fmt.Errorf("commission table %q: %w", path, err)
		}
		tiers := append([]Tier(nil), t.Tiers...)
		sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinAmount.LessThan(tiers[j].MinAmount) })
		t.Tiers = tiers
		e.tables[path] = t
	}
	return e, nil
}

// DefaultTables builds the two standard paths from plain rate strings.
func DefaultTables(gatewayQRRate, walletRate string) (map[string]RateTable, error) {
	qr, err := decimal.NewFromString(gatewayQRRate)
	if err != nil {
		return nil, fmt.Errorf("gateway_qr rate: %w", err)
	}
	w, err := decimal.NewFromString(walletRate)
	if err != nil {
		return nil, fmt.Errorf("wallet rate: %w", err)
	}
	return map[string]RateTable{
		"gateway_qr": {Rate: qr},
		"wallet":     {Rate: w},
	}, nil
}

// LoadFile reads tables keyed by path name from YAML:
//
//	gateway_qr:
//	  rate: "0.15"
//	  tiers:
//	    - {min_amount: "1000", rate: "0.12"}
func LoadFile(path string) (map[string]RateTable, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var tables map[string]RateTable
	if err := yaml.Unmarshal(raw, &tables); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return tables, nil
}

// Compute returns fee = round2(gross*rate) and payout = gross - fee, so the parts always sum
// to gross exactly.
func Compute(gross decimal.Decimal, table RateTable) Split {
	rate := table.RateFor(gross)
	fee := gross.Mul(rate).Round(2)
	return Split{
		GrossAmount:     gross,
		PlatformFeeRate: rate,
		PlatformFee:     fee,
		PayoutAmount:    gross.Sub(fee),
	}
}

// Split computes against the table registered for path.
func (e *Engine) Split(path string, gross decimal.Decimal) (Split, error) {
	t, ok := e.tables[path]
	if !ok {
		return Split{}, fmt.Errorf("%w %q", ErrNoTable, path)
	}
	return Compute(gross, t), nil
}

// Require fails unless every path has a table, so a rates file missing a payment path is
// caught at startup rather than mid-payment.
func (e *Engine) Require(paths ...string) error {
	for _, p := range paths {
		if _, ok := e.tables[p]; !ok {
			return fmt.Errorf("%w %q", ErrNoTable, p)
		}
	}
	return nil
}
