// Package pricing derives the market-clearing share price from the issuer's
// remaining inventory.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Model prices a share as K / remaining, floored at Floor, with a fixed
// Ceiling once the issue is sold out.
type Model struct {
	K       decimal.Decimal
	Ceiling decimal.Decimal
	Floor   decimal.Decimal
}

// DefaultModel mirrors the reference constants: K=100, ceiling 100, floor 1.
func DefaultModel() Model {
	return Model{
		K:       decimal.NewFromInt(100),
		Ceiling: decimal.NewFromInt(100),
		Floor:   decimal.NewFromInt(1),
	}
}

// Validate checks model parameter sanity
func (m Model) Validate() error {
	if !m.K.IsPositive() {
		return fmt.Errorf("price constant K must be positive")
	}
	if !m.Floor.IsPositive() {
		return fmt.Errorf("price floor must be positive")
	}
	if m.Ceiling.LessThan(m.Floor) {
		return fmt.Errorf("price ceiling (%s) below floor (%s)", m.Ceiling, m.Floor)
	}
	return nil
}

// AdjustPrice returns the price for the next unit given the shares still
// held by the issuer. Non-increasing in remaining.
func (m Model) AdjustPrice(remaining int64) decimal.Decimal {
	if remaining <= 0 {
		return m.Ceiling
	}
	return decimal.Max(m.Floor, m.K.Div(decimal.NewFromInt(remaining)))
}
