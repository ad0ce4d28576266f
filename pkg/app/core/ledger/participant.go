package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Participant is a trader known to the market.
// Shares and Cash never go negative as a result of an engine operation.
type Participant struct {
	Name   string          `json:"name"`
	Shares int64           `json:"shares"`
	Cash   decimal.Decimal `json:"money"`
}

// Validate checks balance invariants
func (p Participant) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("participant name cannot be empty")
	}
	if p.Shares < 0 {
		return fmt.Errorf("participant %s: negative shares: %d", p.Name, p.Shares)
	}
	if p.Cash.IsNegative() {
		return fmt.Errorf("participant %s: negative cash: %s", p.Name, p.Cash)
	}
	return nil
}

// MarketMaker is the standing counterparty's own book: share inventory and cash.
type MarketMaker struct {
	Inventory int64           `json:"inventory"`
	Cash      decimal.Decimal `json:"cash"`
}

// Validate checks market maker invariants
func (m MarketMaker) Validate() error {
	if m.Inventory < 0 {
		return fmt.Errorf("market maker: negative inventory: %d", m.Inventory)
	}
	if m.Cash.IsNegative() {
		return fmt.Errorf("market maker: negative cash: %s", m.Cash)
	}
	return nil
}
