package ledger

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/minimarket/pkg/app/core"
)

// Tx stages balance changes against a ledger. Nothing is visible in the
// ledger until Commit; an abandoned Tx leaves the ledger untouched.
type Tx struct {
	l          *Ledger
	dirty      map[string]*Participant
	maker      MarketMaker
	makerDirty bool
	committed  bool
}

// Begin starts a staged transaction.
func (l *Ledger) Begin() *Tx {
	return &Tx{
		l:     l,
		dirty: make(map[string]*Participant),
		maker: l.maker,
	}
}

// participant returns the staged copy for name, copying it on first touch.
func (tx *Tx) participant(name string) (*Participant, error) {
	if p, ok := tx.dirty[name]; ok {
		return p, nil
	}
	p, ok := tx.l.participants[name]
	if !ok {
		return nil, fmt.Errorf("participant %q: %w", name, core.ErrNotFound)
	}
	cp := *p
	tx.dirty[name] = &cp
	return &cp, nil
}

// Get returns the staged view of a participant.
func (tx *Tx) Get(name string) (Participant, error) {
	if p, ok := tx.dirty[name]; ok {
		return *p, nil
	}
	return tx.l.Get(name)
}

// CreditShares adds delta shares.
func (tx *Tx) CreditShares(name string, delta int64) error {
	if delta < 0 {
		return fmt.Errorf("%w: negative share credit %d", core.ErrInvalidRequest, delta)
	}
	p, err := tx.participant(name)
	if err != nil {
		return err
	}
	p.Shares += delta
	return nil
}

// DebitShares removes delta shares, rejecting the debit if it would overdraw.
func (tx *Tx) DebitShares(name string, delta int64) error {
	if delta < 0 {
		return fmt.Errorf("%w: negative share debit %d", core.ErrInvalidRequest, delta)
	}
	p, err := tx.participant(name)
	if err != nil {
		return err
	}
	if p.Shares < delta {
		return fmt.Errorf("participant %q has %d shares, needs %d: %w", name, p.Shares, delta, core.ErrInsufficientShares)
	}
	p.Shares -= delta
	return nil
}

// CreditCash adds amount to cash.
func (tx *Tx) CreditCash(name string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative cash credit %s", core.ErrInvalidRequest, amount)
	}
	p, err := tx.participant(name)
	if err != nil {
		return err
	}
	p.Cash = p.Cash.Add(amount)
	return nil
}

// DebitCash removes amount from cash, rejecting the debit if it would overdraw.
func (tx *Tx) DebitCash(name string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: negative cash debit %s", core.ErrInvalidRequest, amount)
	}
	p, err := tx.participant(name)
	if err != nil {
		return err
	}
	if p.Cash.LessThan(amount) {
		return fmt.Errorf("participant %q has %s cash, needs %s: %w", name, p.Cash, amount, core.ErrInsufficientFunds)
	}
	p.Cash = p.Cash.Sub(amount)
	return nil
}

// Maker returns the staged market maker state.
func (tx *Tx) Maker() MarketMaker { return tx.maker }

// AdjustMaker applies signed deltas to the market maker's inventory and cash.
// The adjustment is rejected as a whole if either balance would go negative.
func (tx *Tx) AdjustMaker(inventoryDelta int64, cashDelta decimal.Decimal) error {
	next := MarketMaker{
		Inventory: tx.maker.Inventory + inventoryDelta,
		Cash:      tx.maker.Cash.Add(cashDelta),
	}
	if next.Inventory < 0 {
		return fmt.Errorf("market maker has %d shares, needs %d: %w", tx.maker.Inventory, -inventoryDelta, core.ErrInsufficientShares)
	}
	if next.Cash.IsNegative() {
		return fmt.Errorf("market maker has %s cash, needs %s: %w", tx.maker.Cash, cashDelta.Neg(), core.ErrInsufficientFunds)
	}
	tx.maker = next
	tx.makerDirty = true
	return nil
}

// Changes lists the participants touched by this transaction (sorted by name)
// and the market maker state if it changed.
func (tx *Tx) Changes() ([]Participant, *MarketMaker) {
	names := make([]string, 0, len(tx.dirty))
	for name := range tx.dirty {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Participant, 0, len(names))
	for _, name := range names {
		out = append(out, *tx.dirty[name])
	}
	if !tx.makerDirty {
		return out, nil
	}
	m := tx.maker
	return out, &m
}

// Commit swaps the staged balances into the ledger. Commit is idempotent.
func (tx *Tx) Commit() {
	if tx.committed {
		return
	}
	for name, p := range tx.dirty {
		*tx.l.participants[name] = *p
	}
	if tx.makerDirty {
		tx.l.maker = tx.maker
	}
	tx.committed = true
}
