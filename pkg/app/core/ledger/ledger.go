// Package ledger owns participant share/cash balances and the market maker's
// inventory. Every adjustment is atomic: it either applies fully or leaves the
// ledger unchanged.
//
// The ledger is not safe for concurrent use. The exchange serializes all
// access behind its own lock.
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/uhyunpark/minimarket/pkg/app/core"
)

// Ledger holds participants in registration order plus the market maker.
type Ledger struct {
	participants map[string]*Participant // name -> participant
	order        []string                // registration order
	maker        MarketMaker
}

// New creates an empty ledger with the given market maker state.
func New(maker MarketMaker) *Ledger {
	return &Ledger{
		participants: make(map[string]*Participant),
		maker:        maker,
	}
}

// Add registers a participant. Names must be unique and must not use a
// reserved counterparty name.
func (l *Ledger) Add(p Participant) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidRequest, err)
	}
	if core.IsReservedName(p.Name) {
		return fmt.Errorf("%w: reserved participant name %q", core.ErrInvalidRequest, p.Name)
	}
	if _, exists := l.participants[p.Name]; exists {
		return fmt.Errorf("%w: participant %q already registered", core.ErrInvalidRequest, p.Name)
	}
	cp := p
	l.participants[p.Name] = &cp
	l.order = append(l.order, p.Name)
	return nil
}

// Get returns a copy of the participant's balances.
func (l *Ledger) Get(name string) (Participant, error) {
	p, ok := l.participants[name]
	if !ok {
		return Participant{}, fmt.Errorf("participant %q: %w", name, core.ErrNotFound)
	}
	return *p, nil
}

// List returns copies of all participants in registration order.
func (l *Ledger) List() []Participant {
	out := make([]Participant, 0, len(l.order))
	for _, name := range l.order {
		out = append(out, *l.participants[name])
	}
	return out
}

// Len returns the number of registered participants.
func (l *Ledger) Len() int { return len(l.order) }

// Maker returns the market maker's current state.
func (l *Ledger) Maker() MarketMaker { return l.maker }

// CreditShares adds delta shares to a participant.
func (l *Ledger) CreditShares(name string, delta int64) error {
	return l.apply(func(tx *Tx) error { return tx.CreditShares(name, delta) })
}

// DebitShares removes delta shares from a participant.
// Fails with ErrInsufficientShares (state unchanged) if the balance would go negative.
func (l *Ledger) DebitShares(name string, delta int64) error {
	return l.apply(func(tx *Tx) error { return tx.DebitShares(name, delta) })
}

// CreditCash adds amount to a participant's cash.
func (l *Ledger) CreditCash(name string, amount decimal.Decimal) error {
	return l.apply(func(tx *Tx) error { return tx.CreditCash(name, amount) })
}

// DebitCash removes amount from a participant's cash.
// Fails with ErrInsufficientFunds (state unchanged) if the balance would go negative.
func (l *Ledger) DebitCash(name string, amount decimal.Decimal) error {
	return l.apply(func(tx *Tx) error { return tx.DebitCash(name, amount) })
}

func (l *Ledger) apply(fn func(*Tx) error) error {
	tx := l.Begin()
	if err := fn(tx); err != nil {
		return err
	}
	tx.Commit()
	return nil
}
