// Package storage persists market state. Every backend applies a Changeset
// atomically: either all of it is durable or none of it is.
package storage

import (
	"context"
	"errors"

	"github.com/uhyunpark/minimarket/pkg/app/core/issuance"
	"github.com/uhyunpark/minimarket/pkg/app/core/ledger"
	"github.com/uhyunpark/minimarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/minimarket/pkg/app/core/trade"
)

// Store is the persistence boundary of the exchange.
type Store interface {
	// Load returns the persisted state. An empty store returns a Snapshot
	// whose Empty method reports true.
	Load(ctx context.Context) (Snapshot, error)
	// Commit durably applies cs as a single unit.
	Commit(ctx context.Context, cs Changeset) error
	// RecentTrades returns up to limit trades, newest first.
	RecentTrades(ctx context.Context, limit int) ([]trade.Record, error)
	Close() error
}

// Snapshot is the full persisted market state.
type Snapshot struct {
	Participants  []ledger.Participant // registration order
	Maker         *ledger.MarketMaker
	Offering      *issuance.Offering
	Orders        []orderbook.Order // resting orders
	NextOrderID   uint64
	LastTradeSeq  uint64
	LastBookPrice int64
}

// Empty reports whether nothing has been committed yet.
func (s Snapshot) Empty() bool { return s.Offering == nil }

// Changeset is everything one engine operation changed.
// Nil pointers and zero counters mean "unchanged".
type Changeset struct {
	Registered    []ledger.Participant // new participants, in registration order
	Participants  []ledger.Participant // balance updates
	Maker         *ledger.MarketMaker
	Offering      *issuance.Offering
	OrdersUpsert  []orderbook.Order
	OrdersRemove  []uint64
	NextOrderID   uint64
	Trades        []trade.Record
	LastTradeSeq  uint64
	LastBookPrice int64
}

// IsZero reports whether the changeset carries nothing to write.
func (cs Changeset) IsZero() bool {
	return len(cs.Registered) == 0 && len(cs.Participants) == 0 &&
		cs.Maker == nil && cs.Offering == nil &&
		len(cs.OrdersUpsert) == 0 && len(cs.OrdersRemove) == 0 &&
		cs.NextOrderID == 0 && len(cs.Trades) == 0 &&
		cs.LastTradeSeq == 0 && cs.LastBookPrice == 0
}

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")
