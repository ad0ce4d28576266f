package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/uhyunpark/minimarket/pkg/app/core/issuance"
	"github.com/uhyunpark/minimarket/pkg/app/core/ledger"
	"github.com/uhyunpark/minimarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/minimarket/pkg/app/core/trade"
)

// MemStore keeps state in process memory. Used for the default backend,
// the simulator and tests.
type MemStore struct {
	mu           sync.Mutex
	order        []string
	participants map[string]ledger.Participant
	maker        *ledger.MarketMaker
	offering     *issuance.Offering
	orders       map[uint64]orderbook.Order
	trades       []trade.Record
	nextOrderID  uint64
	lastTradeSeq uint64
	lastPrice    int64
	closed       bool
}

func NewMemStore() *MemStore {
	return &MemStore{
		participants: make(map[string]ledger.Participant),
		orders:       make(map[uint64]orderbook.Order),
	}
}

func (s *MemStore) Load(_ context.Context) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Snapshot{}, ErrClosed
	}

	snap := Snapshot{
		NextOrderID:   s.nextOrderID,
		LastTradeSeq:  s.lastTradeSeq,
		LastBookPrice: s.lastPrice,
	}
	for _, name := range s.order {
		snap.Participants = append(snap.Participants, s.participants[name])
	}
	if s.maker != nil {
		m := *s.maker
		snap.Maker = &m
	}
	if s.offering != nil {
		o := *s.offering
		snap.Offering = &o
	}
	for _, o := range s.orders {
		snap.Orders = append(snap.Orders, o)
	}
	sort.Slice(snap.Orders, func(i, j int) bool { return snap.Orders[i].ID < snap.Orders[j].ID })
	return snap, nil
}

func (s *MemStore) Commit(_ context.Context, cs Changeset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	for _, p := range cs.Registered {
		if _, ok := s.participants[p.Name]; !ok {
			s.order = append(s.order, p.Name)
		}
		s.participants[p.Name] = p
	}
	for _, p := range cs.Participants {
		s.participants[p.Name] = p
	}
	if cs.Maker != nil {
		m := *cs.Maker
		s.maker = &m
	}
	if cs.Offering != nil {
		o := *cs.Offering
		s.offering = &o
	}
	for _, o := range cs.OrdersUpsert {
		s.orders[o.ID] = o
	}
	for _, id := range cs.OrdersRemove {
		delete(s.orders, id)
	}
	if cs.NextOrderID != 0 {
		s.nextOrderID = cs.NextOrderID
	}
	s.trades = append(s.trades, cs.Trades...)
	if cs.LastTradeSeq != 0 {
		s.lastTradeSeq = cs.LastTradeSeq
	}
	if cs.LastBookPrice != 0 {
		s.lastPrice = cs.LastBookPrice
	}
	return nil
}

func (s *MemStore) RecentTrades(_ context.Context, limit int) ([]trade.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if limit <= 0 {
		return []trade.Record{}, nil
	}

	out := make([]trade.Record, 0, min(limit, len(s.trades)))
	for i := len(s.trades) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.trades[i])
	}
	return out, nil
}

func (s *MemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*MemStore)(nil)
