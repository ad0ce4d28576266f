package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/minimarket/pkg/app/core/issuance"
	"github.com/uhyunpark/minimarket/pkg/app/core/ledger"
	"github.com/uhyunpark/minimarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/minimarket/pkg/app/core/trade"
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// Load reads the full market state.
func (s *PebbleStore) Load(_ context.Context) (Snapshot, error) {
	var snap Snapshot

	// Registration order first, then balances by name
	var names []string
	if err := s.scan([]byte(prefixRegister), func(_, v []byte) error {
		names = append(names, string(v))
		return nil
	}); err != nil {
		return Snapshot{}, err
	}
	for _, name := range names {
		var p ledger.Participant
		found, err := s.get(accountKey(name), &p)
		if err != nil {
			return Snapshot{}, err
		}
		if !found {
			return Snapshot{}, fmt.Errorf("participant %q registered but missing", name)
		}
		snap.Participants = append(snap.Participants, p)
	}

	var maker ledger.MarketMaker
	if found, err := s.get(keyMaker, &maker); err != nil {
		return Snapshot{}, err
	} else if found {
		snap.Maker = &maker
	}

	var off issuance.Offering
	if found, err := s.get(keyOffering, &off); err != nil {
		return Snapshot{}, err
	} else if found {
		snap.Offering = &off
	}

	if err := s.scan([]byte(prefixOrder), func(_, v []byte) error {
		var o orderbook.Order
		if err := decodeJSON(v, &o); err != nil {
			return err
		}
		snap.Orders = append(snap.Orders, o)
		return nil
	}); err != nil {
		return Snapshot{}, err
	}

	var err error
	if snap.NextOrderID, err = s.counter(keyNextOrderID); err != nil {
		return Snapshot{}, err
	}
	if snap.LastTradeSeq, err = s.counter(keyLastTradeSeq); err != nil {
		return Snapshot{}, err
	}
	lastPrice, err := s.counter(keyLastBookPrice)
	if err != nil {
		return Snapshot{}, err
	}
	snap.LastBookPrice = int64(lastPrice)
	return snap, nil
}

// Commit writes the changeset in one synced batch.
func (s *PebbleStore) Commit(_ context.Context, cs Changeset) error {
	batch := s.db.NewBatch()
	defer batch.Close()

	if len(cs.Registered) > 0 {
		ordinal, err := s.registeredCount()
		if err != nil {
			return err
		}
		for _, p := range cs.Registered {
			if err := batch.Set(registerKey(ordinal), []byte(p.Name), nil); err != nil {
				return err
			}
			ordinal++
			if err := setJSON(batch, accountKey(p.Name), p); err != nil {
				return err
			}
		}
	}
	for _, p := range cs.Participants {
		if err := setJSON(batch, accountKey(p.Name), p); err != nil {
			return err
		}
	}
	if cs.Maker != nil {
		if err := setJSON(batch, keyMaker, cs.Maker); err != nil {
			return err
		}
	}
	if cs.Offering != nil {
		if err := setJSON(batch, keyOffering, cs.Offering); err != nil {
			return err
		}
	}
	for _, o := range cs.OrdersUpsert {
		if err := setJSON(batch, orderKey(o.ID), o); err != nil {
			return err
		}
	}
	for _, id := range cs.OrdersRemove {
		if err := batch.Delete(orderKey(id), nil); err != nil {
			return err
		}
	}
	for _, t := range cs.Trades {
		if err := setJSON(batch, tradeKey(t.Seq), t); err != nil {
			return err
		}
	}
	if cs.NextOrderID != 0 {
		if err := batch.Set(keyNextOrderID, encodeUint(cs.NextOrderID), nil); err != nil {
			return err
		}
	}
	if cs.LastTradeSeq != 0 {
		if err := batch.Set(keyLastTradeSeq, encodeUint(cs.LastTradeSeq), nil); err != nil {
			return err
		}
	}
	if cs.LastBookPrice != 0 {
		if err := batch.Set(keyLastBookPrice, encodeUint(uint64(cs.LastBookPrice)), nil); err != nil {
			return err
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// RecentTrades walks the trade prefix backwards from the highest sequence.
func (s *PebbleStore) RecentTrades(_ context.Context, limit int) ([]trade.Record, error) {
	trades := []trade.Record{}
	if limit <= 0 {
		return trades, nil
	}

	prefix := []byte(prefixTrade)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	for iter.Last(); iter.Valid() && len(trades) < limit; iter.Prev() {
		var t trade.Record
		if err := decodeJSON(iter.Value(), &t); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, iter.Error()
}

func (s *PebbleStore) get(key []byte, v any) (bool, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %q: %w", key, err)
	}
	defer closer.Close()
	return true, decodeJSON(val, v)
}

func (s *PebbleStore) counter(key []byte) (uint64, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %q: %w", key, err)
	}
	defer closer.Close()
	return decodeUint(val)
}

func (s *PebbleStore) scan(prefix []byte, fn func(k, v []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// registeredCount returns the next registration ordinal.
func (s *PebbleStore) registeredCount() (uint64, error) {
	prefix := []byte(prefixRegister)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	if !iter.Last() {
		return 0, iter.Error()
	}
	return seqFromKey(prefixRegister, iter.Key()) + 1, nil
}

func setJSON(batch *pebble.Batch, key []byte, v any) error {
	val, err := encodeJSON(v)
	if err != nil {
		return err
	}
	return batch.Set(key, val, nil)
}

var _ Store = (*PebbleStore)(nil)
