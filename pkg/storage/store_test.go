package storage

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uhyunpark/minimarket/pkg/app/core"
	"github.com/uhyunpark/minimarket/pkg/app/core/issuance"
	"github.com/uhyunpark/minimarket/pkg/app/core/ledger"
	"github.com/uhyunpark/minimarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/minimarket/pkg/app/core/trade"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func stamped(seq uint64, kind trade.Kind, buyer, seller string, qty int64, price string) trade.Record {
	t := trade.New(kind, buyer, seller, qty, dec(price))
	t.Seq = seq
	t.Timestamp = time.Date(2024, 5, 1, 12, 0, int(seq), 0, time.UTC)
	return t
}

// exerciseStore runs the same commit/load sequence against any backend.
func exerciseStore(t *testing.T, s Store) {
	ctx := context.Background()

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.True(t, snap.Empty())

	maker := ledger.MarketMaker{Inventory: 50, Cash: dec("1000")}
	off := issuance.NewOffering(100, dec("10"))
	require.NoError(t, s.Commit(ctx, Changeset{
		Registered: []ledger.Participant{
			{Name: "Olin", Cash: dec("1000")},
			{Name: "Mig", Cash: dec("1000")},
			{Name: "Albert", Cash: dec("1000")},
		},
		Maker:       &maker,
		Offering:    &off,
		NextOrderID: 1,
	}))

	// IPO fill for Mig
	off.Remaining, off.Proceeds, off.Price = 99, dec("10"), dec("10")
	ipo := stamped(1, trade.KindIPO, "Mig", core.IssuerID, 1, "10")
	require.NoError(t, s.Commit(ctx, Changeset{
		Participants: []ledger.Participant{{Name: "Mig", Shares: 1, Cash: dec("990")}},
		Offering:     &off,
		Trades:       []trade.Record{ipo},
		LastTradeSeq: 1,
	}))

	// Two resting orders, then one removed by a fill
	buy := orderbook.Order{ID: 1, Side: orderbook.Buy, Owner: "1", Price: 10000, Quantity: 10, Remaining: 10}
	sell := orderbook.Order{ID: 2, Side: orderbook.Sell, Owner: "2", Price: 10100, Quantity: 5, Remaining: 5}
	require.NoError(t, s.Commit(ctx, Changeset{OrdersUpsert: []orderbook.Order{buy, sell}, NextOrderID: 3}))

	buy.Remaining = 4
	book := stamped(2, trade.KindOrderBook, "1", "3", 6, "100")
	book.BuyOrderID, book.SellOrderID = 1, 3
	require.NoError(t, s.Commit(ctx, Changeset{
		OrdersUpsert:  []orderbook.Order{buy},
		OrdersRemove:  []uint64{2},
		NextOrderID:   4,
		Trades:        []trade.Record{book},
		LastTradeSeq:  2,
		LastBookPrice: 10000,
	}))

	snap, err = s.Load(ctx)
	require.NoError(t, err)
	require.False(t, snap.Empty())

	names := []string{}
	for _, p := range snap.Participants {
		names = append(names, p.Name)
	}
	assert.Equal(t, []string{"Olin", "Mig", "Albert"}, names, "registration order survives")
	assert.Equal(t, int64(1), snap.Participants[1].Shares)
	assert.True(t, snap.Participants[1].Cash.Equal(dec("990")))

	require.NotNil(t, snap.Maker)
	assert.Equal(t, int64(50), snap.Maker.Inventory)
	require.NotNil(t, snap.Offering)
	assert.Equal(t, int64(99), snap.Offering.Remaining)
	assert.True(t, snap.Offering.Proceeds.Equal(dec("10")))

	require.Len(t, snap.Orders, 1)
	assert.Equal(t, uint64(1), snap.Orders[0].ID)
	assert.Equal(t, orderbook.Buy, snap.Orders[0].Side)
	assert.Equal(t, int64(4), snap.Orders[0].Remaining)
	assert.Equal(t, uint64(4), snap.NextOrderID)
	assert.Equal(t, uint64(2), snap.LastTradeSeq)
	assert.Equal(t, int64(10000), snap.LastBookPrice)

	recent, err := s.RecentTrades(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, uint64(2), recent[0].Seq, "newest first")
	assert.Equal(t, trade.KindOrderBook, recent[0].Kind)
	assert.Equal(t, uint64(3), recent[0].SellOrderID)
	assert.True(t, recent[0].Total.Equal(dec("600")))
	assert.Equal(t, ipo.ID, recent[1].ID)

	recent, err = s.RecentTrades(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, recent, 1)

	recent, err = s.RecentTrades(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestMemStore(t *testing.T) {
	s := NewMemStore()
	exerciseStore(t, s)

	require.NoError(t, s.Close())
	_, err := s.Load(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestPebbleStore(t *testing.T) {
	s, err := NewPebbleStore(filepath.Join(t.TempDir(), "market"))
	require.NoError(t, err)
	defer s.Close()
	exerciseStore(t, s)
}

func TestPebbleStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "market")
	ctx := context.Background()

	s, err := NewPebbleStore(path)
	require.NoError(t, err)
	off := issuance.NewOffering(10, dec("10"))
	require.NoError(t, s.Commit(ctx, Changeset{
		Registered: []ledger.Participant{{Name: "Zed", Cash: dec("5")}},
		Offering:   &off,
	}))
	require.NoError(t, s.Close())

	s, err = NewPebbleStore(path)
	require.NoError(t, err)
	defer s.Close()

	// later registrations append after existing ones
	require.NoError(t, s.Commit(ctx, Changeset{Registered: []ledger.Participant{{Name: "Amy"}}}))
	snap, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Participants, 2)
	assert.Equal(t, "Zed", snap.Participants[0].Name)
	assert.Equal(t, "Amy", snap.Participants[1].Name)
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("MINIMARKET_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("MINIMARKET_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	s, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer s.Close()

	_, err = s.pool.Exec(ctx, `TRUNCATE people_to_shares, market_maker, offering, buy_orders, sell_orders, transactions, market_meta`)
	require.NoError(t, err)
	exerciseStore(t, s)
}

func TestChangesetIsZero(t *testing.T) {
	assert.True(t, Changeset{}.IsZero())
	assert.False(t, Changeset{NextOrderID: 1}.IsZero())
	assert.False(t, Changeset{Trades: []trade.Record{{}}}.IsZero())
}

func TestFileJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.jsonl")
	j, err := NewFileJournal(path)
	require.NoError(t, err)

	require.NoError(t, j.Append(stamped(1, trade.KindIPO, "Olin", core.IssuerID, 1, "10")))
	require.NoError(t, j.Append(stamped(2, trade.KindIPO, "Olin", core.IssuerID, 1, "10.1")))
	require.NoError(t, j.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	lines := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines++
	}
	assert.Equal(t, 2, lines)
}
