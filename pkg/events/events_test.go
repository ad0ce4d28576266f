package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/uhyunpark/minimarket/pkg/app/core"
	"github.com/uhyunpark/minimarket/pkg/app/core/trade"
	"github.com/uhyunpark/minimarket/pkg/metrics"
)

type fakePublisher struct {
	name string
	fail bool

	mu   sync.Mutex
	seen []uint64
}

func (f *fakePublisher) Name() string { return f.name }

func (f *fakePublisher) Publish(_ context.Context, t trade.Record) error {
	if f.fail {
		return errors.New("sink down")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, t.Seq)
	return nil
}

func (f *fakePublisher) Close() error { return nil }

func (f *fakePublisher) Seen() []uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint64(nil), f.seen...)
}

func record(seq uint64) trade.Record {
	t := trade.New(trade.KindMarketMaker, "Olin", core.MarketMakerID, 1, decimal.NewFromInt(10))
	t.Seq = seq
	return t
}

func TestDispatcherFansOutInOrder(t *testing.T) {
	a := &fakePublisher{name: "a"}
	b := &fakePublisher{name: "b"}
	broken := &fakePublisher{name: "broken", fail: true}
	m := metrics.New()

	d := NewDispatcher(zap.NewNop().Sugar(), m, 16, a, broken, b)
	d.Start(context.Background())
	for seq := uint64(1); seq <= 5; seq++ {
		d.Enqueue(record(seq))
	}
	require.NoError(t, d.Close())

	want := []uint64{1, 2, 3, 4, 5}
	assert.Equal(t, want, a.Seen())
	assert.Equal(t, want, b.Seen(), "a failing sink does not block the others")
	assert.Equal(t, 5.0, testutil.ToFloat64(m.PublishErrors.WithLabelValues("broken")))
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	m := metrics.New()
	d := NewDispatcher(zap.NewNop().Sugar(), m, 1, &fakePublisher{name: "a"})

	// not started: the queue holds one item, the rest are dropped
	d.Enqueue(record(1))
	d.Enqueue(record(2))
	d.Enqueue(record(3))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.PublishDrops))
}

func TestDispatcherEnqueueAfterClose(t *testing.T) {
	m := metrics.New()
	a := &fakePublisher{name: "a"}
	d := NewDispatcher(zap.NewNop().Sugar(), m, 4, a)
	d.Start(context.Background())
	d.Enqueue(record(1))
	require.NoError(t, d.Close())

	// late hooks from handlers still running after shutdown
	require.NotPanics(t, func() { d.Enqueue(record(2)) })
	require.NoError(t, d.Close())

	assert.Equal(t, []uint64{1}, a.Seen())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PublishDrops))
}

func TestEncodeAndSubject(t *testing.T) {
	r := record(7)
	b, err := encode(r)
	require.NoError(t, err)

	var ev TradeEvent
	require.NoError(t, json.Unmarshal(b, &ev))
	assert.Equal(t, "trade.market_maker", ev.EventType)
	assert.Equal(t, uint64(7), ev.Trade.Seq)
	assert.Equal(t, "minimarket.trades.market_maker", Subject("minimarket.trades", r))
}
