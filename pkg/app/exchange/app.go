// Package exchange is the market engine: it owns every piece of mutable
// market state and applies each operation atomically.
//
// Operations stage their changes on copies (a ledger transaction, a copy of
// the offering, a clone of the order book), commit the resulting changeset
// to the store, and only then swap the staged state in. A store failure
// leaves memory exactly as it was.
package exchange

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/minimarket/params"
	"github.com/uhyunpark/minimarket/pkg/app/core"
	"github.com/uhyunpark/minimarket/pkg/app/core/issuance"
	"github.com/uhyunpark/minimarket/pkg/app/core/ledger"
	"github.com/uhyunpark/minimarket/pkg/app/core/marketmaker"
	"github.com/uhyunpark/minimarket/pkg/app/core/orderbook"
	"github.com/uhyunpark/minimarket/pkg/app/core/pricing"
	"github.com/uhyunpark/minimarket/pkg/app/core/trade"
	"github.com/uhyunpark/minimarket/pkg/metrics"
	"github.com/uhyunpark/minimarket/pkg/storage"
	"github.com/uhyunpark/minimarket/pkg/util"
)

// App serializes all mutations behind one mutex. Hooks run after the lock
// is released, one operation at a time in commit order.
type App struct {
	mu sync.Mutex

	ledger   *ledger.Ledger
	offering issuance.Offering
	book     *orderbook.OrderBook

	issuer issuance.Engine
	maker  marketmaker.Engine
	tick   decimal.Decimal

	store   storage.Store
	seq     *util.Sequencer
	clock   util.Clock
	log     *zap.SugaredLogger
	metrics *metrics.Metrics

	hooksMu  sync.RWMutex
	delivery *turnstile
	onTrade  []func(trade.Record)
	onBook   []func(Depth)
	onMarket []func(MarketData)
}

type Option func(*App)

func WithLogger(l *zap.SugaredLogger) Option { return func(a *App) { a.log = l } }
func WithClock(c util.Clock) Option          { return func(a *App) { a.clock = c } }
func WithMetrics(m *metrics.Metrics) Option  { return func(a *App) { a.metrics = m } }

// New restores state from store, or seeds it from cfg when the store is empty.
func New(ctx context.Context, cfg params.Config, store storage.Store, opts ...Option) (*App, error) {
	model := pricing.Model{
		K:       cfg.Market.PriceK,
		Ceiling: cfg.Market.PriceCeiling,
		Floor:   cfg.Market.PriceFloor,
	}
	if err := model.Validate(); err != nil {
		return nil, fmt.Errorf("price model: %w", err)
	}
	spread := marketmaker.Spread{
		BidMultiplier: cfg.MarketMaker.BidMultiplier,
		AskMultiplier: cfg.MarketMaker.AskMultiplier,
	}
	if err := spread.Validate(); err != nil {
		return nil, fmt.Errorf("spread: %w", err)
	}
	if !cfg.Market.TickSize.IsPositive() {
		return nil, fmt.Errorf("tick size must be positive")
	}

	a := &App{
		issuer: issuance.Engine{Model: model, Ratchet: cfg.Market.PriceRatchet},
		maker:  marketmaker.Engine{Spread: spread},
		tick:   cfg.Market.TickSize,
		store:  store,
		clock:  util.RealClock{},
		log:    zap.NewNop().Sugar(),

		delivery: newTurnstile(),
	}
	for _, opt := range opts {
		opt(a)
	}

	snap, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	if snap.Empty() {
		if err := a.seed(ctx, cfg); err != nil {
			return nil, err
		}
	} else if err := a.restore(snap); err != nil {
		return nil, err
	}

	a.log.Infow("market_ready",
		"participants", a.ledger.Len(),
		"shares_left", a.offering.Remaining,
		"price", a.offering.Price.String(),
		"resting_orders", a.book.Len(),
		"trade_seq", a.seq.Current(),
	)
	a.observeState()
	return a, nil
}

func (a *App) seed(ctx context.Context, cfg params.Config) error {
	maker := ledger.MarketMaker{Inventory: cfg.MarketMaker.Inventory, Cash: cfg.MarketMaker.Cash}
	if err := maker.Validate(); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	l := ledger.New(maker)
	var registered []ledger.Participant
	for _, s := range cfg.Seeds {
		p := ledger.Participant{Name: s.Name, Shares: s.Shares, Cash: s.Cash}
		if err := l.Add(p); err != nil {
			return fmt.Errorf("seed: %w", err)
		}
		registered = append(registered, p)
	}
	off := issuance.NewOffering(cfg.Market.TotalShares, cfg.Market.InitialPrice)
	if err := off.Validate(); err != nil {
		return fmt.Errorf("seed: %w", err)
	}
	book := orderbook.NewOrderBook()

	cs := storage.Changeset{
		Registered:  registered,
		Maker:       &maker,
		Offering:    &off,
		NextOrderID: book.NextID(),
	}
	if err := a.store.Commit(ctx, cs); err != nil {
		return fmt.Errorf("seed: %w: %w", core.ErrPersistence, err)
	}

	a.ledger, a.offering, a.book = l, off, book
	a.seq = util.NewSequencer(0)
	a.log.Infow("market_seeded", "participants", len(registered), "total_shares", off.TotalShares)
	return nil
}

func (a *App) restore(snap storage.Snapshot) error {
	if snap.Maker == nil {
		return fmt.Errorf("restore: market maker state missing")
	}
	l := ledger.New(*snap.Maker)
	for _, p := range snap.Participants {
		if err := l.Add(p); err != nil {
			return fmt.Errorf("restore: %w", err)
		}
	}
	if err := snap.Offering.Validate(); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	book := orderbook.NewOrderBook()
	if err := book.Restore(snap.Orders, snap.NextOrderID); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	book.SetLastPrice(snap.LastBookPrice)

	a.ledger, a.offering, a.book = l, *snap.Offering, book
	a.seq = util.NewSequencer(snap.LastTradeSeq)
	return nil
}

// OnTrade registers fn to receive every committed trade, in sequence order.
func (a *App) OnTrade(fn func(trade.Record)) {
	a.hooksMu.Lock()
	defer a.hooksMu.Unlock()
	a.onTrade = append(a.onTrade, fn)
}

// OnBook registers fn to receive the order book depth after it changes.
func (a *App) OnBook(fn func(Depth)) {
	a.hooksMu.Lock()
	defer a.hooksMu.Unlock()
	a.onBook = append(a.onBook, fn)
}

// OnMarket registers fn to receive market data after balances or the
// offering change.
func (a *App) OnMarket(fn func(MarketData)) {
	a.hooksMu.Lock()
	defer a.hooksMu.Unlock()
	a.onMarket = append(a.onMarket, fn)
}

// BalanceSheet lists every participant in registration order.
func (a *App) BalanceSheet() []ledger.Participant {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.List()
}

// Participant returns one participant's balances.
func (a *App) Participant(name string) (ledger.Participant, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.Get(name)
}

// MarketData returns the issuer state, the current quote and the market
// maker's inventory.
func (a *App) MarketData() MarketData {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.marketDataLocked()
}

func (a *App) marketDataLocked() MarketData {
	m := a.ledger.Maker()
	md := MarketData{
		Offering:       a.offering,
		Quote:          a.maker.Spread.Quote(a.offering.Price),
		MakerInventory: m.Inventory,
		MakerCash:      m.Cash,
		TradeSeq:       a.seq.Current(),
	}
	if p := a.book.LastPrice(); p > 0 {
		md.LastBookPrice = a.fromTicks(p)
	}
	return md
}

// Quote returns the market maker's bid and ask around the reference price.
func (a *App) Quote() marketmaker.Quote {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maker.Spread.Quote(a.offering.Price)
}

// IPOSale sells up to n shares from the issuer to buyer, one unit at a time.
// Running out of cash or inventory is reported in the result, not as an error.
func (a *App) IPOSale(ctx context.Context, buyer string, n int64) (issuance.Result, error) {
	const op = "ipo_sale"
	start := time.Now()

	a.mu.Lock()
	tx := a.ledger.Begin()
	off := a.offering
	res, err := a.issuer.Buy(tx, &off, buyer, n)
	if err != nil {
		a.mu.Unlock()
		a.observeError(op, err)
		return issuance.Result{}, err
	}
	if res.Filled == 0 {
		a.mu.Unlock()
		a.observeOp(op, string(res.Outcome), start)
		return res, nil
	}

	changed, _ := tx.Changes()
	if err := a.checkBalances(changed, nil); err != nil {
		a.mu.Unlock()
		a.observeError(op, err)
		return issuance.Result{}, err
	}
	a.stamp(res.Trades)
	cs := storage.Changeset{
		Participants: changed,
		Offering:     &off,
		Trades:       res.Trades,
		LastTradeSeq: a.seq.Current(),
	}
	if err := a.commit(ctx, cs, len(res.Trades)); err != nil {
		a.mu.Unlock()
		a.observeError(op, err)
		return issuance.Result{}, err
	}
	tx.Commit()
	a.offering = off
	md := a.marketDataLocked()
	turn := a.delivery.ticket()
	a.mu.Unlock()

	a.log.Infow(op,
		"buyer", buyer,
		"requested", n,
		"filled", res.Filled,
		"total_cost", res.TotalCost.String(),
		"new_price", res.NewPrice.String(),
		"outcome", res.Outcome,
	)
	a.observeOp(op, string(res.Outcome), start)
	a.fire(turn, res.Trades, nil, &md)
	return res, nil
}

// MarketMakerTrade fills one side of a request against the market maker.
// Exactly one of buyer and seller must be set.
func (a *App) MarketMakerTrade(ctx context.Context, buyer, seller string, n int64) (marketmaker.Result, error) {
	const op = "market_maker_trade"
	start := time.Now()

	a.mu.Lock()
	tx := a.ledger.Begin()
	res, err := a.maker.Trade(tx, a.offering.Price, marketmaker.Request{Buyer: buyer, Seller: seller, Quantity: n})
	if err != nil {
		a.mu.Unlock()
		a.observeError(op, err)
		return marketmaker.Result{}, err
	}
	if res.Trade == nil {
		a.mu.Unlock()
		a.observeOp(op, string(res.Outcome), start)
		return res, nil
	}

	changed, maker := tx.Changes()
	if err := a.checkBalances(changed, maker); err != nil {
		a.mu.Unlock()
		a.observeError(op, err)
		return marketmaker.Result{}, err
	}
	trades := []trade.Record{*res.Trade}
	a.stamp(trades)
	res.Trade = &trades[0]
	cs := storage.Changeset{
		Participants: changed,
		Maker:        maker,
		Trades:       trades,
		LastTradeSeq: a.seq.Current(),
	}
	if err := a.commit(ctx, cs, len(trades)); err != nil {
		a.mu.Unlock()
		a.observeError(op, err)
		return marketmaker.Result{}, err
	}
	tx.Commit()
	md := a.marketDataLocked()
	turn := a.delivery.ticket()
	a.mu.Unlock()

	a.log.Infow(op,
		"side", res.Side,
		"participant", res.Participant,
		"requested", n,
		"filled", res.Filled,
		"unit_price", res.UnitPrice.String(),
		"outcome", res.Outcome,
	)
	a.observeOp(op, string(res.Outcome), start)
	a.fire(turn, trades, nil, &md)
	return res, nil
}

// PlaceOrder matches a limit order against the book and rests any remainder.
// Order-book fills move no ledger balances: owners are free-form user ids.
func (a *App) PlaceOrder(ctx context.Context, sideStr, owner string, price decimal.Decimal, qty int64) (OrderResult, error) {
	const op = "place_order"
	start := time.Now()

	side, err := orderbook.ParseSide(sideStr)
	if err != nil {
		a.observeError(op, err)
		return OrderResult{}, err
	}
	if owner == "" {
		err := fmt.Errorf("%w: user id is required", core.ErrInvalidRequest)
		a.observeError(op, err)
		return OrderResult{}, err
	}
	ticks, err := a.toTicks(price)
	if err != nil {
		a.observeError(op, err)
		return OrderResult{}, err
	}

	a.mu.Lock()
	book := a.book.Clone()
	o := &orderbook.Order{Side: side, Owner: owner, Price: ticks, Quantity: qty}
	fills, err := book.Place(o)
	if err != nil {
		a.mu.Unlock()
		a.observeError(op, err)
		return OrderResult{}, err
	}

	trades := make([]trade.Record, 0, len(fills))
	cs := storage.Changeset{NextOrderID: book.NextID()}
	upserted := make(map[uint64]bool)
	for _, f := range fills {
		t := trade.New(trade.KindOrderBook, f.Buyer, f.Seller, f.Qty, a.fromTicks(f.Price))
		t.BuyOrderID, t.SellOrderID = f.BuyOrderID, f.SellOrderID
		trades = append(trades, t)

		if f.MakerDone {
			cs.OrdersRemove = append(cs.OrdersRemove, f.MakerID)
		} else if !upserted[f.MakerID] {
			if resting, ok := book.Get(f.MakerID); ok {
				cs.OrdersUpsert = append(cs.OrdersUpsert, resting)
				upserted[f.MakerID] = true
			}
		}
	}
	if resting, ok := book.Get(o.ID); ok {
		cs.OrdersUpsert = append(cs.OrdersUpsert, resting)
	}
	if len(trades) > 0 {
		a.stamp(trades)
		cs.Trades = trades
		cs.LastTradeSeq = a.seq.Current()
		cs.LastBookPrice = book.LastPrice()
	}

	if err := a.commit(ctx, cs, len(trades)); err != nil {
		a.mu.Unlock()
		a.observeError(op, err)
		return OrderResult{}, err
	}
	a.book = book
	depth := a.depthLocked()
	turn := a.delivery.ticket()
	a.mu.Unlock()

	res := OrderResult{Order: a.view(*o), Fills: fills, Trades: trades}
	a.log.Infow(op,
		"order_id", o.ID,
		"side", side.String(),
		"owner", owner,
		"price", price.String(),
		"qty", qty,
		"fills", len(fills),
		"remaining", o.Remaining,
	)
	outcome := "rested"
	if len(fills) > 0 {
		outcome = "matched"
	}
	a.observeOp(op, outcome, start)
	a.fire(turn, trades, &depth, nil)
	return res, nil
}

// Orders returns resting buy and sell orders in insertion order.
func (a *App) Orders() (buys, sells []OrderView) {
	a.mu.Lock()
	b, s := a.book.Orders()
	a.mu.Unlock()

	buys = make([]OrderView, 0, len(b))
	for _, o := range b {
		buys = append(buys, a.view(o))
	}
	sells = make([]OrderView, 0, len(s))
	for _, o := range s {
		sells = append(sells, a.view(o))
	}
	return buys, sells
}

// Depth returns aggregated order book levels.
func (a *App) Depth() Depth {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.depthLocked()
}

func (a *App) depthLocked() Depth {
	d := Depth{Bids: []DepthLevel{}, Asks: []DepthLevel{}}
	for _, l := range a.book.BidLevels() {
		d.Bids = append(d.Bids, DepthLevel{Price: a.fromTicks(l.Price), Qty: l.Qty})
	}
	for _, l := range a.book.AskLevels() {
		d.Asks = append(d.Asks, DepthLevel{Price: a.fromTicks(l.Price), Qty: l.Qty})
	}
	if p := a.book.LastPrice(); p > 0 {
		d.LastPrice = a.fromTicks(p)
	}
	return d
}

// RecentTrades returns up to limit committed trades, newest first.
func (a *App) RecentTrades(ctx context.Context, limit int) ([]trade.Record, error) {
	trades, err := a.store.RecentTrades(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrPersistence, err)
	}
	return trades, nil
}

// StateHash is a deterministic digest of the market state: balances,
// market maker, offering and book depth.
func (a *App) StateHash() [32]byte {
	a.mu.Lock()
	defer a.mu.Unlock()

	h := sha256.New()
	var buf [8]byte
	putInt := func(n int64) {
		binary.BigEndian.PutUint64(buf[:], uint64(n))
		h.Write(buf[:])
	}
	putStr := func(s string) {
		putInt(int64(len(s)))
		h.Write([]byte(s))
	}

	for _, p := range a.ledger.List() {
		putStr(p.Name)
		putInt(p.Shares)
		putStr(p.Cash.String())
	}
	m := a.ledger.Maker()
	putInt(m.Inventory)
	putStr(m.Cash.String())

	putInt(a.offering.TotalShares)
	putInt(a.offering.Remaining)
	putStr(a.offering.Proceeds.String())
	putStr(a.offering.Price.String())

	for _, l := range a.book.BidLevels() {
		putInt(l.Price)
		putInt(l.Qty)
	}
	h.Write([]byte{0})
	for _, l := range a.book.AskLevels() {
		putInt(l.Price)
		putInt(l.Qty)
	}
	putInt(int64(a.seq.Current()))

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// checkBalances refuses to commit staged balances that went negative. The
// engines never produce them, so a failure here is a bug.
func (a *App) checkBalances(changed []ledger.Participant, maker *ledger.MarketMaker) error {
	for _, p := range changed {
		if err := p.Validate(); err != nil {
			a.log.DPanicw("negative_balance", "participant", p.Name, "err", err)
			return fmt.Errorf("staged balance invariant: %w", err)
		}
	}
	if maker != nil {
		if err := maker.Validate(); err != nil {
			a.log.DPanicw("negative_balance", "participant", core.MarketMakerID, "err", err)
			return fmt.Errorf("staged balance invariant: %w", err)
		}
	}
	return nil
}

// stamp assigns sequence numbers and timestamps. Caller holds mu.
func (a *App) stamp(trades []trade.Record) {
	now := a.clock.Now()
	for i := range trades {
		trades[i].Seq = a.seq.Next()
		trades[i].Timestamp = now
	}
}

// commit persists cs. On failure the sequencer is rewound past the trades
// that were stamped for it. Caller holds mu.
func (a *App) commit(ctx context.Context, cs storage.Changeset, stamped int) error {
	start := time.Now()
	err := a.store.Commit(ctx, cs)
	if a.metrics != nil {
		a.metrics.PersistDur.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		a.seq.Reset(a.seq.Current() - uint64(stamped))
		a.log.Errorw("commit_failed", "err", err)
		return fmt.Errorf("%w: %w", core.ErrPersistence, err)
	}
	return nil
}

// fire runs hooks outside the engine lock, after every earlier turn has
// delivered. Hooks may read App state but must not call mutating operations.
func (a *App) fire(turn uint64, trades []trade.Record, depth *Depth, md *MarketData) {
	a.delivery.enter(turn, func() { a.deliver(trades, depth, md) })
}

func (a *App) deliver(trades []trade.Record, depth *Depth, md *MarketData) {
	a.hooksMu.RLock()
	defer a.hooksMu.RUnlock()

	for _, t := range trades {
		for _, fn := range a.onTrade {
			fn(t)
		}
		if a.metrics != nil {
			a.metrics.Trades.WithLabelValues(string(t.Kind)).Inc()
			a.metrics.SharesTraded.WithLabelValues(string(t.Kind)).Add(float64(t.Quantity))
		}
	}
	if depth != nil {
		for _, fn := range a.onBook {
			fn(*depth)
		}
	}
	if md != nil {
		for _, fn := range a.onMarket {
			fn(*md)
		}
	}
	a.observeState()
}

func (a *App) observeOp(op, outcome string, start time.Time) {
	if a.metrics == nil {
		return
	}
	a.metrics.Operations.WithLabelValues(op, outcome).Inc()
	a.metrics.OperationDur.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (a *App) observeError(op string, err error) {
	reason := "internal"
	switch {
	case errors.Is(err, core.ErrNotFound):
		reason = "not_found"
	case errors.Is(err, core.ErrInvalidOrderType):
		reason = "invalid_order_type"
	case errors.Is(err, core.ErrInvalidRequest):
		reason = "invalid_request"
	case errors.Is(err, core.ErrPersistence):
		reason = "persistence"
	}
	if reason == "internal" || reason == "persistence" {
		a.log.Errorw("operation_failed", "op", op, "err", err)
	} else {
		a.log.Debugw("operation_rejected", "op", op, "reason", reason, "err", err)
	}
	if a.metrics != nil {
		a.metrics.OperationErrors.WithLabelValues(op, reason).Inc()
	}
}

func (a *App) observeState() {
	if a.metrics == nil {
		return
	}
	a.mu.Lock()
	md := a.marketDataLocked()
	buys, sells := a.book.Orders()
	a.mu.Unlock()

	a.metrics.SharePrice.Set(md.Offering.Price.InexactFloat64())
	a.metrics.SharesLeft.Set(float64(md.Offering.Remaining))
	a.metrics.Proceeds.Set(md.Offering.Proceeds.InexactFloat64())
	a.metrics.MakerInventory.Set(float64(md.MakerInventory))
	a.metrics.MakerCash.Set(md.MakerCash.InexactFloat64())
	a.metrics.RestingOrders.WithLabelValues("buy").Set(float64(len(buys)))
	a.metrics.RestingOrders.WithLabelValues("sell").Set(float64(len(sells)))
	a.metrics.TradeSequence.Set(float64(md.TradeSeq))
}

var maxTicks = decimal.NewFromInt(math.MaxInt64)

// toTicks converts a limit price to integer ticks. The price must be a
// positive multiple of the tick size.
func (a *App) toTicks(price decimal.Decimal) (int64, error) {
	if !price.IsPositive() {
		return 0, fmt.Errorf("%w: price must be positive", core.ErrInvalidRequest)
	}
	q := price.Div(a.tick)
	if !q.Equal(q.Truncate(0)) {
		return 0, fmt.Errorf("%w: price %s is not a multiple of tick %s", core.ErrInvalidRequest, price, a.tick)
	}
	if q.GreaterThan(maxTicks) {
		return 0, fmt.Errorf("%w: price %s is out of range", core.ErrInvalidRequest, price)
	}
	return q.IntPart(), nil
}

func (a *App) fromTicks(ticks int64) decimal.Decimal {
	return a.tick.Mul(decimal.NewFromInt(ticks))
}

func (a *App) view(o orderbook.Order) OrderView {
	return OrderView{
		ID:        o.ID,
		Side:      o.Side,
		Owner:     o.Owner,
		Price:     a.fromTicks(o.Price),
		Quantity:  o.Quantity,
		Remaining: o.Remaining,
	}
}
