package exchange

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/uhyunpark/minimarket/pkg/app/core"
)

// FeederConfig controls random limit order generation
type FeederConfig struct {
	Interval   time.Duration // How often to place a batch
	BatchSize  int           // Orders per batch
	NumUsers   int           // Number of simulated user ids
	SpreadTick int64         // Max distance from the reference price, in ticks
	MaxQty     int64
	Seed       int64
}

// DefaultFeederConfig returns reasonable defaults for a demo book
func DefaultFeederConfig() FeederConfig {
	return FeederConfig{
		Interval:   500 * time.Millisecond,
		BatchSize:  2,
		NumUsers:   10,
		SpreadTick: 50,
		MaxQty:     10,
		Seed:       1,
	}
}

// OrderGenerator creates random limit orders around a reference price.
type OrderGenerator struct {
	cfg  FeederConfig
	tick decimal.Decimal
	rng  *rand.Rand
}

func NewOrderGenerator(cfg FeederConfig, tick decimal.Decimal) *OrderGenerator {
	if cfg.NumUsers <= 0 {
		cfg.NumUsers = 1
	}
	if cfg.MaxQty <= 0 {
		cfg.MaxQty = 1
	}
	return &OrderGenerator{cfg: cfg, tick: tick, rng: rand.New(rand.NewSource(cfg.Seed))}
}

// GeneratedOrder is one random limit order.
type GeneratedOrder struct {
	Side  string
	User  string
	Price decimal.Decimal
	Qty   int64
}

// Next returns a random order within SpreadTick ticks of ref.
func (g *OrderGenerator) Next(ref decimal.Decimal) GeneratedOrder {
	side := "buy"
	if g.rng.Intn(2) == 1 {
		side = "sell"
	}
	base := ref.Div(g.tick).Round(0).IntPart()
	offset := int64(0)
	if g.cfg.SpreadTick > 0 {
		offset = g.rng.Int63n(2*g.cfg.SpreadTick+1) - g.cfg.SpreadTick
	}
	ticks := base + offset
	if ticks < 1 {
		ticks = 1
	}
	return GeneratedOrder{
		Side:  side,
		User:  fmt.Sprintf("%d", g.rng.Intn(g.cfg.NumUsers)+1),
		Price: g.tick.Mul(decimal.NewFromInt(ticks)),
		Qty:   g.rng.Int63n(g.cfg.MaxQty) + 1,
	}
}

// Feeder places generated orders on a ticker until its context is done.
type Feeder struct {
	app *App
	gen *OrderGenerator
	cfg FeederConfig
	log *zap.SugaredLogger
}

func NewFeeder(app *App, cfg FeederConfig, log *zap.SugaredLogger) *Feeder {
	return &Feeder{app: app, gen: NewOrderGenerator(cfg, app.tick), cfg: cfg, log: log}
}

// Run blocks until ctx is cancelled. Persistence failures are logged and
// the feeder keeps going.
func (f *Feeder) Run(ctx context.Context) error {
	ticker := f.app.clock.NewTicker(f.cfg.Interval)
	defer ticker.Stop()

	start := f.app.clock.Now()
	placed, filled := 0, 0
	f.log.Infow("feeder_started", "interval", f.cfg.Interval, "batch", f.cfg.BatchSize)

	for {
		select {
		case <-ctx.Done():
			f.log.Infow("feeder_stopped", "placed", placed, "fills", filled, "elapsed", f.app.clock.Now().Sub(start))
			return nil
		case <-ticker.C:
			ref := f.app.Quote().Reference
			for i := 0; i < f.cfg.BatchSize; i++ {
				o := f.gen.Next(ref)
				res, err := f.app.PlaceOrder(ctx, o.Side, o.User, o.Price, o.Qty)
				if err != nil {
					if errors.Is(err, core.ErrPersistence) {
						f.log.Warnw("feeder_order_failed", "err", err)
						continue
					}
					return err
				}
				placed++
				filled += len(res.Fills)
			}
		}
	}
}
