package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/minimarket/pkg/app/core/trade"
	"github.com/uhyunpark/minimarket/pkg/metrics"
)

// Dispatcher queues committed trades and delivers them to every publisher
// from a single goroutine, preserving trade order. Publishing is
// best effort: the store is the source of truth, so a full queue or a
// failing sink drops the event and counts it.
type Dispatcher struct {
	pubs    []Publisher
	queue   chan trade.Record
	timeout time.Duration
	log     *zap.SugaredLogger
	metrics *metrics.Metrics

	wg        sync.WaitGroup
	closeOnce sync.Once

	mu     sync.RWMutex // guards queue sends against close
	closed bool
}

func NewDispatcher(log *zap.SugaredLogger, m *metrics.Metrics, size int, pubs ...Publisher) *Dispatcher {
	if size <= 0 {
		size = 1024
	}
	return &Dispatcher{
		pubs:    pubs,
		queue:   make(chan trade.Record, size),
		timeout: 5 * time.Second,
		log:     log,
		metrics: m,
	}
}

// Start runs the delivery loop until ctx is done or Close drains the queue.
func (d *Dispatcher) Start(ctx context.Context) {
	d.wg.Add(1)
	go d.run(ctx)
}

// Enqueue hands a trade to the loop without blocking. Safe to use as an
// exchange trade hook, including after Close, where trades are dropped.
func (d *Dispatcher) Enqueue(t trade.Record) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.log.Warnw("publish_after_close", "seq", t.Seq)
		if d.metrics != nil {
			d.metrics.PublishDrops.Inc()
		}
		return
	}
	select {
	case d.queue <- t:
	default:
		d.log.Warnw("publish_queue_full", "seq", t.Seq)
		if d.metrics != nil {
			d.metrics.PublishDrops.Inc()
		}
	}
}

// Close stops accepting trades, flushes what is queued and closes publishers.
func (d *Dispatcher) Close() error {
	var firstErr error
	d.closeOnce.Do(func() {
		d.mu.Lock()
		d.closed = true
		close(d.queue)
		d.mu.Unlock()
		d.wg.Wait()
		for _, p := range d.pubs {
			if err := p.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, t)
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, t trade.Record) {
	for _, p := range d.pubs {
		pctx, cancel := context.WithTimeout(ctx, d.timeout)
		err := p.Publish(pctx, t)
		cancel()
		if err != nil {
			// Non-fatal: consumers can query /trades to backfill
			d.log.Warnw("publish_failed", "sink", p.Name(), "seq", t.Seq, "err", err)
			if d.metrics != nil {
				d.metrics.PublishErrors.WithLabelValues(p.Name()).Inc()
			}
		}
	}
}
