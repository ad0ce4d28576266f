// Package metrics exposes Prometheus metrics for the market engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the market.
type Metrics struct {
	registry *prometheus.Registry

	// --- Engine operations ---
	Operations      *prometheus.CounterVec   // op, outcome
	OperationErrors *prometheus.CounterVec   // op, reason
	OperationDur    *prometheus.HistogramVec // op

	// --- Fills ---
	Trades       *prometheus.CounterVec // kind
	SharesTraded *prometheus.CounterVec // kind

	// --- Market state ---
	SharePrice       prometheus.Gauge
	SharesLeft       prometheus.Gauge
	Proceeds         prometheus.Gauge
	MakerInventory   prometheus.Gauge
	MakerCash        prometheus.Gauge
	RestingOrders    *prometheus.GaugeVec // side
	TradeSequence    prometheus.Gauge
	PersistDur       prometheus.Histogram
	PublishDrops     prometheus.Counter
	PublishErrors    *prometheus.CounterVec // sink
	WebsocketClients prometheus.Gauge
}

// New creates and registers all metrics on a private registry, so several
// instances can coexist in one process.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	latencyBuckets := []float64{
		0.00001, 0.000025, 0.00005, 0.0001, 0.00025,
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05,
	}

	return &Metrics{
		registry: reg,

		Operations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "market_operations_total",
			Help: "Engine operations completed, by outcome",
		}, []string{"op", "outcome"}),

		OperationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "market_operation_errors_total",
			Help: "Engine operations rejected with an error",
		}, []string{"op", "reason"}),

		OperationDur: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "market_operation_duration_seconds",
			Help:    "Time spent inside the engine lock, commit included",
			Buckets: latencyBuckets,
		}, []string{"op"}),

		Trades: f.NewCounterVec(prometheus.CounterOpts{
			Name: "market_trades_total",
			Help: "Trade records appended",
		}, []string{"kind"}),

		SharesTraded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "market_shares_traded_total",
			Help: "Shares changing hands",
		}, []string{"kind"}),

		SharePrice: f.NewGauge(prometheus.GaugeOpts{
			Name: "market_share_price",
			Help: "Current reference share price",
		}),

		SharesLeft: f.NewGauge(prometheus.GaugeOpts{
			Name: "market_ipo_shares_left",
			Help: "Shares the issuer has not sold yet",
		}),

		Proceeds: f.NewGauge(prometheus.GaugeOpts{
			Name: "market_ipo_proceeds",
			Help: "Cash raised by the issuer",
		}),

		MakerInventory: f.NewGauge(prometheus.GaugeOpts{
			Name: "market_maker_inventory",
			Help: "Shares held by the market maker",
		}),

		MakerCash: f.NewGauge(prometheus.GaugeOpts{
			Name: "market_maker_cash",
			Help: "Cash held by the market maker",
		}),

		RestingOrders: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "market_resting_orders",
			Help: "Orders resting in the book",
		}, []string{"side"}),

		TradeSequence: f.NewGauge(prometheus.GaugeOpts{
			Name: "market_trade_sequence",
			Help: "Last trade sequence number",
		}),

		PersistDur: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "market_persist_duration_seconds",
			Help:    "Store commit duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		PublishDrops: f.NewCounter(prometheus.CounterOpts{
			Name: "market_publish_drops_total",
			Help: "Trade events dropped due to a full publish queue",
		}),

		PublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "market_publish_errors_total",
			Help: "Trade events a sink failed to accept",
		}, []string{"sink"}),

		WebsocketClients: f.NewGauge(prometheus.GaugeOpts{
			Name: "market_websocket_clients",
			Help: "Connected WebSocket clients",
		}),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
