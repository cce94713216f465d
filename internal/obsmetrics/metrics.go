// Package obsmetrics exposes the Prometheus counters/gauges the matching
// core emits, grounded on the teacher's internal/monitoring instrumentation
// style (one package-level registry, constructor-injected into components).
package obsmetrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector the core registers.
type Metrics struct {
	TradesExecuted   *prometheus.CounterVec
	OrdersRejected   *prometheus.CounterVec
	OrdersExpired    prometheus.Counter
	QueueDepth       *prometheus.GaugeVec
	MatchLatencySecs *prometheus.HistogramVec
}

// New creates and registers the core's collectors against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TradesExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_trades_executed_total",
			Help: "Number of trades executed, by symbol.",
		}, []string{"symbol"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_orders_rejected_total",
			Help: "Number of Submit rejections, by reason code.",
		}, []string{"reason"}),
		OrdersExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exchange_orders_expired_total",
			Help: "Number of orders retired by the expiration scheduler.",
		}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "exchange_symbol_queue_depth",
			Help: "Pending intents queued for a symbol's engine.",
		}, []string{"symbol"}),
		MatchLatencySecs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "exchange_match_step_duration_seconds",
			Help:    "Time to process one intent end to end, by symbol.",
			Buckets: prometheus.DefBuckets,
		}, []string{"symbol"}),
	}

	reg.MustRegister(m.TradesExecuted, m.OrdersRejected, m.OrdersExpired, m.QueueDepth, m.MatchLatencySecs)
	return m
}
