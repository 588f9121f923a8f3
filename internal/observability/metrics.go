// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	// Feed / ingestion metrics
	TicksProcessed       prometheus.Counter
	TicksRejected        *prometheus.CounterVec
	TradeEventsProcessed prometheus.Counter
	TradeEventsRejected  *prometheus.CounterVec

	// Cycle tracker metrics
	CyclesOpened prometheus.Counter
	CyclesClosed prometheus.Counter

	// Decision pipeline metrics
	CandidatesEvaluated  prometheus.Counter
	CandidatesAccepted   prometheus.Counter
	CandidatesRejected   *prometheus.CounterVec
	BreakerSuppressions  prometheus.Counter
	BreakerTripped       prometheus.Gauge
	BreakerWinRate       prometheus.Gauge

	// Position metrics
	PositionsOpen       prometheus.Gauge
	PositionsClosed     *prometheus.CounterVec
	PriceChecksRecorded *prometheus.CounterVec

	// Persistence metrics
	PersistenceRetries  *prometheus.CounterVec
	PersistenceFailures *prometheus.CounterVec
	DBQueryDuration     *prometheus.HistogramVec

	// Health metrics
	LastTickTimestamp prometheus.Gauge
	UptimeSeconds     prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "copytrade_engine"
	}

	return &Metrics{
		TicksProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "ticks_processed_total",
			Help:      "Total number of price ticks processed",
		}),
		TicksRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "ticks_rejected_total",
			Help:      "Total number of price ticks rejected by reason",
		}, []string{"reason"}),
		TradeEventsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "trade_events_processed_total",
			Help:      "Total number of source trade events processed",
		}),
		TradeEventsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "trade_events_rejected_total",
			Help:      "Total number of source trade events rejected by reason",
		}, []string{"reason"}),

		CyclesOpened: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycles",
			Name:      "opened_total",
			Help:      "Total number of price cycles opened",
		}),
		CyclesClosed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycles",
			Name:      "closed_total",
			Help:      "Total number of price cycles closed",
		}),

		CandidatesEvaluated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decisions",
			Name:      "candidates_evaluated_total",
			Help:      "Total number of entry candidates evaluated",
		}),
		CandidatesAccepted: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decisions",
			Name:      "candidates_accepted_total",
			Help:      "Total number of entry candidates that opened positions",
		}),
		CandidatesRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decisions",
			Name:      "candidates_rejected_total",
			Help:      "Total number of entry candidates rejected by stage",
		}, []string{"stage"}),
		BreakerSuppressions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "suppressions_total",
			Help:      "Total number of entries suppressed by the circuit breaker",
		}),
		BreakerTripped: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "tripped",
			Help:      "Whether the circuit breaker is currently tripped (1) or clear (0)",
		}),
		BreakerWinRate: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "breaker",
			Name:      "win_rate",
			Help:      "Rolling win rate over the breaker window",
		}),

		PositionsOpen: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "open",
			Help:      "Number of currently open positions",
		}),
		PositionsClosed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "closed_total",
			Help:      "Total number of positions closed by final status",
		}, []string{"status"}),
		PriceChecksRecorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "positions",
			Name:      "price_checks_total",
			Help:      "Total number of price checks recorded, live vs backfill",
		}, []string{"kind"}),

		PersistenceRetries: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "retries_total",
			Help:      "Total number of async persistence retries by record type",
		}, []string{"record"}),
		PersistenceFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "persistence",
			Name:      "failures_total",
			Help:      "Total number of dropped writes after retry exhaustion",
		}, []string{"record"}),
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),

		LastTickTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_tick_timestamp",
			Help:      "Unix timestamp of the last processed price tick",
		}),
		UptimeSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "uptime_seconds_total",
			Help:      "Total uptime in seconds",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
