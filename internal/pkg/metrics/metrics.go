package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultRegistry holds every collector the service exposes on /metrics
var DefaultRegistry = prometheus.NewRegistry()

func init() {
	DefaultRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		TransitionsTotal,
		LedgerSubmitTotal,
		LedgerSubmitDuration,
		OutboxDepth,
		ReconcileRunsTotal,
		LedgerHealthy,
		LedgerHeight,
	)
}

// TransitionsTotal counts applied lifecycle transitions
var TransitionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "zakat_transitions_total",
		Help: "Donation lifecycle transitions applied",
	},
	[]string{"transition"}, // created | validated | distributed
)

// LedgerSubmitTotal counts ledger submissions by outcome
var LedgerSubmitTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "zakat_ledger_submit_total",
		Help: "Ledger submissions by function and result",
	},
	[]string{"function", "result"}, // ok | replayed | unavailable | rejected
)

// LedgerSubmitDuration observes ledger round trips
var LedgerSubmitDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "zakat_ledger_submit_duration_seconds",
		Help:    "Ledger submission latency",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
	[]string{"function"},
)

// OutboxDepth is the number of outbox entries per status
var OutboxDepth = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "zakat_outbox_entries",
		Help: "Ledger outbox entries by status",
	},
	[]string{"status"},
)

// ReconcileRunsTotal counts reconciliation sweeps
var ReconcileRunsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "zakat_reconcile_runs_total",
		Help: "Reconciliation sweeps by result",
	},
	[]string{"result"},
)

// LedgerHealthy is 1 while the last ledger contact succeeded
var LedgerHealthy = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "zakat_ledger_healthy",
	Help: "1 when the ledger answered the last call",
})

// LedgerHeight is the last observed block height
var LedgerHeight = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "zakat_ledger_height",
	Help: "Last observed ledger block height",
})

// Handler serves the registry in Prometheus text format
func Handler() http.Handler {
	return promhttp.HandlerFor(DefaultRegistry, promhttp.HandlerOpts{})
}
