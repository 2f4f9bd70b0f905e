package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"route", "method", "status"},
	)

	// Reconciliation outcomes, labelled by terminal (or pending) state.
	ReconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reconciliations_total",
			Help: "Reconciliation runs by outcome state",
		},
		[]string{"state"}, // settled|escalated|in_progress|no_discrepancy|already_settled
	)

	RetriesGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "retries_generated_total",
			Help: "Derivative retry transactions created",
		},
	)
	DuplicateRetrySkips = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duplicate_retry_skips_total",
			Help: "Retry attempts skipped because another worker owned the ordinal",
		},
	)

	WalletCreditsApplied = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wallet_credits_applied_total",
			Help: "Retry amounts credited into wallets",
		},
	)
	WalletCreditsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "wallet_credits_skipped_total",
			Help: "Credit calls short-circuited by the settlement marker",
		},
	)

	ReportsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reports_written_total",
			Help: "Audit reports appended to the messages store",
		},
		[]string{"outcome"}, // SUCCESS|ESCALATION
	)

	WorkerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_queue_depth",
			Help: "Current worker queue depth",
		},
	)
	MonitorSweeps = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "monitor_sweeps_total",
			Help: "Background sweeps for overdue floating transactions",
		},
	)
)

var Handler = promhttp.Handler

func Init() {
	prometheus.MustRegister(RequestsTotal)
	prometheus.MustRegister(ReconciliationsTotal)
	prometheus.MustRegister(RetriesGenerated)
	prometheus.MustRegister(DuplicateRetrySkips)
	prometheus.MustRegister(WalletCreditsApplied)
	prometheus.MustRegister(WalletCreditsSkipped)
	prometheus.MustRegister(ReportsWritten)
	prometheus.MustRegister(WorkerQueueDepth)
	prometheus.MustRegister(MonitorSweeps)
}
