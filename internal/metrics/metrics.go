package metrics

import (
	"model-market-go/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ledger
	LedgerTransactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transactions_total",
			Help: "Ledger transactions by type and final status",
		},
		[]string{"type", "status"},
	)

	CreditsSpent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ledger_credits_spent_total",
			Help: "Credits debited for model usage",
		},
	)

	DepositsCredited = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deposits_credited_total",
			Help: "Balance popups paid by an on-chain deposit",
		},
		[]string{"currency"},
	)

	// Runs
	ModelRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_runs_total",
			Help: "Model runs by mode and outcome",
		},
		[]string{"mode", "outcome"},
	)

	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_request_duration_seconds",
			Help:    "Latency of outbound provider calls including retries",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Jobs
	JobTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_job_ticks_total",
			Help: "Scheduler job ticks by job and outcome",
		},
		[]string{"job", "outcome"},
	)

	HardwareCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hardware_cache_lookups_total",
			Help: "Hardware price cache lookups by result",
		},
		[]string{"result"},
	)
)

// RecordLedgerTransaction counts a finalised ledger transaction
func RecordLedgerTransaction(tx *models.Transaction) {
	if tx == nil {
		return
	}
	LedgerTransactions.WithLabelValues(string(tx.Type), string(tx.Status)).Inc()
}

// RecordJobTick counts one scheduler tick
func RecordJobTick(job string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	JobTicks.WithLabelValues(job, outcome).Inc()
}
