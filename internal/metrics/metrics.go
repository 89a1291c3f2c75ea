package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VAAsProcessed counts conductor VAAs by action kind and outcome
	VAAsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icco_vaas_processed_total",
			Help: "Total number of conductor VAAs submitted",
		},
		[]string{"kind", "status"},
	)

	// SalesByStatus counts sale status transitions
	SalesByStatus = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icco_sale_transitions_total",
			Help: "Total number of sale status transitions",
		},
		[]string{"status"},
	)

	// Contributions counts contribute calls by outcome
	Contributions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icco_contributions_total",
			Help: "Total number of contribute calls",
		},
		[]string{"status"},
	)

	// EscrowReconciliations counts escrow confirmations and whether a shortfall was applied
	EscrowReconciliations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icco_escrow_reconciliations_total",
			Help: "Total number of escrow confirmations",
		},
		[]string{"status", "shortfall"},
	)

	// Claims counts buyer claims by kind and outcome
	Claims = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icco_claims_total",
			Help: "Total number of buyer claims",
		},
		[]string{"kind", "status"},
	)

	// Attestations counts contribution attestations queued for the conductor
	Attestations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icco_attestations_total",
			Help: "Total number of contribution attestations",
		},
		[]string{"status"},
	)

	// CallDuration tracks how long a mutating call holds the write lock
	CallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "icco_call_duration_seconds",
			Help:    "Duration of state-changing calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// InstructionsDispatched counts outbox deliveries by kind and outcome
	InstructionsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icco_instructions_dispatched_total",
			Help: "Total number of instruction delivery attempts",
		},
		[]string{"kind", "status"},
	)

	// PendingInstructions tracks the outbox backlog seen by the last poll
	PendingInstructions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "icco_pending_instructions",
			Help: "Number of pending instructions in the outbox",
		},
	)

	// ErrorsTotal counts errors by component and type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "icco_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// Outcome returns the status label for err.
func Outcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "ok"
}
