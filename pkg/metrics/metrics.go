package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PaymentsProcessed counts payments accepted by the ledger engine, by method.
var PaymentsProcessed = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "venuetap_payments_processed_total",
		Help: "Total number of payments processed by the ledger engine",
	},
	[]string{"method"},
)

// RefundsProcessed counts refunds applied by the ledger engine.
var RefundsProcessed = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "venuetap_refunds_processed_total",
		Help: "Total number of refunds processed by the ledger engine",
	},
)

// PaymentLatency records latency distribution for ledger operations.
var PaymentLatency = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "venuetap_payment_processing_latency_seconds",
		Help:    "Latency in seconds to process individual payments",
		Buckets: prometheus.DefBuckets,
	},
)

// Audit chain metrics
var (
	AuditAppends = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "venuetap_audit_appends_total",
			Help: "Total number of audit entries appended to the chain",
		},
	)

	// AuditAppendFailures counts best-effort appends that failed after a
	// financial commit; a non-zero value means the chain has gaps.
	AuditAppendFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "venuetap_audit_append_failures_total",
			Help: "Total number of failed audit chain appends",
		},
	)

	ChainVerifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "venuetap_audit_chain_verifications_total",
			Help: "Total number of audit chain verification runs by result",
		},
		[]string{"result"},
	)
)

// Scheduler sweep metrics
var SweepItems = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "venuetap_sweep_items_total",
		Help: "Total number of items handled by reconciliation sweeps",
	},
	[]string{"sweep", "outcome"},
)

func init() {
	prometheus.MustRegister(PaymentsProcessed, RefundsProcessed, PaymentLatency)
	prometheus.MustRegister(AuditAppends, AuditAppendFailures, ChainVerifications)
	prometheus.MustRegister(SweepItems)
}
