package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// OperationsAuthorized counts control operations that passed multisig
	// verification and were applied, labeled by operation name.
	OperationsAuthorized = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heimdall_operations_authorized_total",
			Help: "Control operations that passed authorization and were applied.",
		},
		[]string{"operation"},
	)

	// OperationsDenied counts control operations rejected before applying,
	// labeled by operation and denial reason.
	OperationsDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "heimdall_operations_denied_total",
			Help: "Control operations denied before any state change.",
		},
		[]string{"operation", "reason"},
	)

	// AuditAppends counts successful audit-chain appends.
	AuditAppends = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "heimdall_audit_appends_total",
			Help: "Audit entries durably appended to the hash chain.",
		},
	)

	// AuditAppendFailures counts appends that exhausted their retry budget.
	AuditAppendFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "heimdall_audit_append_failures_total",
			Help: "Audit appends that failed after retries.",
		},
	)

	// ChainVerificationFailures counts integrity sweeps that found a broken
	// hash or link.
	ChainVerificationFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "heimdall_chain_verification_failures_total",
			Help: "Integrity checks that reported a broken audit chain.",
		},
	)

	// PausedModules tracks which circuit breakers are currently paused.
	PausedModules = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "heimdall_module_paused",
			Help: "1 when the module's circuit breaker is paused, 0 otherwise.",
		},
		[]string{"module"},
	)
)

// Register registers all collectors with the given registry.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		OperationsAuthorized,
		OperationsDenied,
		AuditAppends,
		AuditAppendFailures,
		ChainVerificationFailures,
		PausedModules,
	)
}
