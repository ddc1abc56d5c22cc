package policy

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	policyEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_policy_evaluations_total",
			Help: "Total number of policy evaluations",
		},
		[]string{"decision", "mode"},
	)

	policyEvaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plume_policy_evaluation_duration_seconds",
			Help:    "Time spent evaluating policies",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
		},
		[]string{"mode"},
	)

	policyErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_policy_errors_total",
			Help: "Total number of policy evaluation errors",
		},
		[]string{"error_type", "mode"},
	)

	policyDryRunDivergence = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_policy_dry_run_divergence_total",
			Help: "Cases where the dry-run decision differs from the applied allow",
		},
		[]string{"divergence_type"},
	)

	policyLoadTime = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "plume_policy_load_timestamp_seconds",
			Help: "Timestamp of last successful policy load",
		},
		[]string{"policy_path"},
	)

	policyCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "plume_policy_files_loaded",
			Help: "Number of policy files currently loaded",
		},
		[]string{"policy_path"},
	)

	policyCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_policy_cache_hits_total",
			Help: "Total number of policy cache hits",
		},
		[]string{"mode"},
	)

	policyCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_policy_cache_misses_total",
			Help: "Total number of policy cache misses",
		},
		[]string{"mode"},
	)

	policyDenyReasons = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_policy_deny_reasons_total",
			Help: "Count of policy denials by reason",
		},
		[]string{"reason", "mode"},
	)
)

// RecordEvaluation records a policy evaluation result
func RecordEvaluation(decision, mode string) {
	policyEvaluations.WithLabelValues(decision, mode).Inc()
}

// RecordEvaluationDuration records the time spent evaluating a policy
func RecordEvaluationDuration(mode string, duration float64) {
	policyEvaluationDuration.WithLabelValues(mode).Observe(duration)
}

// RecordError records a policy evaluation error
func RecordError(errorType, mode string) {
	policyErrors.WithLabelValues(errorType, mode).Inc()
}

// RecordDryRunDivergence records when dry-run differs from default behavior
func RecordDryRunDivergence(divergenceType string) {
	policyDryRunDivergence.WithLabelValues(divergenceType).Inc()
}

// RecordPolicyLoad records successful policy loading
func RecordPolicyLoad(policyPath string, count int, timestamp float64) {
	policyLoadTime.WithLabelValues(policyPath).Set(timestamp)
	policyCount.WithLabelValues(policyPath).Set(float64(count))
}

// RecordCacheHit records a policy cache hit
func RecordCacheHit(mode string) {
	policyCacheHits.WithLabelValues(mode).Inc()
}

// RecordCacheMiss records a policy cache miss
func RecordCacheMiss(mode string) {
	policyCacheMisses.WithLabelValues(mode).Inc()
}

// RecordDenyReason records a denial reason. Reasons in the shipped policy are
// static strings; truncation bounds label size for anything else.
func RecordDenyReason(reason, mode string) {
	policyDenyReasons.WithLabelValues(truncateString(reason, 80), mode).Inc()
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
