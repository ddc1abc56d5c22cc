package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_runs_started_total",
			Help: "Total number of writing runs started",
		},
		[]string{"category", "mode"},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_runs_completed_total",
			Help: "Total number of writing runs completed",
		},
		[]string{"category", "mode", "status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plume_run_duration_seconds",
			Help:    "Writing run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category", "mode"},
	)

	RunIterations = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plume_run_iterations",
			Help:    "Number of corrective iterations per completed run",
			Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 8, 10},
		},
		[]string{"category"},
	)

	RunFinalScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plume_run_final_score",
			Help:    "Final overall quality score per completed run",
			Buckets: []float64{50, 60, 70, 75, 80, 85, 90, 95, 100},
		},
		[]string{"category"},
	)

	ActiveRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plume_active_runs",
			Help: "Number of writing runs currently executing",
		},
	)

	// Stage metrics
	StageVisits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_stage_visits_total",
			Help: "Total number of stage executions",
		},
		[]string{"stage"},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plume_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"stage"},
	)

	StageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_stage_errors_total",
			Help: "Total number of stage failures",
		},
		[]string{"stage"},
	)

	// Loop control metrics
	ConvergenceStops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_convergence_stops_total",
			Help: "Total number of correction loops ended by a convergence signal",
		},
		[]string{"reason"},
	)

	BudgetExhaustions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_budget_exhausted_total",
			Help: "Total number of runs that used their full iteration budget",
		},
		[]string{"category"},
	)

	// Streaming metrics
	StreamSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plume_stream_subscribers",
			Help: "Number of attached event stream subscribers",
		},
	)

	StreamEventsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plume_stream_events_published_total",
			Help: "Total number of progress events published",
		},
	)

	StreamEventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plume_stream_events_dropped_total",
			Help: "Total number of progress events dropped on slow subscribers",
		},
	)

	// LLM service metrics
	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_llm_requests_total",
			Help: "Total number of LLM service requests",
		},
		[]string{"operation", "status"},
	)

	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plume_llm_request_duration_seconds",
			Help:    "LLM service request duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"operation"},
	)

	LLMTokensUsed = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "plume_llm_tokens_used",
			Help:    "Tokens consumed per completion",
			Buckets: []float64{100, 500, 1000, 2000, 4000, 8000, 16000},
		},
	)

	LLMCostUSD = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "plume_llm_cost_usd",
			Help:    "Cost in USD per completion",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1},
		},
	)

	PricingFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_pricing_fallback_total",
			Help: "Completions priced by the default rate (missing/unknown model)",
		},
		[]string{"reason"},
	)

	// HTTP API metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_http_requests_total",
			Help: "Total number of HTTP API requests",
		},
		[]string{"route", "method", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plume_http_request_duration_seconds",
			Help:    "HTTP API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	// Result cache metrics
	ResultCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plume_result_cache_hits_total",
			Help: "Total number of run result cache hits",
		},
	)

	ResultCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plume_result_cache_misses_total",
			Help: "Total number of run result cache misses",
		},
	)

	// Vector index metrics
	VectorSearches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_vector_search_total",
			Help: "Total number of vector searches",
		},
		[]string{"collection", "status"},
	)

	VectorSearchLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plume_vector_search_latency_seconds",
			Help:    "Vector search latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"collection"},
	)

	VectorUpserts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_vector_upserts_total",
			Help: "Total number of vector index upserts",
		},
		[]string{"collection", "status"},
	)

	// Embedding metrics
	EmbeddingRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_embedding_requests_total",
			Help: "Total number of embedding requests",
		},
		[]string{"model", "status"},
	)

	EmbeddingLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plume_embedding_latency_seconds",
			Help:    "Embedding generation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	EmbeddingCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plume_embedding_cache_hits_total",
			Help: "Total number of embedding cache hits",
		},
	)

	EmbeddingCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "plume_embedding_cache_misses_total",
			Help: "Total number of embedding cache misses",
		},
	)

	// Database write queue metrics
	DBWriteQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "plume_db_write_queue_depth",
			Help: "Current depth of the async database write queue",
		},
	)

	DBWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_db_writes_total",
			Help: "Total number of database writes",
		},
		[]string{"table", "status"},
	)

	// Samples persisted for voice reference
	SamplesSaved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plume_samples_saved_total",
			Help: "Total number of writing samples persisted",
		},
		[]string{"category"},
	)
)

// RecordRunMetrics records metrics for a finished run.
func RecordRunMetrics(category, mode, status string, durationSeconds float64, iterations int, finalScore float64) {
	RunsCompleted.WithLabelValues(category, mode, status).Inc()
	RunDuration.WithLabelValues(category, mode).Observe(durationSeconds)
	RunIterations.WithLabelValues(category).Observe(float64(iterations))
	if finalScore > 0 {
		RunFinalScore.WithLabelValues(category).Observe(finalScore)
	}
}

// RecordStageMetrics records metrics for a stage execution.
func RecordStageMetrics(stage string, durationSeconds float64, err error) {
	StageVisits.WithLabelValues(stage).Inc()
	StageDuration.WithLabelValues(stage).Observe(durationSeconds)
	if err != nil {
		StageErrors.WithLabelValues(stage).Inc()
	}
}

// RecordLLMMetrics records metrics for an LLM service call.
func RecordLLMMetrics(operation, status string, durationSeconds float64) {
	LLMRequests.WithLabelValues(operation, status).Inc()
	LLMRequestDuration.WithLabelValues(operation).Observe(durationSeconds)
}

// RecordCompletionUsage records token and spend accounting for one completion.
func RecordCompletionUsage(tokens int, costUSD float64) {
	if tokens > 0 {
		LLMTokensUsed.Observe(float64(tokens))
	}
	if costUSD > 0 {
		LLMCostUSD.Observe(costUSD)
	}
}

// RecordVectorSearchMetrics records vector search metrics.
func RecordVectorSearchMetrics(collection, status string, durationSeconds float64) {
	VectorSearches.WithLabelValues(collection, status).Inc()
	if durationSeconds > 0 {
		VectorSearchLatency.WithLabelValues(collection).Observe(durationSeconds)
	}
}

// RecordEmbeddingMetrics records embedding generation metrics.
func RecordEmbeddingMetrics(model, status string, durationSeconds float64) {
	EmbeddingRequests.WithLabelValues(model, status).Inc()
	if durationSeconds > 0 {
		EmbeddingLatency.WithLabelValues(model).Observe(durationSeconds)
	}
}
