package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	totalTokens   atomic.Int64
	totalDrafted  atomic.Int64
	totalAccepted atomic.Int64
)

var (
	InferenceTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inference_tokens_total",
		Help: "The total number of tokens generated",
	})

	RequestDuration = promauto.NewSummaryVec(prometheus.SummaryOpts{
		Name: "generation_request_duration_seconds",
		Help: "Wall time of generation requests by stop reason",
	}, []string{"reason"})

	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "generation_requests_total",
		Help: "Finished generation requests by stop reason",
	}, []string{"reason"})

	RequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "generation_requests_in_flight",
		Help: "Requests currently holding a batch slot",
	})

	// ===== Speculative decoding =====

	SpecStepsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spec_decode_steps_total",
		Help: "Total number of propose/verify/resolve steps",
	})

	SpecDraftTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spec_decode_draft_tokens_total",
		Help: "Total number of draft tokens proposed",
	})

	SpecAcceptedTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spec_decode_accepted_tokens_total",
		Help: "Total number of draft tokens accepted by the verifier",
	})

	SpecAcceptedPerStep = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spec_decode_accepted_per_step",
		Help:    "Distribution of accepted draft tokens per step",
		Buckets: []float64{0, 1, 2, 3, 4, 5, 6, 8, 12, 16},
	})

	SpecAcceptanceRate = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spec_decode_request_acceptance_rate",
		Help:    "Accepted/drafted ratio per finished request",
		Buckets: []float64{0, 0.05, 0.1, 0.15, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
	})

	SpecFallbackSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spec_decode_fallback_steps_total",
		Help: "Steps decoded without a draft after a failure",
	}, []string{"cause"})

	SpecComponentFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spec_decode_component_failures_total",
		Help: "Failures of the proposer, verifier or resolver",
	}, []string{"component"})

	SpecStepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spec_decode_phase_duration_seconds",
		Help:    "Duration of controller phases",
		Buckets: prometheus.DefBuckets,
	}, []string{"phase"})

	// ===== KV cache =====

	KVCacheBlocksTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kv_cache_blocks_total",
		Help: "Total number of KV cache blocks",
	})

	KVCacheBlocksFree = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kv_cache_blocks_free",
		Help: "KV cache blocks on the free list",
	})

	KVCacheBlocksCached = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kv_cache_blocks_cached",
		Help: "Unreferenced KV cache blocks kept for prefix reuse",
	})

	KVCacheReusedTokens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kv_cache_reused_tokens_total",
		Help: "Prompt tokens served from reused KV cache blocks",
	})

	KVCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kv_cache_evictions_total",
		Help: "Total number of KV cache evictions",
	})

	KVCacheAllocFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kv_cache_alloc_failures_total",
		Help: "Block allocations that found no free or evictable block",
	})

	ValidationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "validation_errors_total",
		Help: "Total number of validation errors",
	}, []string{"operation", "error_type"})

	ExportedStepRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flight_step_records_total",
		Help: "Step rows shipped to the Flight collector by outcome",
	}, []string{"outcome"})
)

func RecordInference(tokens int, duration time.Duration, reason string) {
	InferenceTokensTotal.Add(float64(tokens))
	totalTokens.Add(int64(tokens))
	RequestsTotal.WithLabelValues(reason).Inc()
	RequestDuration.WithLabelValues(reason).Observe(duration.Seconds())
}

// RecordStep records one controller step.
func RecordStep(drafted, accepted int) {
	SpecStepsTotal.Inc()
	SpecDraftTokensTotal.Add(float64(drafted))
	SpecAcceptedTokensTotal.Add(float64(accepted))
	SpecAcceptedPerStep.Observe(float64(accepted))
	totalDrafted.Add(int64(drafted))
	totalAccepted.Add(int64(accepted))
}

func RecordAcceptanceRate(drafted, accepted int) {
	if drafted == 0 {
		return
	}
	SpecAcceptanceRate.Observe(float64(accepted) / float64(drafted))
}

// RecordFallback counts a step decoded at k=0 because of cause.
func RecordFallback(cause string) {
	SpecFallbackSteps.WithLabelValues(cause).Inc()
}

func RecordComponentFailure(component string) {
	SpecComponentFailures.WithLabelValues(component).Inc()
}

func RecordPhase(phase string, duration time.Duration) {
	SpecStepDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

func RecordValidationError(operation, errorType string) {
	ValidationErrors.WithLabelValues(operation, errorType).Inc()
}

// RecordKVCacheBlocks publishes the block manager's occupancy.
func RecordKVCacheBlocks(total, free, cached int) {
	KVCacheBlocksTotal.Set(float64(total))
	KVCacheBlocksFree.Set(float64(free))
	KVCacheBlocksCached.Set(float64(cached))
}

func RecordKVCacheReuse(tokens int) {
	if tokens > 0 {
		KVCacheReusedTokens.Add(float64(tokens))
	}
}

func RecordKVCacheEviction() {
	KVCacheEvictions.Inc()
}

func RecordKVCacheAllocFailure() {
	KVCacheAllocFailures.Inc()
}

func RecordExport(rows int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	ExportedStepRecords.WithLabelValues(outcome).Add(float64(rows))
}

// TotalTokens returns the number of tokens generated since process start.
func TotalTokens() int64 {
	return totalTokens.Load()
}

// AcceptanceTotals returns process-wide drafted and accepted token counts.
func AcceptanceTotals() (drafted, accepted int64) {
	return totalDrafted.Load(), totalAccepted.Load()
}
