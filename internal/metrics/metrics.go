package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	StepDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "attention_step_duration_seconds",
		Help: "Duration of full attention steps (cache write + kernel)",
	})

	StepTokensTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "attention_step_tokens_total",
		Help: "The total number of query tokens processed by attention steps",
	})

	KernelDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "attention_kernel_duration_seconds",
		Help:    "Histogram of ragged attention kernel invocation times",
		Buckets: prometheus.DefBuckets,
	}, []string{"kernel"})

	BatchSeqs = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "attention_batch_seqs",
		Help:    "Number of sequences per ragged batch",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
	})

	ContextLengthHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "context_length_tokens",
		Help:    "Distribution of per-sequence context lengths processed",
		Buckets: []float64{100, 500, 1000, 2000, 4000, 8000, 16000, 32000},
	})

	KVCacheCapacityBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kv_cache_capacity_bytes",
		Help: "Total capacity of the paged KV cache in bytes",
	})

	KVCacheUsedBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kv_cache_used_bytes",
		Help: "Current bytes used in the paged KV cache",
	})

	KVCacheWriteTokens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kv_cache_write_tokens_total",
		Help: "Total number of token key/value rows scattered into the cache",
	})

	KVCacheWriteSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kv_cache_write_skipped_total",
		Help: "Steps that skipped the cache write due to KV sharing",
	})

	GeometryPadding = promauto.NewCounter(prometheus.CounterOpts{
		Name: "geometry_head_padding_total",
		Help: "Cache shape computations that padded the head size for alignment",
	})

	UnsupportedConfigs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "unsupported_config_total",
		Help: "Backend constructions rejected by the configuration gate",
	}, []string{"reason"})
)

// RecordStep records one completed attention step.
func RecordStep(queryTokens int, numSeqs int, duration time.Duration) {
	StepTokensTotal.Add(float64(queryTokens))
	BatchSeqs.Observe(float64(numSeqs))
	StepDuration.Observe(duration.Seconds())
}

// RecordKernelDuration records one kernel invocation.
func RecordKernelDuration(name string, duration time.Duration) {
	KernelDuration.WithLabelValues(name).Observe(duration.Seconds())
}

// RecordContextLength records a per-sequence total context length.
func RecordContextLength(tokens int) {
	ContextLengthHistogram.Observe(float64(tokens))
}

// RecordKVCacheStats records cache capacity and usage in bytes.
func RecordKVCacheStats(capacity, used int64) {
	KVCacheCapacityBytes.Set(float64(capacity))
	KVCacheUsedBytes.Set(float64(used))
}

// RecordCacheWrite records a scatter write of n token rows.
func RecordCacheWrite(n int) {
	KVCacheWriteTokens.Add(float64(n))
}

// RecordUnsupportedConfig records a rejected backend construction.
func RecordUnsupportedConfig(reason string) {
	UnsupportedConfigs.WithLabelValues(reason).Inc()
}
