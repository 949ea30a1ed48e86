package metrics

import (
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Projection metrics
	LastProcessedBlock = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainprojector_last_processed_block",
			Help: "The last block number whose events were committed",
		},
	)

	ChainHead = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainprojector_chain_head_block",
			Help: "The chain head as seen by the pipeline",
		},
	)

	BlocksProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainprojector_blocks_processed_total",
			Help: "Total number of blocks committed",
		},
	)

	EventsProjected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainprojector_events_projected_total",
			Help: "Total number of events applied to the entity store",
		},
		[]string{"event"},
	)

	EventsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainprojector_events_skipped_total",
			Help: "Total number of logs skipped by reason",
		},
		[]string{"reason"},
	)

	BlockProcessingTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "chainprojector_block_processing_duration_seconds",
			Help:    "Time taken to project and commit one block",
			Buckets: prometheus.DefBuckets,
		},
	)

	PipelineState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainprojector_pipeline_state",
			Help: "Current pipeline state (1 for the active state, 0 otherwise)",
		},
		[]string{"state"},
	)

	CommitRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainprojector_commit_retries_total",
			Help: "Total number of block transactions retried after a transient storage error",
		},
	)

	// System metrics
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainprojector_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	Errors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainprojector_errors_total",
			Help: "Total number of errors by component and severity",
		},
		[]string{"component", "severity"},
	)

	ComponentHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainprojector_component_health",
			Help: "Component health status (1=healthy, 0=unhealthy)",
		},
		[]string{"component"},
	)

	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainprojector_goroutines",
			Help: "Number of active goroutines",
		},
	)

	MemoryUsage = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainprojector_memory_usage_bytes",
			Help: "Memory usage statistics",
		},
		[]string{"type"},
	)

	startTime = time.Now()
)

func LastProcessedBlockLog(block uint64) {
	LastProcessedBlock.Set(float64(block))
}

func ChainHeadLog(block uint64) {
	ChainHead.Set(float64(block))
}

func BlocksProcessedInc() {
	BlocksProcessed.Inc()
}

func EventProjectedInc(event string) {
	EventsProjected.WithLabelValues(event).Inc()
}

func EventSkippedInc(reason string) {
	EventsSkipped.WithLabelValues(reason).Inc()
}

func BlockProcessingTimeLog(duration time.Duration) {
	BlockProcessingTime.Observe(duration.Seconds())
}

func CommitRetryInc() {
	CommitRetries.Inc()
}

// PipelineStateSet marks state as the active pipeline state.
func PipelineStateSet(state string, all []string) {
	for _, s := range all {
		v := float64(0)
		if s == state {
			v = 1
		}
		PipelineState.WithLabelValues(s).Set(v)
	}
}

func ErrorsInc(component, severity string) {
	Errors.WithLabelValues(component, severity).Inc()
}

func ComponentHealthSet(component string, healthy bool) {
	boolAsFloat := float64(1)
	if !healthy {
		boolAsFloat = 0
	}

	ComponentHealth.WithLabelValues(component).Set(boolAsFloat)
}

// UpdateSystemMetrics updates runtime system metrics.
// This should be called periodically (e.g., every 15 seconds).
func UpdateSystemMetrics() {
	// Update uptime
	Uptime.Set(time.Since(startTime).Seconds())

	// Update goroutine count
	Goroutines.Set(float64(runtime.NumGoroutine()))

	// Update memory statistics
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	MemoryUsage.WithLabelValues("alloc").Set(float64(m.Alloc))
	MemoryUsage.WithLabelValues("total_alloc").Set(float64(m.TotalAlloc))
	MemoryUsage.WithLabelValues("sys").Set(float64(m.Sys))
	MemoryUsage.WithLabelValues("heap_inuse").Set(float64(m.HeapInuse))
}
