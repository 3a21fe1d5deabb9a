package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Client metrics
	upstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reqscope_upstream_request_duration_seconds",
			Help:    "Upstream request duration in seconds by service",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~50s
		},
		[]string{"service", "status"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reqscope_cache_results_total",
			Help: "Cache lookups by service and result",
		},
		[]string{"service", "result"}, // result: "hit"/"miss"
	)

	rateLimitDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reqscope_rate_limit_decisions_total",
			Help: "Sliding-window admission decisions by service",
		},
		[]string{"service", "decision"}, // "allowed"/"wait"/"rejected"
	)

	breakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reqscope_breaker_rejections_total",
			Help: "Calls short-circuited by an open circuit breaker",
		},
		[]string{"service"},
	)

	// Pipeline metrics
	stageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reqscope_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"stage", "status"}, // status: "ok"/"error"
	)

	stagesRun = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reqscope_stages_run_total",
			Help: "Total stage executions by outcome",
		},
		[]string{"stage", "status"},
	)

	eventBufferDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "reqscope_event_buffer_depth",
			Help: "Current depth of the progress event buffer",
		},
	)
)

// Collector provides convenience methods for recording metrics. Methods
// are safe on a nil receiver, so components may be wired without metrics
// in tests.
type Collector struct {
	logger *slog.Logger
}

// NewCollector creates a new metrics collector
func NewCollector(logger *slog.Logger) *Collector {
	return &Collector{logger: logger}
}

// RecordUpstreamRequest records an upstream request duration
func (c *Collector) RecordUpstreamRequest(service string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	upstreamRequestDuration.WithLabelValues(service, status).Observe(duration.Seconds())
}

// RecordCacheResult records a cache hit or miss
func (c *Collector) RecordCacheResult(service string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheResults.WithLabelValues(service, result).Inc()
}

// RecordRateLimitDecision records a sliding-window admission decision
func (c *Collector) RecordRateLimitDecision(service, decision string) {
	rateLimitDecisions.WithLabelValues(service, decision).Inc()
}

// RecordBreakerRejection records a short-circuited call
func (c *Collector) RecordBreakerRejection(service string) {
	breakerRejections.WithLabelValues(service).Inc()
}

// RecordStage records one stage execution
func (c *Collector) RecordStage(stage string, duration time.Duration, success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	stageDuration.WithLabelValues(stage, status).Observe(duration.Seconds())
	stagesRun.WithLabelValues(stage, status).Inc()
}

// SetEventBufferDepth sets the current event buffer depth
func (c *Collector) SetEventBufferDepth(depth int) {
	eventBufferDepth.Set(float64(depth))
}
