// Package metrics exposes Prometheus instrumentation for the analysis pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksSubmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pulse_tasks_submitted_total",
			Help: "Total number of analysis tasks accepted",
		},
	)

	TasksFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_tasks_finished_total",
			Help: "Total number of analysis tasks reaching a terminal state",
		},
		[]string{"state"},
	)

	TasksRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pulse_tasks_running",
			Help: "Number of analysis tasks currently executing",
		},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulse_stage_duration_seconds",
			Help:    "Duration of each pipeline stage in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"stage"},
	)

	ReviewsCollected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_reviews_collected_total",
			Help: "Total number of unique reviews collected",
		},
		[]string{"source"},
	)

	FetchRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_fetch_retries_total",
			Help: "Total number of retried crawl operations",
		},
		[]string{"source", "operation"},
	)

	SourcesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_sources_dropped_total",
			Help: "Sources abandoned during collection",
		},
		[]string{"source", "reason"},
	)

	StrategySelected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_strategy_selected_total",
			Help: "Persona strategy selections",
		},
		[]string{"strategy"},
	)

	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pulse_llm_requests_total",
			Help: "LLM calls by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pulse_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pulse_http_request_duration_seconds",
			Help:    "API request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// ObserveStage records how long a pipeline stage took
func ObserveStage(stage string, start time.Time) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
