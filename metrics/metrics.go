// Package metrics holds the Prometheus collectors of the song pipeline and HTTP layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StageDuration measures how long each pipeline stage takes.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xslicer_pipeline_stage_duration_seconds",
		Help:    "Duration of pipeline stages in seconds",
		Buckets: []float64{0.05, 0.25, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage"})

	// CacheLookups counts song store lookups by outcome (hit, miss, error).
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xslicer_cache_lookups_total",
		Help: "Total number of song cache lookups by outcome",
	}, []string{"outcome"})

	// Results counts finished pipeline requests by status and error kind.
	Results = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xslicer_pipeline_results_total",
		Help: "Total number of pipeline requests by status and error kind",
	}, []string{"status", "kind"})

	// InFlight is the number of fetch+analyze runs currently executing.
	InFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xslicer_pipeline_in_flight",
		Help: "Number of fetch and analyze runs in progress",
	})

	// SharedWaits counts requests that joined an already running fetch+analyze.
	SharedWaits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xslicer_pipeline_shared_waits_total",
		Help: "Total number of requests that waited on an in-flight run for the same id",
	})

	// HTTPRequests counts HTTP requests by route, method and status code.
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xslicer_http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"route", "method", "code"})

	// HTTPDuration measures HTTP request latency.
	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xslicer_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route", "method"})
)

// ObserveStage records the duration of a completed stage.
func ObserveStage(stage string, elapsed time.Duration) {
	StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// RecordLookup records a cache lookup outcome.
func RecordLookup(outcome string) {
	CacheLookups.WithLabelValues(outcome).Inc()
}

// RecordResult records a finished request; kind is empty on success.
func RecordResult(status, kind string) {
	if kind == "" {
		kind = "none"
	}
	Results.WithLabelValues(status, kind).Inc()
}
