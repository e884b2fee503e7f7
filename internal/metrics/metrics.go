// Package metrics provides Prometheus metrics for the conversion loader.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the conversion loader.
type Metrics struct {
	// Event metrics
	EventsSubmitted prometheus.Counter
	EventsSucceeded prometheus.Counter
	EventsFailed    *prometheus.CounterVec // by failure reason
	EventsInvalid   prometheus.Counter

	// Upload metrics
	UploadDuration  prometheus.Histogram
	UploadBatchSize prometheus.Histogram
	TransportErrors prometheus.Counter
	DecodeErrors    prometheus.Counter

	// Shard/worker metrics
	ShardsPlanned  prometheus.Counter
	WorkersStarted prometheus.Counter
	WorkersFailed  prometheus.Counter
	WorkersSkipped prometheus.Counter
	WorkersActive  prometheus.Gauge

	// Job metrics
	JobsStarted   prometheus.Counter
	JobsSkipped   prometheus.Counter
	JobDuration   prometheus.Histogram
	LastJobEvents prometheus.Gauge
}

// Config holds metrics configuration.
type Config struct {
	Enabled bool
	Address string // Address for metrics HTTP server (e.g., ":9090")
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "conversion_loader"
	}

	m := &Metrics{
		EventsSubmitted: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_submitted_total",
				Help:      "Total number of conversion events submitted to the provider",
			},
		),
		EventsSucceeded: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_succeeded_total",
				Help:      "Total number of conversion events accepted by the provider",
			},
		),
		EventsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_failed_total",
				Help:      "Total number of conversion events that failed",
			},
			[]string{"reason"}, // "validation" | "partial" | "transport" | "decode"
		),
		EventsInvalid: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_invalid_total",
				Help:      "Total number of input rows rejected before upload",
			},
		),
		UploadDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upload_duration_seconds",
				Help:      "Time spent in one provider upload call",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~200s
			},
		),
		UploadBatchSize: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "upload_batch_size",
				Help:      "Number of events per provider upload call",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
		),
		TransportErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transport_errors_total",
				Help:      "Total number of upload calls that failed at the transport level",
			},
		),
		DecodeErrors: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decode_errors_total",
				Help:      "Total number of provider responses that could not be decoded",
			},
		),
		ShardsPlanned: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "shards_planned_total",
				Help:      "Total number of worker shards written by the planner",
			},
		),
		WorkersStarted: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workers_started_total",
				Help:      "Total number of worker pipelines started",
			},
		),
		WorkersFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workers_failed_total",
				Help:      "Total number of worker pipelines that terminated on storage errors",
			},
		),
		WorkersSkipped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "workers_skipped_total",
				Help:      "Total number of workers skipped via checkpoint on a rerun",
			},
		),
		WorkersActive: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "workers_active",
				Help:      "Number of worker pipelines currently running",
			},
		),
		JobsStarted: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_started_total",
				Help:      "Total number of jobs started",
			},
		),
		JobsSkipped: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_skipped_total",
				Help:      "Total number of job attempts skipped (no input file)",
			},
		),
		JobDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "job_duration_seconds",
				Help:      "End-to-end duration of one job run",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
			},
		),
		LastJobEvents: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_job_events",
				Help:      "Events submitted by the most recently completed job",
			},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance, or nil if Init was never called.
func Get() *Metrics {
	return defaultMetrics
}

// Serve starts the metrics HTTP server on the configured address.
// It blocks, so call it in a goroutine.
func Serve(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	return http.ListenAndServe(cfg.Address, mux)
}
