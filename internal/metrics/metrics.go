// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// IngestedTotal counts ingestion outcomes: stored, duplicate, error.
	IngestedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voku_ingest_total",
		Help: "Candidate propositions by ingestion outcome",
	}, []string{"outcome"})

	// VerdictsTotal counts classifier verdicts by relationship.
	VerdictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voku_classifier_verdicts_total",
		Help: "Relationship classifier verdicts by relationship",
	}, []string{"relationship"})

	ClassifierFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voku_classifier_failures_total",
		Help: "Classifier calls that failed or returned an invalid response",
	})

	TransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voku_status_transitions_total",
		Help: "Applied proposition status transitions by target status",
	}, []string{"to"})

	ProcessRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voku_process_run_duration_seconds",
		Help:    "Process engine run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
	})

	// Watermark is the unix time of the last processed recorded_at.
	Watermark = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voku_process_watermark_seconds",
		Help: "Process engine high-water mark as unix seconds",
	})

	IndexSize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voku_index_size",
		Help: "Embeddings held by the similarity index",
	})

	ThreadRebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voku_thread_rebuilds_total",
		Help: "Thread surface rebuilds by scope",
	}, []string{"scope"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voku_http_requests_total",
		Help: "HTTP requests by method and status class",
	}, []string{"method", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "voku_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})
)
