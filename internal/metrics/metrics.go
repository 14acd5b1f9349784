// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

// Package metrics provides Prometheus instrumentation for the ingestion
// pipeline, the aggregation engine, and the refresh orchestrator.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	IngestFetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_fetch_duration_seconds",
			Help:    "Duration of upstream fetch requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	IngestBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_batch_size",
			Help:    "Number of events per fetched batch",
			Buckets: []float64{10, 50, 100, 500, 1000, 5000, 10000},
		},
	)

	IngestEventsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_events_fetched_total",
			Help: "Total events fetched from the upstream source",
		},
	)

	IngestEventsNew = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_events_new_total",
			Help: "Total events newly inserted into the raw event store",
		},
	)

	IngestEventsDuplicate = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_events_duplicate_total",
			Help: "Total events discarded by raw store deduplication",
		},
	)

	IngestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_errors_total",
			Help: "Total ingestion errors by type",
		},
		[]string{"error_type"}, // "fetch", "database", "aggregation", "other"
	)

	IngestRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_run_duration_seconds",
			Help:    "Duration of full ingestion runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
	)

	// WatermarkLag reports how far the source watermark trails wall clock.
	WatermarkLag = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "watermark_lag_seconds",
			Help: "Seconds between now and the last fully processed event time",
		},
		[]string{"source"},
	)

	WatermarkStaleRuns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "watermark_stale_runs",
			Help: "Consecutive runs that fetched zero events for a source",
		},
		[]string{"source"},
	)

	// Aggregation metrics
	AggregateChunksCommitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aggregate_chunks_committed_total",
			Help: "Total aggregation chunks committed",
		},
	)

	AggregateChunkDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "aggregate_chunk_duration_seconds",
			Help:    "Duration of per-chunk upsert transactions in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	AggregateEntitiesUpdated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "aggregate_entities_updated_total",
			Help: "Total entity aggregate rows written",
		},
	)

	// Refresh orchestrator metrics
	RefreshNodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "refresh_node_duration_seconds",
			Help:    "Duration of derived view recomputation in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"view"},
	)

	RefreshNodeOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "refresh_node_outcomes_total",
			Help: "Terminal states of derived view refreshes",
		},
		[]string{"view", "status"}, // "success", "error", "skipped"
	)

	RefreshRuns = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "refresh_runs_total",
			Help: "Total refresh orchestrator runs",
		},
	)

	// Circuit breaker metrics (upstream source client)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Circuit breaker request outcomes",
		},
		[]string{"name", "outcome"}, // "success", "failure", "rejected"
	)

	// HTTP API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)
)

// RecordIngestRun records the duration and error classification of one
// ingestion run.
func RecordIngestRun(duration time.Duration, err error) {
	IngestRunDuration.Observe(duration.Seconds())
	if err != nil {
		IngestErrors.WithLabelValues(classifyError(err)).Inc()
	}
}

// RecordChunkCommit records a committed aggregation chunk.
func RecordChunkCommit(duration time.Duration, entities int) {
	AggregateChunksCommitted.Inc()
	AggregateChunkDuration.Observe(duration.Seconds())
	AggregateEntitiesUpdated.Add(float64(entities))
}

// RecordAPIRequest records an HTTP request outcome.
func RecordAPIRequest(method, endpoint string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// classifyError buckets an error message into a coarse error type label.
func classifyError(err error) string {
	msg := err.Error()
	switch {
	case contains(msg, "fetch"):
		return "fetch"
	case contains(msg, "database"), contains(msg, "sql"):
		return "database"
	case contains(msg, "aggregat"):
		return "aggregation"
	default:
		return "other"
	}
}

// contains reports whether substr occurs in s.
func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
