// Copyright (C) 2025 AffectLab (oss@affectlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the dataset
// service.
//
// # Description
//
// Metrics cover the HTTP serving side (request counts and latency, chunks
// served, rate limiting) and the pipeline side (chunk cache hits, offload
// fallbacks). They are exposed on the server's /metrics endpoint.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics.
const metricsNamespace = "vadscope"

// Subsystem for dataset-serving metrics.
const datasetSubsystem = "dataset"

// Metrics holds all Prometheus metrics for the dataset service.
//
// # Fields
//
//   - RequestsTotal: Counter of HTTP requests by route and status class
//   - RequestDurationSeconds: Histogram of request latency by route
//   - ChunksServedTotal: Counter of chunk responses by encoding
//   - ChunkCacheEventsTotal: Counter of chunk store cache hits and misses
//   - OffloadFallbacksTotal: Counter of offload failures served synchronously
//   - RateLimitedTotal: Counter of requests rejected by the rate limiter
//   - DatasetRecords: Gauge of records in the currently served dataset
type Metrics struct {
	// RequestsTotal counts HTTP requests.
	// Labels: route, status (2xx, 4xx, 5xx)
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures per-route request latency.
	// Labels: route
	RequestDurationSeconds *prometheus.HistogramVec

	// ChunksServedTotal counts chunk responses by wire encoding.
	// Labels: encoding (gzip, identity)
	ChunksServedTotal *prometheus.CounterVec

	// ChunkCacheEventsTotal counts chunk store lookups.
	// Labels: event (hit, miss)
	ChunkCacheEventsTotal *prometheus.CounterVec

	// OffloadFallbacksTotal counts offload requests that failed and were
	// recomputed synchronously.
	// Labels: op (transform, filter, search, statistics)
	OffloadFallbacksTotal *prometheus.CounterVec

	// RateLimitedTotal counts requests rejected with 429.
	RateLimitedTotal prometheus.Counter

	// DatasetRecords tracks the record count of the served dataset.
	DatasetRecords prometheus.Gauge
}

// NewMetrics creates and registers all metrics on the given registerer.
// Tests pass an isolated prometheus.NewRegistry() to avoid duplicate
// registration across cases.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: datasetSubsystem,
				Name:      "requests_total",
				Help:      "Total HTTP requests by route and status class",
			},
			[]string{"route", "status"},
		),

		RequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: datasetSubsystem,
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency by route",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"route"},
		),

		ChunksServedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: datasetSubsystem,
				Name:      "chunks_served_total",
				Help:      "Total chunk responses by wire encoding",
			},
			[]string{"encoding"},
		),

		ChunkCacheEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: datasetSubsystem,
				Name:      "chunk_cache_events_total",
				Help:      "Chunk store cache lookups by outcome",
			},
			[]string{"event"},
		),

		OffloadFallbacksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: datasetSubsystem,
				Name:      "offload_fallbacks_total",
				Help:      "Offload requests that failed and were recomputed synchronously",
			},
			[]string{"op"},
		),

		RateLimitedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: datasetSubsystem,
				Name:      "rate_limited_total",
				Help:      "Requests rejected by the rate limiter",
			},
		),

		DatasetRecords: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: datasetSubsystem,
				Name:      "dataset_records",
				Help:      "Record count of the currently served dataset",
			},
		),
	}
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default returns the process-wide metrics instance, registered on the
// default Prometheus registry on first use.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(route string, statusCode int, seconds float64) {
	m.RequestsTotal.WithLabelValues(route, statusClass(statusCode)).Inc()
	m.RequestDurationSeconds.WithLabelValues(route).Observe(seconds)
}

// RecordChunkServed records a chunk response and its wire encoding.
func (m *Metrics) RecordChunkServed(compressed bool) {
	encoding := "identity"
	if compressed {
		encoding = "gzip"
	}
	m.ChunksServedTotal.WithLabelValues(encoding).Inc()
}

// RecordChunkCache records a chunk store lookup outcome.
func (m *Metrics) RecordChunkCache(hit bool) {
	event := "miss"
	if hit {
		event = "hit"
	}
	m.ChunkCacheEventsTotal.WithLabelValues(event).Inc()
}

// RecordFallback records an offload request served by the synchronous
// fallback path.
func (m *Metrics) RecordFallback(op string) {
	m.OffloadFallbacksTotal.WithLabelValues(op).Inc()
}

// RecordRateLimited records a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimited() {
	m.RateLimitedTotal.Inc()
}

// statusClass buckets an HTTP status code into its class label.
func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
