// Copyright (C) 2025 AffectLab (oss@affectlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package dataset ties the pipeline together: progressive chunk loading,
// background transform offload with a synchronous fallback, and result
// caching keyed by input fingerprint.
//
// # Fallback Discipline
//
// Every operation that depends on the background context is wrapped so
// that any rejection (timeout, termination, worker error) triggers the
// same computation synchronously through the pure transform functions.
// Because the worker runs those exact functions, the two paths are
// observably equivalent for identical inputs, and offload failures are
// invisible to callers beyond a latency blip.
package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/affectlab/vadscope/services/dataset/cache"
	"github.com/affectlab/vadscope/services/dataset/loader"
	"github.com/affectlab/vadscope/services/dataset/observability"
	"github.com/affectlab/vadscope/services/dataset/offload"
	"github.com/affectlab/vadscope/services/dataset/record"
	"github.com/affectlab/vadscope/services/dataset/transform"
)

// Names of the caches the service multiplexes through its registry.
const (
	CacheDataset    = "dataset"
	CacheTransforms = "transforms"
)

// Default TTLs.
const (
	DefaultDatasetTTL = 10 * time.Minute
	DefaultResultTTL  = 5 * time.Minute
)

// Config configures a Service.
type Config struct {
	// Loader retrieves the chunked dataset. Required.
	Loader *loader.Loader

	// Manager runs offloaded computations. Default: offload.DefaultManager().
	Manager *offload.Manager

	// Caches is the registry holding the dataset and transform caches.
	// Default: cache.Default().
	Caches *cache.Registry

	// DatasetTTL bounds how long a fully loaded dataset is reused.
	DatasetTTL time.Duration

	// ResultTTL bounds how long transform/statistics results are reused.
	ResultTTL time.Duration

	// Logger receives service logs. Default: slog.Default().
	Logger *slog.Logger

	// Metrics counts fallbacks. Default: observability.Default().
	Metrics *observability.Metrics
}

// Service is the caller-facing facade over the loading, offload, and
// caching layers.
type Service struct {
	cfg Config
}

// NewService creates a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Loader == nil {
		return nil, fmt.Errorf("dataset: Loader is required")
	}
	if cfg.Manager == nil {
		cfg.Manager = offload.DefaultManager()
	}
	if cfg.Caches == nil {
		cfg.Caches = cache.Default()
	}
	if cfg.DatasetTTL <= 0 {
		cfg.DatasetTTL = DefaultDatasetTTL
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = DefaultResultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.Default()
	}
	return &Service{cfg: cfg}, nil
}

// Close tears down the offload manager.
func (s *Service) Close() {
	s.cfg.Manager.Terminate()
}

// LoadData retrieves the full dataset, reusing a cached copy when one is
// still fresh so repeat callers skip the network entirely.
func (s *Service) LoadData(ctx context.Context) ([]record.NormalizedRecord, error) {
	result, err := s.cfg.Caches.Get(CacheDataset).GetOrSetContext(ctx, "full",
		func(ctx context.Context) (any, error) {
			return s.cfg.Loader.Load(ctx)
		}, s.cfg.DatasetTTL)
	if err != nil {
		return nil, err
	}
	return result.([]record.NormalizedRecord), nil
}

// LoadDataProgressively streams the dataset chunk by chunk. Progressive
// loads always hit the network; only the accumulated LoadData result is
// cached.
func (s *Service) LoadDataProgressively(ctx context.Context, onProgress loader.ProgressFunc) error {
	return s.cfg.Loader.LoadProgressively(ctx, onProgress)
}

// Metadata exposes the loader's memoized dataset metadata.
func (s *Service) Metadata(ctx context.Context) (record.DatasetMetadata, error) {
	return s.cfg.Loader.Metadata(ctx)
}

// TransformData converts records to renderable points, offloading to the
// background context and falling back synchronously on any offload
// failure. Results are cached by input fingerprint.
func (s *Service) TransformData(ctx context.Context, records []record.NormalizedRecord, width, height float64) ([]record.RenderablePoint, error) {
	key := fmt.Sprintf("transform:%s:%g:%g", fingerprint(records), width, height)
	result, err := s.cfg.Caches.Get(CacheTransforms).GetOrSetContext(ctx, key,
		func(ctx context.Context) (any, error) {
			points, err := s.cfg.Manager.TransformData(ctx, records, width, height)
			if err != nil {
				s.logFallback("transform", err)
				points = transform.Transform(records, width, height)
			}
			return points, nil
		}, s.cfg.ResultTTL)
	if err != nil {
		return nil, err
	}
	return result.([]record.RenderablePoint), nil
}

// FilterData filters records, falling back synchronously on offload
// failure. Filter results are not cached: specs vary too much for reuse
// to pay for the entry churn.
func (s *Service) FilterData(ctx context.Context, records []record.NormalizedRecord, spec transform.FilterSpec) ([]record.NormalizedRecord, error) {
	out, err := s.cfg.Manager.FilterData(ctx, records, spec)
	if err != nil {
		s.logFallback("filter", err)
		out = transform.Filter(records, spec)
	}
	return out, nil
}

// SearchData searches records, falling back synchronously on offload
// failure.
func (s *Service) SearchData(ctx context.Context, records []record.NormalizedRecord, query string) ([]record.NormalizedRecord, error) {
	out, err := s.cfg.Manager.SearchData(ctx, records, query)
	if err != nil {
		s.logFallback("search", err)
		out = transform.Search(records, query)
	}
	return out, nil
}

// CalculateStatistics aggregates statistics, offloading with fallback,
// cached by input fingerprint.
func (s *Service) CalculateStatistics(ctx context.Context, records []record.NormalizedRecord) (record.Statistics, error) {
	key := "stats:" + fingerprint(records)
	result, err := s.cfg.Caches.Get(CacheTransforms).GetOrSetContext(ctx, key,
		func(ctx context.Context) (any, error) {
			stats, err := s.cfg.Manager.CalculateStatistics(ctx, records)
			if err != nil {
				s.logFallback("statistics", err)
				stats = transform.Statistics(records)
			}
			return stats, nil
		}, s.cfg.ResultTTL)
	if err != nil {
		return record.Statistics{}, err
	}
	return result.(record.Statistics), nil
}

// CacheStats reports per-cache hit/miss statistics.
func (s *Service) CacheStats() map[string]cache.Stats {
	return s.cfg.Caches.StatsAll()
}

// logFallback records an offload failure being recovered synchronously.
// The failure is never surfaced: the fallback path is total.
func (s *Service) logFallback(op string, err error) {
	s.cfg.Metrics.RecordFallback(op)
	s.cfg.Logger.Warn("offload failed, computing synchronously", "op", op, "error", err)
}

// FilterKey returns a stable cache key component for a filter spec.
// Exposed for callers that layer their own caching over FilterData.
func FilterKey(spec transform.FilterSpec) string {
	b, err := json.Marshal(spec)
	if err != nil {
		return "invalid"
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

// fingerprint hashes a record set into a short stable key. Two calls
// with the same records in the same order always produce the same key.
func fingerprint(records []record.NormalizedRecord) string {
	h := sha256.New()
	var buf [8]byte

	binary.LittleEndian.PutUint64(buf[:], uint64(len(records)))
	h.Write(buf[:])

	for _, rec := range records {
		h.Write([]byte(rec.Term))
		h.Write([]byte{0})
		for _, v := range []float64{rec.Valence, rec.Arousal, rec.Dominance, rec.Confidence} {
			binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
			h.Write(buf[:])
		}
		h.Write([]byte(rec.MergeStrategy))
		if rec.IsMultiword {
			h.Write([]byte{1})
		} else {
			h.Write([]byte{0})
		}
	}

	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16])
}
