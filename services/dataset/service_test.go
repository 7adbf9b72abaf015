// Copyright (C) 2025 AffectLab (oss@affectlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dataset

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/affectlab/vadscope/services/dataset/cache"
	"github.com/affectlab/vadscope/services/dataset/loader"
	"github.com/affectlab/vadscope/services/dataset/offload"
	"github.com/affectlab/vadscope/services/dataset/record"
	"github.com/affectlab/vadscope/services/dataset/transform"
)

func f(v float64) *float64 { return &v }

// newDatasetServer serves a 2-chunk dataset and counts chunk requests.
func newDatasetServer(t *testing.T, chunkHits *int64) *httptest.Server {
	t.Helper()

	chunk := func(prefix string) []record.RawRecord {
		out := make([]record.RawRecord, 5)
		for i := range out {
			out[i] = record.RawRecord{Term: fmt.Sprintf("%s-%d", prefix, i), Valence: f(0.4), Arousal: f(-0.2)}
		}
		return out
	}
	chunks := map[int][]record.RawRecord{0: chunk("a"), 1: chunk("b")}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/dataset/metadata", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(record.DatasetMetadata{TotalCount: 10, ChunkSize: 5, TotalChunks: 2})
	})
	mux.HandleFunc("/api/dataset/chunk/", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(chunkHits, 1)
		id, _ := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/api/dataset/chunk/"))
		c, ok := chunks[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(c)
	})

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func newTestService(t *testing.T, manager *offload.Manager, chunkHits *int64) *Service {
	t.Helper()

	ts := newDatasetServer(t, chunkHits)
	l, err := loader.New(loader.Options{BaseURL: ts.URL + "/api/dataset"})
	require.NoError(t, err)

	if manager == nil {
		manager = offload.NewManager(offload.Options{})
	}
	svc, err := NewService(Config{
		Loader:  l,
		Manager: manager,
		Caches:  cache.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(svc.Close)
	return svc
}

func TestServiceLoadData(t *testing.T) {
	var chunkHits int64
	svc := newTestService(t, nil, &chunkHits)
	ctx := context.Background()

	records, err := svc.LoadData(ctx)
	require.NoError(t, err)
	assert.Len(t, records, 10)
	assert.Equal(t, int64(2), atomic.LoadInt64(&chunkHits))

	// Second load within the TTL is served from cache.
	again, err := svc.LoadData(ctx)
	require.NoError(t, err)
	assert.Equal(t, records, again)
	assert.Equal(t, int64(2), atomic.LoadInt64(&chunkHits))
}

func TestServiceLoadDataProgressively(t *testing.T) {
	var chunkHits int64
	svc := newTestService(t, nil, &chunkHits)

	var percents []float64
	err := svc.LoadDataProgressively(context.Background(), func(p float64, _ []record.NormalizedRecord) {
		percents = append(percents, p)
	})
	require.NoError(t, err)
	assert.Equal(t, []float64{50, 100}, percents)
}

func TestServiceTransformData(t *testing.T) {
	t.Run("caches by input fingerprint", func(t *testing.T) {
		var chunkHits int64
		svc := newTestService(t, nil, &chunkHits)
		ctx := context.Background()

		records, err := svc.LoadData(ctx)
		require.NoError(t, err)

		first, err := svc.TransformData(ctx, records, 800, 600)
		require.NoError(t, err)
		second, err := svc.TransformData(ctx, records, 800, 600)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		stats := svc.CacheStats()[CacheTransforms]
		assert.Equal(t, int64(1), stats.Hits)

		// Different viewport misses the cache.
		_, err = svc.TransformData(ctx, records, 1024, 768)
		require.NoError(t, err)
		assert.Equal(t, 2, svc.CacheStats()[CacheTransforms].Size)
	})

	t.Run("falls back when the background context never responds", func(t *testing.T) {
		block := make(chan struct{})
		defer close(block)
		stalled := offload.NewManager(offload.Options{
			RequestTimeout: 20 * time.Millisecond,
			Executor: offload.ExecutorFunc(func(req offload.Request) (any, error) {
				<-block
				return nil, nil
			}),
		})

		var chunkHits int64
		svc := newTestService(t, stalled, &chunkHits)
		ctx := context.Background()

		records, err := svc.LoadData(ctx)
		require.NoError(t, err)

		// The manager path rejects after its timeout...
		_, err = stalled.TransformData(ctx, records, 800, 600)
		require.ErrorIs(t, err, offload.ErrRequestTimeout)

		// ...but the service recovers and returns exactly what the pure
		// transformer produces.
		got, err := svc.TransformData(ctx, records, 800, 600)
		require.NoError(t, err)
		assert.Equal(t, transform.Transform(records, 800, 600), got)
	})
}

func TestServiceQueryOperations(t *testing.T) {
	var chunkHits int64
	svc := newTestService(t, nil, &chunkHits)
	ctx := context.Background()

	records, err := svc.LoadData(ctx)
	require.NoError(t, err)

	t.Run("filter", func(t *testing.T) {
		spec := transform.FilterSpec{MinValence: f(0)}
		got, err := svc.FilterData(ctx, records, spec)
		require.NoError(t, err)
		assert.Equal(t, transform.Filter(records, spec), got)
	})

	t.Run("search", func(t *testing.T) {
		got, err := svc.SearchData(ctx, records, "a-1")
		require.NoError(t, err)
		assert.Equal(t, transform.Search(records, "a-1"), got)
	})

	t.Run("statistics", func(t *testing.T) {
		got, err := svc.CalculateStatistics(ctx, records)
		require.NoError(t, err)
		assert.Equal(t, transform.Statistics(records), got)
	})

	t.Run("query operations fall back on a stalled manager", func(t *testing.T) {
		block := make(chan struct{})
		defer close(block)
		stalled := offload.NewManager(offload.Options{
			RequestTimeout: 20 * time.Millisecond,
			Executor: offload.ExecutorFunc(func(offload.Request) (any, error) {
				<-block
				return nil, nil
			}),
		})
		var hits int64
		svc := newTestService(t, stalled, &hits)

		recs, err := svc.LoadData(ctx)
		require.NoError(t, err)

		got, err := svc.SearchData(ctx, recs, "a-1")
		require.NoError(t, err)
		assert.Equal(t, transform.Search(recs, "a-1"), got)
	})
}

func TestFingerprint(t *testing.T) {
	a := []record.NormalizedRecord{{Term: "joy", Valence: 0.5, Arousal: 0.2, Confidence: 0.7}}
	b := []record.NormalizedRecord{{Term: "joy", Valence: 0.5, Arousal: 0.2, Confidence: 0.7}}
	c := []record.NormalizedRecord{{Term: "joy", Valence: 0.6, Arousal: 0.2, Confidence: 0.7}}

	assert.Equal(t, fingerprint(a), fingerprint(b))
	assert.NotEqual(t, fingerprint(a), fingerprint(c))
	assert.NotEqual(t, fingerprint(a), fingerprint(nil))
}

func TestFilterKey(t *testing.T) {
	a := transform.FilterSpec{MinValence: f(0)}
	b := transform.FilterSpec{MinValence: f(0)}
	c := transform.FilterSpec{MinValence: f(0.5)}

	assert.Equal(t, FilterKey(a), FilterKey(b))
	assert.NotEqual(t, FilterKey(a), FilterKey(c))
}
