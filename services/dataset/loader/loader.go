// Copyright (C) 2025 AffectLab (oss@affectlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package loader retrieves the chunked emotion dataset over HTTP,
// normalizes each chunk through the record validator, and streams
// normalized chunks to a caller-supplied progress sink.
//
// # Concurrency Shape
//
// The chunk index space is partitioned into strictly sequential batches
// of width MaxConcurrentRequests. Within a batch every fetch runs
// concurrently and the batch fails as a whole if any member fails; the
// next batch starts only once the current one has fully settled. This
// bounds in-flight requests and provides natural backpressure against
// the remote source.
//
// # Ordering
//
// Progress callbacks fire after a batch settles, once per chunk, in
// chunk-index order. Progress is monotonically non-decreasing and
// reaches exactly 100 only after the final chunk of the final batch.
package loader

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/affectlab/vadscope/services/dataset/record"
)

// DefaultMaxConcurrentRequests bounds in-flight chunk fetches.
const DefaultMaxConcurrentRequests = 8

var (
	// ErrChunkNotFound marks a 404 on a chunk resource, distinguishing
	// "the chunk does not exist" from transport or server failures.
	ErrChunkNotFound = errors.New("chunk not found")

	// ErrMetadataUnavailable marks a failed metadata fetch. Metadata
	// failure is fatal to the whole load: chunks cannot be addressed
	// without it.
	ErrMetadataUnavailable = errors.New("dataset metadata unavailable")
)

// HTTPClient is the transport dependency, injectable for tests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// ProgressFunc is the progress sink for LoadProgressively. percent is in
// [0, 100]; chunk holds the normalized records of one completed chunk.
type ProgressFunc func(percent float64, chunk []record.NormalizedRecord)

// Options configures a Loader.
type Options struct {
	// BaseURL is the dataset endpoint prefix, e.g.
	// "http://localhost:8080/api/dataset". Required.
	BaseURL string

	// MaxConcurrentRequests bounds in-flight chunk fetches.
	// Default: DefaultMaxConcurrentRequests.
	MaxConcurrentRequests int

	// Compress asks the server for gzip-encoded chunk bodies.
	Compress bool

	// Client is the HTTP transport. Default: http.Client with a 30s
	// overall timeout.
	Client HTTPClient

	// Logger receives per-load structured logs. Default: slog.Default().
	Logger *slog.Logger
}

// Loader fetches the chunked dataset. Metadata is fetched once per
// Loader and memoized after the first success; construct a new Loader to
// observe a republished dataset.
type Loader struct {
	opts Options

	metaMu sync.Mutex
	meta   *record.DatasetMetadata
}

// New creates a Loader. BaseURL must be non-empty.
func New(opts Options) (*Loader, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("loader: BaseURL is required")
	}
	if opts.MaxConcurrentRequests <= 0 {
		opts.MaxConcurrentRequests = DefaultMaxConcurrentRequests
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Loader{opts: opts}, nil
}

// Metadata returns the dataset metadata, fetching it on first call and
// memoizing it after the first success. A fetch failure is returned but
// not memoized, so a later call may still succeed.
func (l *Loader) Metadata(ctx context.Context) (record.DatasetMetadata, error) {
	l.metaMu.Lock()
	defer l.metaMu.Unlock()

	if l.meta != nil {
		return *l.meta, nil
	}

	meta, err := l.fetchMetadata(ctx)
	if err != nil {
		return record.DatasetMetadata{}, fmt.Errorf("%w: %v", ErrMetadataUnavailable, err)
	}
	l.meta = &meta
	return meta, nil
}

// Load retrieves the whole dataset, accumulating every chunk.
func (l *Loader) Load(ctx context.Context) ([]record.NormalizedRecord, error) {
	var all []record.NormalizedRecord
	err := l.LoadProgressively(ctx, func(_ float64, chunk []record.NormalizedRecord) {
		all = append(all, chunk...)
	})
	if err != nil {
		return nil, err
	}
	return all, nil
}

// LoadProgressively retrieves all chunks in bounded-concurrency batches,
// invoking onProgress once per chunk in chunk-index order as each batch
// settles.
//
// Any chunk fetch failure fails the whole call; the caller must restart
// the load to retry. A dataset with zero chunks returns immediately with
// no progress calls.
func (l *Loader) LoadProgressively(ctx context.Context, onProgress ProgressFunc) error {
	loadID := uuid.NewString()
	logger := l.opts.Logger.With("load_id", loadID)

	meta, err := l.Metadata(ctx)
	if err != nil {
		return err
	}
	if meta.TotalChunks == 0 {
		logger.Info("dataset has no chunks, nothing to load")
		return nil
	}

	logger.Info("starting progressive load",
		"total_chunks", meta.TotalChunks,
		"chunk_size", meta.ChunkSize,
		"max_concurrent", l.opts.MaxConcurrentRequests)

	start := time.Now()
	completed := 0

	for batchStart := 0; batchStart < meta.TotalChunks; batchStart += l.opts.MaxConcurrentRequests {
		batchEnd := batchStart + l.opts.MaxConcurrentRequests
		if batchEnd > meta.TotalChunks {
			batchEnd = meta.TotalChunks
		}

		chunks := make([][]record.NormalizedRecord, batchEnd-batchStart)
		g, gctx := errgroup.WithContext(ctx)
		for i := batchStart; i < batchEnd; i++ {
			idx := i
			g.Go(func() error {
				chunk, err := l.fetchChunk(gctx, idx, logger)
				if err != nil {
					return fmt.Errorf("chunk %d: %w", idx, err)
				}
				chunks[idx-batchStart] = chunk
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return fmt.Errorf("load failed at batch starting %d: %w", batchStart, err)
		}

		for _, chunk := range chunks {
			completed++
			percent := float64(completed) / float64(meta.TotalChunks) * 100
			if onProgress != nil {
				onProgress(percent, chunk)
			}
		}
	}

	logger.Info("progressive load complete",
		"chunks", meta.TotalChunks,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// fetchMetadata GETs the metadata endpoint.
func (l *Loader) fetchMetadata(ctx context.Context) (record.DatasetMetadata, error) {
	url := l.opts.BaseURL + "/metadata"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return record.DatasetMetadata{}, err
	}

	resp, err := l.opts.Client.Do(req)
	if err != nil {
		return record.DatasetMetadata{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return record.DatasetMetadata{}, fmt.Errorf("metadata endpoint returned %s", resp.Status)
	}

	var meta record.DatasetMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return record.DatasetMetadata{}, fmt.Errorf("decode metadata: %w", err)
	}
	return meta, nil
}

// fetchChunk GETs one chunk, decodes it (transparently un-gzipping), and
// normalizes every raw record. Records rejected by validation are logged
// and dropped; they do not fail the chunk.
func (l *Loader) fetchChunk(ctx context.Context, id int, logger *slog.Logger) ([]record.NormalizedRecord, error) {
	url := fmt.Sprintf("%s/chunk/%d?compress=%t", l.opts.BaseURL, id, l.opts.Compress)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := l.opts.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrChunkNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("chunk endpoint returned %s", resp.Status)
	}

	var body io.Reader = resp.Body
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("open gzip body: %w", err)
		}
		defer gz.Close()
		body = gz
	}

	var raws []record.RawRecord
	if err := json.NewDecoder(body).Decode(&raws); err != nil {
		return nil, fmt.Errorf("decode chunk body: %w", err)
	}

	chunk := make([]record.NormalizedRecord, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		rec, err := record.Normalize(raw)
		if err != nil {
			dropped++
			continue
		}
		chunk = append(chunk, rec)
	}
	if dropped > 0 {
		logger.Warn("dropped invalid records from chunk", "chunk", id, "dropped", dropped)
	}
	return chunk, nil
}
