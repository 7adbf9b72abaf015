// Copyright (C) 2025 AffectLab (oss@affectlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/affectlab/vadscope/services/dataset/cache"
	"github.com/affectlab/vadscope/services/dataset/chunker"
	"github.com/affectlab/vadscope/services/dataset/observability"
	"github.com/affectlab/vadscope/services/dataset/record"
)

// ErrChunkOutOfRange is returned for chunk ids outside [0, TotalChunks).
var ErrChunkOutOfRange = errors.New("chunk id out of range")

// chunkCacheName is the registry name for the chunk byte cache.
const chunkCacheName = "chunks"

// ChunkStore serves chunked dataset files from a directory, caching file
// bytes so repeated chunk requests skip the filesystem. A filesystem
// watcher clears the cache when the directory's contents change.
type ChunkStore struct {
	dir     string
	ttl     time.Duration
	cache   *cache.Cache
	logger  *slog.Logger
	metrics *observability.Metrics
	watcher *fsnotify.Watcher
}

// StoreOptions configures a ChunkStore.
type StoreOptions struct {
	// Dir is the data directory. Required.
	Dir string

	// TTL bounds cached file bytes. Zero uses the cache default.
	TTL time.Duration

	// Caches supplies the chunk cache. Defaults to cache.Default().
	Caches *cache.Registry

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics defaults to observability.Default().
	Metrics *observability.Metrics
}

// NewChunkStore creates a ChunkStore over opts.Dir. The directory must
// exist and contain a readable metadata.json.
func NewChunkStore(opts StoreOptions) (*ChunkStore, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("chunk store: Dir is required")
	}
	if opts.Caches == nil {
		opts.Caches = cache.Default()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.Default()
	}

	s := &ChunkStore{
		dir:     opts.Dir,
		ttl:     opts.TTL,
		cache:   opts.Caches.Get(chunkCacheName),
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}

	meta, err := s.Metadata()
	if err != nil {
		return nil, fmt.Errorf("chunk store: %w", err)
	}
	s.metrics.DatasetRecords.Set(float64(meta.TotalCount))
	return s, nil
}

// Metadata returns the dataset metadata from metadata.json.
func (s *ChunkStore) Metadata() (record.DatasetMetadata, error) {
	data, err := s.readCached(chunker.MetadataFile)
	if err != nil {
		return record.DatasetMetadata{}, err
	}
	var meta record.DatasetMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return record.DatasetMetadata{}, fmt.Errorf("parsing %s: %w", chunker.MetadataFile, err)
	}
	return meta, nil
}

// ChunkJSON returns the raw JSON bytes for chunk id. Ids outside the
// metadata's chunk range return ErrChunkOutOfRange.
func (s *ChunkStore) ChunkJSON(id int) ([]byte, error) {
	meta, err := s.Metadata()
	if err != nil {
		return nil, err
	}
	if id < 0 || id >= meta.TotalChunks {
		return nil, fmt.Errorf("chunk %d: %w", id, ErrChunkOutOfRange)
	}
	return s.readCached(fmt.Sprintf(chunker.ChunkFilePattern, id))
}

// StatisticsJSON returns the raw contents of statistics.json.
func (s *ChunkStore) StatisticsJSON() ([]byte, error) {
	return s.readCached(chunker.StatisticsFile)
}

// Invalidate drops this store's cached file bytes. The next read hits
// the filesystem again.
func (s *ChunkStore) Invalidate() {
	if _, err := s.cache.DeleteByPattern("^" + regexp.QuoteMeta(s.dir)); err != nil {
		s.cache.Clear()
	}
}

// readCached returns the bytes of a file under the data directory,
// serving from the chunk cache when possible. Keys are full paths so two
// stores over different directories sharing a registry stay isolated.
func (s *ChunkStore) readCached(name string) ([]byte, error) {
	path := filepath.Join(s.dir, name)
	if v, ok := s.cache.Get(path); ok {
		s.metrics.RecordChunkCache(true)
		return v.([]byte), nil
	}
	s.metrics.RecordChunkCache(false)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", name, err)
	}
	s.cache.Set(path, data, s.ttl)
	return data, nil
}

// Watch starts a filesystem watcher on the data directory and clears the
// chunk cache whenever a file under it changes. It returns immediately;
// the watcher runs until ctx is cancelled.
func (s *ChunkStore) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", s.dir, err)
	}
	s.watcher = watcher

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					s.logger.Info("data directory changed, invalidating chunk cache",
						"file", event.Name, "op", event.Op.String())
					s.Invalidate()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("watcher error", "error", err)
			}
		}
	}()
	return nil
}
