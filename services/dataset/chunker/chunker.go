// Copyright (C) 2025 AffectLab (oss@affectlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package chunker is the build-time preprocessing step: it takes a merged
// lexicon JSON file and produces the chunk files, metadata, and statistics
// that the HTTP server serves and the loader consumes.
package chunker

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/affectlab/vadscope/services/dataset/record"
	"github.com/affectlab/vadscope/services/dataset/transform"
)

// DefaultChunkSize matches the chunk size baked into the published dataset.
const DefaultChunkSize = 1000

// MetadataFile, StatisticsFile, and ChunkFilePattern name the files
// WriteDataset produces inside the output directory.
const (
	MetadataFile     = "metadata.json"
	StatisticsFile   = "statistics.json"
	ChunkFilePattern = "chunk_%d.json"
)

// Split partitions records into consecutive slices of at most chunkSize
// elements, preserving order. The final chunk may be shorter. A
// non-positive chunkSize falls back to DefaultChunkSize.
func Split(records []record.NormalizedRecord, chunkSize int) [][]record.NormalizedRecord {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	chunks := make([][]record.NormalizedRecord, 0, (len(records)+chunkSize-1)/chunkSize)
	for start := 0; start < len(records); start += chunkSize {
		end := start + chunkSize
		if end > len(records) {
			end = len(records)
		}
		chunks = append(chunks, records[start:end])
	}
	return chunks
}

// ReadMerged loads a merged dataset file (a JSON array of raw records),
// normalizes each record, and drops the ones that fail validation. The
// dropped count is logged and returned so callers can surface it.
func ReadMerged(path string, logger *slog.Logger) ([]record.NormalizedRecord, int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("reading merged dataset %s: %w", path, err)
	}

	var raws []record.RawRecord
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, 0, fmt.Errorf("parsing merged dataset %s: %w", path, err)
	}

	records := make([]record.NormalizedRecord, 0, len(raws))
	dropped := 0
	for _, raw := range raws {
		rec, err := record.Normalize(raw)
		if err != nil {
			dropped++
			continue
		}
		records = append(records, rec)
	}
	if dropped > 0 {
		logger.Warn("dropped invalid records from merged dataset",
			"path", path, "dropped", dropped, "kept", len(records))
	}
	return records, dropped, nil
}

// WriteDataset writes the chunked dataset layout under dir:
//
//	chunk_0.json ... chunk_{n-1}.json
//	metadata.json
//	statistics.json
//
// The directory is created if missing. Existing files with the same names
// are overwritten; stale chunk files from a previous run with a larger
// chunk count are not removed.
func WriteDataset(dir string, records []record.NormalizedRecord, chunkSize int) (record.DatasetMetadata, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return record.DatasetMetadata{}, fmt.Errorf("creating output dir %s: %w", dir, err)
	}

	chunks := Split(records, chunkSize)
	for i, chunk := range chunks {
		name := filepath.Join(dir, fmt.Sprintf(ChunkFilePattern, i))
		if err := writeJSON(name, chunk); err != nil {
			return record.DatasetMetadata{}, err
		}
	}

	meta := record.DatasetMetadata{
		TotalCount:  len(records),
		ChunkSize:   chunkSize,
		TotalChunks: len(chunks),
	}
	if err := writeJSON(filepath.Join(dir, MetadataFile), meta); err != nil {
		return record.DatasetMetadata{}, err
	}
	if err := writeJSON(filepath.Join(dir, StatisticsFile), transform.Statistics(records)); err != nil {
		return record.DatasetMetadata{}, err
	}
	return meta, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
