// Copyright (C) 2025 AffectLab (oss@affectlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package record defines the data model for emotion-coordinate lexicon
// entries and the validation/normalization layer that turns raw chunk
// payloads into range-safe records.
//
// # Data Flow
//
// Raw JSON chunk payloads decode into RawRecord, an intentionally loose
// structure where optional fields are pointers so that "absent" and
// "zero" stay distinguishable. Normalize converts a RawRecord into a
// NormalizedRecord whose numeric fields are clamped into their valid
// ranges by construction. The Transformer later derives RenderablePoint
// values from NormalizedRecord without ever re-validating.
package record

// MergeStrategy identifies how a lexicon entry was produced from the
// Warriner and NRC VAD source datasets.
type MergeStrategy string

const (
	// StrategyBothWeighted means both sources contributed via a
	// confidence-weighted average.
	StrategyBothWeighted MergeStrategy = "both_weighted"

	// StrategyWarrinerOnly means only the Warriner dataset had the term.
	StrategyWarrinerOnly MergeStrategy = "warriner_only"

	// StrategyNRCOnly means only the NRC VAD dataset had the term.
	StrategyNRCOnly MergeStrategy = "nrc_only"

	// StrategyUnknown is the default when the source did not record one.
	StrategyUnknown MergeStrategy = "unknown"
)

// IsKnown reports whether s is one of the recognized merge strategies.
func (s MergeStrategy) IsKnown() bool {
	switch s {
	case StrategyBothWeighted, StrategyWarrinerOnly, StrategyNRCOnly, StrategyUnknown:
		return true
	}
	return false
}

// DefaultConfidence is assumed when a raw record carries no confidence.
// Matches the default used by the dataset build pipeline.
const DefaultConfidence = 0.7

// RawRecord is one loosely-typed entry as it arrives from a chunk file.
//
// Optional fields are pointers so absence survives JSON decoding.
// RawRecord values are ephemeral: they are consumed by Normalize and
// never retained.
type RawRecord struct {
	Term           string   `json:"term"`
	Valence        *float64 `json:"valence"`
	Arousal        *float64 `json:"arousal"`
	Dominance      *float64 `json:"dominance,omitempty"`
	Confidence     *float64 `json:"confidence,omitempty"`
	MergeStrategy  string   `json:"merge_strategy,omitempty"`
	IsMultiword    *bool    `json:"is_multiword,omitempty"`
	SourceWarriner bool     `json:"source_warriner,omitempty"`
	SourceNRC      bool     `json:"source_nrc,omitempty"`
}

// NormalizedRecord is a validated, range-clamped, defaulted lexicon entry.
//
// Invariants (enforced by Normalize, never re-checked downstream):
//   - Term is non-empty, trimmed, and case-folded.
//   - Valence, Arousal, Dominance are in [-1, 1].
//   - Confidence is in [0, 1].
//   - MergeStrategy is one of the recognized values.
type NormalizedRecord struct {
	Term          string        `json:"term"`
	Valence       float64       `json:"valence"`
	Arousal       float64       `json:"arousal"`
	Dominance     float64       `json:"dominance"`
	Confidence    float64       `json:"confidence"`
	MergeStrategy MergeStrategy `json:"mergeStrategy"`
	IsMultiword   bool          `json:"isMultiword"`
}

// RenderablePoint is a NormalizedRecord projected into screen space with
// derived display attributes. It is a pure function of its record plus the
// viewport dimensions; identical inputs always yield identical points
// regardless of which execution path produced them.
type RenderablePoint struct {
	NormalizedRecord

	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Color string  `json:"color"`
	Size  float64 `json:"size"`
}

// DatasetMetadata describes the chunked dataset. It is fetched once per
// loader and immutable after the first successful fetch.
type DatasetMetadata struct {
	TotalCount  int `json:"totalCount"`
	ChunkSize   int `json:"chunkSize"`
	TotalChunks int `json:"totalChunks"`
}

// QuadrantDistribution counts records per valence/arousal quadrant.
// Q1 is (V>=0, A>=0), Q2 (V<0, A>=0), Q3 (V<0, A<0), Q4 (V>=0, A<0).
type QuadrantDistribution struct {
	Q1 int `json:"q1"`
	Q2 int `json:"q2"`
	Q3 int `json:"q3"`
	Q4 int `json:"q4"`
}

// Statistics summarizes a record set. Shape matches the statistics.json
// artifact produced at dataset build time.
type Statistics struct {
	Total                int                  `json:"total"`
	ByStrategy           map[string]int       `json:"byStrategy"`
	AverageConfidence    float64              `json:"averageConfidence"`
	QuadrantDistribution QuadrantDistribution `json:"quadrantDistribution"`
}
