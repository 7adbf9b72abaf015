// Copyright (C) 2025 AffectLab (oss@affectlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package transform holds the pure record-to-point transformation and the
// query functions built on it (filter, search, statistics).
//
// Every function in this package is a total function of its inputs: no
// I/O, no hidden state, no randomness. The offload worker and the
// synchronous fallback path both call these same functions, which is what
// guarantees the two paths produce identical output for identical input.
package transform

import (
	"strings"

	"github.com/affectlab/vadscope/services/dataset/record"
)

// Color tiers by confidence. The first tier whose threshold the record
// meets or exceeds wins; tiers are ordered by descending threshold.
var colorTiers = []struct {
	threshold float64
	color     string
}{
	{0.8, "#2563eb"}, // high
	{0.7, "#60a5fa"}, // medium
	{0.0, "#cbd5e1"}, // low
}

// Point sizes keyed by the multiword flag.
var sizeByMultiword = map[bool]float64{
	true:  6,
	false: 4,
}

// colorFor returns the display color for a confidence value.
func colorFor(confidence float64) string {
	for _, tier := range colorTiers {
		if confidence >= tier.threshold {
			return tier.color
		}
	}
	return colorTiers[len(colorTiers)-1].color
}

// Transform projects records into screen space and attaches derived
// display attributes.
//
// Valence maps left-to-right onto [0, width]; arousal maps bottom-to-top
// onto [0, height] (screen y grows downward, so high arousal lands near
// y=0). Output order matches input order.
func Transform(records []record.NormalizedRecord, width, height float64) []record.RenderablePoint {
	points := make([]record.RenderablePoint, len(records))
	for i, rec := range records {
		points[i] = record.RenderablePoint{
			NormalizedRecord: rec,
			X:                (rec.Valence + 1) / 2 * width,
			Y:                (1 - (rec.Arousal+1)/2) * height,
			Color:            colorFor(rec.Confidence),
			Size:             sizeByMultiword[rec.IsMultiword],
		}
	}
	return points
}

// FilterSpec selects a subset of records. Nil bounds are unbounded; an
// empty strategy list admits every strategy.
type FilterSpec struct {
	MinValence    *float64               `json:"minValence,omitempty"`
	MaxValence    *float64               `json:"maxValence,omitempty"`
	MinArousal    *float64               `json:"minArousal,omitempty"`
	MaxArousal    *float64               `json:"maxArousal,omitempty"`
	MinConfidence *float64               `json:"minConfidence,omitempty"`
	Strategies    []record.MergeStrategy `json:"strategies,omitempty"`
	Multiword     *bool                  `json:"multiword,omitempty"`
}

// matches reports whether rec satisfies every bound in the spec.
func (s FilterSpec) matches(rec record.NormalizedRecord) bool {
	if s.MinValence != nil && rec.Valence < *s.MinValence {
		return false
	}
	if s.MaxValence != nil && rec.Valence > *s.MaxValence {
		return false
	}
	if s.MinArousal != nil && rec.Arousal < *s.MinArousal {
		return false
	}
	if s.MaxArousal != nil && rec.Arousal > *s.MaxArousal {
		return false
	}
	if s.MinConfidence != nil && rec.Confidence < *s.MinConfidence {
		return false
	}
	if s.Multiword != nil && rec.IsMultiword != *s.Multiword {
		return false
	}
	if len(s.Strategies) > 0 {
		found := false
		for _, strat := range s.Strategies {
			if rec.MergeStrategy == strat {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Filter returns the records matching the spec, preserving input order.
func Filter(records []record.NormalizedRecord, spec FilterSpec) []record.NormalizedRecord {
	out := make([]record.NormalizedRecord, 0, len(records))
	for _, rec := range records {
		if spec.matches(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Search returns the records whose term contains the query as a
// case-folded substring. An empty query matches nothing.
func Search(records []record.NormalizedRecord, query string) []record.NormalizedRecord {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return []record.NormalizedRecord{}
	}

	out := make([]record.NormalizedRecord, 0)
	for _, rec := range records {
		if strings.Contains(rec.Term, query) {
			out = append(out, rec)
		}
	}
	return out
}

// Statistics aggregates counts, average confidence, and the quadrant
// distribution over a record set.
func Statistics(records []record.NormalizedRecord) record.Statistics {
	stats := record.Statistics{
		Total:      len(records),
		ByStrategy: make(map[string]int),
	}

	var confidenceSum float64
	for _, rec := range records {
		stats.ByStrategy[string(rec.MergeStrategy)]++
		confidenceSum += rec.Confidence

		switch {
		case rec.Valence >= 0 && rec.Arousal >= 0:
			stats.QuadrantDistribution.Q1++
		case rec.Valence < 0 && rec.Arousal >= 0:
			stats.QuadrantDistribution.Q2++
		case rec.Valence < 0 && rec.Arousal < 0:
			stats.QuadrantDistribution.Q3++
		default:
			stats.QuadrantDistribution.Q4++
		}
	}

	if len(records) > 0 {
		stats.AverageConfidence = confidenceSum / float64(len(records))
	}
	return stats
}
