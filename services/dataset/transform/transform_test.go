// Copyright (C) 2025 AffectLab (oss@affectlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/affectlab/vadscope/services/dataset/record"
)

func f(v float64) *float64 { return &v }
func b(v bool) *bool       { return &v }

func rec(term string, valence, arousal, confidence float64) record.NormalizedRecord {
	return record.NormalizedRecord{
		Term:          term,
		Valence:       valence,
		Arousal:       arousal,
		Confidence:    confidence,
		MergeStrategy: record.StrategyUnknown,
	}
}

func TestTransform(t *testing.T) {
	t.Run("maps coordinates into screen space", func(t *testing.T) {
		points := Transform([]record.NormalizedRecord{
			rec("center", 0, 0, 0.5),
			rec("corner", 1, 1, 0.5),
			rec("opposite", -1, -1, 0.5),
		}, 800, 600)
		require.Len(t, points, 3)

		assert.Equal(t, 400.0, points[0].X)
		assert.Equal(t, 300.0, points[0].Y)

		// High valence, high arousal lands top-right.
		assert.Equal(t, 800.0, points[1].X)
		assert.Equal(t, 0.0, points[1].Y)

		// Low valence, low arousal lands bottom-left.
		assert.Equal(t, 0.0, points[2].X)
		assert.Equal(t, 600.0, points[2].Y)
	})

	t.Run("color follows confidence tiers", func(t *testing.T) {
		cases := []struct {
			confidence float64
			color      string
		}{
			{0.95, "#2563eb"},
			{0.8, "#2563eb"}, // boundary: >= 0.8 is high
			{0.79, "#60a5fa"},
			{0.7, "#60a5fa"}, // boundary: >= 0.7 is medium
			{0.69, "#cbd5e1"},
			{0.0, "#cbd5e1"},
		}
		for _, tc := range cases {
			points := Transform([]record.NormalizedRecord{rec("t", 0, 0, tc.confidence)}, 100, 100)
			assert.Equal(t, tc.color, points[0].Color, "confidence %v", tc.confidence)
		}
	})

	t.Run("size follows multiword flag", func(t *testing.T) {
		single := rec("joy", 0, 0, 0.5)
		multi := rec("falling in love", 0, 0, 0.5)
		multi.IsMultiword = true

		points := Transform([]record.NormalizedRecord{single, multi}, 100, 100)
		assert.Equal(t, 4.0, points[0].Size)
		assert.Equal(t, 6.0, points[1].Size)
	})

	t.Run("is deterministic", func(t *testing.T) {
		records := []record.NormalizedRecord{
			rec("joy", 0.8, 0.5, 0.9),
			rec("grief", -0.7, -0.3, 0.6),
		}
		assert.Equal(t, Transform(records, 800, 600), Transform(records, 800, 600))
	})

	t.Run("empty input yields empty output", func(t *testing.T) {
		assert.Empty(t, Transform(nil, 800, 600))
	})
}

func TestFilter(t *testing.T) {
	records := []record.NormalizedRecord{
		rec("joy", 0.8, 0.5, 0.9),
		rec("grief", -0.7, -0.3, 0.6),
		rec("calm", 0.3, -0.6, 0.75),
	}

	t.Run("empty spec matches everything", func(t *testing.T) {
		assert.Len(t, Filter(records, FilterSpec{}), 3)
	})

	t.Run("valence bounds", func(t *testing.T) {
		out := Filter(records, FilterSpec{MinValence: f(0)})
		require.Len(t, out, 2)
		assert.Equal(t, "joy", out[0].Term)
		assert.Equal(t, "calm", out[1].Term)
	})

	t.Run("confidence bound", func(t *testing.T) {
		out := Filter(records, FilterSpec{MinConfidence: f(0.7)})
		assert.Len(t, out, 2)
	})

	t.Run("strategy set", func(t *testing.T) {
		tagged := rec("tagged", 0, 0, 0.5)
		tagged.MergeStrategy = record.StrategyBothWeighted
		out := Filter(append(records, tagged), FilterSpec{Strategies: []record.MergeStrategy{record.StrategyBothWeighted}})
		require.Len(t, out, 1)
		assert.Equal(t, "tagged", out[0].Term)
	})

	t.Run("multiword flag", func(t *testing.T) {
		multi := rec("falling in love", 0.9, 0.6, 0.5)
		multi.IsMultiword = true
		out := Filter(append(records, multi), FilterSpec{Multiword: b(true)})
		require.Len(t, out, 1)
		assert.Equal(t, "falling in love", out[0].Term)
	})
}

func TestSearch(t *testing.T) {
	records := []record.NormalizedRecord{
		rec("joy", 0.8, 0.5, 0.9),
		rec("joyful", 0.85, 0.55, 0.8),
		rec("grief", -0.7, -0.3, 0.6),
	}

	t.Run("substring match is case-folded", func(t *testing.T) {
		out := Search(records, "  JOY ")
		assert.Len(t, out, 2)
	})

	t.Run("no match", func(t *testing.T) {
		assert.Empty(t, Search(records, "serenity"))
	})

	t.Run("empty query matches nothing", func(t *testing.T) {
		assert.Empty(t, Search(records, ""))
	})
}

func TestStatistics(t *testing.T) {
	t.Run("empty input", func(t *testing.T) {
		stats := Statistics(nil)
		assert.Equal(t, 0, stats.Total)
		assert.Equal(t, 0.0, stats.AverageConfidence)
	})

	t.Run("aggregates counts and quadrants", func(t *testing.T) {
		records := []record.NormalizedRecord{
			rec("q1", 0.5, 0.5, 0.8),
			rec("q2", -0.5, 0.5, 0.6),
			rec("q3", -0.5, -0.5, 0.7),
			rec("q4", 0.5, -0.5, 0.9),
			rec("origin", 0, 0, 0.5), // boundary: v>=0, a>=0 counts as q1
		}
		records[0].MergeStrategy = record.StrategyBothWeighted

		stats := Statistics(records)
		assert.Equal(t, 5, stats.Total)
		assert.Equal(t, record.QuadrantDistribution{Q1: 2, Q2: 1, Q3: 1, Q4: 1}, stats.QuadrantDistribution)
		assert.Equal(t, 1, stats.ByStrategy[string(record.StrategyBothWeighted)])
		assert.Equal(t, 4, stats.ByStrategy[string(record.StrategyUnknown)])
		assert.InDelta(t, 0.7, stats.AverageConfidence, 1e-9)
	})
}
