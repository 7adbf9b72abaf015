// Copyright (C) 2025 AffectLab (oss@affectlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	t.Run("same name returns same instance", func(t *testing.T) {
		r := NewRegistry()
		a := r.Get("chunks")
		b := r.Get("chunks")
		assert.Same(t, a, b)
	})

	t.Run("different names are isolated", func(t *testing.T) {
		r := NewRegistry()
		r.Get("chunks").Set("k", 1, time.Minute)

		assert.False(t, r.Get("transforms").Has("k"))
		assert.True(t, r.Get("chunks").Has("k"))
	})

	t.Run("options apply only on first reference", func(t *testing.T) {
		r := NewRegistry()
		a := r.Get("sized", WithMaxEntries(1))
		a.Set("x", 1, time.Minute)
		a.Set("y", 2, time.Minute)
		assert.Equal(t, 1, a.Len())

		// Second Get ignores options; still the capacity-1 cache.
		b := r.Get("sized", WithMaxEntries(100))
		assert.Same(t, a, b)
	})

	t.Run("ClearAll empties every cache", func(t *testing.T) {
		r := NewRegistry()
		r.Get("a").Set("k", 1, time.Minute)
		r.Get("b").Set("k", 2, time.Minute)

		r.ClearAll()
		assert.Equal(t, 0, r.Get("a").Len())
		assert.Equal(t, 0, r.Get("b").Len())
	})

	t.Run("StatsAll reports per cache", func(t *testing.T) {
		r := NewRegistry()
		r.Get("a").Set("k", 1, time.Minute)
		r.Get("a").Get("k")
		r.Get("b")

		stats := r.StatsAll()
		assert.Len(t, stats, 2)
		assert.Equal(t, int64(1), stats["a"].Hits)
		assert.Equal(t, int64(0), stats["b"].Hits)
	})

	t.Run("default registry is a singleton", func(t *testing.T) {
		assert.Same(t, Default(), Default())
	})
}
