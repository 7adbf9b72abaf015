// Copyright (C) 2025 AffectLab (oss@affectlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache provides capacity-bounded TTL caching with hit/miss
// accounting, plus a registry that multiplexes independent named caches.
//
// # Eviction Policy
//
// Eviction is FIFO over insertion order: when a Set would exceed capacity
// the insertion-oldest entry is removed, regardless of how recently it was
// read. Access never reorders entries. This is a deliberate choice, not an
// LRU approximation; see DESIGN.md for the rationale.
//
// # Expiry
//
// An entry is logically absent once its age exceeds its TTL, even while
// still physically present. Expired entries are removed lazily when Get or
// Has touches them, or in bulk by an explicit Cleanup call.
//
// # Thread Safety
//
// All operations are safe for concurrent use. Internal state is protected
// by a mutex; GetOrSetContext additionally deduplicates concurrent
// missing-key callers through a singleflight group.
package cache

import (
	"container/list"
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// Default configuration values.
const (
	// DefaultMaxEntries bounds a cache that was not configured explicitly.
	DefaultMaxEntries = 500

	// DefaultTTL applies when Set is called with a non-positive ttl.
	DefaultTTL = 5 * time.Minute
)

// entry is one stored value. Entries are never mutated in place; a re-Set
// replaces the entry wholesale.
type entry struct {
	key      string
	data     any
	storedAt time.Time
	ttl      time.Duration
	fifoElem *list.Element
}

// expired reports whether the entry is logically absent at now.
func (e *entry) expired(now time.Time) bool {
	return now.Sub(e.storedAt) > e.ttl
}

// Options configures a Cache.
type Options struct {
	// MaxEntries is the capacity. Default: DefaultMaxEntries.
	MaxEntries int

	// DefaultTTL is used when Set receives a non-positive ttl.
	// Default: DefaultTTL.
	DefaultTTL time.Duration

	// now is the clock, overridable in tests.
	now func() time.Time
}

// Option is a functional option for configuring a Cache.
type Option func(*Options)

// WithMaxEntries sets the capacity.
func WithMaxEntries(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxEntries = n
		}
	}
}

// WithDefaultTTL sets the TTL used when Set receives a non-positive ttl.
func WithDefaultTTL(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.DefaultTTL = d
		}
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		if now != nil {
			o.now = now
		}
	}
}

// Cache is a capacity-bounded TTL key/value store.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	fifo    *list.List // insertion order, oldest at back
	opts    Options
	flight  singleflight.Group

	hits   int64
	misses int64
}

// New creates a Cache.
func New(opts ...Option) *Cache {
	options := Options{
		MaxEntries: DefaultMaxEntries,
		DefaultTTL: DefaultTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Cache{
		entries: make(map[string]*entry),
		fifo:    list.New(),
		opts:    options,
	}
}

// Set stores data under key with the given ttl. A non-positive ttl uses
// the cache's default. Re-setting an existing key replaces the entry and
// counts as a fresh insertion for eviction ordering. When the cache is at
// capacity the insertion-oldest entry is evicted first.
func (c *Cache) Set(key string, data any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.opts.DefaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.fifo.Remove(old.fifoElem)
		delete(c.entries, key)
	}

	for len(c.entries) >= c.opts.MaxEntries {
		oldest := c.fifo.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(string))
	}

	e := &entry{
		key:      key,
		data:     data,
		storedAt: c.opts.now(),
		ttl:      ttl,
	}
	e.fifoElem = c.fifo.PushFront(key)
	c.entries[key] = e
}

// Get returns the value for key. A missing or expired entry counts as a
// miss; an expired entry is removed at that moment.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}
	if e.expired(c.opts.now()) {
		c.removeLocked(key)
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&c.hits, 1)
	return e.data, true
}

// Has reports whether key holds an unexpired entry. Unlike Get it does
// not touch the hit/miss counters, but it does lazily remove an expired
// entry it finds.
func (c *Cache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return false
	}
	if e.expired(c.opts.now()) {
		c.removeLocked(key)
		return false
	}
	return true
}

// Delete removes key. It is a no-op when the key is absent.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(key)
}

// DeleteByPattern removes every key matching the regular expression and
// returns the number removed. An invalid pattern returns the error from
// regexp.Compile and removes nothing.
func (c *Cache) DeleteByPattern(pattern string) (int, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var matched []string
	for key := range c.entries {
		if re.MatchString(key) {
			matched = append(matched, key)
		}
	}
	for _, key := range matched {
		c.removeLocked(key)
	}
	return len(matched), nil
}

// Clear removes every entry. Hit/miss counters are left untouched.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.fifo.Init()
}

// Cleanup removes all currently-expired entries and returns the count.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.opts.now()
	var stale []string
	for key, e := range c.entries {
		if e.expired(now) {
			stale = append(stale, key)
		}
	}
	for _, key := range stale {
		c.removeLocked(key)
	}
	return len(stale)
}

// GetOrSet returns the cached value for key, or invokes factory, stores
// its result under ttl, and returns it. A factory error propagates to the
// caller and nothing is cached.
//
// Concurrent callers racing on the same missing key may each invoke the
// factory; use GetOrSetContext when deduplication matters.
func (c *Cache) GetOrSet(key string, factory func() (any, error), ttl time.Duration) (any, error) {
	if data, ok := c.Get(key); ok {
		return data, nil
	}

	data, err := factory()
	if err != nil {
		return nil, err
	}
	c.Set(key, data, ttl)
	return data, nil
}

// GetOrSetContext is the asynchronous variant of GetOrSet. Concurrent
// callers missing on the same key share a single factory invocation
// through a singleflight group.
func (c *Cache) GetOrSetContext(ctx context.Context, key string, factory func(ctx context.Context) (any, error), ttl time.Duration) (any, error) {
	if data, ok := c.Get(key); ok {
		return data, nil
	}

	data, err, _ := c.flight.Do(key, func() (any, error) {
		// Double-check: another flight member may have populated the key.
		if data, ok := c.Get(key); ok {
			return data, nil
		}
		data, err := factory(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, data, ttl)
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// Len returns the number of physically present entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// removeLocked deletes an entry. Caller must hold c.mu.
func (c *Cache) removeLocked(key string) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	c.fifo.Remove(e.fifoElem)
	delete(c.entries, key)
}

// Stats describes cache effectiveness.
type Stats struct {
	Hits       int64
	Misses     int64
	Size       int
	MaxEntries int
}

// HitRate returns hits / (hits + misses), or 0 when the cache has never
// been read.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Stats returns a snapshot of the counters and current size.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Hits:       atomic.LoadInt64(&c.hits),
		Misses:     atomic.LoadInt64(&c.misses),
		Size:       len(c.entries),
		MaxEntries: c.opts.MaxEntries,
	}
}
