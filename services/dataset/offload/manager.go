// Copyright (C) 2025 AffectLab (oss@affectlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package offload runs record transformation work on a background
// execution context, correlated by request id.
//
// # Protocol
//
// Each outbound Request carries a manager-generated, monotonically
// increasing correlation ID. The manager keeps a map from ID to the
// waiting caller; the dispatch loop matches inbound Responses by ID and
// resolves exactly one waiter. A response bearing an unknown ID (already
// resolved, timed out, or never issued) is logged and dropped; it can
// never resolve a stale slot. Responses may arrive in any order relative
// to requests, which is precisely why correlation IDs are required.
//
// # Message Discipline
//
// The worker and the caller share no mutable state: both sides treat a
// message's record slice as immutable, and the worker only ever produces
// freshly allocated results. This preserves the isolation the design
// depends on without copying tens of thousands of records per call.
//
// # Fallback
//
// Any failure here (timeout, termination, execution error) is expected
// to be recovered by the caller via the synchronous fallback path; see
// the dataset Service. The manager itself never falls back.
package offload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/affectlab/vadscope/services/dataset/record"
	"github.com/affectlab/vadscope/services/dataset/transform"
)

// Default timeouts.
const (
	// DefaultReadyTimeout bounds the wait for worker readiness. Expiry
	// degrades to "proceed anyway" rather than failing: the worker may
	// still become ready later.
	DefaultReadyTimeout = 3 * time.Second

	// DefaultRequestTimeout bounds each individual request.
	DefaultRequestTimeout = 5 * time.Second

	// DefaultQueueDepth is the request channel buffer.
	DefaultQueueDepth = 16
)

var (
	// ErrRequestTimeout marks a request whose response did not arrive in
	// time. The pending entry is removed on expiry; a late response for
	// it is dropped.
	ErrRequestTimeout = errors.New("offload request timed out")

	// ErrManagerTerminated marks a request rejected because Terminate
	// tore the manager down. Pending requests are rejected immediately
	// on termination rather than left to time out.
	ErrManagerTerminated = errors.New("offload manager terminated")
)

// Op identifies the computation a Request asks for.
type Op string

const (
	OpTransform  Op = "transform"
	OpFilter     Op = "filter"
	OpSearch     Op = "search"
	OpStatistics Op = "statistics"
)

// Request is one unit of work sent to the background context.
type Request struct {
	Op      Op
	ID      uint64
	Records []record.NormalizedRecord
	Width   float64
	Height  float64
	Filter  transform.FilterSpec
	Query   string
}

// Response answers one Request, matched by ID.
type Response struct {
	ID     uint64
	Result any
	Err    error
}

// Executor performs the actual computation for a request. The production
// executor calls the pure transform functions; tests may inject one that
// stalls or fails to exercise timeout and fallback paths.
type Executor interface {
	Execute(req Request) (any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(req Request) (any, error)

// Execute calls f.
func (f ExecutorFunc) Execute(req Request) (any, error) { return f(req) }

// Options configures a Manager.
type Options struct {
	// ReadyTimeout bounds the Initialize readiness wait.
	// Default: DefaultReadyTimeout.
	ReadyTimeout time.Duration

	// RequestTimeout bounds each request. Default: DefaultRequestTimeout.
	RequestTimeout time.Duration

	// QueueDepth is the request channel buffer. Default: DefaultQueueDepth.
	QueueDepth int

	// Executor runs requests on the worker. Default: the pure transform
	// functions.
	Executor Executor

	// Logger receives manager logs. Default: slog.Default().
	Logger *slog.Logger
}

// Manager owns one background worker and the correlation state for
// requests in flight against it.
//
// A Manager is safe for concurrent use. The pending-request map is
// mutex-protected because callers, the dispatch loop, and Terminate all
// touch it from different goroutines.
type Manager struct {
	opts Options

	nextID atomic.Uint64

	mu          sync.Mutex
	initialized bool
	pending     map[uint64]chan Response
	reqCh       chan Request
	cancel      context.CancelFunc
}

// NewManager creates a Manager. The worker is not started until
// Initialize (which every operation calls first).
func NewManager(opts Options) *Manager {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	if opts.Executor == nil {
		opts.Executor = ExecutorFunc(executePure)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Manager{opts: opts}
}

// Initialize starts the background worker and waits for its readiness
// signal. It is idempotent: a call while already initialized is a no-op.
// If readiness does not arrive within ReadyTimeout the manager proceeds
// anyway and logs the degradation; requests issued before the worker
// catches up are covered by their own timeouts.
func (m *Manager) Initialize() {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.reqCh = make(chan Request, m.opts.QueueDepth)
	m.pending = make(map[uint64]chan Response)
	m.initialized = true

	ready := make(chan struct{})
	respCh := make(chan Response, m.opts.QueueDepth)
	go m.worker(ctx, m.reqCh, respCh, ready)
	go m.dispatch(ctx, respCh)
	m.mu.Unlock()

	select {
	case <-ready:
	case <-time.After(m.opts.ReadyTimeout):
		m.opts.Logger.Warn("offload worker readiness timed out, proceeding anyway",
			"timeout", m.opts.ReadyTimeout)
	}
}

// Terminate tears down the background worker and rejects every pending
// request immediately with ErrManagerTerminated. A terminated manager
// can be re-initialized by a later operation.
func (m *Manager) Terminate() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.initialized {
		return
	}
	m.cancel()

	for id, ch := range m.pending {
		ch <- Response{ID: id, Err: ErrManagerTerminated}
	}
	m.pending = nil
	m.reqCh = nil
	m.cancel = nil
	m.initialized = false
}

// TransformData converts records to renderable points on the background
// context.
func (m *Manager) TransformData(ctx context.Context, records []record.NormalizedRecord, width, height float64) ([]record.RenderablePoint, error) {
	result, err := m.send(ctx, Request{Op: OpTransform, Records: records, Width: width, Height: height})
	if err != nil {
		return nil, err
	}
	points, ok := result.([]record.RenderablePoint)
	if !ok {
		return nil, fmt.Errorf("offload: unexpected result type %T for %s", result, OpTransform)
	}
	return points, nil
}

// FilterData filters records on the background context.
func (m *Manager) FilterData(ctx context.Context, records []record.NormalizedRecord, spec transform.FilterSpec) ([]record.NormalizedRecord, error) {
	result, err := m.send(ctx, Request{Op: OpFilter, Records: records, Filter: spec})
	if err != nil {
		return nil, err
	}
	out, ok := result.([]record.NormalizedRecord)
	if !ok {
		return nil, fmt.Errorf("offload: unexpected result type %T for %s", result, OpFilter)
	}
	return out, nil
}

// SearchData searches records on the background context.
func (m *Manager) SearchData(ctx context.Context, records []record.NormalizedRecord, query string) ([]record.NormalizedRecord, error) {
	result, err := m.send(ctx, Request{Op: OpSearch, Records: records, Query: query})
	if err != nil {
		return nil, err
	}
	out, ok := result.([]record.NormalizedRecord)
	if !ok {
		return nil, fmt.Errorf("offload: unexpected result type %T for %s", result, OpSearch)
	}
	return out, nil
}

// CalculateStatistics aggregates statistics on the background context.
func (m *Manager) CalculateStatistics(ctx context.Context, records []record.NormalizedRecord) (record.Statistics, error) {
	result, err := m.send(ctx, Request{Op: OpStatistics, Records: records})
	if err != nil {
		return record.Statistics{}, err
	}
	stats, ok := result.(record.Statistics)
	if !ok {
		return record.Statistics{}, fmt.Errorf("offload: unexpected result type %T for %s", result, OpStatistics)
	}
	return stats, nil
}

// send issues one correlated request and waits for its response, the
// request timeout, or context cancellation, whichever comes first. The
// pending entry is removed in every exit path, so resolution is
// at-most-once.
func (m *Manager) send(ctx context.Context, req Request) (any, error) {
	m.Initialize()

	m.mu.Lock()
	if !m.initialized {
		m.mu.Unlock()
		return nil, ErrManagerTerminated
	}
	req.ID = m.nextID.Add(1)
	waiter := make(chan Response, 1)
	m.pending[req.ID] = waiter
	reqCh := m.reqCh
	m.mu.Unlock()

	timer := time.NewTimer(m.opts.RequestTimeout)
	defer timer.Stop()

	select {
	case reqCh <- req:
	case <-timer.C:
		m.removePending(req.ID)
		return nil, fmt.Errorf("%w: %s request %d not accepted", ErrRequestTimeout, req.Op, req.ID)
	case <-ctx.Done():
		m.removePending(req.ID)
		return nil, ctx.Err()
	}

	select {
	case resp := <-waiter:
		return resp.Result, resp.Err
	case <-timer.C:
		m.removePending(req.ID)
		return nil, fmt.Errorf("%w: %s request %d after %s", ErrRequestTimeout, req.Op, req.ID, m.opts.RequestTimeout)
	case <-ctx.Done():
		m.removePending(req.ID)
		return nil, ctx.Err()
	}
}

// removePending drops a correlation entry if it is still present.
func (m *Manager) removePending(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil {
		delete(m.pending, id)
	}
}

// dispatch matches inbound responses to their pending waiters by
// correlation ID.
func (m *Manager) dispatch(ctx context.Context, respCh <-chan Response) {
	for {
		select {
		case <-ctx.Done():
			return
		case resp := <-respCh:
			m.mu.Lock()
			waiter, ok := m.pending[resp.ID]
			if ok {
				delete(m.pending, resp.ID)
			}
			m.mu.Unlock()

			if !ok {
				m.opts.Logger.Warn("dropping response with unknown correlation id", "id", resp.ID)
				continue
			}
			waiter <- resp
		}
	}
}

// worker is the background execution context: it signals readiness, then
// executes requests one at a time until cancelled.
func (m *Manager) worker(ctx context.Context, reqCh <-chan Request, respCh chan<- Response, ready chan<- struct{}) {
	close(ready)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-reqCh:
			result, err := m.opts.Executor.Execute(req)
			select {
			case respCh <- Response{ID: req.ID, Result: result, Err: err}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// executePure runs a request against the pure transform functions, the
// same functions the synchronous fallback uses, so both paths produce
// identical output for identical input.
func executePure(req Request) (any, error) {
	switch req.Op {
	case OpTransform:
		return transform.Transform(req.Records, req.Width, req.Height), nil
	case OpFilter:
		return transform.Filter(req.Records, req.Filter), nil
	case OpSearch:
		return transform.Search(req.Records, req.Query), nil
	case OpStatistics:
		return transform.Statistics(req.Records), nil
	default:
		return nil, fmt.Errorf("offload: unknown op %q", req.Op)
	}
}

var (
	defaultManager     *Manager
	defaultManagerOnce sync.Once
)

// DefaultManager returns the process-wide manager, creating it lazily on
// first use. Callers needing isolation should construct their own with
// NewManager.
func DefaultManager() *Manager {
	defaultManagerOnce.Do(func() {
		defaultManager = NewManager(Options{})
	})
	return defaultManager
}
