// Copyright (C) 2025 AffectLab (oss@affectlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/affectlab/vadscope/services/dataset/observability"
)

// RequestIDHeader carries the per-request correlation id. An incoming
// value is honored so callers can trace a request end to end; otherwise a
// fresh uuid is assigned.
const RequestIDHeader = "X-Request-ID"

// requestIDKey is the gin context key for the request id.
const requestIDKey = "vadscope_request_id"

// RequestIDMiddleware assigns each request a correlation id and echoes it
// in the response header.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// RequestID returns the correlation id assigned by RequestIDMiddleware,
// or empty string if the middleware did not run.
func RequestID(c *gin.Context) string {
	if id, exists := c.Get(requestIDKey); exists {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// clientLimiters holds one token bucket per client IP. Entries are never
// evicted; the expected client population is small (browsers on a
// dashboard, the loader, health checks).
type clientLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newClientLimiters(rps float64, burst int) *clientLimiters {
	return &clientLimiters{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (l *clientLimiters) get(clientIP string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[clientIP]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[clientIP] = lim
	}
	return lim
}

// RateLimitMiddleware rejects requests exceeding the per-client rate with
// 429. Each client IP gets an independent token bucket.
func RateLimitMiddleware(cfg RateLimitConfig, metrics *observability.Metrics) gin.HandlerFunc {
	limiters := newClientLimiters(cfg.RequestsPerSecond, cfg.Burst)
	return func(c *gin.Context) {
		if !limiters.get(c.ClientIP()).Allow() {
			metrics.RecordRateLimited()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

// MetricsMiddleware records request counts and latency per route. The
// route label uses gin's template path so chunk ids do not explode
// cardinality.
func MetricsMiddleware(metrics *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.RecordRequest(route, c.Writer.Status(), time.Since(start).Seconds())
	}
}
