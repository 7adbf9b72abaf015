// Copyright (C) 2025 AffectLab (oss@affectlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package server is the HTTP serving side of the dataset pipeline. It
// exposes the metadata, chunk, and statistics endpoints that the loader
// consumes, backed by a ChunkStore over a chunker-produced directory.
package server

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/affectlab/vadscope/services/dataset/observability"
)

// Server wires the chunk store, middleware, and routes into a runnable
// HTTP server.
type Server struct {
	cfg     Config
	store   *ChunkStore
	logger  *slog.Logger
	metrics *observability.Metrics
	router  *gin.Engine
}

// New creates a Server from cfg. The chunk store is opened eagerly so a
// bad data directory fails at startup rather than on first request.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	metrics := observability.Default()

	store, err := NewChunkStore(StoreOptions{
		Dir:     cfg.Data.Dir,
		TTL:     cfg.Data.ChunkCacheTTL,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		store:   store,
		logger:  logger,
		metrics: metrics,
	}
	s.router = s.buildRouter()
	return s, nil
}

// Router returns the configured gin engine. Exposed for httptest.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(MetricsMiddleware(s.metrics))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "vadscope-dataset"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/dataset")
	if s.cfg.RateLimit.Enabled {
		api.Use(RateLimitMiddleware(s.cfg.RateLimit, s.metrics))
	}
	api.GET("/metadata", s.handleMetadata)
	api.GET("/chunk/:id", s.handleChunk)
	api.GET("/statistics", s.handleStatistics)

	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully. The
// filesystem watcher runs for the same lifetime when enabled.
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.Data.Watch {
		if err := s.store.Watch(ctx); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:         s.cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.HTTP.ReadTimeout,
		WriteTimeout: s.cfg.HTTP.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dataset server listening", "addr", srv.Addr, "data_dir", s.cfg.Data.Dir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("shutting down dataset server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) handleMetadata(c *gin.Context) {
	meta, err := s.store.Metadata()
	if err != nil {
		s.serverError(c, "metadata unavailable", err)
		return
	}
	c.JSON(http.StatusOK, meta)
}

func (s *Server) handleChunk(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chunk id must be an integer"})
		return
	}

	data, err := s.store.ChunkJSON(id)
	if err != nil {
		if errors.Is(err, ErrChunkOutOfRange) {
			c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("chunk %d not found", id)})
			return
		}
		s.serverError(c, "chunk unavailable", err)
		return
	}

	compress := c.Query("compress") == "true"
	s.metrics.RecordChunkServed(compress)
	if !compress {
		c.Data(http.StatusOK, "application/json", data)
		return
	}

	c.Header("Content-Encoding", "gzip")
	c.Header("Content-Type", "application/json")
	c.Status(http.StatusOK)
	gz := gzip.NewWriter(c.Writer)
	if _, err := gz.Write(data); err != nil {
		s.logger.Warn("writing gzip chunk", "chunk", id, "error", err)
		return
	}
	if err := gz.Close(); err != nil {
		s.logger.Warn("flushing gzip chunk", "chunk", id, "error", err)
	}
}

func (s *Server) handleStatistics(c *gin.Context) {
	data, err := s.store.StatisticsJSON()
	if err != nil {
		s.serverError(c, "statistics unavailable", err)
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

func (s *Server) serverError(c *gin.Context, msg string, err error) {
	s.logger.Error(msg, "request_id", RequestID(c), "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
}
