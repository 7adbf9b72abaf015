// Copyright (C) 2025 AffectLab (oss@affectlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"compress/gzip"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/affectlab/vadscope/services/dataset/loader"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	srv, err := New(cfg, nil)
	require.NoError(t, err)
	return srv
}

func testConfig(dir string) Config {
	cfg := DefaultConfig()
	cfg.Data.Dir = dir
	cfg.Data.Watch = false
	cfg.RateLimit.Enabled = false
	return cfg
}

func get(srv *Server, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", path, nil)
	srv.Router().ServeHTTP(w, req)
	return w
}

func TestRoutes(t *testing.T) {
	dir, _ := writeTestDataset(t, 10, 4)
	srv := newTestServer(t, testConfig(dir))

	t.Run("health", func(t *testing.T) {
		w := get(srv, "/health")
		assert.Equal(t, 200, w.Code)
		assert.Contains(t, w.Body.String(), "ok")
	})

	t.Run("metadata", func(t *testing.T) {
		w := get(srv, "/api/dataset/metadata")
		require.Equal(t, 200, w.Code)
		assert.JSONEq(t, `{"totalCount":10,"chunkSize":4,"totalChunks":3}`, w.Body.String())
	})

	t.Run("chunk", func(t *testing.T) {
		w := get(srv, "/api/dataset/chunk/0?compress=false")
		require.Equal(t, 200, w.Code)
		assert.Contains(t, w.Body.String(), "term-0")
	})

	t.Run("chunk out of range is a JSON 404", func(t *testing.T) {
		w := get(srv, "/api/dataset/chunk/99")
		assert.Equal(t, 404, w.Code)
		assert.Contains(t, w.Body.String(), "not found")
	})

	t.Run("chunk id must be numeric", func(t *testing.T) {
		w := get(srv, "/api/dataset/chunk/abc")
		assert.Equal(t, 400, w.Code)
	})

	t.Run("statistics", func(t *testing.T) {
		w := get(srv, "/api/dataset/statistics")
		require.Equal(t, 200, w.Code)
		assert.Contains(t, w.Body.String(), "quadrantDistribution")
	})

	t.Run("metrics endpoint", func(t *testing.T) {
		w := get(srv, "/metrics")
		assert.Equal(t, 200, w.Code)
	})

	t.Run("request id echoed", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/health", nil)
		req.Header.Set(RequestIDHeader, "trace-me")
		srv.Router().ServeHTTP(w, req)
		assert.Equal(t, "trace-me", w.Header().Get(RequestIDHeader))
	})
}

func TestChunkCompression(t *testing.T) {
	dir, _ := writeTestDataset(t, 10, 4)
	srv := newTestServer(t, testConfig(dir))

	plain := get(srv, "/api/dataset/chunk/1?compress=false")
	require.Equal(t, 200, plain.Code)

	compressed := get(srv, "/api/dataset/chunk/1?compress=true")
	require.Equal(t, 200, compressed.Code)
	require.Equal(t, "gzip", compressed.Header().Get("Content-Encoding"))

	gz, err := gzip.NewReader(compressed.Body)
	require.NoError(t, err)
	decoded, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, plain.Body.Bytes(), decoded)
}

func TestRateLimit(t *testing.T) {
	dir, _ := writeTestDataset(t, 4, 2)
	cfg := testConfig(dir)
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerSecond = 1
	cfg.RateLimit.Burst = 2
	srv := newTestServer(t, cfg)

	assert.Equal(t, 200, get(srv, "/api/dataset/metadata").Code)
	assert.Equal(t, 200, get(srv, "/api/dataset/metadata").Code)
	assert.Equal(t, 429, get(srv, "/api/dataset/metadata").Code)

	// Routes outside the API group are not limited.
	assert.Equal(t, 200, get(srv, "/health").Code)
}

// The loader and server speak the same wire format end to end.
func TestLoaderRoundTrip(t *testing.T) {
	dir, meta := writeTestDataset(t, 10, 4)
	srv := newTestServer(t, testConfig(dir))

	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	for _, compress := range []bool{false, true} {
		l, err := loader.New(loader.Options{
			BaseURL:  ts.URL + "/api/dataset",
			Compress: compress,
		})
		require.NoError(t, err)

		records, err := l.Load(context.Background())
		require.NoError(t, err)
		require.Len(t, records, meta.TotalCount)
		assert.Equal(t, "term-0", records[0].Term)
		assert.Equal(t, "term-9", records[9].Term)
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("defaults are valid", func(t *testing.T) {
		assert.NoError(t, DefaultConfig().Validate())
	})

	t.Run("bad port", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.HTTP.Port = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("empty data dir", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Data.Dir = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("rate limit needs positive rps when enabled", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.RateLimit.RequestsPerSecond = 0
		assert.Error(t, cfg.Validate())
	})
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing file uses defaults", func(t *testing.T) {
		cfg, err := LoadConfig("/nonexistent/config.yaml")
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().HTTP.Port, cfg.HTTP.Port)
	})

	t.Run("file overrides defaults", func(t *testing.T) {
		path := t.TempDir() + "/config.yaml"
		require.NoError(t, os.WriteFile(path, []byte("http:\n  port: 9090\ndata:\n  dir: /srv/data\n"), 0o644))

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, 9090, cfg.HTTP.Port)
		assert.Equal(t, "/srv/data", cfg.Data.Dir)
		assert.True(t, cfg.RateLimit.Enabled)
	})

	t.Run("env overrides file", func(t *testing.T) {
		t.Setenv("PORT", "7070")
		cfg, err := LoadConfig("")
		require.NoError(t, err)
		assert.Equal(t, 7070, cfg.HTTP.Port)
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		path := t.TempDir() + "/config.yaml"
		require.NoError(t, os.WriteFile(path, []byte("{not yaml"), 0o644))
		_, err := LoadConfig(path)
		assert.Error(t, err)
	})
}
