// Copyright (C) 2025 AffectLab (oss@affectlab.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full server configuration, loadable from a YAML file with
// environment overrides.
//
// Thread Safety: Safe to read concurrently. Not safe to modify after creation.
type Config struct {
	// HTTP contains listener settings.
	HTTP HTTPConfig `yaml:"http"`

	// Data contains chunk store settings.
	Data DataConfig `yaml:"data"`

	// RateLimit contains per-client rate limiter settings.
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// HTTPConfig contains listener settings.
type HTTPConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DataConfig contains chunk store settings.
type DataConfig struct {
	// Dir is the directory holding chunk_N.json, metadata.json, and
	// statistics.json as produced by the chunker.
	Dir string `yaml:"dir"`

	// ChunkCacheTTL bounds how long served chunk bytes stay cached.
	ChunkCacheTTL time.Duration `yaml:"chunk_cache_ttl"`

	// Watch enables the filesystem watcher that invalidates the chunk
	// cache when files under Dir change.
	Watch bool `yaml:"watch"`
}

// RateLimitConfig contains per-client rate limiter settings.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`

	// RequestsPerSecond is the sustained per-client rate.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// Burst is the per-client burst allowance.
	Burst int `yaml:"burst"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Data: DataConfig{
			Dir:           "./data",
			ChunkCacheTTL: 10 * time.Minute,
			Watch:         true,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 50,
			Burst:             100,
		},
	}
}

// LoadConfig loads configuration with priority: env > file > defaults.
// A missing file is not an error; a present but invalid file is.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return config, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, &config); err != nil {
			return config, fmt.Errorf("parse config file: %w", err)
		}
	}

	loadConfigFromEnv(&config)

	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

func loadConfigFromEnv(config *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.HTTP.Port = i
		}
	}
	if v := os.Getenv("VADSCOPE_DATA_DIR"); v != "" {
		config.Data.Dir = v
	}
	if v := os.Getenv("VADSCOPE_RATE_LIMIT_ENABLED"); v != "" {
		config.RateLimit.Enabled = v == "true" || v == "1"
	}
}

// Validate checks field ranges.
func (c Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be in (0, 65535], got %d", c.HTTP.Port)
	}
	if c.Data.Dir == "" {
		return fmt.Errorf("data.dir must not be empty")
	}
	if c.Data.ChunkCacheTTL < 0 {
		return fmt.Errorf("data.chunk_cache_ttl must not be negative")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limit.requests_per_second must be positive, got %g", c.RateLimit.RequestsPerSecond)
		}
		if c.RateLimit.Burst <= 0 {
			return fmt.Errorf("rate_limit.burst must be positive, got %d", c.RateLimit.Burst)
		}
	}
	return nil
}

// Addr returns the listen address in host:port form.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}
