// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

// Package config loads application configuration from layered sources via
// Koanf v2: built-in defaults, an optional YAML config file, and environment
// variables (highest priority).
package config

import "time"

// Config is the root application configuration.
type Config struct {
	Source    SourceConfig    `koanf:"source"`
	Database  DatabaseConfig  `koanf:"database"`
	Ingest    IngestConfig    `koanf:"ingest"`
	Aggregate AggregateConfig `koanf:"aggregate"`
	Refresh   RefreshConfig   `koanf:"refresh"`
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// SourceConfig holds the upstream analytics API connection settings.
type SourceConfig struct {
	// Name identifies the source in the watermark store.
	Name string `koanf:"name"`

	// URL is the base URL of the analytics export API.
	URL string `koanf:"url"`

	// APIKey authenticates export requests.
	APIKey string `koanf:"api_key"`

	// Timeout applies per HTTP request.
	Timeout time.Duration `koanf:"timeout"`

	// RequestsPerSecond caps the request rate against the upstream API.
	// 0 disables rate limiting.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	// Path is the database file path. Empty means in-memory (tests only).
	Path string `koanf:"path"`

	// MaxMemory caps DuckDB memory usage (e.g. "2GB").
	MaxMemory string `koanf:"max_memory"`

	// Threads is the DuckDB thread count. 0 = runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// IngestConfig controls the incremental fetch policy.
type IngestConfig struct {
	// BatchSize is the page size for upstream fetches.
	BatchSize int `koanf:"batch_size"`

	// Overlap is subtracted from the watermark when computing the fetch
	// window's lower bound, absorbing late-arriving events. Re-processing
	// inside the overlap is expected and idempotent.
	Overlap time.Duration `koanf:"overlap"`

	// SafetyLag is subtracted from now for the window's upper bound so a
	// still-mutable "today" bucket is never fetched.
	SafetyLag time.Duration `koanf:"safety_lag"`

	// BackfillStart bounds the historical window used when no watermark
	// exists yet or a full resync is forced.
	BackfillStart time.Time `koanf:"backfill_start"`

	// RetryAttempts and RetryDelay control exponential backoff on transient
	// fetch failures.
	RetryAttempts int           `koanf:"retry_attempts"`
	RetryDelay    time.Duration `koanf:"retry_delay"`

	// StaleRunThreshold is the number of consecutive zero-event runs after
	// which the watermark is flagged as possibly stuck.
	StaleRunThreshold int `koanf:"stale_run_threshold"`
}

// AggregateConfig controls the aggregation engine.
type AggregateConfig struct {
	// Window is the rolling window aggregates are computed over.
	Window time.Duration `koanf:"window"`

	// ChunkSize bounds each upsert transaction to this many entities.
	ChunkSize int `koanf:"chunk_size"`
}

// RefreshConfig controls the derived view orchestrator.
type RefreshConfig struct {
	// NodeTimeout bounds each view's recompute. A timeout is a node
	// failure, not a run failure.
	NodeTimeout time.Duration `koanf:"node_timeout"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied. These load first
// and are overridden by the config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			Name:              "analytics",
			URL:               "",
			APIKey:            "",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 5,
		},
		Database: DatabaseConfig{
			Path:      "/data/dub-analysis.duckdb",
			MaxMemory: "2GB",
			Threads:   0,
		},
		Ingest: IngestConfig{
			BatchSize:         1000,
			Overlap:           2 * time.Hour,
			SafetyLag:         24 * time.Hour,
			BackfillStart:     time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
			RetryAttempts:     5,
			RetryDelay:        2 * time.Second,
			StaleRunThreshold: 5,
		},
		Aggregate: AggregateConfig{
			Window:    60 * 24 * time.Hour,
			ChunkSize: 10000,
		},
		Refresh: RefreshConfig{
			NodeTimeout: 5 * time.Minute,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8480,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}
