// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where a config file is searched, in order.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/dub-analysis/config.yaml",
	"/etc/dub-analysis/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// Load builds the configuration from layered sources, highest priority last:
//
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (first found in DefaultConfigPaths)
//  3. Environment variables: SOURCE_URL -> source.url, etc.
//
// The result is validated before being returned.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first config file that exists, or empty string.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransformFunc maps environment variable names to koanf config paths.
//
// Examples:
//   - SOURCE_URL -> source.url
//   - SOURCE_API_KEY -> source.api_key
//   - DUCKDB_PATH -> database.path
//   - INGEST_BATCH_SIZE -> ingest.batch_size
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		"source_name":                "source.name",
		"source_url":                 "source.url",
		"source_api_key":             "source.api_key",
		"source_timeout":             "source.timeout",
		"source_requests_per_second": "source.requests_per_second",

		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		"ingest_batch_size":          "ingest.batch_size",
		"ingest_overlap":             "ingest.overlap",
		"ingest_safety_lag":          "ingest.safety_lag",
		"ingest_backfill_start":      "ingest.backfill_start",
		"ingest_retry_attempts":      "ingest.retry_attempts",
		"ingest_retry_delay":         "ingest.retry_delay",
		"ingest_stale_run_threshold": "ingest.stale_run_threshold",

		"aggregate_window":     "aggregate.window",
		"aggregate_chunk_size": "aggregate.chunk_size",

		"refresh_node_timeout": "refresh.node_timeout",

		"http_host":    "server.host",
		"http_port":    "server.port",
		"http_timeout": "server.timeout",

		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}

	// Unmapped variables are ignored to avoid polluting the config tree
	// with unrelated environment noise.
	return ""
}
