// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks that required configuration is present and valid.
func (c *Config) Validate() error {
	if err := c.validateSource(); err != nil {
		return err
	}
	if err := c.validateIngest(); err != nil {
		return err
	}
	if err := c.validateAggregate(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateLogging()
}

// validateSource validates the upstream source settings.
func (c *Config) validateSource() error {
	if c.Source.Name == "" {
		return fmt.Errorf("SOURCE_NAME must not be empty")
	}
	if c.Source.URL != "" {
		if err := validateHTTPURL(c.Source.URL, "SOURCE_URL"); err != nil {
			return err
		}
		if c.Source.APIKey == "" {
			return fmt.Errorf("SOURCE_API_KEY is required when SOURCE_URL is set")
		}
	}
	if c.Source.RequestsPerSecond < 0 {
		return fmt.Errorf("SOURCE_REQUESTS_PER_SECOND must not be negative")
	}
	return nil
}

// validateIngest validates the fetch window policy.
func (c *Config) validateIngest() error {
	if c.Ingest.BatchSize <= 0 {
		return fmt.Errorf("INGEST_BATCH_SIZE must be positive, got %d", c.Ingest.BatchSize)
	}
	if c.Ingest.Overlap < 0 {
		return fmt.Errorf("INGEST_OVERLAP must not be negative")
	}
	if c.Ingest.SafetyLag < 0 {
		return fmt.Errorf("INGEST_SAFETY_LAG must not be negative")
	}
	if c.Ingest.RetryAttempts < 1 {
		return fmt.Errorf("INGEST_RETRY_ATTEMPTS must be at least 1, got %d", c.Ingest.RetryAttempts)
	}
	if c.Ingest.StaleRunThreshold < 1 {
		return fmt.Errorf("INGEST_STALE_RUN_THRESHOLD must be at least 1, got %d", c.Ingest.StaleRunThreshold)
	}
	return nil
}

// validateAggregate validates the aggregation window and chunking.
func (c *Config) validateAggregate() error {
	if c.Aggregate.Window <= 0 {
		return fmt.Errorf("AGGREGATE_WINDOW must be positive")
	}
	if c.Aggregate.ChunkSize <= 0 {
		return fmt.Errorf("AGGREGATE_CHUNK_SIZE must be positive, got %d", c.Aggregate.ChunkSize)
	}
	return nil
}

// validateServer validates HTTP server settings.
func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be positive")
	}
	return nil
}

// validateLogging validates logging settings.
func (c *Config) validateLogging() error {
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "disabled":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not a valid level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// validateHTTPURL checks that the value parses as an absolute http(s) URL.
func validateHTTPURL(raw, name string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s must use http or https scheme, got %q", name, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s is missing a host", name)
	}
	return nil
}
