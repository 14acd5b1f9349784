// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package config

import (
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := defaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateSource(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults pass",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "empty source name",
			mutate:  func(c *Config) { c.Source.Name = "" },
			wantErr: true,
		},
		{
			name: "url without api key",
			mutate: func(c *Config) {
				c.Source.URL = "https://analytics.example.com"
				c.Source.APIKey = ""
			},
			wantErr: true,
		},
		{
			name: "url with api key",
			mutate: func(c *Config) {
				c.Source.URL = "https://analytics.example.com"
				c.Source.APIKey = "secret"
			},
			wantErr: false,
		},
		{
			name:    "ftp url rejected",
			mutate:  func(c *Config) { c.Source.URL = "ftp://analytics.example.com"; c.Source.APIKey = "k" },
			wantErr: true,
		},
		{
			name:    "negative rate limit",
			mutate:  func(c *Config) { c.Source.RequestsPerSecond = -1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateIngest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero batch size", func(c *Config) { c.Ingest.BatchSize = 0 }},
		{"negative overlap", func(c *Config) { c.Ingest.Overlap = -time.Hour }},
		{"negative safety lag", func(c *Config) { c.Ingest.SafetyLag = -time.Minute }},
		{"zero retry attempts", func(c *Config) { c.Ingest.RetryAttempts = 0 }},
		{"zero stale threshold", func(c *Config) { c.Ingest.StaleRunThreshold = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() should have failed")
			}
		})
	}
}

func TestValidateAggregate(t *testing.T) {
	cfg := defaultConfig()
	cfg.Aggregate.ChunkSize = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero chunk size should fail validation")
	}

	cfg = defaultConfig()
	cfg.Aggregate.Window = 0
	if err := cfg.Validate(); err == nil {
		t.Error("zero window should fail validation")
	}
}

func TestValidateServerPort(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		cfg := defaultConfig()
		cfg.Server.Port = port
		if err := cfg.Validate(); err == nil {
			t.Errorf("port %d should fail validation", port)
		}
	}
}

func TestValidateLogging(t *testing.T) {
	cfg := defaultConfig()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown log level should fail validation")
	}

	cfg = defaultConfig()
	cfg.Logging.Format = "xml"
	if err := cfg.Validate(); err == nil {
		t.Error("unknown log format should fail validation")
	}
}

func TestEnvTransformFunc(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"SOURCE_URL", "source.url"},
		{"SOURCE_API_KEY", "source.api_key"},
		{"DUCKDB_PATH", "database.path"},
		{"INGEST_BATCH_SIZE", "ingest.batch_size"},
		{"AGGREGATE_CHUNK_SIZE", "aggregate.chunk_size"},
		{"HTTP_PORT", "server.port"},
		{"LOG_LEVEL", "logging.level"},
		{"PATH", ""},
		{"HOME", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := envTransformFunc(tt.in); got != tt.want {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLoadWithEnvOverride(t *testing.T) {
	t.Setenv("INGEST_BATCH_SIZE", "250")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Ingest.BatchSize != 250 {
		t.Errorf("Ingest.BatchSize = %d, want 250", cfg.Ingest.BatchSize)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}
