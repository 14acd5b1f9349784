// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

// Package main is the entry point for the analysis pipeline server.
//
// The server initializes components in the following order:
//
//  1. Configuration: Koanf v2 with layered sources (env > file > defaults)
//  2. Database: DuckDB with raw event, aggregate, watermark, and refresh log tables
//  3. Source client: HTTP event source wrapped in a circuit breaker
//  4. Pipeline: incremental ingestion, chunked aggregation, derived view refresh
//  5. HTTP server: run triggers and audit endpoints under a suture supervisor tree
//
// Graceful shutdown is handled on SIGINT and SIGTERM: the HTTP server stops
// accepting connections, in-flight requests drain, and the database closes.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zackbabin/dub-analysis-tool-sub004/internal/aggregate"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/api"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/config"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/database"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/ingest"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/logging"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/pipeline"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/refresh"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/supervisor"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}
	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("source", cfg.Source.Name).
		Str("db_path", cfg.Database.Path).
		Dur("overlap", cfg.Ingest.Overlap).
		Dur("safety_lag", cfg.Ingest.SafetyLag).
		Msg("Configuration loaded")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()
	logging.Info().Msg("Database initialized successfully")

	// Source client with circuit breaker so an unavailable upstream fails fast
	// instead of stalling every scheduled run.
	sourceClient := ingest.NewCircuitBreakerClient(
		ingest.NewSourceHTTPClient(&cfg.Source, &cfg.Ingest),
		cfg.Source.Name,
	)
	if err := sourceClient.Ping(context.Background()); err != nil {
		logging.Warn().Err(err).Msg("Failed to reach event source (will retry on next run)")
	} else {
		logging.Info().Str("url", cfg.Source.URL).Msg("Connected to event source")
	}

	engine := aggregate.NewEngine(db, &cfg.Aggregate)
	merger := aggregate.NewMerger(db, cfg.Aggregate.ChunkSize)
	manager := ingest.NewManager(db, sourceClient, engine, merger, &cfg.Ingest, cfg.Source.Name)

	registry, err := refresh.NewDubRegistry()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build view registry")
	}
	orchestrator := refresh.NewOrchestrator(db, registry, &cfg.Refresh)
	runner := pipeline.NewRunner(manager, orchestrator, cfg.Source.Name)

	router := api.NewRouter(runner, db)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.SetupChi(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for sutureslog compatibility.
	slogLogger := logging.NewSlogLogger()
	tree := supervisor.NewTree(slogLogger, supervisor.DefaultTreeConfig())
	tree.AddAPIService(supervisor.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}
