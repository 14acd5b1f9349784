// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

// Package pipeline coordinates complete runs: ingest, aggregate, then
// refresh the derived views. Every run, successful or not, yields a
// structured RunResult; there is no silent failure mode.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/zackbabin/dub-analysis-tool-sub004/internal/ingest"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/logging"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/models"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/refresh"
)

// Runner drives full and refresh-only cycles.
type Runner struct {
	manager      *ingest.Manager
	orchestrator *refresh.Orchestrator
	source       string
}

// NewRunner wires a run coordinator.
func NewRunner(manager *ingest.Manager, orchestrator *refresh.Orchestrator, source string) *Runner {
	return &Runner{manager: manager, orchestrator: orchestrator, source: source}
}

// RunFull executes ingest, aggregation and view refresh as one run.
//
// An ingestion or aggregation failure aborts the run before any refresh:
// partial aggregate state without a safely advanced watermark would silently
// under-count on the next pass, so nothing downstream may observe it.
// Refresh failures, by contrast, are isolated per view and never fail the
// run. The returned error mirrors result.Error for callers that branch on
// error identity (ingest.ErrRunInProgress, ingest.ErrTransientFetch).
func (r *Runner) RunFull(ctx context.Context, fullResync bool) (*models.RunResult, error) {
	result := r.newResult()

	report, err := r.manager.Run(ctx, fullResync)
	if report != nil {
		result.EventsFetched = report.EventsFetched
		result.EventsNew = report.EventsNew
		result.EntitiesUpdated = report.EntitiesUpdated
		result.ChunksCommitted = report.ChunksCommitted
		result.Watermark = report.Watermark
	}
	if err != nil {
		return r.fail(result, err), err
	}

	result.Views = r.orchestrator.RunAll(ctx, result.RunID)
	return r.complete(result), nil
}

// RunRefreshOnly re-derives every view from current aggregate state without
// touching ingestion or the watermark.
func (r *Runner) RunRefreshOnly(ctx context.Context) (*models.RunResult, error) {
	result := r.newResult()
	result.Views = r.orchestrator.RunAll(ctx, result.RunID)
	return r.complete(result), nil
}

func (r *Runner) newResult() *models.RunResult {
	return &models.RunResult{
		RunID:     uuid.New(),
		Source:    r.source,
		StartedAt: time.Now().UTC(),
	}
}

func (r *Runner) complete(result *models.RunResult) *models.RunResult {
	result.Status = models.RunCompleted
	result.DurationMs = time.Since(result.StartedAt).Milliseconds()

	logging.Info().
		Str("run_id", result.RunID.String()).
		Str("source", result.Source).
		Int64("events_new", result.EventsNew).
		Int("views", len(result.Views)).
		Int64("duration_ms", result.DurationMs).
		Msg("Run completed")
	return result
}

func (r *Runner) fail(result *models.RunResult, err error) *models.RunResult {
	result.Status = models.RunFailed
	result.Error = err.Error()
	result.DurationMs = time.Since(result.StartedAt).Milliseconds()

	logging.Error().
		Err(err).
		Str("run_id", result.RunID.String()).
		Str("source", result.Source).
		Int64("duration_ms", result.DurationMs).
		Msg("Run failed")
	return result
}
