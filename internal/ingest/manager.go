// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/zackbabin/dub-analysis-tool-sub004/internal/aggregate"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/config"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/database"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/logging"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/metrics"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/models"
)

// Manager executes ingestion runs for a single source: fetch the watermark
// window, land the batch, aggregate in chunks, advance the watermark. Runs
// are strictly serialized; a second trigger while one is executing is
// rejected rather than queued.
type Manager struct {
	mu sync.Mutex

	db     *database.DB
	client SourceClient
	engine *aggregate.Engine
	merger *aggregate.Merger
	cfg    *config.IngestConfig
	source string
}

// NewManager wires an ingestion manager for the named source.
func NewManager(db *database.DB, client SourceClient, engine *aggregate.Engine, merger *aggregate.Merger, cfg *config.IngestConfig, source string) *Manager {
	return &Manager{
		db:     db,
		client: client,
		engine: engine,
		merger: merger,
		cfg:    cfg,
		source: source,
	}
}

// RunReport summarizes one completed ingestion run.
type RunReport struct {
	Mode            models.MergeMode
	EventsFetched   int64
	EventsNew       int64
	EntitiesUpdated int64
	ChunksCommitted int64
	Watermark       *models.Watermark
	StaleRuns       int64
	Diverged        bool
}

// Run executes one full ingest and aggregate pass. On any failure the run
// aborts atomically: raw events already landed stay (they are harmless, the
// dedup constraint absorbs the replay), but the watermark is not advanced so
// the next run re-requests the same window.
//
// fullResync forces the full historical window in REPLACE mode regardless of
// the watermark. It is the operator remedy for a diverged watermark.
func (m *Manager) Run(ctx context.Context, fullResync bool) (*RunReport, error) {
	if !m.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer m.mu.Unlock()

	start := time.Now()
	report, err := m.run(ctx, fullResync)
	metrics.RecordIngestRun(time.Since(start), err)
	return report, err
}

func (m *Manager) run(ctx context.Context, fullResync bool) (*RunReport, error) {
	now := time.Now().UTC()

	wm, err := m.db.GetWatermark(ctx, m.source)
	if err != nil {
		return nil, fmt.Errorf("failed to load watermark: %w", err)
	}

	window := ComputeWindow(wm, now, m.cfg, fullResync)
	report := &RunReport{Mode: window.Mode, Watermark: wm}

	if window.Empty() {
		logging.Info().
			Str("source", m.source).
			Time("from", window.From).
			Time("to", window.To).
			Msg("Fetch window is empty, nothing to ingest")
		return report, nil
	}

	logging.Info().
		Str("source", m.source).
		Str("mode", window.Mode.String()).
		Time("from", window.From).
		Time("to", window.To).
		Bool("full_resync", fullResync).
		Msg("Starting ingestion run")

	events, err := m.client.FetchEvents(ctx, window.From, window.To)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch window [%s, %s]: %w",
			window.From.Format(time.RFC3339), window.To.Format(time.RFC3339), err)
	}
	report.EventsFetched = int64(len(events))
	metrics.IngestBatchSize.Observe(float64(len(events)))

	if len(events) == 0 {
		return report, m.handleEmptyRun(ctx, wm, fullResync, report)
	}

	inserted, err := m.db.InsertRawEvents(ctx, events)
	if err != nil {
		return nil, fmt.Errorf("failed to store raw events: %w", err)
	}
	report.EventsNew = int64(len(inserted))

	rows, err := m.buildAggregates(ctx, window.Mode, events, inserted, now)
	if err != nil {
		return nil, err
	}

	result, err := m.merger.Merge(ctx, rows, window.Mode)
	report.EntitiesUpdated = result.EntitiesUpdated
	report.ChunksCommitted = result.ChunksCommitted
	if err != nil {
		if isConflict(err) {
			return nil, fmt.Errorf("%w: %v", ErrAggregationConflict, err)
		}
		return nil, fmt.Errorf("aggregation failed: %w", err)
	}

	// Every chunk committed: the watermark may now move. It lands on the
	// latest event time actually seen, never on wall-clock now.
	maxEventTime := latestEventTime(events)
	if err := m.db.AdvanceWatermark(ctx, m.source, maxEventTime, report.EventsNew); err != nil {
		return nil, fmt.Errorf("failed to advance watermark: %w", err)
	}

	updated, err := m.db.GetWatermark(ctx, m.source)
	if err != nil {
		return nil, fmt.Errorf("failed to reload watermark: %w", err)
	}
	report.Watermark = updated
	report.StaleRuns = 0

	metrics.WatermarkLag.WithLabelValues(m.source).Set(updated.Lag(time.Now().UTC()).Seconds())
	metrics.WatermarkStaleRuns.WithLabelValues(m.source).Set(0)

	logging.Info().
		Str("source", m.source).
		Str("mode", window.Mode.String()).
		Int64("events_fetched", report.EventsFetched).
		Int64("events_new", report.EventsNew).
		Int64("entities_updated", report.EntitiesUpdated).
		Int64("chunks_committed", report.ChunksCommitted).
		Time("watermark", updated.LastEventTime).
		Msg("Ingestion run completed")

	return report, nil
}

// handleEmptyRun records a zero-event incremental run against the divergence
// counter. Several consecutive empty windows while upstream is active point
// at a stuck watermark; the run itself still succeeds and the flag is left
// for an operator to act on with a forced full resync.
func (m *Manager) handleEmptyRun(ctx context.Context, wm *models.Watermark, fullResync bool, report *RunReport) error {
	if wm == nil || fullResync {
		return nil
	}

	staleRuns, err := m.db.RecordStaleRun(ctx, m.source)
	if err != nil {
		return fmt.Errorf("failed to record stale run: %w", err)
	}
	report.StaleRuns = staleRuns
	metrics.WatermarkStaleRuns.WithLabelValues(m.source).Set(float64(staleRuns))

	if m.cfg.StaleRunThreshold > 0 && staleRuns >= int64(m.cfg.StaleRunThreshold) {
		report.Diverged = true
		logging.Warn().
			Str("source", m.source).
			Int64("stale_runs", staleRuns).
			Time("watermark", wm.LastEventTime).
			Msg("Watermark looks diverged, consider a full resync")
	}
	return nil
}

// buildAggregates produces the rows to merge for the run's mode. REPLACE
// recomputes every touched entity from the window so aged-out events fall
// away; ADD folds only the newly stored events into deltas, which keeps
// overlap replays from double counting.
func (m *Manager) buildAggregates(ctx context.Context, mode models.MergeMode, fetched, inserted []models.RawEvent, now time.Time) ([]*models.EntityAggregate, error) {
	switch mode {
	case models.MergeReplace:
		rows, err := m.engine.RecomputeWindow(ctx, aggregate.EntityIDs(fetched), now)
		if err != nil {
			return nil, fmt.Errorf("window recompute failed: %w", err)
		}
		return rows, nil
	case models.MergeAdd:
		return m.engine.BuildDeltas(inserted, now), nil
	default:
		return nil, fmt.Errorf("unknown merge mode %d", mode)
	}
}

func latestEventTime(events []models.RawEvent) time.Time {
	var latest time.Time
	for i := range events {
		if events[i].EventTime.After(latest) {
			latest = events[i].EventTime
		}
	}
	return latest.UTC()
}

func isConflict(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "constraint") || strings.Contains(msg, "duplicate key")
}
