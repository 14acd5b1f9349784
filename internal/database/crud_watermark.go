// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zackbabin/dub-analysis-tool-sub004/internal/models"
)

// GetWatermark returns the watermark for a source, or nil when the source
// has never completed a successful pass. A nil watermark tells the caller to
// run a full historical backfill.
func (db *DB) GetWatermark(ctx context.Context, source string) (*models.Watermark, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT source_name, last_event_time, last_run_status,
			events_processed, stale_runs, updated_at
		FROM watermarks WHERE source_name = ?`

	wm := &models.Watermark{}
	err := db.conn.QueryRowContext(ctx, query, source).Scan(
		&wm.SourceName, &wm.LastEventTime, &wm.LastRunStatus,
		&wm.EventsProcessed, &wm.StaleRuns, &wm.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get watermark for %s: %w", source, err)
	}
	return wm, nil
}

// AdvanceWatermark records a fully committed pass. Must only be called after
// every corresponding aggregation chunk has committed.
//
// The GREATEST guard keeps last_event_time monotonically non-decreasing even
// if a replayed overlap window yields an older maximum event time.
func (db *DB) AdvanceWatermark(ctx context.Context, source string, newTime time.Time, eventsCount int64) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `INSERT INTO watermarks (
			source_name, last_event_time, last_run_status,
			events_processed, stale_runs, updated_at
		) VALUES (?, ?, 'success', ?, 0, ?)
		ON CONFLICT (source_name) DO UPDATE SET
			last_event_time  = GREATEST(watermarks.last_event_time, excluded.last_event_time),
			last_run_status  = excluded.last_run_status,
			events_processed = excluded.events_processed,
			stale_runs       = 0,
			updated_at       = excluded.updated_at`

	_, err := db.conn.ExecContext(ctx, query, source, newTime.UTC(), eventsCount, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to advance watermark for %s: %w", source, err)
	}
	return nil
}

// RecordStaleRun increments the consecutive zero-event run counter without
// touching last_event_time, and returns the new count. Used by the
// watermark-divergence detector.
func (db *DB) RecordStaleRun(ctx context.Context, source string) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `UPDATE watermarks SET stale_runs = stale_runs + 1, updated_at = ?
		WHERE source_name = ?`
	if _, err := db.conn.ExecContext(ctx, query, time.Now().UTC(), source); err != nil {
		return 0, fmt.Errorf("failed to record stale run for %s: %w", source, err)
	}

	var staleRuns int64
	err := db.conn.QueryRowContext(ctx,
		"SELECT stale_runs FROM watermarks WHERE source_name = ?", source).Scan(&staleRuns)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read stale run count for %s: %w", source, err)
	}
	return staleRuns, nil
}

// ListWatermarks returns all watermarks, for the audit query surface.
func (db *DB) ListWatermarks(ctx context.Context) ([]*models.Watermark, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT source_name, last_event_time, last_run_status,
			events_processed, stale_runs, updated_at
		FROM watermarks ORDER BY source_name`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list watermarks: %w", err)
	}
	defer closeWithLog(rows, "watermark rows")

	var watermarks []*models.Watermark
	for rows.Next() {
		wm := &models.Watermark{}
		if err := rows.Scan(
			&wm.SourceName, &wm.LastEventTime, &wm.LastRunStatus,
			&wm.EventsProcessed, &wm.StaleRuns, &wm.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan watermark: %w", err)
		}
		watermarks = append(watermarks, wm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating watermarks: %w", err)
	}
	return watermarks, nil
}
