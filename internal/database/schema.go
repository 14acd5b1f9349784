// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package database

import (
	"context"
	"fmt"
)

// initSchema creates the durable stores if they do not exist.
//
// Ownership: raw_events, entity_aggregates, and watermarks are written only
// by the ingestion/aggregation path; refresh_log only by the orchestrator.
// Derived view tables are created by their own recompute functions and are
// not part of this schema.
func (db *DB) initSchema(ctx context.Context) error {
	statements := []string{
		// Append-only log of ingested events. The unique natural key makes
		// re-ingestion of overlapping fetch windows a no-op.
		`CREATE TABLE IF NOT EXISTS raw_events (
			entity_id   TEXT NOT NULL,
			event_name  TEXT NOT NULL,
			event_time  TIMESTAMP NOT NULL,
			attributes  JSON,
			ingested_at TIMESTAMP NOT NULL,
			UNIQUE (entity_id, event_time, event_name)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_raw_events_entity
			ON raw_events(entity_id, event_time)`,
		`CREATE INDEX IF NOT EXISTS idx_raw_events_time
			ON raw_events(event_time)`,

		// Per-entity rolling-window aggregates. Source of truth for all
		// derived views.
		`CREATE TABLE IF NOT EXISTS entity_aggregates (
			entity_id          TEXT PRIMARY KEY,
			window_start       TIMESTAMP NOT NULL,
			profile_views      BIGINT NOT NULL DEFAULT 0,
			pdp_views          BIGINT NOT NULL DEFAULT 0,
			copy_count         BIGINT NOT NULL DEFAULT 0,
			subscription_count BIGINT NOT NULL DEFAULT 0,
			session_count      BIGINT NOT NULL DEFAULT 0,
			creator_taps       BIGINT NOT NULL DEFAULT 0,
			other_events       BIGINT NOT NULL DEFAULT 0,
			did_copy           BOOLEAN NOT NULL DEFAULT FALSE,
			did_subscribe      BOOLEAN NOT NULL DEFAULT FALSE,
			first_event_at     TIMESTAMP,
			last_event_at      TIMESTAMP,
			updated_at         TIMESTAMP NOT NULL
		)`,

		// One row per source; advanced only by fully committed passes.
		`CREATE TABLE IF NOT EXISTS watermarks (
			source_name      TEXT PRIMARY KEY,
			last_event_time  TIMESTAMP NOT NULL,
			last_run_status  TEXT NOT NULL,
			events_processed BIGINT NOT NULL DEFAULT 0,
			stale_runs       BIGINT NOT NULL DEFAULT 0,
			updated_at       TIMESTAMP NOT NULL
		)`,

		// Append-only audit of orchestrator runs.
		`CREATE TABLE IF NOT EXISTS refresh_log (
			id            UUID PRIMARY KEY,
			run_id        UUID NOT NULL,
			view_name     TEXT NOT NULL,
			status        TEXT NOT NULL,
			duration_ms   BIGINT NOT NULL,
			rows_affected BIGINT NOT NULL DEFAULT 0,
			error_message TEXT,
			run_at        TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_refresh_log_view
			ON refresh_log(view_name, run_at DESC)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
