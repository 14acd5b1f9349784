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

	"github.com/zackbabin/dub-analysis-tool-sub004/internal/logging"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/models"
)

// replaceUpsertQuery overwrites counter columns with the freshly recomputed
// window values. Accumulator flags still OR-merge: "ever did X" never
// reverts, even when the triggering event has aged out of the window.
const replaceUpsertQuery = `INSERT INTO entity_aggregates (
		entity_id, window_start,
		profile_views, pdp_views, copy_count, subscription_count,
		session_count, creator_taps, other_events,
		did_copy, did_subscribe,
		first_event_at, last_event_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (entity_id) DO UPDATE SET
		window_start       = excluded.window_start,
		profile_views      = excluded.profile_views,
		pdp_views          = excluded.pdp_views,
		copy_count         = excluded.copy_count,
		subscription_count = excluded.subscription_count,
		session_count      = excluded.session_count,
		creator_taps       = excluded.creator_taps,
		other_events       = excluded.other_events,
		did_copy           = entity_aggregates.did_copy OR excluded.did_copy,
		did_subscribe      = entity_aggregates.did_subscribe OR excluded.did_subscribe,
		first_event_at     = excluded.first_event_at,
		last_event_at      = excluded.last_event_at,
		updated_at         = excluded.updated_at`

// addUpsertQuery accumulates deltas onto the existing row. Only safe for
// batches that were deduplicated through the raw event store first.
const addUpsertQuery = `INSERT INTO entity_aggregates (
		entity_id, window_start,
		profile_views, pdp_views, copy_count, subscription_count,
		session_count, creator_taps, other_events,
		did_copy, did_subscribe,
		first_event_at, last_event_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (entity_id) DO UPDATE SET
		profile_views      = entity_aggregates.profile_views + excluded.profile_views,
		pdp_views          = entity_aggregates.pdp_views + excluded.pdp_views,
		copy_count         = entity_aggregates.copy_count + excluded.copy_count,
		subscription_count = entity_aggregates.subscription_count + excluded.subscription_count,
		session_count      = entity_aggregates.session_count + excluded.session_count,
		creator_taps       = entity_aggregates.creator_taps + excluded.creator_taps,
		other_events       = entity_aggregates.other_events + excluded.other_events,
		did_copy           = entity_aggregates.did_copy OR excluded.did_copy,
		did_subscribe      = entity_aggregates.did_subscribe OR excluded.did_subscribe,
		first_event_at     = LEAST(
			COALESCE(entity_aggregates.first_event_at, excluded.first_event_at),
			COALESCE(excluded.first_event_at, entity_aggregates.first_event_at)),
		last_event_at      = GREATEST(
			COALESCE(entity_aggregates.last_event_at, excluded.last_event_at),
			COALESCE(excluded.last_event_at, entity_aggregates.last_event_at)),
		updated_at         = excluded.updated_at`

// UpsertAggregatesChunk writes one pre-aggregated chunk inside a single
// transaction: the chunk either fully commits or fully rolls back. The
// caller guarantees at most one row per entity in the chunk.
func (db *DB) UpsertAggregatesChunk(ctx context.Context, aggregates []*models.EntityAggregate, mode models.MergeMode) error {
	if len(aggregates) == 0 {
		return nil
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := replaceUpsertQuery
	if mode == models.MergeAdd {
		query = addUpsertQuery
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin aggregate transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		rollbackWithLog(tx)
		return fmt.Errorf("failed to prepare aggregate upsert: %w", err)
	}

	for _, agg := range aggregates {
		agg.Normalize()
		if agg.UpdatedAt.IsZero() {
			agg.UpdatedAt = time.Now().UTC()
		}

		_, err := stmt.ExecContext(ctx,
			agg.EntityID, agg.WindowStart.UTC(),
			agg.ProfileViews, agg.PDPViews, agg.CopyCount, agg.SubscriptionCount,
			agg.SessionCount, agg.CreatorTaps, agg.OtherEvents,
			agg.DidCopy, agg.DidSubscribe,
			nullableTime(agg.FirstEventAt), nullableTime(agg.LastEventAt), agg.UpdatedAt,
		)
		if err != nil {
			closeWithLog(stmt, "aggregate upsert statement")
			rollbackWithLog(tx)
			return fmt.Errorf("failed to upsert aggregate (entity=%s, mode=%s): %w", agg.EntityID, mode, err)
		}
	}

	closeWithLog(stmt, "aggregate upsert statement")

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit aggregate chunk: %w", err)
	}
	return nil
}

// GetEntityAggregate fetches a single aggregate row, or nil when the entity
// has never been aggregated.
func (db *DB) GetEntityAggregate(ctx context.Context, entityID string) (*models.EntityAggregate, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT
			entity_id, window_start,
			profile_views, pdp_views, copy_count, subscription_count,
			session_count, creator_taps, other_events,
			did_copy, did_subscribe,
			first_event_at, last_event_at, updated_at
		FROM entity_aggregates WHERE entity_id = ?`

	agg := &models.EntityAggregate{}
	var firstAt, lastAt sql.NullTime

	err := db.conn.QueryRowContext(ctx, query, entityID).Scan(
		&agg.EntityID, &agg.WindowStart,
		&agg.ProfileViews, &agg.PDPViews, &agg.CopyCount, &agg.SubscriptionCount,
		&agg.SessionCount, &agg.CreatorTaps, &agg.OtherEvents,
		&agg.DidCopy, &agg.DidSubscribe,
		&firstAt, &lastAt, &agg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get entity aggregate: %w", err)
	}

	if firstAt.Valid {
		agg.FirstEventAt = firstAt.Time
	}
	if lastAt.Valid {
		agg.LastEventAt = lastAt.Time
	}
	return agg, nil
}

// CountEntityAggregates returns the number of aggregate rows.
func (db *DB) CountEntityAggregates(ctx context.Context) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count int64
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM entity_aggregates").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count entity aggregates: %w", err)
	}
	return count, nil
}

// nullableTime maps the zero time to SQL NULL.
func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

// rollbackWithLog rolls a transaction back and logs failures. ErrTxDone is
// expected when the transaction already committed or rolled back.
func rollbackWithLog(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		logging.Warn().Err(err).Msg("Failed to roll back transaction")
	}
}
