// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/zackbabin/dub-analysis-tool-sub004/internal/logging"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/metrics"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/models"
)

// InsertRawEvents appends a batch of events to the raw event store and
// returns the subset that was newly inserted.
//
// Deduplication happens at the store: INSERT ... ON CONFLICT DO NOTHING
// against the natural key (entity_id, event_time, event_name). RowsAffected
// distinguishes new rows from duplicates, which is what makes ADD-mode
// aggregation safe — only events the store had never seen are returned for
// delta accumulation.
func (db *DB) InsertRawEvents(ctx context.Context, events []models.RawEvent) ([]models.RawEvent, error) {
	if len(events) == 0 {
		return nil, nil
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `INSERT INTO raw_events (entity_id, event_name, event_time, attributes, ingested_at)
		VALUES (?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`

	stmt, err := db.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare raw event insert: %w", err)
	}
	defer closeWithLog(stmt, "raw event insert statement")

	now := time.Now().UTC()
	inserted := make([]models.RawEvent, 0, len(events))
	duplicates := 0

	for i := range events {
		event := &events[i]
		if event.IngestedAt.IsZero() {
			event.IngestedAt = now
		}

		var attrs interface{}
		if len(event.Attributes) > 0 {
			attrs = string(event.Attributes)
		}

		result, err := stmt.ExecContext(ctx,
			event.EntityID, event.EventName, event.EventTime.UTC(), attrs, event.IngestedAt)
		if err != nil {
			return inserted, fmt.Errorf("failed to insert raw event (entity=%s): %w", event.EntityID, err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("failed to read rows affected: %w", err)
		}
		if rows > 0 {
			inserted = append(inserted, *event)
		} else {
			duplicates++
		}
	}

	metrics.IngestEventsNew.Add(float64(len(inserted)))
	metrics.IngestEventsDuplicate.Add(float64(duplicates))

	logging.Debug().
		Int("batch", len(events)).
		Int("new", len(inserted)).
		Int("duplicates", duplicates).
		Msg("Raw events stored")

	return inserted, nil
}

// CountRawEvents returns the total number of stored raw events.
func (db *DB) CountRawEvents(ctx context.Context) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count int64
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM raw_events").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count raw events: %w", err)
	}
	return count, nil
}

// ComputeWindowAggregates recomputes aggregates from scratch for the given
// entities, counting only events with event_time >= windowStart. Entities
// with no in-window events are absent from the result — the caller overlays
// the map onto zeroed rows so aged-out entities still get overwritten.
//
// The computation is a single set-based GROUP BY over the raw event store:
// the supporting (entity_id, event_time) index keeps per-entity scans bounded
// regardless of cache state.
func (db *DB) ComputeWindowAggregates(ctx context.Context, entityIDs []string, windowStart time.Time) (map[string]*models.EntityAggregate, error) {
	if len(entityIDs) == 0 {
		return map[string]*models.EntityAggregate{}, nil
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	args := []interface{}{windowStart.UTC()}
	inClause := buildSliceCondition("entity_id", entityIDs, &args)

	query := fmt.Sprintf(`SELECT
			entity_id,
			COUNT(*) FILTER (WHERE event_name = 'profile_view')     AS profile_views,
			COUNT(*) FILTER (WHERE event_name = 'pdp_view')         AS pdp_views,
			COUNT(*) FILTER (WHERE event_name = 'copy_portfolio')   AS copy_count,
			COUNT(*) FILTER (WHERE event_name = 'subscribe')        AS subscription_count,
			COUNT(*) FILTER (WHERE event_name = 'session_start')    AS session_count,
			COUNT(*) FILTER (WHERE event_name = 'creator_card_tap') AS creator_taps,
			COUNT(*) FILTER (WHERE event_name NOT IN (
				'profile_view', 'pdp_view', 'copy_portfolio',
				'subscribe', 'session_start', 'creator_card_tap')) AS other_events,
			MIN(event_time) AS first_event_at,
			MAX(event_time) AS last_event_at
		FROM raw_events
		WHERE event_time >= ? AND %s
		GROUP BY entity_id`, inClause)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to compute window aggregates: %w", err)
	}
	defer closeWithLog(rows, "window aggregate rows")

	result := make(map[string]*models.EntityAggregate, len(entityIDs))
	now := time.Now().UTC()

	for rows.Next() {
		agg := &models.EntityAggregate{WindowStart: windowStart.UTC(), UpdatedAt: now}
		var firstAt, lastAt sql.NullTime
		if err := rows.Scan(
			&agg.EntityID,
			&agg.ProfileViews, &agg.PDPViews, &agg.CopyCount,
			&agg.SubscriptionCount, &agg.SessionCount, &agg.CreatorTaps,
			&agg.OtherEvents,
			&firstAt, &lastAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan window aggregate: %w", err)
		}
		if firstAt.Valid {
			agg.FirstEventAt = firstAt.Time
		}
		if lastAt.Valid {
			agg.LastEventAt = lastAt.Time
		}
		agg.Normalize()
		result[agg.EntityID] = agg
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating window aggregates: %w", err)
	}

	return result, nil
}

// buildSliceCondition creates a SQL IN condition for a slice of values and
// appends them to args.
func buildSliceCondition[T ~string](column string, values []T, args *[]interface{}) string {
	placeholders := make([]string, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		*args = append(*args, string(v))
	}
	return fmt.Sprintf("%s IN (%s)", column, strings.Join(placeholders, ","))
}

// closeWithLog closes a resource and logs close failures instead of
// swallowing them.
func closeWithLog(c interface{ Close() error }, name string) {
	if err := c.Close(); err != nil {
		logging.Warn().Err(err).Str("resource", name).Msg("Failed to close resource")
	}
}
