// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zackbabin/dub-analysis-tool-sub004/internal/models"
)

// InsertRefreshLogEntry appends one audit record. Entries are never updated
// or deleted afterwards.
func (db *DB) InsertRefreshLogEntry(ctx context.Context, entry *models.RefreshLogEntry) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.RunAt.IsZero() {
		entry.RunAt = time.Now().UTC()
	}

	query := `INSERT INTO refresh_log (
			id, run_id, view_name, status, duration_ms,
			rows_affected, error_message, run_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.conn.ExecContext(ctx, query,
		entry.ID, entry.RunID, entry.ViewName, string(entry.Status),
		entry.DurationMs, entry.RowsAffected, entry.ErrorMessage, entry.RunAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert refresh log entry: %w", err)
	}
	return nil
}

// RefreshLogFilter contains filter options for querying the refresh log.
type RefreshLogFilter struct {
	ViewName string
	Status   models.RefreshStatus
	Since    *time.Time
	Limit    int
}

// ListRefreshLog returns audit entries, newest first.
func (db *DB) ListRefreshLog(ctx context.Context, filter RefreshLogFilter) ([]*models.RefreshLogEntry, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var conditions []string
	var args []interface{}

	if filter.ViewName != "" {
		conditions = append(conditions, "view_name = ?")
		args = append(args, filter.ViewName)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Since != nil {
		conditions = append(conditions, "run_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)

	query := `SELECT id, run_id, view_name, status, duration_ms,
			rows_affected, COALESCE(error_message, ''), run_at
		FROM refresh_log` + whereClause + ` ORDER BY run_at DESC LIMIT ?`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list refresh log: %w", err)
	}
	defer closeWithLog(rows, "refresh log rows")

	var entries []*models.RefreshLogEntry
	for rows.Next() {
		entry := &models.RefreshLogEntry{}
		var status string
		if err := rows.Scan(
			&entry.ID, &entry.RunID, &entry.ViewName, &status,
			&entry.DurationMs, &entry.RowsAffected, &entry.ErrorMessage, &entry.RunAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan refresh log entry: %w", err)
		}
		entry.Status = models.RefreshStatus(status)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating refresh log: %w", err)
	}
	return entries, nil
}

// GetViewFreshness reports, per view, the time of the most recent successful
// refresh and the status of the most recent attempt of any outcome.
func (db *DB) GetViewFreshness(ctx context.Context) ([]*models.ViewFreshness, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT
			view_name,
			MAX(run_at) FILTER (WHERE status = 'success') AS last_success_at,
			arg_max(status, run_at)                       AS last_status
		FROM refresh_log
		GROUP BY view_name
		ORDER BY view_name`

	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query view freshness: %w", err)
	}
	defer closeWithLog(rows, "view freshness rows")

	now := time.Now().UTC()
	var result []*models.ViewFreshness

	for rows.Next() {
		vf := &models.ViewFreshness{}
		var lastSuccess *time.Time
		var lastStatus string
		if err := rows.Scan(&vf.ViewName, &lastSuccess, &lastStatus); err != nil {
			return nil, fmt.Errorf("failed to scan view freshness: %w", err)
		}
		if lastSuccess != nil {
			vf.LastSuccessAt = *lastSuccess
			vf.Age = now.Sub(*lastSuccess)
			vf.AgeSeconds = vf.Age.Seconds()
		}
		vf.LastStatus = models.RefreshStatus(lastStatus)
		result = append(result, vf)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating view freshness: %w", err)
	}
	return result, nil
}
