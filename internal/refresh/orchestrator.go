// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package refresh

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zackbabin/dub-analysis-tool-sub004/internal/config"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/database"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/logging"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/metrics"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/models"
)

// Orchestrator refreshes the registered views in dependency order.
//
// One failing node never aborts the run: the node is recorded as ERROR, its
// transitive dependents are recorded as SKIPPED with the reason, and every
// other node proceeds normally. Stale derived data is preferable to blocking
// the whole reporting layer on one broken view.
type Orchestrator struct {
	db       *database.DB
	registry *Registry
	cfg      *config.RefreshConfig
}

// NewOrchestrator creates an orchestrator over the given registry.
func NewOrchestrator(db *database.DB, registry *Registry, cfg *config.RefreshConfig) *Orchestrator {
	return &Orchestrator{db: db, registry: registry, cfg: cfg}
}

// RunAll refreshes every view in topological order and returns one result
// per view, in refresh order. Each attempt, whatever its outcome, is
// appended to the refresh log under the given run ID.
func (o *Orchestrator) RunAll(ctx context.Context, runID uuid.UUID) []models.ViewResult {
	metrics.RefreshRuns.Inc()

	statuses := make(map[string]models.RefreshStatus, o.registry.Len())
	results := make([]models.ViewResult, 0, o.registry.Len())

	for _, name := range o.registry.Order() {
		node := o.registry.Node(name)
		result := o.runNode(ctx, runID, node, statuses)
		statuses[name] = result.Status
		results = append(results, result)
	}

	return results
}

func (o *Orchestrator) runNode(ctx context.Context, runID uuid.UUID, node *Node, statuses map[string]models.RefreshStatus) models.ViewResult {
	result := models.ViewResult{Name: node.Name}

	if failedDep := firstFailedDep(node, statuses); failedDep != "" {
		result.Status = models.RefreshSkipped
		result.Error = fmt.Sprintf("dependency %s did not succeed", failedDep)
		o.record(ctx, runID, result)
		logging.Warn().
			Str("view", node.Name).
			Str("dependency", failedDep).
			Msg("View refresh skipped")
		return result
	}

	nodeCtx := ctx
	if o.cfg.NodeTimeout > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(ctx, o.cfg.NodeTimeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := o.refreshNode(nodeCtx, node)
	result.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		result.Status = models.RefreshError
		result.Error = err.Error()
		logging.Error().
			Err(err).
			Str("view", node.Name).
			Dur("duration", time.Since(start)).
			Msg("View refresh failed")
	} else {
		result.Status = models.RefreshSuccess
		result.RowsAffected = rows
		logging.Info().
			Str("view", node.Name).
			Int64("rows", rows).
			Dur("duration", time.Since(start)).
			Msg("View refreshed")
	}

	metrics.RefreshNodeDuration.WithLabelValues(node.Name).Observe(time.Since(start).Seconds())
	metrics.RefreshNodeOutcomes.WithLabelValues(node.Name, string(result.Status)).Inc()
	o.record(ctx, runID, result)
	return result
}

// refreshNode rebuilds one view and returns its resulting row count.
func (o *Orchestrator) refreshNode(ctx context.Context, node *Node) (int64, error) {
	switch node.EffectiveMode() {
	case models.RefreshNonBlocking:
		return o.refreshShadowSwap(ctx, node)
	default:
		return o.refreshExclusive(ctx, node)
	}
}

// refreshExclusive deletes and rebuilds the view inside one transaction.
// Readers block for the duration, which is why only keyless views use it.
func (o *Orchestrator) refreshExclusive(ctx context.Context, node *Node) (int64, error) {
	conn := o.db.Conn()

	ensure := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s AS SELECT * FROM (%s) AS t WHERE 1 = 0",
		node.Name, node.BuildQuery)
	if _, err := conn.ExecContext(ctx, ensure); err != nil {
		return 0, fmt.Errorf("failed to ensure view table %s: %w", node.Name, err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin refresh transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+node.Name); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to clear view %s: %w", node.Name, err)
	}

	res, err := tx.ExecContext(ctx, fmt.Sprintf("INSERT INTO %s %s", node.Name, node.BuildQuery))
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to rebuild view %s: %w", node.Name, err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to read rebuilt row count: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit view %s: %w", node.Name, err)
	}
	return rows, nil
}

// refreshShadowSwap builds the new content in a shadow table, verifies the
// declared unique key holds, then swaps the shadow in atomically. Readers
// see the old content until the swap commits.
func (o *Orchestrator) refreshShadowSwap(ctx context.Context, node *Node) (int64, error) {
	conn := o.db.Conn()
	shadow := node.Name + "__shadow"

	build := fmt.Sprintf("CREATE OR REPLACE TABLE %s AS %s", shadow, node.BuildQuery)
	if _, err := conn.ExecContext(ctx, build); err != nil {
		return 0, fmt.Errorf("failed to build shadow for %s: %w", node.Name, err)
	}

	key := strings.Join(node.UniqueKey, ", ")
	var dupes int64
	dupeQuery := fmt.Sprintf(
		"SELECT COUNT(*) FROM (SELECT %s FROM %s GROUP BY %s HAVING COUNT(*) > 1) AS d",
		key, shadow, key)
	if err := conn.QueryRowContext(ctx, dupeQuery).Scan(&dupes); err != nil {
		return 0, fmt.Errorf("failed to check unique key for %s: %w", node.Name, err)
	}
	if dupes > 0 {
		return 0, fmt.Errorf("view %s: unique key (%s) violated by %d groups", node.Name, key, dupes)
	}

	var rows int64
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+shadow).Scan(&rows); err != nil {
		return 0, fmt.Errorf("failed to count shadow rows for %s: %w", node.Name, err)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin swap transaction: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+node.Name); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to drop old view %s: %w", node.Name, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", shadow, node.Name)); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("failed to swap in shadow for %s: %w", node.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit swap for %s: %w", node.Name, err)
	}
	return rows, nil
}

// record appends the attempt to the refresh log. A log-write failure is
// reported but never fails the refresh itself.
func (o *Orchestrator) record(ctx context.Context, runID uuid.UUID, result models.ViewResult) {
	entry := &models.RefreshLogEntry{
		RunID:        runID,
		ViewName:     result.Name,
		Status:       result.Status,
		DurationMs:   result.DurationMs,
		RowsAffected: result.RowsAffected,
		ErrorMessage: result.Error,
	}
	if err := o.db.InsertRefreshLogEntry(ctx, entry); err != nil {
		logging.Error().Err(err).Str("view", result.Name).Msg("Failed to write refresh log entry")
	}
}

// firstFailedDep returns the first dependency of node that did not reach
// SUCCESS in this run, or empty if all did.
func firstFailedDep(node *Node, statuses map[string]models.RefreshStatus) string {
	for _, dep := range node.Deps {
		if statuses[dep] != models.RefreshSuccess {
			return dep
		}
	}
	return ""
}
