// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/zackbabin/dub-analysis-tool-sub004/internal/models"
)

func seedRefreshLog(t *testing.T, db *DB) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	runID := uuid.New()
	base := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)

	entries := []*models.RefreshLogEntry{
		{RunID: runID, ViewName: "user_engagement_summary", Status: models.RefreshSuccess, DurationMs: 120, RowsAffected: 500, RunAt: base},
		{RunID: runID, ViewName: "engagement_funnel", Status: models.RefreshError, DurationMs: 40, ErrorMessage: "Binder Error: column renamed", RunAt: base.Add(time.Second)},
		{RunID: runID, ViewName: "daily_kpi_snapshot", Status: models.RefreshSkipped, ErrorMessage: "dependency engagement_funnel failed", RunAt: base.Add(2 * time.Second)},
	}
	for _, e := range entries {
		if err := db.InsertRefreshLogEntry(ctx, e); err != nil {
			t.Fatalf("InsertRefreshLogEntry(%s): %v", e.ViewName, err)
		}
	}
	return runID
}

func TestInsertRefreshLogEntryAssignsID(t *testing.T) {
	db := setupTestDB(t)

	entry := &models.RefreshLogEntry{
		RunID:    uuid.New(),
		ViewName: "user_engagement_summary",
		Status:   models.RefreshSuccess,
	}
	if err := db.InsertRefreshLogEntry(context.Background(), entry); err != nil {
		t.Fatalf("InsertRefreshLogEntry: %v", err)
	}
	if entry.ID == uuid.Nil {
		t.Error("expected a generated entry ID")
	}
	if entry.RunAt.IsZero() {
		t.Error("expected run_at to default to now")
	}
}

func TestListRefreshLogFilters(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedRefreshLog(t, db)

	all, err := db.ListRefreshLog(ctx, RefreshLogFilter{})
	if err != nil {
		t.Fatalf("ListRefreshLog: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	// Most recent attempt first.
	if all[0].ViewName != "daily_kpi_snapshot" {
		t.Errorf("expected newest entry first, got %s", all[0].ViewName)
	}

	byView, err := db.ListRefreshLog(ctx, RefreshLogFilter{ViewName: "engagement_funnel"})
	if err != nil {
		t.Fatalf("ListRefreshLog(view): %v", err)
	}
	if len(byView) != 1 || byView[0].Status != models.RefreshError {
		t.Fatalf("unexpected view filter result: %+v", byView)
	}
	if byView[0].ErrorMessage == "" {
		t.Error("expected error_message to round-trip")
	}

	byStatus, err := db.ListRefreshLog(ctx, RefreshLogFilter{Status: models.RefreshSkipped})
	if err != nil {
		t.Fatalf("ListRefreshLog(status): %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ViewName != "daily_kpi_snapshot" {
		t.Fatalf("unexpected status filter result: %+v", byStatus)
	}

	since := time.Date(2026, 3, 1, 6, 0, 1, 0, time.UTC)
	recent, err := db.ListRefreshLog(ctx, RefreshLogFilter{Since: &since})
	if err != nil {
		t.Fatalf("ListRefreshLog(since): %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 entries since %v, got %d", since, len(recent))
	}

	limited, err := db.ListRefreshLog(ctx, RefreshLogFilter{Limit: 1})
	if err != nil {
		t.Fatalf("ListRefreshLog(limit): %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 entry with limit, got %d", len(limited))
	}
}

func TestGetViewFreshness(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	seedRefreshLog(t, db)

	// A later run flips the funnel back to success.
	later := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	if err := db.InsertRefreshLogEntry(ctx, &models.RefreshLogEntry{
		RunID:    uuid.New(),
		ViewName: "engagement_funnel",
		Status:   models.RefreshSuccess,
		RunAt:    later,
	}); err != nil {
		t.Fatalf("InsertRefreshLogEntry: %v", err)
	}

	freshness, err := db.GetViewFreshness(ctx)
	if err != nil {
		t.Fatalf("GetViewFreshness: %v", err)
	}

	byName := make(map[string]*models.ViewFreshness, len(freshness))
	for _, vf := range freshness {
		byName[vf.ViewName] = vf
	}

	funnel, ok := byName["engagement_funnel"]
	if !ok {
		t.Fatal("expected freshness row for engagement_funnel")
	}
	if funnel.LastStatus != models.RefreshSuccess {
		t.Errorf("funnel last_status: expected success, got %s", funnel.LastStatus)
	}
	if !funnel.LastSuccessAt.Equal(later) {
		t.Errorf("funnel last_success_at: expected %v, got %v", later, funnel.LastSuccessAt)
	}

	// A view that has never succeeded reports its last status but a zero
	// success time.
	snapshot, ok := byName["daily_kpi_snapshot"]
	if !ok {
		t.Fatal("expected freshness row for daily_kpi_snapshot")
	}
	if snapshot.LastStatus != models.RefreshSkipped {
		t.Errorf("snapshot last_status: expected skipped, got %s", snapshot.LastStatus)
	}
	if !snapshot.LastSuccessAt.IsZero() {
		t.Errorf("snapshot last_success_at: expected zero, got %v", snapshot.LastSuccessAt)
	}
}
