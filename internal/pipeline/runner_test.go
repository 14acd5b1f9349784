// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zackbabin/dub-analysis-tool-sub004/internal/aggregate"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/config"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/database"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/ingest"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/models"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/refresh"
)

var testDBSemaphore = make(chan struct{}, 4)

type stubSource struct {
	events []models.RawEvent
	err    error
}

func (s *stubSource) FetchEvents(ctx context.Context, from, to time.Time) ([]models.RawEvent, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.events, nil
}

func (s *stubSource) Ping(ctx context.Context) error { return s.err }

func setupRunner(t *testing.T, source *stubSource) (*Runner, *database.DB) {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() { <-testDBSemaphore })

	db, err := database.NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	t.Cleanup(func() {
		if cerr := db.Close(); cerr != nil {
			t.Errorf("close test database: %v", cerr)
		}
	})

	aggCfg := &config.AggregateConfig{Window: 60 * 24 * time.Hour, ChunkSize: 1000}
	ingCfg := &config.IngestConfig{
		BatchSize:         100,
		Overlap:           2 * time.Hour,
		SafetyLag:         24 * time.Hour,
		BackfillStart:     time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		StaleRunThreshold: 5,
	}

	manager := ingest.NewManager(db, source,
		aggregate.NewEngine(db, aggCfg),
		aggregate.NewMerger(db, aggCfg.ChunkSize),
		ingCfg, "analytics")

	reg, err := refresh.NewDubRegistry()
	if err != nil {
		t.Fatalf("NewDubRegistry: %v", err)
	}
	orch := refresh.NewOrchestrator(db, reg, &config.RefreshConfig{NodeTimeout: time.Minute})

	return NewRunner(manager, orch, "analytics"), db
}

func TestRunFull(t *testing.T) {
	base := time.Now().UTC().Add(-48 * time.Hour)
	source := &stubSource{events: []models.RawEvent{
		{EntityID: "U1", EventName: models.EventProfileView, EventTime: base},
		{EntityID: "U1", EventName: models.EventCopyPortfolio, EventTime: base.Add(time.Minute)},
		{EntityID: "U2", EventName: models.EventSessionStart, EventTime: base.Add(2 * time.Minute)},
	}}
	runner, db := setupRunner(t, source)

	result, err := runner.RunFull(context.Background(), false)
	if err != nil {
		t.Fatalf("RunFull: %v", err)
	}

	if result.Status != models.RunCompleted {
		t.Errorf("status: expected completed, got %s", result.Status)
	}
	if result.EventsFetched != 3 || result.EventsNew != 3 {
		t.Errorf("events: fetched=%d new=%d", result.EventsFetched, result.EventsNew)
	}
	if result.Watermark == nil {
		t.Error("expected watermark in result")
	}
	if len(result.Views) != 5 {
		t.Fatalf("expected 5 view results, got %d", len(result.Views))
	}
	for _, v := range result.Views {
		if v.Status != models.RefreshSuccess {
			t.Errorf("view %s: %s (%s)", v.Name, v.Status, v.Error)
		}
	}

	// Derived views are queryable after a full run.
	var users int64
	if err := db.Conn().QueryRow("SELECT COUNT(*) FROM user_engagement_summary").Scan(&users); err != nil {
		t.Fatalf("query view: %v", err)
	}
	if users != 2 {
		t.Errorf("expected 2 users in summary, got %d", users)
	}
}

func TestRunFullAbortsBeforeRefreshOnFetchFailure(t *testing.T) {
	source := &stubSource{err: ingest.ErrTransientFetch}
	runner, db := setupRunner(t, source)

	result, err := runner.RunFull(context.Background(), false)
	if err == nil {
		t.Fatal("expected fetch failure")
	}
	if !errors.Is(err, ingest.ErrTransientFetch) {
		t.Errorf("expected ErrTransientFetch, got %v", err)
	}
	if result == nil || result.Status != models.RunFailed {
		t.Fatalf("expected failed result, got %+v", result)
	}
	if result.Error == "" {
		t.Error("expected the failure in the result")
	}
	if len(result.Views) != 0 {
		t.Errorf("refresh ran despite aborted ingestion: %d views", len(result.Views))
	}

	// No refresh log entries either.
	entries, err := db.ListRefreshLog(context.Background(), database.RefreshLogFilter{})
	if err != nil {
		t.Fatalf("ListRefreshLog: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty refresh log, got %d entries", len(entries))
	}
}

func TestRunRefreshOnly(t *testing.T) {
	runner, db := setupRunner(t, &stubSource{})

	result, err := runner.RunRefreshOnly(context.Background())
	if err != nil {
		t.Fatalf("RunRefreshOnly: %v", err)
	}
	if result.Status != models.RunCompleted {
		t.Errorf("status: expected completed, got %s", result.Status)
	}
	if result.EventsFetched != 0 {
		t.Errorf("refresh-only run fetched events: %d", result.EventsFetched)
	}
	if len(result.Views) != 5 {
		t.Fatalf("expected 5 view results, got %d", len(result.Views))
	}

	// The watermark is untouched by a refresh-only run.
	wm, err := db.GetWatermark(context.Background(), "analytics")
	if err != nil {
		t.Fatalf("GetWatermark: %v", err)
	}
	if wm != nil {
		t.Errorf("refresh-only run created a watermark: %+v", wm)
	}
}
