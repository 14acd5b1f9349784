// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package aggregate

import (
	"context"
	"testing"
	"time"

	"github.com/zackbabin/dub-analysis-tool-sub004/internal/config"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/database"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/models"
)

var testDBSemaphore = make(chan struct{}, 4)

func setupTestEngine(t *testing.T) (*Engine, *database.DB) {
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

	cfg := &config.AggregateConfig{Window: 60 * 24 * time.Hour, ChunkSize: 100}
	return NewEngine(db, cfg), db
}

func event(entityID, name string, at time.Time) models.RawEvent {
	return models.RawEvent{EntityID: entityID, EventName: name, EventTime: at}
}

func TestBuildDeltas(t *testing.T) {
	engine, _ := setupTestEngine(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	deltas := engine.BuildDeltas([]models.RawEvent{
		event("user-2", models.EventSessionStart, now.Add(-time.Minute)),
		event("user-1", models.EventProfileView, now.Add(-3*time.Hour)),
		event("user-1", models.EventProfileView, now.Add(-time.Hour)),
		event("user-1", models.EventSubscribe, now.Add(-2*time.Hour)),
		event("user-1", "promo_banner_dismiss", now.Add(-30*time.Minute)),
	}, now)

	if len(deltas) != 2 {
		t.Fatalf("expected 2 delta rows, got %d", len(deltas))
	}
	// Output is sorted by entity ID.
	if deltas[0].EntityID != "user-1" || deltas[1].EntityID != "user-2" {
		t.Fatalf("unexpected order: %s, %s", deltas[0].EntityID, deltas[1].EntityID)
	}

	u1 := deltas[0]
	if u1.ProfileViews != 2 {
		t.Errorf("profile_views: expected 2, got %d", u1.ProfileViews)
	}
	if u1.SubscriptionCount != 1 || !u1.DidSubscribe {
		t.Errorf("subscribe not counted: count=%d did=%v", u1.SubscriptionCount, u1.DidSubscribe)
	}
	if u1.OtherEvents != 1 {
		t.Errorf("other_events: expected 1, got %d", u1.OtherEvents)
	}
	if !u1.FirstEventAt.Equal(now.Add(-3 * time.Hour)) {
		t.Errorf("first_event_at: expected %v, got %v", now.Add(-3*time.Hour), u1.FirstEventAt)
	}
	if !u1.LastEventAt.Equal(now.Add(-30 * time.Minute)) {
		t.Errorf("last_event_at: expected %v, got %v", now.Add(-30*time.Minute), u1.LastEventAt)
	}

	u2 := deltas[1]
	if u2.SessionCount != 1 || u2.TotalEvents() != 1 {
		t.Errorf("user-2: expected a single session_start, got %+v", u2)
	}
}

func TestBuildDeltasDropsAgedOutEvents(t *testing.T) {
	engine, _ := setupTestEngine(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	windowStart := now.Add(-60 * 24 * time.Hour)

	deltas := engine.BuildDeltas([]models.RawEvent{
		event("user-1", models.EventProfileView, windowStart.Add(-time.Hour)),
		event("user-1", models.EventProfileView, windowStart.Add(time.Hour)),
		event("user-1", models.EventProfileView, now.Add(-time.Hour)),
		// All of user-2's events predate the window.
		event("user-2", models.EventCopyPortfolio, windowStart.Add(-2*time.Hour)),
	}, now)

	if len(deltas) != 1 {
		t.Fatalf("expected 1 delta row, got %d", len(deltas))
	}
	u1 := deltas[0]
	if u1.EntityID != "user-1" {
		t.Fatalf("expected user-1, got %s", u1.EntityID)
	}
	if u1.ProfileViews != 2 {
		t.Errorf("profile_views: expected 2 in-window events, got %d", u1.ProfileViews)
	}
	if !u1.FirstEventAt.Equal(windowStart.Add(time.Hour)) {
		t.Errorf("first_event_at: expected %v, got %v", windowStart.Add(time.Hour), u1.FirstEventAt)
	}
}

func TestBuildDeltasEmpty(t *testing.T) {
	engine, _ := setupTestEngine(t)

	deltas := engine.BuildDeltas(nil, time.Now().UTC())
	if len(deltas) != 0 {
		t.Fatalf("expected no deltas, got %d", len(deltas))
	}
}

func TestEntityIDs(t *testing.T) {
	now := time.Now().UTC()
	ids := EntityIDs([]models.RawEvent{
		event("user-b", models.EventProfileView, now),
		event("user-a", models.EventProfileView, now),
		event("user-b", models.EventPDPView, now),
	})
	if len(ids) != 2 || ids[0] != "user-a" || ids[1] != "user-b" {
		t.Fatalf("expected sorted distinct ids, got %v", ids)
	}
}

func TestRecomputeWindow(t *testing.T) {
	engine, db := setupTestEngine(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	if _, err := db.InsertRawEvents(ctx, []models.RawEvent{
		event("user-1", models.EventProfileView, now.Add(-time.Hour)),
		event("user-1", models.EventCopyPortfolio, now.Add(-2*time.Hour)),
		// All of user-2's activity predates the window.
		event("user-2", models.EventProfileView, now.Add(-61*24*time.Hour)),
	}); err != nil {
		t.Fatalf("InsertRawEvents: %v", err)
	}

	rows, err := engine.RecomputeWindow(ctx, []string{"user-2", "user-1"}, now)
	if err != nil {
		t.Fatalf("RecomputeWindow: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	u1 := rows[0]
	if u1.EntityID != "user-1" {
		t.Fatalf("expected user-1 first, got %s", u1.EntityID)
	}
	if u1.ProfileViews != 1 || u1.CopyCount != 1 {
		t.Errorf("user-1 counters: %+v", u1)
	}

	// Aged-out entity still gets a row, zeroed, so the overwrite clears
	// its stored counters.
	u2 := rows[1]
	if u2.EntityID != "user-2" {
		t.Fatalf("expected user-2 second, got %s", u2.EntityID)
	}
	if u2.TotalEvents() != 0 {
		t.Errorf("expected zeroed row for aged-out entity, got %+v", u2)
	}
	if !u2.WindowStart.Equal(engine.WindowStart(now)) {
		t.Errorf("window_start: expected %v, got %v", engine.WindowStart(now), u2.WindowStart)
	}
}

func TestRecomputeWindowDeduplicatesIDs(t *testing.T) {
	engine, _ := setupTestEngine(t)

	rows, err := engine.RecomputeWindow(context.Background(), []string{"user-1", "user-1"}, time.Now().UTC())
	if err != nil {
		t.Fatalf("RecomputeWindow: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row for duplicated id, got %d", len(rows))
	}
}
