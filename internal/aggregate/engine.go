// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

// Package aggregate turns raw behavioral events into per-entity aggregate
// rows and merges them into the entity_aggregates table in bounded chunks.
//
// Two computation paths exist. The delta path folds a freshly ingested batch
// into additive per-entity deltas that accumulate onto existing rows. The
// recompute path rebuilds each touched entity's counters from the raw event
// store over the rolling aggregation window and overwrites the stored row,
// which is how counters age out as events leave the window.
package aggregate

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/zackbabin/dub-analysis-tool-sub004/internal/config"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/database"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/models"
)

// Engine computes aggregate rows from raw events.
type Engine struct {
	db  *database.DB
	cfg *config.AggregateConfig
}

// NewEngine creates an aggregation engine backed by the given database.
func NewEngine(db *database.DB, cfg *config.AggregateConfig) *Engine {
	return &Engine{db: db, cfg: cfg}
}

// WindowStart returns the inclusive lower bound of the aggregation window
// relative to now.
func (e *Engine) WindowStart(now time.Time) time.Time {
	return now.UTC().Add(-e.cfg.Window)
}

// BuildDeltas folds a batch of events into one additive delta row per
// entity. Only events actually stored as new should be passed in; replayed
// duplicates would otherwise be double counted. Events dated before the
// rolling window are dropped from the fold: a lagging watermark can hand in
// a batch that straddles the window boundary, and the aged-out portion must
// not be added onto counters it was never part of.
func (e *Engine) BuildDeltas(events []models.RawEvent, now time.Time) []*models.EntityAggregate {
	byEntity := make(map[string]*models.EntityAggregate)
	windowStart := e.WindowStart(now)

	for i := range events {
		ev := &events[i]
		if ev.EventTime.Before(windowStart) {
			continue
		}
		agg, ok := byEntity[ev.EntityID]
		if !ok {
			agg = &models.EntityAggregate{
				EntityID:    ev.EntityID,
				WindowStart: windowStart,
				UpdatedAt:   now.UTC(),
			}
			byEntity[ev.EntityID] = agg
		}
		applyEvent(agg, ev)
	}

	deltas := make([]*models.EntityAggregate, 0, len(byEntity))
	for _, agg := range byEntity {
		agg.Normalize()
		deltas = append(deltas, agg)
	}
	sortAggregates(deltas)
	return deltas
}

// RecomputeWindow rebuilds aggregate rows for the given entities from the
// raw event store, counting only events inside the aggregation window.
// Every requested entity gets a row: entities whose events have all aged out
// of the window come back zeroed so the stored counters are overwritten too.
func (e *Engine) RecomputeWindow(ctx context.Context, entityIDs []string, now time.Time) ([]*models.EntityAggregate, error) {
	windowStart := e.WindowStart(now)

	computed, err := e.db.ComputeWindowAggregates(ctx, entityIDs, windowStart)
	if err != nil {
		return nil, fmt.Errorf("failed to recompute window aggregates: %w", err)
	}

	rows := make([]*models.EntityAggregate, 0, len(entityIDs))
	seen := make(map[string]struct{}, len(entityIDs))
	for _, id := range entityIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		if agg, ok := computed[id]; ok {
			rows = append(rows, agg)
			continue
		}
		rows = append(rows, &models.EntityAggregate{
			EntityID:    id,
			WindowStart: windowStart,
			UpdatedAt:   now.UTC(),
		})
	}
	sortAggregates(rows)
	return rows, nil
}

// EntityIDs extracts the distinct entity identifiers from a batch of events.
func EntityIDs(events []models.RawEvent) []string {
	seen := make(map[string]struct{}, len(events))
	ids := make([]string, 0, len(events))
	for i := range events {
		if _, ok := seen[events[i].EntityID]; ok {
			continue
		}
		seen[events[i].EntityID] = struct{}{}
		ids = append(ids, events[i].EntityID)
	}
	sort.Strings(ids)
	return ids
}

func applyEvent(agg *models.EntityAggregate, ev *models.RawEvent) {
	switch ev.EventName {
	case models.EventProfileView:
		agg.ProfileViews++
	case models.EventPDPView:
		agg.PDPViews++
	case models.EventCopyPortfolio:
		agg.CopyCount++
		agg.DidCopy = true
	case models.EventSubscribe:
		agg.SubscriptionCount++
		agg.DidSubscribe = true
	case models.EventSessionStart:
		agg.SessionCount++
	case models.EventCreatorCardTap:
		agg.CreatorTaps++
	default:
		agg.OtherEvents++
	}

	t := ev.EventTime.UTC()
	if agg.FirstEventAt.IsZero() || t.Before(agg.FirstEventAt) {
		agg.FirstEventAt = t
	}
	if t.After(agg.LastEventAt) {
		agg.LastEventAt = t
	}
}

func sortAggregates(aggs []*models.EntityAggregate) {
	sort.Slice(aggs, func(i, j int) bool { return aggs[i].EntityID < aggs[j].EntityID })
}
