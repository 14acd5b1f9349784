// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

// Package models defines data structures shared across the ingestion,
// aggregation, and refresh layers: raw behavioral events, per-entity
// aggregates, watermarks, refresh audit entries, and API envelopes.
package models

import (
	"time"

	"github.com/goccy/go-json"
)

// Known behavioral event names emitted by the upstream analytics source.
// Unknown names are still ingested and counted under OtherEvents; the
// vocabulary below is what the aggregation engine maps to named metrics.
const (
	EventProfileView    = "profile_view"
	EventPDPView        = "pdp_view"
	EventCopyPortfolio  = "copy_portfolio"
	EventSubscribe      = "subscribe"
	EventSessionStart   = "session_start"
	EventCreatorCardTap = "creator_card_tap"
)

// RawEvent is a single behavioral event fetched from the upstream analytics
// source. Immutable once written to the raw event store.
//
// The natural key (EntityID, EventTime, EventName) enforces deduplication
// across overlapping fetch windows: re-fetching the same window and
// re-inserting the same events is a no-op at the store level.
type RawEvent struct {
	// EntityID identifies the user the event belongs to.
	EntityID string `json:"entity_id"`

	// EventName is the behavioral event type (e.g. "pdp_view").
	EventName string `json:"event_name"`

	// EventTime is when the event occurred upstream.
	EventTime time.Time `json:"event_time"`

	// Attributes carries source-specific properties as an opaque JSON
	// document (portfolio id, creator id, platform, ...).
	Attributes json.RawMessage `json:"attributes,omitempty"`

	// IngestedAt is stamped when the event lands in the raw event store.
	IngestedAt time.Time `json:"ingested_at"`
}

// Key returns the natural dedup key of the event.
func (e *RawEvent) Key() EventKey {
	return EventKey{
		EntityID:  e.EntityID,
		EventName: e.EventName,
		EventTime: e.EventTime.UTC(),
	}
}

// EventKey is the natural key of a RawEvent, comparable and usable as a map
// key for batch-internal deduplication.
type EventKey struct {
	EntityID  string
	EventName string
	EventTime time.Time
}
