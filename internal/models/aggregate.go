// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package models

import (
	"fmt"
	"time"
)

// MergeMode selects how an aggregation pass merges metric values into the
// entity aggregate store.
type MergeMode int

const (
	// MergeReplace recomputes every metric from scratch over the current
	// rolling window and overwrites the aggregate row. Used for full and
	// backfill passes; self-heals drift because events that aged out of the
	// window are naturally excluded.
	MergeReplace MergeMode = iota

	// MergeAdd accumulates per-event deltas onto the existing aggregate row.
	// Only safe for batches that have been deduplicated against the raw
	// event store first.
	MergeAdd
)

// String implements fmt.Stringer.
func (m MergeMode) String() string {
	switch m {
	case MergeReplace:
		return "replace"
	case MergeAdd:
		return "add"
	default:
		return fmt.Sprintf("merge_mode(%d)", int(m))
	}
}

// ParseMergeMode converts a string to a MergeMode.
func ParseMergeMode(s string) (MergeMode, error) {
	switch s {
	case "replace":
		return MergeReplace, nil
	case "add":
		return MergeAdd, nil
	default:
		return 0, fmt.Errorf("unknown merge mode %q", s)
	}
}

// EntityAggregate is the rolling-window engagement/conversion aggregate for a
// single entity. Owned exclusively by the aggregation engine; derived views
// read it but never write it.
type EntityAggregate struct {
	EntityID string `json:"entity_id"`

	// WindowStart is the lower bound of the rolling window the counts were
	// computed over (replace passes) or last merged into (add passes).
	WindowStart time.Time `json:"window_start"`

	// Counters. Never null, never negative.
	ProfileViews      int64 `json:"profile_views"`
	PDPViews          int64 `json:"pdp_views"`
	CopyCount         int64 `json:"copy_count"`
	SubscriptionCount int64 `json:"subscription_count"`
	SessionCount      int64 `json:"session_count"`
	CreatorTaps       int64 `json:"creator_taps"`
	OtherEvents       int64 `json:"other_events"`

	// Accumulator flags. OR-merged: once true they never revert.
	DidCopy      bool `json:"did_copy"`
	DidSubscribe bool `json:"did_subscribe"`

	// Event time bounds seen for this entity within the window.
	FirstEventAt time.Time `json:"first_event_at"`
	LastEventAt  time.Time `json:"last_event_at"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Normalize enforces the aggregate invariants in one place: counters are
// clamped to zero and flags are kept consistent with their counters. Every
// aggregate passes through here before being written.
func (a *EntityAggregate) Normalize() {
	clamp := func(v *int64) {
		if *v < 0 {
			*v = 0
		}
	}
	clamp(&a.ProfileViews)
	clamp(&a.PDPViews)
	clamp(&a.CopyCount)
	clamp(&a.SubscriptionCount)
	clamp(&a.SessionCount)
	clamp(&a.CreatorTaps)
	clamp(&a.OtherEvents)

	if a.CopyCount > 0 {
		a.DidCopy = true
	}
	if a.SubscriptionCount > 0 {
		a.DidSubscribe = true
	}
}

// Merge folds another aggregate for the same entity into this one using ADD
// semantics: counters sum, flags OR, time bounds widen. Used both for
// in-chunk pre-aggregation of duplicate keys and for the add-mode upsert.
func (a *EntityAggregate) Merge(other *EntityAggregate) {
	a.ProfileViews += other.ProfileViews
	a.PDPViews += other.PDPViews
	a.CopyCount += other.CopyCount
	a.SubscriptionCount += other.SubscriptionCount
	a.SessionCount += other.SessionCount
	a.CreatorTaps += other.CreatorTaps
	a.OtherEvents += other.OtherEvents

	a.DidCopy = a.DidCopy || other.DidCopy
	a.DidSubscribe = a.DidSubscribe || other.DidSubscribe

	if a.FirstEventAt.IsZero() || (!other.FirstEventAt.IsZero() && other.FirstEventAt.Before(a.FirstEventAt)) {
		a.FirstEventAt = other.FirstEventAt
	}
	if other.LastEventAt.After(a.LastEventAt) {
		a.LastEventAt = other.LastEventAt
	}
	if other.UpdatedAt.After(a.UpdatedAt) {
		a.UpdatedAt = other.UpdatedAt
	}
}

// TotalEvents returns the sum of all event counters.
func (a *EntityAggregate) TotalEvents() int64 {
	return a.ProfileViews + a.PDPViews + a.CopyCount + a.SubscriptionCount +
		a.SessionCount + a.CreatorTaps + a.OtherEvents
}
