// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package models

import (
	"testing"
	"time"
)

func TestMergeModeString(t *testing.T) {
	tests := []struct {
		mode MergeMode
		want string
	}{
		{MergeReplace, "replace"},
		{MergeAdd, "add"},
		{MergeMode(99), "merge_mode(99)"},
	}
	for _, tt := range tests {
		if got := tt.mode.String(); got != tt.want {
			t.Errorf("MergeMode(%d).String() = %q, want %q", int(tt.mode), got, tt.want)
		}
	}
}

func TestParseMergeMode(t *testing.T) {
	if m, err := ParseMergeMode("replace"); err != nil || m != MergeReplace {
		t.Errorf("ParseMergeMode(replace) = %v, %v", m, err)
	}
	if m, err := ParseMergeMode("add"); err != nil || m != MergeAdd {
		t.Errorf("ParseMergeMode(add) = %v, %v", m, err)
	}
	if _, err := ParseMergeMode("upsert"); err == nil {
		t.Error("ParseMergeMode(upsert) should fail")
	}
}

func TestNormalizeClampsCounters(t *testing.T) {
	agg := EntityAggregate{
		EntityID:     "U1",
		ProfileViews: -3,
		PDPViews:     5,
		CopyCount:    -1,
	}
	agg.Normalize()

	if agg.ProfileViews != 0 {
		t.Errorf("ProfileViews = %d, want 0", agg.ProfileViews)
	}
	if agg.PDPViews != 5 {
		t.Errorf("PDPViews = %d, want 5", agg.PDPViews)
	}
	if agg.CopyCount != 0 {
		t.Errorf("CopyCount = %d, want 0", agg.CopyCount)
	}
}

func TestNormalizeDerivesFlags(t *testing.T) {
	agg := EntityAggregate{EntityID: "U1", CopyCount: 2, SubscriptionCount: 1}
	agg.Normalize()

	if !agg.DidCopy {
		t.Error("DidCopy should be true when CopyCount > 0")
	}
	if !agg.DidSubscribe {
		t.Error("DidSubscribe should be true when SubscriptionCount > 0")
	}
}

func TestNormalizeNeverRevertsFlags(t *testing.T) {
	agg := EntityAggregate{EntityID: "U1", DidCopy: true}
	agg.Normalize()

	if !agg.DidCopy {
		t.Error("DidCopy must not revert to false")
	}
}

func TestMergeSumsAndWidens(t *testing.T) {
	t1 := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	t2 := time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC)

	a := EntityAggregate{
		EntityID:     "U1",
		ProfileViews: 2,
		PDPViews:     1,
		DidCopy:      false,
		FirstEventAt: t2,
		LastEventAt:  t2,
	}
	b := EntityAggregate{
		EntityID:     "U1",
		ProfileViews: 3,
		CopyCount:    1,
		DidCopy:      true,
		FirstEventAt: t1,
		LastEventAt:  t1,
	}

	a.Merge(&b)

	if a.ProfileViews != 5 {
		t.Errorf("ProfileViews = %d, want 5", a.ProfileViews)
	}
	if a.PDPViews != 1 {
		t.Errorf("PDPViews = %d, want 1", a.PDPViews)
	}
	if !a.DidCopy {
		t.Error("DidCopy should OR-merge to true")
	}
	if !a.FirstEventAt.Equal(t1) {
		t.Errorf("FirstEventAt = %v, want %v", a.FirstEventAt, t1)
	}
	if !a.LastEventAt.Equal(t2) {
		t.Errorf("LastEventAt = %v, want %v", a.LastEventAt, t2)
	}
}

func TestMergeZeroFirstEventAt(t *testing.T) {
	t1 := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)

	a := EntityAggregate{EntityID: "U1"}
	b := EntityAggregate{EntityID: "U1", FirstEventAt: t1, LastEventAt: t1}
	a.Merge(&b)

	if !a.FirstEventAt.Equal(t1) {
		t.Errorf("FirstEventAt = %v, want %v", a.FirstEventAt, t1)
	}
}

func TestTotalEvents(t *testing.T) {
	agg := EntityAggregate{
		ProfileViews:      1,
		PDPViews:          2,
		CopyCount:         3,
		SubscriptionCount: 4,
		SessionCount:      5,
		CreatorTaps:       6,
		OtherEvents:       7,
	}
	if got := agg.TotalEvents(); got != 28 {
		t.Errorf("TotalEvents() = %d, want 28", got)
	}
}
