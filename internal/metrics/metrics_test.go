// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"fetch error", errors.New("failed to fetch events (start=0)"), "fetch"},
		{"database error", errors.New("database write failed"), "database"},
		{"sql error", errors.New("sql: transaction aborted"), "database"},
		{"aggregation error", errors.New("aggregation conflict in chunk 3"), "aggregation"},
		{"other", errors.New("something else"), "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyError(tt.err); got != tt.want {
				t.Errorf("classifyError(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestRecordHelpersDoNotPanic(t *testing.T) {
	RecordIngestRun(2*time.Second, nil)
	RecordIngestRun(time.Second, errors.New("fetch timeout"))
	RecordChunkCommit(50*time.Millisecond, 120)
	RecordAPIRequest("POST", "/api/v1/runs", 200, 150*time.Millisecond)
}

func TestContains(t *testing.T) {
	if !contains("aggregation failed", "aggregat") {
		t.Error("expected substring match")
	}
	if contains("short", "longer than s") {
		t.Error("unexpected match for longer substring")
	}
	if !contains("abc", "") {
		t.Error("empty substring should match")
	}
}
