// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package models

import "time"

// Watermark records the last point up to which a source has been fully and
// successfully processed. Exactly one row per source; mutated only by a
// successful aggregation pass, never by a partial or failed one.
type Watermark struct {
	// SourceName identifies the upstream source (unique).
	SourceName string `json:"source_name"`

	// LastEventTime is the maximum event time covered by a fully committed
	// aggregation pass. Monotonically non-decreasing.
	LastEventTime time.Time `json:"last_event_time"`

	// LastRunStatus is the status of the run that last advanced the
	// watermark ("success").
	LastRunStatus string `json:"last_run_status"`

	// EventsProcessed is the number of newly ingested events in that run.
	EventsProcessed int64 `json:"events_processed"`

	// StaleRuns counts consecutive runs that fetched zero events. A high
	// value while the upstream is known active signals a stuck watermark;
	// remediation (a forced full resync) is left to the operator.
	StaleRuns int64 `json:"stale_runs"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Lag returns how far the watermark trails the given reference time.
func (w *Watermark) Lag(now time.Time) time.Duration {
	if w.LastEventTime.IsZero() {
		return 0
	}
	return now.Sub(w.LastEventTime)
}
