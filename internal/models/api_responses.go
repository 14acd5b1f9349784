// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package models

// APIResponse is the standard envelope for all HTTP API responses.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// RunRequest is the optional body of a run trigger. An empty body triggers a
// normal incremental run.
type RunRequest struct {
	// FullResync forces a replace-mode pass over the full historical window,
	// ignoring the stored watermark. Operator remediation for a stuck
	// watermark; never decided automatically.
	FullResync bool `json:"full_resync,omitempty"`
}

// WatermarkAudit is the ingestion-lag view of a watermark served by the
// audit query surface.
type WatermarkAudit struct {
	SourceName      string  `json:"source_name"`
	LastEventTime   string  `json:"last_event_time"`
	LastRunStatus   string  `json:"last_run_status"`
	EventsProcessed int64   `json:"events_processed"`
	StaleRuns       int64   `json:"stale_runs"`
	LagSeconds      float64 `json:"lag_seconds"`
}
