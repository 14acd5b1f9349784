// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package models

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the overall outcome of one ingest+aggregate+refresh cycle.
type RunStatus string

const (
	// RunCompleted means ingestion and aggregation succeeded and every
	// refresh node reached a terminal state. Individual views may still
	// have failed; the run itself never aborts because of one node.
	RunCompleted RunStatus = "completed"

	// RunFailed means ingestion or aggregation aborted; the watermark was
	// not advanced and no refresh was attempted.
	RunFailed RunStatus = "failed"
)

// ViewResult is the per-node outcome reported in a RunResult.
type ViewResult struct {
	Name         string        `json:"name"`
	Status       RefreshStatus `json:"status"`
	DurationMs   int64         `json:"duration_ms"`
	RowsAffected int64         `json:"rows_affected"`
	Error        string        `json:"error,omitempty"`
}

// RunResult is the structured outcome of one pipeline run. Every run,
// successful or not, produces one.
type RunResult struct {
	RunID           uuid.UUID    `json:"run_id"`
	Status          RunStatus    `json:"status"`
	Source          string       `json:"source"`
	EventsFetched   int64        `json:"events_fetched"`
	EventsNew       int64        `json:"events_new"`
	EntitiesUpdated int64        `json:"entities_updated"`
	ChunksCommitted int64        `json:"chunks_committed"`
	Watermark       *Watermark   `json:"watermark,omitempty"`
	Views           []ViewResult `json:"views"`
	DurationMs      int64        `json:"duration_ms"`
	Error           string       `json:"error,omitempty"`
	StartedAt       time.Time    `json:"started_at"`
}
