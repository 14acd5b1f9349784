// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package models

import (
	"time"

	"github.com/google/uuid"
)

// RefreshStatus is the terminal state of a derived view node within one
// orchestrator run.
type RefreshStatus string

const (
	RefreshSuccess RefreshStatus = "success"
	RefreshError   RefreshStatus = "error"
	RefreshSkipped RefreshStatus = "skipped"
)

// RefreshMode selects how a derived view is rebuilt.
type RefreshMode string

const (
	// RefreshExclusive rebuilds the view inside a single transaction,
	// briefly blocking readers. Always correct.
	RefreshExclusive RefreshMode = "exclusive"

	// RefreshNonBlocking rebuilds into a shadow table and atomically swaps
	// it in, keeping the view readable throughout. Requires the view to
	// declare a uniqueness key; nodes without one fall back to exclusive.
	RefreshNonBlocking RefreshMode = "non_blocking"
)

// RefreshLogEntry is one append-only audit record for a derived view node in
// one orchestrator run. Never mutated after insertion.
type RefreshLogEntry struct {
	ID           uuid.UUID     `json:"id"`
	RunID        uuid.UUID     `json:"run_id"`
	ViewName     string        `json:"view_name"`
	Status       RefreshStatus `json:"status"`
	DurationMs   int64         `json:"duration_ms"`
	RowsAffected int64         `json:"rows_affected"`
	ErrorMessage string        `json:"error_message,omitempty"`
	RunAt        time.Time     `json:"run_at"`
}

// ViewFreshness reports how recently a derived view last refreshed
// successfully. Served by the audit query surface.
type ViewFreshness struct {
	ViewName      string        `json:"view_name"`
	LastSuccessAt time.Time     `json:"last_success_at"`
	LastStatus    RefreshStatus `json:"last_status"`
	Age           time.Duration `json:"-"`
	AgeSeconds    float64       `json:"age_seconds"`
}
