// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package ingest

import "errors"

var (
	// ErrTransientFetch marks upstream failures worth retrying with the
	// same window later. The watermark is never touched on this path.
	ErrTransientFetch = errors.New("transient source fetch error")

	// ErrAggregationConflict marks an unresolvable duplicate key collision
	// surviving pre-aggregation. It should never happen; when it does the
	// whole run fails and the watermark stays put.
	ErrAggregationConflict = errors.New("aggregation conflict")

	// ErrRunInProgress is returned when a run is requested while another
	// run for the same source is still executing.
	ErrRunInProgress = errors.New("ingestion run already in progress")
)
