// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package ingest

import (
	"time"

	"github.com/zackbabin/dub-analysis-tool-sub004/internal/config"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/models"
)

// FetchWindow is the closed time range the next run will request from the
// source, together with the merge mode it implies.
type FetchWindow struct {
	From time.Time
	To   time.Time
	Mode models.MergeMode
}

// Empty reports whether the window covers no time at all. This happens when
// the watermark already sits inside the safety lag.
func (w FetchWindow) Empty() bool {
	return !w.From.Before(w.To)
}

// ComputeWindow derives the next fetch window from the current watermark.
//
// Incremental runs use [watermark - overlap, now - safetyLag]: the overlap
// re-fetches the tail to absorb late-arriving events (dedup makes the replay
// harmless), and the safety lag keeps the still-mutable most recent bucket
// out of the window. A nil watermark, meaning the source has never completed
// a successful pass, selects the full historical window from the backfill
// start, as does an operator-forced full resync. Full windows aggregate in
// REPLACE mode so drift self-heals; incremental windows use ADD.
func ComputeWindow(wm *models.Watermark, now time.Time, cfg *config.IngestConfig, fullResync bool) FetchWindow {
	to := now.UTC().Add(-cfg.SafetyLag)

	if wm == nil || fullResync {
		return FetchWindow{From: cfg.BackfillStart.UTC(), To: to, Mode: models.MergeReplace}
	}

	return FetchWindow{
		From: wm.LastEventTime.UTC().Add(-cfg.Overlap),
		To:   to,
		Mode: models.MergeAdd,
	}
}
