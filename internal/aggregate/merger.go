// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package aggregate

import (
	"context"
	"fmt"
	"time"

	"github.com/zackbabin/dub-analysis-tool-sub004/internal/database"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/logging"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/metrics"
	"github.com/zackbabin/dub-analysis-tool-sub004/internal/models"
)

const defaultChunkSize = 10000

// aggregateStore is the write surface the merger needs from the database.
type aggregateStore interface {
	UpsertAggregatesChunk(ctx context.Context, aggregates []*models.EntityAggregate, mode models.MergeMode) error
}

// Merger writes aggregate rows to entity_aggregates in fixed-size chunks,
// one transaction per chunk. Rows are pre-aggregated and sorted before
// chunking so a given input always produces the same chunk boundaries and
// the same write order.
type Merger struct {
	db        aggregateStore
	chunkSize int
}

// NewMerger creates a chunked merger. A non-positive chunk size falls back
// to the default.
func NewMerger(db *database.DB, chunkSize int) *Merger {
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Merger{db: db, chunkSize: chunkSize}
}

// MergeResult reports what a merge pass committed.
type MergeResult struct {
	EntitiesUpdated int64
	ChunksCommitted int64
}

// Merge upserts the given rows in deterministic chunked order. Each chunk
// commits independently: a failure aborts only the failing chunk and the
// chunks after it, while earlier chunks stay committed. The returned result
// counts what was actually committed before any error.
func (m *Merger) Merge(ctx context.Context, aggs []*models.EntityAggregate, mode models.MergeMode) (MergeResult, error) {
	var result MergeResult
	if len(aggs) == 0 {
		return result, nil
	}

	rows := preAggregate(aggs)
	totalChunks := (len(rows) + m.chunkSize - 1) / m.chunkSize

	for start := 0; start < len(rows); start += m.chunkSize {
		end := start + m.chunkSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]
		chunkIndex := start/m.chunkSize + 1

		chunkStart := time.Now()
		if err := m.db.UpsertAggregatesChunk(ctx, chunk, mode); err != nil {
			return result, fmt.Errorf("aggregate chunk %d/%d (%d entities): %w",
				chunkIndex, totalChunks, len(chunk), err)
		}
		metrics.RecordChunkCommit(time.Since(chunkStart), len(chunk))

		result.EntitiesUpdated += int64(len(chunk))
		result.ChunksCommitted++

		logging.Debug().
			Str("mode", mode.String()).
			Int("chunk", chunkIndex).
			Int("total_chunks", totalChunks).
			Int("entities", len(chunk)).
			Dur("duration", time.Since(chunkStart)).
			Msg("Committed aggregate chunk")
	}

	return result, nil
}

// preAggregate collapses rows sharing an entity ID into one merged row and
// returns the result sorted by entity ID. Collapsing first means a key never
// appears twice within a chunk, so the per-chunk upsert sees each entity at
// most once.
func preAggregate(aggs []*models.EntityAggregate) []*models.EntityAggregate {
	byEntity := make(map[string]*models.EntityAggregate, len(aggs))
	rows := make([]*models.EntityAggregate, 0, len(aggs))

	for _, agg := range aggs {
		existing, ok := byEntity[agg.EntityID]
		if !ok {
			copied := *agg
			byEntity[agg.EntityID] = &copied
			rows = append(rows, &copied)
			continue
		}
		existing.Merge(agg)
	}

	sortAggregates(rows)
	return rows
}
