// Dub Analysis Tool - Behavioral Analytics Aggregation Pipeline
// Copyright 2026 Zack Babin (zackbabin)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/zackbabin/dub-analysis-tool

package database

import (
	"context"
	"testing"
)

// testDBSemaphore limits concurrent in-memory DuckDB instances across the
// package's tests. DuckDB allocates per-connection buffers and parallel
// test processes can exhaust memory without this cap.
var testDBSemaphore = make(chan struct{}, 4)

// setupTestDB creates an in-memory database with the full schema applied.
// The semaphore is acquired before creation and released on cleanup.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() { <-testDBSemaphore })

	db, err := NewInMemory()
	if err != nil {
		t.Fatalf("NewInMemory: %v", err)
	}
	t.Cleanup(func() {
		if cerr := db.Close(); cerr != nil {
			t.Errorf("close test database: %v", cerr)
		}
	})
	return db
}

func TestNewInMemoryPing(t *testing.T) {
	db := setupTestDB(t)

	if err := db.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestSchemaTablesExist(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	for _, table := range []string{"raw_events", "entity_aggregates", "watermarks", "refresh_log"} {
		var count int64
		// nolint:gosec // table names come from the fixed list above
		query := "SELECT COUNT(*) FROM " + table
		if err := db.conn.QueryRowContext(ctx, query).Scan(&count); err != nil {
			t.Errorf("table %s not queryable: %v", table, err)
		}
		if count != 0 {
			t.Errorf("table %s: expected empty, got %d rows", table, count)
		}
	}
}

func TestEnsureContextAddsTimeout(t *testing.T) {
	db := setupTestDB(t)

	ctx, cancel := db.ensureContext(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected a deadline on the derived context")
	}
	if deadline.IsZero() {
		t.Fatal("expected a non-zero deadline")
	}
}
