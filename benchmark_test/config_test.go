package benchmark_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/neuritedb/neurite"
	"github.com/neuritedb/neurite/testutil"
)

// ============================================================================
// Benchmark Configuration
// ============================================================================

// Standard payload sizes used across benchmarks for consistency.
const (
	payloadSmall  = 64      // Single property update
	payloadMedium = 1 << 10 // Document-sized node
	payloadLarge  = 16 << 10 // Blob-carrying node
)

// Standard transaction counts.
const (
	txsSmall = 100
	txsLarge = 1_000
)

// Seed for deterministic benchmarks - enables reproducible comparisons.
const benchSeed = 42

// ============================================================================
// Benchmark Helpers
// ============================================================================

// OpenBenchDB creates a database in a fresh directory for benchmark
// isolation.
func OpenBenchDB(b *testing.B, optFns ...func(o *neurite.Options)) *neurite.DB {
	b.Helper()

	db, err := neurite.Open(b.TempDir(), optFns...)
	if err != nil {
		b.Fatalf("failed to open database: %v", err)
	}

	return db
}

// CommitNode writes one node carrying the payload in its own
// transaction.
func CommitNode(b *testing.B, db *neurite.DB, payload string) {
	b.Helper()

	ctx := context.Background()

	tx, err := db.BeginTx(ctx)
	if err != nil {
		b.Fatalf("failed to begin transaction: %v", err)
	}

	id, err := tx.CreateNode("bench")
	if err != nil {
		b.Fatalf("failed to create node: %v", err)
	}

	if err := tx.SetProperty(id, "payload", payload); err != nil {
		b.Fatalf("failed to set property: %v", err)
	}

	if err := tx.Commit(ctx); err != nil {
		b.Fatalf("failed to commit: %v", err)
	}
}

// LoadNodes fills the database with n committed nodes of the given
// payload size.
func LoadNodes(b *testing.B, db *neurite.DB, n, size int) {
	b.Helper()

	rng := testutil.NewRNG(benchSeed)
	payload := rng.Letters(size)

	for i := 0; i < n; i++ {
		CommitNode(b, db, payload)
	}
}

func formatCount(n int) string {
	if n >= 1000 && n%1000 == 0 {
		return fmt.Sprintf("%dk", n/1000)
	}

	return fmt.Sprintf("%d", n)
}
