package testutil

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/neuritedb/neurite"
)

// RNG encapsulates a seeded random number generator. It is thread-safe.
type RNG struct {
	rand *rand.Rand
	seed int64
	mu   sync.Mutex
}

// NewRNG creates a new RNG instance with the specified seed.
func NewRNG(seed int64) *RNG {
	return &RNG{
		rand: rand.New(rand.NewSource(seed)),
		seed: seed,
	}
}

// Reset resets the RNG to its initial seed.
func (r *RNG) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rand.Seed(r.seed)
}

// Seed returns the initial seed.
func (r *RNG) Seed() int64 {
	return r.seed
}

// Intn returns a non-negative pseudo-random number in [0,n).
func (r *RNG) Intn(n int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Intn(n)
}

// Uint64 returns a pseudo-random uint64.
func (r *RNG) Uint64() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rand.Uint64()
}

const letters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Letters returns a random string of n letters and digits. Locks only once
// per call.
func (r *RNG) Letters(n int) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf := make([]byte, n)
	for i := range buf {
		buf[i] = letters[r.rand.Intn(len(letters))]
	}

	return string(buf)
}

// Bytes returns n random bytes. Random data does not compress, which makes
// it useful for tests that need predictable on-disk sizes.
func (r *RNG) Bytes(n int) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()

	buf := make([]byte, n)
	r.rand.Read(buf)
	return buf
}

// CommitNodes runs n single-node transactions against db, each carrying
// the given property value, and returns the created ids.
func CommitNodes(tb testing.TB, db *neurite.DB, n int, value string) []uint64 {
	tb.Helper()
	ctx := context.Background()

	ids := make([]uint64, 0, n)
	for i := 0; i < n; i++ {
		tx, err := db.BeginTx(ctx)
		if err != nil {
			tb.Fatalf("begin transaction: %v", err)
		}

		id, err := tx.CreateNode("node")
		if err != nil {
			tb.Fatalf("create node: %v", err)
		}

		if value != "" {
			if err := tx.SetProperty(id, "payload", value); err != nil {
				tb.Fatalf("set property: %v", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			tb.Fatalf("commit: %v", err)
		}

		ids = append(ids, id)
	}

	return ids
}

// BuildCrashedDB commits n transactions into dir and abandons the handle
// without closing it, leaving the directory the way a crash would. It
// returns the number of committed transactions.
func BuildCrashedDB(tb testing.TB, dir string, n int) int {
	tb.Helper()

	db, err := neurite.Open(dir)
	if err != nil {
		tb.Fatalf("open database: %v", err)
	}

	CommitNodes(tb, db, n, "")
	return n
}
