// Package testutil provides testing utilities for Neurite.
//
// This package is intended for use in tests and benchmarks only.
// It provides a seeded random generator for payload data and helpers
// for building databases in interesting states, such as one that
// crashed mid-commit.
//
// # Random Payloads
//
//	rng := testutil.NewRNG(seed)
//	value := rng.Letters(256)
//
// # Crashed Databases
//
//	committed := testutil.BuildCrashedDB(t, dir, 20)
//	// dir now holds a log whose handle was never closed.
package testutil
