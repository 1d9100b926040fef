package neurite

import (
	"errors"

	"github.com/neuritedb/neurite/recovery"
	"github.com/neuritedb/neurite/store"
)

var (
	// ErrClosed is returned when an operation is attempted on a closed
	// database.
	ErrClosed = errors.New("neurite: database is closed")

	// ErrTxDone is returned when a transaction is used after Commit or
	// Rollback.
	ErrTxDone = errors.New("neurite: transaction has already been committed or rolled back")

	// ErrUnavailable is returned when the database refuses new work, either
	// because startup has not finished or because the availability guard is
	// stopped.
	ErrUnavailable = errors.New("neurite: database is unavailable")

	// ErrAwaitTimeout is returned by AwaitCheckpoint when the context
	// expires before the triggered checkpoint completes. The checkpoint
	// itself keeps running.
	ErrAwaitTimeout = errors.New("neurite: timed out waiting for checkpoint")
)

// Errors surfaced from startup and recovery, re-exported so callers can match
// them without importing the subpackages.
var (
	// ErrStartAborted is returned when the availability guard stopped the
	// database while recovery was still replaying.
	ErrStartAborted = recovery.ErrStartAborted

	// ErrLogsMissing is returned when the store has committed transactions
	// but no transaction log files exist.
	ErrLogsMissing = recovery.ErrLogsMissing

	// ErrMissingIDFiles is returned when node id files are missing or
	// corrupt and forced recovery is disabled.
	ErrMissingIDFiles = recovery.ErrMissingIDFiles

	// ErrNodeNotFound is returned when a transaction references a node that
	// does not exist.
	ErrNodeNotFound = store.ErrNodeNotFound
)
