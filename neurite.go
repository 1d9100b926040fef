package neurite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neuritedb/neurite/checkpoint"
	"github.com/neuritedb/neurite/internal/fs"
	"github.com/neuritedb/neurite/recovery"
	"github.com/neuritedb/neurite/resource"
	"github.com/neuritedb/neurite/store"
	"github.com/neuritedb/neurite/txlog"
)

// CheckpointReasonShutdown is recorded on the checkpoint a clean shutdown
// writes.
const CheckpointReasonShutdown = "Database shutdown"

// DB is a durable node store backed by an append-only transaction log.
//
// Commits append their commands to the log, flush, and only then mutate the
// in-memory store, so a crash at any point leaves a tail the next startup
// can replay or truncate. Checkpoints record how far the on-disk snapshot
// has caught up with the log; startup recovers from the latest one.
type DB struct {
	dir  string
	opts Options

	fsys   fs.FileSystem
	logger *Logger

	store  *store.Store
	files  *txlog.Files
	log    *txlog.LogFile
	layout checkpoint.Layout
	rec    *recovery.Recovery

	guard    *AvailabilityGuard
	state    *stateService
	recorder *metricsRecorder
	rc       *resource.Controller

	// commitMu serializes commits and checkpoints. Log appends for one
	// transaction must not interleave with another's, and a checkpoint
	// must observe the store with no commit in flight.
	commitMu sync.Mutex

	mu      sync.Mutex
	closed  bool
	lastRun *checkpointRun
	bg      sync.WaitGroup
}

type checkpointRun struct {
	done chan struct{}
	err  error
}

// Open opens the database in dir, creating it when empty. Startup runs
// crash recovery when the previous shutdown was unclean.
//
// Open returns a non-nil handle even on failure so callers can inspect
// Status and CauseOfFailure afterwards.
func Open(dir string, optFns ...func(o *Options)) (*DB, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.FS == nil {
		opts.FS = fs.Default
	}

	if opts.Logger == nil {
		opts.Logger = NoopLogger()
	}

	if opts.Checkpoints == "" {
		opts.Checkpoints = checkpoint.KindSeparate
	}

	if opts.Guard == nil {
		opts.Guard = NewAvailabilityGuard()
	}

	db := &DB{
		dir:      dir,
		opts:     opts,
		fsys:     opts.FS,
		logger:   opts.Logger,
		guard:    opts.Guard,
		state:    &stateService{},
		recorder: &metricsRecorder{},
		rc:       resource.NewController(opts.Resources),
	}

	if err := db.start(); err != nil {
		return db, err
	}

	return db, nil
}

func (db *DB) start() error {
	if err := db.fsys.MkdirAll(db.dir, 0o755); err != nil {
		return db.failStart(fmt.Errorf("create database directory: %w", err))
	}

	legacy, err := txlog.LegacyLogFiles(db.fsys, db.dir)
	if err != nil {
		return db.failStart(err)
	}

	if len(legacy) > 0 {
		return db.failStart(&recovery.LegacyLogLocationError{
			Files:    legacy,
			Expected: filepath.Join(db.dir, txlog.DirectoryName),
		})
	}

	st, err := store.Open(db.fsys, db.dir, func(o *store.Options) {
		o.IO = db.rc
	})
	if err != nil {
		return db.failStart(err)
	}
	db.store = st

	db.files = txlog.NewFiles(db.fsys, filepath.Join(db.dir, txlog.DirectoryName))

	layout, err := checkpoint.New(db.opts.Checkpoints, db.fsys, db.files, st.StoreID(), func(o *checkpoint.Options) {
		o.Monitor = db.checkpointMonitor()
		o.IO = db.rc
	})
	if err != nil {
		return db.failStart(err)
	}
	db.layout = layout

	// The missing-logs check must run before the log writer recreates the
	// current file, or the fresh empty file would mask the loss.
	logsMissing, err := recovery.MissingLogs(db.files, st.LastCommittedTransaction())
	if err != nil {
		return db.failStart(err)
	}

	if logsMissing && db.opts.FailOnMissingFiles {
		return db.failStart(&recovery.MissingLogsError{Dir: db.files.Directory()})
	}

	required := logsMissing || len(st.MissingIDFiles()) > 0
	if !required {
		required, err = recovery.Required(db.files, db.layout)
		if err != nil {
			return db.failStart(err)
		}
	}

	lf, err := txlog.Open(db.fsys, db.files, st, st, func(o *txlog.Options) {
		o.RotationThreshold = db.opts.RotationThreshold
		o.BufferSize = db.opts.BufferSize
		o.Compression = db.opts.Compression
		o.Durability = db.opts.Durability
		o.StoreID = st.StoreID()
		o.Monitor = db.logMonitor()
	})
	if err != nil {
		return db.failStart(err)
	}
	db.log = lf

	if inline, ok := db.layout.(*checkpoint.Inline); ok {
		inline.Bind(lf)
	}

	if required {
		if err := db.recover(logsMissing); err != nil {
			return err
		}
	}

	db.state.transition(StatusStarted)
	return nil
}

func (db *DB) recover(logsWereMissing bool) error {
	db.rec = recovery.New(recovery.Dependencies{
		Files:              db.files,
		Layout:             db.layout,
		Log:                db.log,
		Target:             db.store,
		Guard:              db.guard,
		Monitor:            db.recoveryMonitor(),
		FailOnMissingFiles: db.opts.FailOnMissingFiles,
		LogsWereMissing:    logsWereMissing,
	})

	start := time.Now()
	err := db.rec.Run(context.Background())
	db.logger.LogRecovery(context.Background(), int(db.recorder.recoveredTx.Load()), time.Since(start), err)
	if err != nil {
		status := StatusFailed
		if errors.Is(err, recovery.ErrStartAborted) {
			status = StatusAborted
		}
		db.state.fail(status, err)
		db.log.Close()
		db.log = nil
		db.layout.Close()
		db.layout = nil
		return err
	}

	return nil
}

// failStart records a startup failure and releases whatever was opened.
func (db *DB) failStart(err error) error {
	db.state.fail(StatusFailed, err)

	if db.log != nil {
		db.log.Close()
		db.log = nil
	}

	if db.layout != nil {
		db.layout.Close()
		db.layout = nil
	}

	return err
}

func (db *DB) logMonitor() txlog.Monitor {
	monitors := append([]txlog.Monitor{db.recorder, rotationLogger{logger: db.logger}}, db.opts.LogMonitors...)
	return txlog.MultiMonitor(monitors...)
}

func (db *DB) checkpointMonitor() checkpoint.Monitor {
	monitors := append([]checkpoint.Monitor{db.recorder}, db.opts.CheckpointMonitors...)
	return checkpoint.MultiMonitor(monitors...)
}

func (db *DB) recoveryMonitor() recovery.Monitor {
	monitors := append([]recovery.Monitor{db.recorder}, db.opts.RecoveryMonitors...)
	return recovery.MultiMonitor(monitors...)
}

// Close checkpoints and shuts the database down. It is safe to call more
// than once and on handles whose Open failed.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	db.bg.Wait()

	var firstErr error
	if db.state.Status() == StatusStarted {
		if err := db.checkpoint(context.Background(), CheckpointReasonShutdown); err != nil {
			firstErr = err
		}
		db.state.transition(StatusStopped)
	}

	if db.log != nil {
		if err := db.log.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if db.layout != nil {
		if err := db.layout.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// Checkpoint flushes the store and records a checkpoint with the given
// reason. Commits are paused while it runs.
func (db *DB) Checkpoint(ctx context.Context, reason string) error {
	if err := db.state.require(); err != nil {
		return err
	}
	return db.checkpoint(ctx, reason)
}

func (db *DB) checkpoint(ctx context.Context, reason string) error {
	db.commitMu.Lock()
	defer db.commitMu.Unlock()

	if err := db.log.Flush(); err != nil {
		err = fmt.Errorf("checkpoint: flush log: %w", err)
		db.logger.LogCheckpoint(ctx, reason, txlog.UnspecifiedPosition, err)
		return err
	}

	if err := db.store.Flush(ctx); err != nil {
		err = fmt.Errorf("checkpoint: flush store: %w", err)
		db.logger.LogCheckpoint(ctx, reason, txlog.UnspecifiedPosition, err)
		return err
	}

	// With commits paused and both flushes done, everything before the
	// current log position is reflected in the snapshot.
	pos := db.log.Position()
	_, err := db.layout.Write(ctx, checkpoint.Info{
		Position: pos,
		StoreID:  db.store.StoreID(),
		Reason:   reason,
		Time:     time.Now(),
	})
	db.logger.LogCheckpoint(ctx, reason, pos, err)
	return err
}

// TriggerCheckpoint schedules a checkpoint in the background and returns
// immediately. The run respects the background worker budget configured in
// Resources. Use AwaitCheckpoint to wait for the result.
func (db *DB) TriggerCheckpoint(reason string) error {
	if err := db.state.require(); err != nil {
		return err
	}

	run := &checkpointRun{done: make(chan struct{})}

	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return ErrClosed
	}
	db.lastRun = run
	db.bg.Add(1)
	db.mu.Unlock()

	go func() {
		defer db.bg.Done()
		defer close(run.done)

		ctx := context.Background()
		if err := db.rc.AcquireBackground(ctx); err != nil {
			run.err = err
			return
		}
		defer db.rc.ReleaseBackground()

		run.err = db.checkpoint(ctx, reason)
	}()

	return nil
}

// AwaitCheckpoint blocks until the most recently triggered checkpoint
// completes and returns its outcome. When ctx expires first it returns an
// error wrapping ErrAwaitTimeout; the checkpoint itself keeps running.
func (db *DB) AwaitCheckpoint(ctx context.Context) error {
	db.mu.Lock()
	run := db.lastRun
	db.mu.Unlock()

	if run == nil {
		return nil
	}

	select {
	case <-run.done:
		return run.err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrAwaitTimeout, ctx.Err())
	}
}

// ReachableCheckpoints lists the checkpoints startup could find, oldest
// first.
func (db *DB) ReachableCheckpoints() ([]checkpoint.Info, error) {
	if db.layout == nil {
		return nil, db.state.require()
	}
	return db.layout.Reachable()
}

// Status returns the lifecycle state of this handle.
func (db *DB) Status() Status {
	return db.state.Status()
}

// CauseOfFailure returns the error that failed or aborted startup, or nil.
func (db *DB) CauseOfFailure() error {
	return db.state.Cause()
}

// Guard returns the availability guard for this handle.
func (db *DB) Guard() *AvailabilityGuard {
	return db.guard
}

// RecoveryState reports how far recovery got, or StateNotStarted when this
// startup did not need recovery.
func (db *DB) RecoveryState() recovery.State {
	if db.rec == nil {
		return recovery.StateNotStarted
	}
	return db.rec.State()
}

// StoreID returns the identity stamped into every file of this database.
func (db *DB) StoreID() uuid.UUID {
	if db.store == nil {
		return uuid.Nil
	}
	return db.store.StoreID()
}

// Metrics returns a snapshot of the database counters.
func (db *DB) Metrics() Metrics {
	return db.recorder.snapshot()
}

// MissingFilesRecoveryTime returns when a forced recovery last rebuilt
// missing files, or the zero time.
func (db *DB) MissingFilesRecoveryTime() time.Time {
	if db.store == nil {
		return time.Time{}
	}
	return db.store.MissingFilesRecoveryTime()
}

// Node returns a copy of the node with the given id.
func (db *DB) Node(id uint64) (*store.Node, bool) {
	if db.store == nil {
		return nil, false
	}
	return db.store.Node(id)
}

// NodeCount returns the number of live nodes.
func (db *DB) NodeCount() int {
	if db.store == nil {
		return 0
	}
	return db.store.NodeCount()
}

// Path returns the database directory.
func (db *DB) Path() string {
	return db.dir
}
