// Package recovery restores a consistent store from the transaction log
// after an unclean shutdown. It locates the latest durable checkpoint,
// walks the log backward to find the replay start point, replays every
// fully committed transaction group in order, truncates the torn tail,
// and seals the result with a fresh checkpoint.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/neuritedb/neurite/checkpoint"
	"github.com/neuritedb/neurite/txlog"
)

// CheckpointReason is the reason recorded on the checkpoint a
// successful recovery writes.
const CheckpointReason = "Recovery completed"

// State identifies how far a recovery run has progressed.
type State uint32

const (
	StateNotStarted State = iota
	StateReverseScan
	StateForwardReplay
	StateCheckpointWritten
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not started"
	case StateReverseScan:
		return "reverse scan"
	case StateForwardReplay:
		return "forward replay"
	case StateCheckpointWritten:
		return "checkpoint written"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

// Target is the store side of recovery: identity, transaction counters,
// command application and the durable flush that precedes the final
// checkpoint.
type Target interface {
	StoreID() uuid.UUID

	// AppliedTransaction returns the highest transaction id whose
	// effects the store already holds. Only groups above it replay.
	AppliedTransaction() uint64

	// Apply applies one command payload.
	Apply(payload []byte) error

	// CloseTransaction records a replayed transaction and its position.
	CloseTransaction(tx uint64, pos txlog.LogPosition)

	// Flush makes the applied state durable.
	Flush(ctx context.Context) error

	// MissingIDFiles lists auxiliary files that were absent at open.
	MissingIDFiles() []string

	// RebuildIDFiles regenerates the missing auxiliary files.
	RebuildIDFiles()

	// RecordForcedRecovery durably marks that recovery proceeded
	// despite missing files.
	RecordForcedRecovery(t time.Time) error
}

// LogTruncator is the writer side of the log during recovery.
type LogTruncator interface {
	Position() txlog.LogPosition
	TruncateTo(pos txlog.LogPosition) error
}

// Guard lets an external availability controller stop recovery between
// phases.
type Guard interface {
	Available() bool
}

// Dependencies wires a recovery run.
type Dependencies struct {
	Files   *txlog.Files
	Layout  checkpoint.Layout
	Log     LogTruncator
	Target  Target
	Guard   Guard   // nil means always available
	Monitor Monitor // nil means no events

	// FailOnMissingFiles makes missing auxiliary or log files fatal.
	// When false, recovery regenerates what it can and records the
	// forced recovery in the store metadata.
	FailOnMissingFiles bool

	// LogsWereMissing tells the engine the log directory was empty at
	// startup even though the store has committed transactions, and a
	// fresh log was created in its place.
	LogsWereMissing bool
}

// Recovery drives one recovery run over a crashed store.
type Recovery struct {
	deps  Dependencies
	state atomic.Uint32
}

// New prepares a recovery run. Run executes it.
func New(deps Dependencies) *Recovery {
	if deps.Guard == nil {
		deps.Guard = alwaysAvailable{}
	}

	if deps.Monitor == nil {
		deps.Monitor = NoopMonitor{}
	}

	return &Recovery{deps: deps}
}

// State returns the current recovery state.
func (r *Recovery) State() State {
	return State(r.state.Load())
}

// groupRef locates one committed transaction group in the log.
type groupRef struct {
	txID  uint64
	start txlog.LogPosition
	end   txlog.LogPosition
}

// txGroup is one committed transaction group ready to apply.
type txGroup struct {
	txID     uint64
	payloads [][]byte
	end      txlog.LogPosition
}

// Run performs recovery. On success the store reflects every committed
// transaction, the log tail is truncated to the last valid point, and a
// fresh checkpoint makes the next Required check return false. A
// stopped guard aborts the run with ErrStartAborted.
func (r *Recovery) Run(ctx context.Context) error {
	began := time.Now()

	r.deps.Monitor.RecoveryRequired()

	missing := r.deps.Target.MissingIDFiles()
	forced := len(missing) > 0 || r.deps.LogsWereMissing

	if forced && r.deps.FailOnMissingFiles {
		if r.deps.LogsWereMissing {
			return &MissingLogsError{Dir: r.deps.Files.Directory()}
		}

		return &MissingFilesError{Files: missing}
	}

	r.state.Store(uint32(StateReverseScan))

	applied := r.deps.Target.AppliedTransaction()

	groups, safePoint, err := r.scan()
	if err != nil {
		return err
	}

	// The backward walk over the group index finds the lowest
	// transaction that is not yet in the store.
	replayFrom := len(groups)
	for replayFrom > 0 && groups[replayFrom-1].txID > applied {
		replayFrom--
	}

	var lowest uint64
	if replayFrom < len(groups) {
		lowest = groups[replayFrom].txID
	}

	r.deps.Monitor.ReverseRecoveryCompleted(lowest)

	if err := r.guardCheck(); err != nil {
		return err
	}

	if len(missing) > 0 {
		r.deps.Target.RebuildIDFiles()
	}

	r.state.Store(uint32(StateForwardReplay))

	recovered, err := r.replay(ctx, groups[replayFrom:])
	if err != nil {
		return err
	}

	if err := r.deps.Log.TruncateTo(safePoint); err != nil {
		return fmt.Errorf("truncate log tail: %w", err)
	}

	if forced {
		if err := r.deps.Target.RecordForcedRecovery(time.Now()); err != nil {
			return err
		}
	}

	if err := r.deps.Target.Flush(ctx); err != nil {
		return fmt.Errorf("flush recovered store: %w", err)
	}

	_, err = r.deps.Layout.Write(ctx, checkpoint.Info{
		Position: r.deps.Log.Position(),
		StoreID:  r.deps.Target.StoreID(),
		Reason:   CheckpointReason,
		Time:     time.Now(),
	})
	if err != nil {
		return fmt.Errorf("write recovery checkpoint: %w", err)
	}

	r.state.Store(uint32(StateCheckpointWritten))

	r.deps.Monitor.RecoveryCompleted(recovered, time.Since(began))

	r.state.Store(uint32(StateDone))

	return nil
}

// scan walks the log forward from the latest checkpoint (or the start)
// and indexes every committed transaction group. safePoint is the
// position after the last entry that does not belong to an open group;
// everything past it is a torn tail to truncate.
func (r *Recovery) scan() (groups []groupRef, safePoint txlog.LogPosition, err error) {
	var (
		from     txlog.LogPosition
		haveFrom bool
	)

	// A checkpoint that survived the loss of the log files it points
	// into must not steer the scan; the fresh log starts over.
	if !r.deps.LogsWereMissing {
		latest, ok, err := r.deps.Layout.FindLatest()
		if err != nil {
			return nil, txlog.LogPosition{}, err
		}

		if ok {
			if latest.StoreID != uuid.Nil && latest.StoreID != r.deps.Target.StoreID() {
				return nil, txlog.LogPosition{}, fmt.Errorf("%w: checkpoint %s, store %s",
					ErrStoreIDMismatch, latest.StoreID, r.deps.Target.StoreID())
			}

			from = latest.Position
			haveFrom = true
		}
	}

	if !haveFrom {
		versions, err := r.deps.Files.Versions()
		if err != nil {
			return nil, txlog.LogPosition{}, err
		}

		if len(versions) == 0 {
			return nil, r.deps.Log.Position(), nil
		}

		from = txlog.StartPosition(versions[0])
	}

	if from.Offset < txlog.HeaderSize {
		from = txlog.StartPosition(from.Version)
	}

	reader, err := txlog.NewReader(r.deps.Files, from)
	if errors.Is(err, txlog.ErrIncompleteHeader) {
		return nil, r.deps.Log.Position(), nil
	}

	if err != nil {
		return nil, txlog.LogPosition{}, err
	}
	defer reader.Close()

	safePoint = from

	var (
		open bool
		cur  groupRef
	)

	for {
		entry, pos, err := reader.Next()
		if errors.Is(err, io.EOF) {
			// The end position accounts for crossing into a file that
			// rotation created right before the crash.
			if !open {
				safePoint = pos
			}

			return groups, safePoint, nil
		}

		var corrupt *txlog.CorruptionError
		if errors.As(err, &corrupt) {
			// A torn tail is tolerated, but only as the true end of the
			// stream. Entries land in a newer file only after recovery has
			// cleaned the older ones, so decodable entries past the damage
			// mean mid-stream corruption rather than a crash.
			more, verr := r.validEntriesAfter(corrupt.Position.Version)
			if verr != nil {
				return nil, txlog.LogPosition{}, verr
			}

			if more {
				return nil, txlog.LogPosition{}, err
			}

			// Everything before safePoint is intact; the torn bytes go
			// away with the truncation.
			return groups, safePoint, nil
		}

		if err != nil {
			return nil, txlog.LogPosition{}, err
		}

		switch e := entry.(type) {
		case txlog.StartEntry:
			// A second start before a commit abandons the open group.
			open = true
			cur = groupRef{start: pos}
		case txlog.CommandEntry:
		case txlog.CommitEntry:
			if open {
				cur.txID = e.TxID
				cur.end = reader.Position()
				groups = append(groups, cur)
				open = false
				safePoint = reader.Position()
			}
		default:
			// Checkpoint records and unknown kinds sit between groups;
			// inside one they neither close nor extend it.
			if !open {
				safePoint = reader.Position()
			}
		}
	}
}

// validEntriesAfter reports whether any log file newer than version
// holds at least one decodable entry. A file that is absent, empty or
// headerless counts as holding none.
func (r *Recovery) validEntriesAfter(version uint64) (bool, error) {
	versions, err := r.deps.Files.Versions()
	if err != nil {
		return false, err
	}

	var (
		next uint64
		ok   bool
	)

	for _, v := range versions {
		if v > version {
			next, ok = v, true
			break
		}
	}

	if !ok {
		return false, nil
	}

	reader, err := txlog.NewReader(r.deps.Files, txlog.StartPosition(next))
	if errors.Is(err, txlog.ErrIncompleteHeader) {
		return false, nil
	}

	if err != nil {
		return false, err
	}
	defer reader.Close()

	_, _, err = reader.Next()
	if err == nil {
		return true, nil
	}

	if errors.Is(err, io.EOF) {
		return false, nil
	}

	var corrupt *txlog.CorruptionError
	if errors.As(err, &corrupt) {
		return false, nil
	}

	return false, err
}

// replay applies the given committed groups in log order. Reading and
// decoding run ahead of application in a separate goroutine.
func (r *Recovery) replay(ctx context.Context, groups []groupRef) (int, error) {
	if len(groups) == 0 {
		return 0, nil
	}

	g, ctx := errgroup.WithContext(ctx)
	feed := make(chan txGroup, 16)

	g.Go(func() error {
		defer close(feed)

		return r.produce(ctx, groups, feed)
	})

	var recovered int

	g.Go(func() error {
		for grp := range feed {
			if err := r.guardCheck(); err != nil {
				return err
			}

			for _, payload := range grp.payloads {
				if err := r.deps.Target.Apply(payload); err != nil {
					return fmt.Errorf("replay transaction %d: %w", grp.txID, err)
				}
			}

			r.deps.Target.CloseTransaction(grp.txID, grp.end)
			recovered++
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return recovered, err
	}

	return recovered, nil
}

// produce re-reads the indexed groups and feeds them to the applier.
func (r *Recovery) produce(ctx context.Context, groups []groupRef, feed chan<- txGroup) error {
	reader, err := txlog.NewReader(r.deps.Files, groups[0].start)
	if err != nil {
		return err
	}
	defer reader.Close()

	last := groups[len(groups)-1]

	var (
		open bool
		cur  txGroup
	)

	for {
		entry, _, err := reader.Next()
		if err != nil {
			return fmt.Errorf("replay read: %w", err)
		}

		switch e := entry.(type) {
		case txlog.StartEntry:
			open = true
			cur = txGroup{}
		case txlog.CommandEntry:
			if open {
				cur.payloads = append(cur.payloads, e.Payload)
			}
		case txlog.CommitEntry:
			if !open {
				continue
			}

			cur.txID = e.TxID
			cur.end = reader.Position()
			open = false

			select {
			case feed <- cur:
			case <-ctx.Done():
				return ctx.Err()
			}

			if cur.txID >= last.txID {
				return nil
			}
		default:
		}
	}
}

func (r *Recovery) guardCheck() error {
	if r.deps.Guard.Available() {
		return nil
	}

	r.state.Store(uint32(StateAborted))

	return ErrStartAborted
}

type alwaysAvailable struct{}

func (alwaysAvailable) Available() bool { return true }
