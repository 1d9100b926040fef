// Package store implements the node store: in-memory records backed by
// a durable snapshot, an id allocator and a metadata descriptor, with
// all mutations arriving as replayable commands.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/neuritedb/neurite/internal/fs"
	"github.com/neuritedb/neurite/resource"
	"github.com/neuritedb/neurite/txlog"
)

var (
	// ErrNodeNotFound is returned when an operation references a node
	// that does not exist.
	ErrNodeNotFound = errors.New("store: node not found")

	// ErrIDsUnavailable is returned when the id allocator is absent
	// because its file was missing or corrupt and has not been rebuilt.
	ErrIDsUnavailable = errors.New("store: id allocator unavailable")
)

// Options configures a Store.
type Options struct {
	// IO throttles flush writes and bounds flush memory. Nil means
	// unlimited.
	IO *resource.Controller
}

// DefaultOptions are the options used unless overridden.
var DefaultOptions = Options{}

// Store is the node store the log and recovery machinery operate on.
// Nodes live in memory; durability comes from the transaction log plus
// the snapshot, id and metadata files Flush writes.
//
// Transaction counters move through a fixed sequence: BeginCommit hands
// out the id, the commit entry reaches the log, ApplyCommand mutates
// the nodes, and CloseTransaction records the id and its log position.
// Recovery drives the same sequence when replaying.
type Store struct {
	fsys fs.FileSystem
	dir  string
	io   *resource.Controller

	meta *Metadata

	committing atomic.Uint64

	mu         sync.RWMutex
	nodes      map[uint64]*Node
	ids        *IDAllocator
	applied    uint64
	idsMissing bool
	fresh      bool
}

// Open loads the store files in dir, creating them on first use. A
// missing or corrupt id file does not fail Open; it is reported through
// MissingIDFiles so the caller can decide between failing and
// rebuilding.
func Open(fsys fs.FileSystem, dir string, optFns ...func(o *Options)) (*Store, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	meta, _, err := LoadMetadata(fsys, dir)
	if err != nil {
		return nil, err
	}

	s := &Store{
		fsys: fsys,
		dir:  dir,
		io:   opts.IO,
		meta: meta,
	}

	s.nodes, s.applied, err = loadSnapshot(fsys, filepath.Join(dir, SnapshotFileName))

	snapshotExists := true

	switch {
	case errors.Is(err, os.ErrNotExist):
		s.nodes, s.applied = map[uint64]*Node{}, 0
		snapshotExists = false
	case err != nil:
		return nil, err
	}

	// With no snapshot and no committed transactions there is nothing
	// the id file could remember, so it is rebuilt silently.
	s.fresh = !snapshotExists && meta.LastCommittedTransaction() == 0

	s.ids, err = LoadIDAllocator(fsys, filepath.Join(dir, IDFileName))

	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) || errors.Is(err, ErrCorruptIDFile):
		if s.fresh {
			s.ids = NewIDAllocator()
		} else {
			s.ids = nil
			s.idsMissing = true
		}
	default:
		return nil, err
	}

	committing := meta.LastCommittedTransaction()
	if closed, _ := meta.LastClosedTransaction(); closed > committing {
		committing = closed
	}

	// The snapshot can run ahead of the metadata when a crash lands
	// between their writes; ids handed out next must stay unique.
	if s.applied > committing {
		committing = s.applied
	}

	s.committing.Store(committing)

	return s, nil
}

// Fresh reports whether the store holds no durable data yet: no
// snapshot and no committed transactions.
func (s *Store) Fresh() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.fresh
}

// StoreID returns the store identity.
func (s *Store) StoreID() uuid.UUID { return s.meta.StoreID() }

// LastCommittedTransaction returns the highest transaction id known to
// have committed, from the durable metadata. It can trail the log after
// a crash and run ahead of the snapshot.
func (s *Store) LastCommittedTransaction() uint64 {
	return s.meta.LastCommittedTransaction()
}

// AppliedTransaction returns the highest transaction id whose effects
// the in-memory nodes include. Replay resumes right above it.
func (s *Store) AppliedTransaction() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.applied
}

// CurrentLogVersion returns the version of the log file appends go to.
func (s *Store) CurrentLogVersion() uint64 { return s.meta.CurrentLogVersion() }

// NextLogVersion durably increments the log version counter.
func (s *Store) NextLogVersion() (uint64, error) { return s.meta.NextLogVersion() }

// CommittingTransactionID returns the highest transaction id handed out
// so far.
func (s *Store) CommittingTransactionID() uint64 { return s.committing.Load() }

// LastClosedTransaction returns the last closed transaction id and the
// log position right after its commit entry.
func (s *Store) LastClosedTransaction() (uint64, txlog.LogPosition) {
	return s.meta.LastClosedTransaction()
}

// BeginCommit hands out the next transaction id.
func (s *Store) BeginCommit() uint64 { return s.committing.Add(1) }

// CloseTransaction records tx as fully applied at pos. The metadata
// update is in-memory; Flush persists it.
func (s *Store) CloseTransaction(tx uint64, pos txlog.LogPosition) {
	for {
		cur := s.committing.Load()
		if tx <= cur || s.committing.CompareAndSwap(cur, tx) {
			break
		}
	}

	s.meta.SetLastCommitted(tx)
	s.meta.SetLastClosed(tx, pos)

	s.mu.Lock()
	if tx > s.applied {
		s.applied = tx
	}
	s.mu.Unlock()
}

// ApplyCommand mutates the nodes. Creating an existing node overwrites
// it and deleting a missing one is a no-op, so replaying a command
// twice converges on the same state.
func (s *Store) ApplyCommand(cmd Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch c := cmd.(type) {
	case CreateNode:
		s.nodes[c.ID] = &Node{
			ID:         c.ID,
			Labels:     slices.Clone(c.Labels),
			Properties: map[string]string{},
		}

		if s.ids != nil {
			s.ids.MarkUsed(c.ID)
		}

		return nil
	case DeleteNode:
		if _, ok := s.nodes[c.ID]; !ok {
			return nil
		}

		delete(s.nodes, c.ID)

		if s.ids != nil {
			s.ids.Release(c.ID)
		}

		return nil
	case SetProperty:
		n, ok := s.nodes[c.NodeID]
		if !ok {
			return fmt.Errorf("%w: node %d", ErrNodeNotFound, c.NodeID)
		}

		n.Properties[c.Key] = c.Value

		return nil
	default:
		return fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}
}

// Apply decodes an encoded command and applies it. Recovery feeds the
// command payloads it reads from the log through here.
func (s *Store) Apply(payload []byte) error {
	cmd, err := DecodeCommand(payload)
	if err != nil {
		return err
	}

	return s.ApplyCommand(cmd)
}

// AllocateNodeID reserves an id for a node about to be created.
func (s *Store) AllocateNodeID() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ids == nil {
		return 0, ErrIDsUnavailable
	}

	return s.ids.Allocate(), nil
}

// ReleaseNodeID returns an id reserved by AllocateNodeID that will not
// be used after all.
func (s *Store) ReleaseNodeID(id uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ids != nil {
		s.ids.Release(id)
	}
}

// Node returns a copy of the node with the given id.
func (s *Store) Node(id uint64) (*Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.nodes[id]
	if !ok {
		return nil, false
	}

	return n.Clone(), true
}

// NodeCount returns the number of nodes.
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.nodes)
}

// MissingIDFiles lists store files that were absent or unreadable at
// Open and have not been rebuilt.
func (s *Store) MissingIDFiles() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.idsMissing {
		return []string{IDFileName}
	}

	return nil
}

// RebuildIDFiles reconstructs the id allocator from the nodes present.
// Ids the nodes do not account for stay free, which is safe because
// every live id is marked used again as replay applies its create.
func (s *Store) RebuildIDFiles() {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := NewIDAllocator()
	for id := range s.nodes {
		ids.MarkUsed(id)
	}

	s.ids = ids
	s.idsMissing = false
}

// MissingFilesRecoveryTime returns when forced recovery last rebuilt
// missing files, or the zero time if it never has.
func (s *Store) MissingFilesRecoveryTime() time.Time {
	return s.meta.MissingFilesRecoveryTime()
}

// RecordForcedRecovery durably marks that recovery proceeded despite
// missing files at t.
func (s *Store) RecordForcedRecovery(t time.Time) error {
	return s.meta.RecordForcedRecovery(t)
}

// Flush writes the snapshot, id and metadata files so the log below the
// applied transaction is no longer needed. Commits must be paused while
// it runs; the read lock holds off any that slip through.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.ids == nil {
		return ErrIDsUnavailable
	}

	size := int64(snapshotSize(s.nodes))

	if err := s.io.AcquireMemory(ctx, size); err != nil {
		return fmt.Errorf("flush snapshot: %w", err)
	}
	defer s.io.ReleaseMemory(size)

	if err := saveSnapshot(ctx, s.fsys, s.io, filepath.Join(s.dir, SnapshotFileName), s.applied, s.nodes); err != nil {
		return fmt.Errorf("flush snapshot: %w", err)
	}

	if err := s.ids.Save(ctx, s.fsys, s.io, filepath.Join(s.dir, IDFileName)); err != nil {
		return fmt.Errorf("flush ids: %w", err)
	}

	if err := s.meta.Save(); err != nil {
		return fmt.Errorf("flush metadata: %w", err)
	}

	return nil
}
