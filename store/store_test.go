package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuritedb/neurite/internal/fs"
	"github.com/neuritedb/neurite/resource"
	"github.com/neuritedb/neurite/txlog"
)

// commit applies cmds as one transaction and closes it.
func commit(t *testing.T, s *Store, cmds ...Command) uint64 {
	t.Helper()

	tx := s.BeginCommit()
	for _, cmd := range cmds {
		require.NoError(t, s.ApplyCommand(cmd))
	}

	s.CloseTransaction(tx, txlog.LogPosition{Version: 0, Offset: uint64(txlog.HeaderSize + 100*tx)})

	return tx
}

func TestStore_OpenFresh(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(fs.Default, dir)
	require.NoError(t, err)

	assert.True(t, s.Fresh())
	assert.NotEqual(t, uuid.Nil, s.StoreID())
	assert.Zero(t, s.NodeCount())
	assert.Zero(t, s.LastCommittedTransaction())
	assert.Zero(t, s.AppliedTransaction())
	assert.Empty(t, s.MissingIDFiles())

	id, err := s.AllocateNodeID()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	// The descriptor was written, so a second open shares the identity.
	again, err := Open(fs.Default, dir)
	require.NoError(t, err)
	assert.Equal(t, s.StoreID(), again.StoreID())
}

func TestStore_CommitLifecycle(t *testing.T) {
	s, err := Open(fs.Default, t.TempDir())
	require.NoError(t, err)

	id, err := s.AllocateNodeID()
	require.NoError(t, err)

	tx := s.BeginCommit()
	assert.Equal(t, uint64(1), tx)
	assert.Equal(t, tx, s.CommittingTransactionID())

	require.NoError(t, s.ApplyCommand(CreateNode{ID: id, Labels: []string{"User"}}))
	require.NoError(t, s.ApplyCommand(SetProperty{NodeID: id, Key: "name", Value: "ada"}))

	pos := txlog.LogPosition{Version: 0, Offset: 200}
	s.CloseTransaction(tx, pos)

	assert.Equal(t, tx, s.LastCommittedTransaction())
	assert.Equal(t, tx, s.AppliedTransaction())

	closedTx, closedPos := s.LastClosedTransaction()
	assert.Equal(t, tx, closedTx)
	assert.Equal(t, pos, closedPos)

	n, ok := s.Node(id)
	require.True(t, ok)
	assert.Equal(t, []string{"User"}, n.Labels)
	assert.Equal(t, "ada", n.Properties["name"])
}

func TestStore_ApplyCommandConverges(t *testing.T) {
	s, err := Open(fs.Default, t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.ApplyCommand(CreateNode{ID: 1, Labels: []string{"A"}}))
	require.NoError(t, s.ApplyCommand(SetProperty{NodeID: 1, Key: "k", Value: "v"}))

	// Re-creating resets the node, as a replayed create would.
	require.NoError(t, s.ApplyCommand(CreateNode{ID: 1, Labels: []string{"A"}}))

	n, ok := s.Node(1)
	require.True(t, ok)
	assert.Empty(t, n.Properties)

	require.NoError(t, s.ApplyCommand(DeleteNode{ID: 1}))
	require.NoError(t, s.ApplyCommand(DeleteNode{ID: 1}))
	assert.Zero(t, s.NodeCount())

	err = s.ApplyCommand(SetProperty{NodeID: 1, Key: "k", Value: "v"})
	require.ErrorIs(t, err, ErrNodeNotFound)
}

func TestStore_DeleteReleasesID(t *testing.T) {
	s, err := Open(fs.Default, t.TempDir())
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		id, err := s.AllocateNodeID()
		require.NoError(t, err)
		require.NoError(t, s.ApplyCommand(CreateNode{ID: id}))
	}

	require.NoError(t, s.ApplyCommand(DeleteNode{ID: 2}))

	id, err := s.AllocateNodeID()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), id)
}

func TestStore_FlushAndReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(fs.Default, dir)
	require.NoError(t, err)

	id1, err := s.AllocateNodeID()
	require.NoError(t, err)
	id2, err := s.AllocateNodeID()
	require.NoError(t, err)

	commit(t, s, CreateNode{ID: id1, Labels: []string{"User"}}, CreateNode{ID: id2})
	commit(t, s, SetProperty{NodeID: id1, Key: "name", Value: "ada"})

	require.NoError(t, s.Flush(context.Background()))

	reopened, err := Open(fs.Default, dir)
	require.NoError(t, err)

	assert.False(t, reopened.Fresh())
	assert.Equal(t, 2, reopened.NodeCount())
	assert.Equal(t, uint64(2), reopened.AppliedTransaction())
	assert.Equal(t, uint64(2), reopened.LastCommittedTransaction())
	assert.Equal(t, uint64(2), reopened.CommittingTransactionID())

	n, ok := reopened.Node(id1)
	require.True(t, ok)
	assert.Equal(t, "ada", n.Properties["name"])

	next, err := reopened.AllocateNodeID()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), next)
}

func TestStore_SnapshotAheadOfMetadata(t *testing.T) {
	dir := t.TempDir()

	faulty := fs.NewFaultyFS(fs.Default)

	s, err := Open(faulty, dir)
	require.NoError(t, err)

	id, err := s.AllocateNodeID()
	require.NoError(t, err)
	commit(t, s, CreateNode{ID: id})
	require.NoError(t, s.Flush(context.Background()))

	commit(t, s, SetProperty{NodeID: id, Key: "name", Value: "ada"})
	commit(t, s, CreateNode{ID: 7})

	// A crash between the snapshot write and the descriptor write leaves
	// the snapshot ahead of the metadata.
	faulty.AddRule(MetadataFileName, fs.Fault{FailAfterBytes: 0})
	err = s.Flush(context.Background())
	require.ErrorContains(t, err, "flush metadata")

	reopened, err := Open(fs.Default, dir)
	require.NoError(t, err)

	assert.Equal(t, uint64(3), reopened.AppliedTransaction())
	assert.Equal(t, uint64(1), reopened.LastCommittedTransaction())

	// Fresh ids must start above everything the snapshot includes, not
	// above the stale descriptor counter.
	assert.Equal(t, uint64(3), reopened.CommittingTransactionID())
	assert.Equal(t, uint64(4), reopened.BeginCommit())
}

func TestStore_MissingIDFile(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(fs.Default, dir)
	require.NoError(t, err)

	id, err := s.AllocateNodeID()
	require.NoError(t, err)
	commit(t, s, CreateNode{ID: id})
	require.NoError(t, s.Flush(context.Background()))

	require.NoError(t, os.Remove(filepath.Join(dir, IDFileName)))

	reopened, err := Open(fs.Default, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{IDFileName}, reopened.MissingIDFiles())

	_, err = reopened.AllocateNodeID()
	require.ErrorIs(t, err, ErrIDsUnavailable)
	require.ErrorIs(t, reopened.Flush(context.Background()), ErrIDsUnavailable)

	reopened.RebuildIDFiles()
	assert.Empty(t, reopened.MissingIDFiles())

	next, err := reopened.AllocateNodeID()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), next)
}

func TestStore_CorruptIDFileTreatedAsMissing(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(fs.Default, dir)
	require.NoError(t, err)

	id, err := s.AllocateNodeID()
	require.NoError(t, err)
	commit(t, s, CreateNode{ID: id})
	require.NoError(t, s.Flush(context.Background()))

	path := filepath.Join(dir, IDFileName)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))

	reopened, err := Open(fs.Default, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{IDFileName}, reopened.MissingIDFiles())
}

func TestStore_FreshStoreRebuildsIDsSilently(t *testing.T) {
	dir := t.TempDir()

	// First open creates the descriptor; a crash before the first flush
	// leaves no snapshot and no id file behind.
	_, err := Open(fs.Default, dir)
	require.NoError(t, err)

	reopened, err := Open(fs.Default, dir)
	require.NoError(t, err)

	assert.Empty(t, reopened.MissingIDFiles())

	id, err := reopened.AllocateNodeID()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)
}

func TestStore_CloseTransactionIsMonotonic(t *testing.T) {
	s, err := Open(fs.Default, t.TempDir())
	require.NoError(t, err)

	s.CloseTransaction(5, txlog.LogPosition{Version: 0, Offset: 500})
	s.CloseTransaction(3, txlog.LogPosition{Version: 0, Offset: 300})

	assert.Equal(t, uint64(5), s.LastCommittedTransaction())
	assert.Equal(t, uint64(5), s.AppliedTransaction())
	assert.Equal(t, uint64(5), s.CommittingTransactionID())

	tx, pos := s.LastClosedTransaction()
	assert.Equal(t, uint64(5), tx)
	assert.Equal(t, uint64(500), pos.Offset)

	// The next commit continues above the replayed id.
	assert.Equal(t, uint64(6), s.BeginCommit())
}

func TestStore_NodeReturnsCopy(t *testing.T) {
	s, err := Open(fs.Default, t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.ApplyCommand(CreateNode{ID: 1, Labels: []string{"User"}}))
	require.NoError(t, s.ApplyCommand(SetProperty{NodeID: 1, Key: "k", Value: "v"}))

	n, ok := s.Node(1)
	require.True(t, ok)

	n.Labels[0] = "Mutated"
	n.Properties["k"] = "mutated"

	fresh, ok := s.Node(1)
	require.True(t, ok)
	assert.Equal(t, []string{"User"}, fresh.Labels)
	assert.Equal(t, "v", fresh.Properties["k"])
}

func TestStore_NextLogVersionSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(fs.Default, dir)
	require.NoError(t, err)

	v, err := s.NextLogVersion()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)

	reopened, err := Open(fs.Default, dir)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), reopened.CurrentLogVersion())
}

func TestStore_FlushHonorsMemoryLimit(t *testing.T) {
	dir := t.TempDir()

	ctrl := resource.NewController(resource.Config{MemoryLimitBytes: 8})

	s, err := Open(fs.Default, dir, func(o *Options) { o.IO = ctrl })
	require.NoError(t, err)

	id, err := s.AllocateNodeID()
	require.NoError(t, err)
	commit(t, s, CreateNode{ID: id, Labels: []string{"User"}})

	// The snapshot reservation can never fit in 8 bytes, so Flush must
	// give up when the deadline passes.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err = s.Flush(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
