package recovery

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neuritedb/neurite/checkpoint"
	"github.com/neuritedb/neurite/internal/fs"
	"github.com/neuritedb/neurite/store"
	"github.com/neuritedb/neurite/txlog"
)

// harness assembles a store, its log and a checkpoint layout over one
// directory. Crashes are simulated by dropping the harness on the floor
// and opening a new one over the same directory.
type harness struct {
	dir    string
	store  *store.Store
	files  *txlog.Files
	log    *txlog.LogFile
	layout checkpoint.Layout
}

func openHarness(t *testing.T, dir string, kind checkpoint.Kind) *harness {
	t.Helper()

	st, err := store.Open(fs.Default, dir)
	require.NoError(t, err)

	files := txlog.NewFiles(fs.Default, filepath.Join(dir, txlog.DirectoryName))

	lf, err := txlog.Open(fs.Default, files, st, st, func(o *txlog.Options) {
		o.StoreID = st.StoreID()
	})
	require.NoError(t, err)
	t.Cleanup(func() { lf.Close() })

	layout, err := checkpoint.New(kind, fs.Default, files, st.StoreID())
	require.NoError(t, err)
	t.Cleanup(func() { layout.Close() })

	if inline, ok := layout.(*checkpoint.Inline); ok {
		inline.Bind(lf)
	}

	return &harness{dir: dir, store: st, files: files, log: lf, layout: layout}
}

// crash closes the log and layout without flushing the store, then
// reopens everything from disk.
func (h *harness) crash(t *testing.T, kind checkpoint.Kind) *harness {
	t.Helper()

	require.NoError(t, h.log.Close())
	require.NoError(t, h.layout.Close())

	return openHarness(t, h.dir, kind)
}

func (h *harness) deps() Dependencies {
	return Dependencies{
		Files:              h.files,
		Layout:             h.layout,
		Log:                h.log,
		Target:             h.store,
		FailOnMissingFiles: true,
	}
}

// logCommit writes one transaction group to the log without touching
// the store, like a commit whose in-memory effects died with the
// process.
func logCommit(t *testing.T, h *harness, tx uint64, cmds ...store.Command) {
	t.Helper()

	_, err := h.log.Append(txlog.StartEntry{Time: time.Now().UnixMilli(), LastCommittedTx: tx - 1})
	require.NoError(t, err)

	for _, cmd := range cmds {
		payload, err := store.EncodeCommand(cmd)
		require.NoError(t, err)

		_, err = h.log.Append(txlog.CommandEntry{Payload: payload})
		require.NoError(t, err)
	}

	_, err = h.log.Append(txlog.CommitEntry{TxID: tx, Time: time.Now().UnixMilli()})
	require.NoError(t, err)
	require.NoError(t, h.log.Flush())
}

// applyCommit runs the full commit sequence: log, apply, close.
func applyCommit(t *testing.T, h *harness, cmds ...store.Command) uint64 {
	t.Helper()

	tx := h.store.BeginCommit()
	logCommit(t, h, tx, cmds...)

	for _, cmd := range cmds {
		require.NoError(t, h.store.ApplyCommand(cmd))
	}

	h.store.CloseTransaction(tx, h.log.Position())

	return tx
}

// countEntries reads the whole log and returns the number of entries.
func countEntries(t *testing.T, files *txlog.Files) int {
	t.Helper()

	versions, err := files.Versions()
	require.NoError(t, err)
	require.NotEmpty(t, versions)

	r, err := txlog.NewReader(files, txlog.StartPosition(versions[0]))
	require.NoError(t, err)
	defer r.Close()

	var n int

	for {
		_, _, err := r.Next()
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			return n
		}

		n++
	}
}

type recordingMonitor struct {
	mu        sync.Mutex
	required  int
	lowest    []uint64
	recovered []int
}

func (m *recordingMonitor) RecoveryRequired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.required++
}

func (m *recordingMonitor) ReverseRecoveryCompleted(lowestTx uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lowest = append(m.lowest, lowestTx)
}

func (m *recordingMonitor) RecoveryCompleted(recovered int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.recovered = append(m.recovered, recovered)
}

type stubGuard struct {
	unavailable atomic.Bool
}

func (g *stubGuard) Available() bool { return !g.unavailable.Load() }

// guardStopper flips the guard once the reverse scan finishes, which is
// the window a concurrent shutdown would hit.
type guardStopper struct {
	NoopMonitor
	guard *stubGuard
}

func (s guardStopper) ReverseRecoveryCompleted(uint64) { s.guard.unavailable.Store(true) }

func TestRecovery_ReplaysCommittedTransactions(t *testing.T) {
	h := openHarness(t, t.TempDir(), checkpoint.KindSeparate)

	logCommit(t, h, 1, store.CreateNode{ID: 1, Labels: []string{"Person"}})
	logCommit(t, h, 2, store.CreateNode{ID: 2}, store.SetProperty{NodeID: 2, Key: "name", Value: "b"})
	logCommit(t, h, 3, store.CreateNode{ID: 3})

	h = h.crash(t, checkpoint.KindSeparate)
	require.Zero(t, h.store.AppliedTransaction())

	required, err := Required(h.files, h.layout)
	require.NoError(t, err)
	require.True(t, required)

	monitor := &recordingMonitor{}
	deps := h.deps()
	deps.Monitor = monitor

	rec := New(deps)
	require.Equal(t, StateNotStarted, rec.State())
	require.NoError(t, rec.Run(context.Background()))
	assert.Equal(t, StateDone, rec.State())

	assert.Equal(t, 3, h.store.NodeCount())
	assert.Equal(t, uint64(3), h.store.AppliedTransaction())
	assert.Equal(t, uint64(3), h.store.LastCommittedTransaction())

	n, ok := h.store.Node(2)
	require.True(t, ok)
	assert.Equal(t, "b", n.Properties["name"])

	assert.Equal(t, 1, monitor.required)
	assert.Equal(t, []uint64{1}, monitor.lowest)
	assert.Equal(t, []int{3}, monitor.recovered)

	latest, ok, err := h.layout.FindLatest()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, CheckpointReason, latest.Reason)
	assert.Equal(t, h.log.Position(), latest.Position)

	required, err = Required(h.files, h.layout)
	require.NoError(t, err)
	assert.False(t, required)
}

func TestRecovery_SecondRunReplaysNothing(t *testing.T) {
	h := openHarness(t, t.TempDir(), checkpoint.KindSeparate)

	logCommit(t, h, 1, store.CreateNode{ID: 1})
	logCommit(t, h, 2, store.CreateNode{ID: 2})

	h = h.crash(t, checkpoint.KindSeparate)
	require.NoError(t, New(h.deps()).Run(context.Background()))
	require.Equal(t, 2, h.store.NodeCount())

	monitor := &recordingMonitor{}
	deps := h.deps()
	deps.Monitor = monitor

	require.NoError(t, New(deps).Run(context.Background()))

	assert.Equal(t, 2, h.store.NodeCount())
	assert.Equal(t, uint64(2), h.store.AppliedTransaction())
	assert.Equal(t, []uint64{0}, monitor.lowest)
	assert.Equal(t, []int{0}, monitor.recovered)
}

func TestRecovery_TruncatesOpenGroup(t *testing.T) {
	h := openHarness(t, t.TempDir(), checkpoint.KindSeparate)

	logCommit(t, h, 1, store.CreateNode{ID: 1})
	logCommit(t, h, 2, store.CreateNode{ID: 2})

	// A group that never commits: its entries decode fine but must not
	// survive recovery.
	_, err := h.log.Append(txlog.StartEntry{Time: time.Now().UnixMilli(), LastCommittedTx: 2})
	require.NoError(t, err)

	payload, err := store.EncodeCommand(store.CreateNode{ID: 3})
	require.NoError(t, err)

	_, err = h.log.Append(txlog.CommandEntry{Payload: payload})
	require.NoError(t, err)
	require.NoError(t, h.log.Flush())

	h = h.crash(t, checkpoint.KindSeparate)

	monitor := &recordingMonitor{}
	deps := h.deps()
	deps.Monitor = monitor

	require.NoError(t, New(deps).Run(context.Background()))

	assert.Equal(t, 2, h.store.NodeCount())
	assert.Equal(t, []int{2}, monitor.recovered)

	// Three entries per committed group; the open tail is gone.
	assert.Equal(t, 6, countEntries(t, h.files))

	info, err := os.Stat(h.files.Path(0))
	require.NoError(t, err)
	assert.Equal(t, int64(h.log.Position().Offset), info.Size())
}

func TestRecovery_TruncatesRaggedTail(t *testing.T) {
	h := openHarness(t, t.TempDir(), checkpoint.KindSeparate)

	logCommit(t, h, 1, store.CreateNode{ID: 1})

	require.NoError(t, h.log.Close())
	require.NoError(t, h.layout.Close())

	// Half a frame of garbage, as left by a write torn mid-entry.
	f, err := os.OpenFile(h.files.Path(0), os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xEE, 0xEE, 0xEE, 0xEE, 0xEE, 0xEE, 0xEE})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	h = openHarness(t, h.dir, checkpoint.KindSeparate)
	require.NoError(t, New(h.deps()).Run(context.Background()))

	assert.Equal(t, 1, h.store.NodeCount())
	assert.Equal(t, 3, countEntries(t, h.files))

	info, err := os.Stat(h.files.Path(0))
	require.NoError(t, err)
	assert.Equal(t, int64(h.log.Position().Offset), info.Size())
}

func TestRecovery_TornTailBeforeEmptyRotatedFile(t *testing.T) {
	h := openHarness(t, t.TempDir(), checkpoint.KindSeparate)

	logCommit(t, h, 1, store.CreateNode{ID: 1})

	require.NoError(t, h.log.Close())
	require.NoError(t, h.layout.Close())

	// A rotation that died between bumping the version counter and
	// sealing the old file: the counter says 1, the disk holds only a
	// torn version 0. Reopening creates the fresh current file.
	_, err := h.store.NextLogVersion()
	require.NoError(t, err)

	f, err := os.OpenFile(h.files.Path(0), os.O_WRONLY|os.O_APPEND, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte{0xEE, 0xEE, 0xEE, 0xEE, 0xEE})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	h = openHarness(t, h.dir, checkpoint.KindSeparate)
	require.Equal(t, uint64(1), h.log.Position().Version)

	require.NoError(t, New(h.deps()).Run(context.Background()))

	assert.Equal(t, 1, h.store.NodeCount())
	assert.Equal(t, 3, countEntries(t, h.files))
	assert.Equal(t, uint64(1), h.log.Position().Version)
}

func TestRecovery_CorruptRotatedFileIsFatal(t *testing.T) {
	h := openHarness(t, t.TempDir(), checkpoint.KindSeparate)

	logCommit(t, h, 1, store.CreateNode{ID: 1})

	_, err := h.log.Rotate()
	require.NoError(t, err)

	logCommit(t, h, 2, store.CreateNode{ID: 2})

	require.NoError(t, h.log.Close())
	require.NoError(t, h.layout.Close())

	// Rotation seals a file before the next one is created, so damage in
	// version 0 cannot be a torn tail.
	f, err := os.OpenFile(h.files.Path(0), os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xEE}, txlog.HeaderSize+5)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	h = openHarness(t, h.dir, checkpoint.KindSeparate)

	rec := New(h.deps())
	err = rec.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateReverseScan, rec.State())

	var corrupt *txlog.CorruptionError
	require.ErrorAs(t, err, &corrupt)
	assert.Equal(t, h.files.Path(0), corrupt.Path)
	assert.Equal(t, uint64(0), corrupt.Position.Version)

	// Nothing was replayed and the committed group in version 1 survives.
	assert.Zero(t, h.store.NodeCount())

	r, err := txlog.NewReader(h.files, txlog.StartPosition(1))
	require.NoError(t, err)
	defer r.Close()

	var n int

	for {
		_, _, err := r.Next()
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}

		n++
	}

	assert.Equal(t, 3, n)
}

func TestRecovery_ResumesFromCheckpoint(t *testing.T) {
	ctx := context.Background()
	h := openHarness(t, t.TempDir(), checkpoint.KindSeparate)

	applyCommit(t, h, store.CreateNode{ID: 1})
	applyCommit(t, h, store.DeleteNode{ID: 1})
	require.NoError(t, h.store.Flush(ctx))

	_, err := h.layout.Write(ctx, checkpoint.Info{
		Position: h.log.Position(),
		StoreID:  h.store.StoreID(),
		Reason:   "Checkpoint triggered",
		Time:     time.Now(),
	})
	require.NoError(t, err)

	logCommit(t, h, 3, store.CreateNode{ID: 2})

	h = h.crash(t, checkpoint.KindSeparate)
	require.Equal(t, uint64(2), h.store.AppliedTransaction())

	monitor := &recordingMonitor{}
	deps := h.deps()
	deps.Monitor = monitor

	require.NoError(t, New(deps).Run(context.Background()))

	// Node 1 was created and deleted below the checkpoint; replaying
	// from the start would resurrect it.
	_, ok := h.store.Node(1)
	assert.False(t, ok)

	_, ok = h.store.Node(2)
	assert.True(t, ok)

	assert.Equal(t, []uint64{3}, monitor.lowest)
	assert.Equal(t, []int{1}, monitor.recovered)
	assert.Equal(t, uint64(3), h.store.AppliedTransaction())
}

func TestRecovery_InlineCheckpointEntriesAreNeutral(t *testing.T) {
	ctx := context.Background()
	h := openHarness(t, t.TempDir(), checkpoint.KindInline)

	applyCommit(t, h, store.CreateNode{ID: 1})
	require.NoError(t, h.store.Flush(ctx))

	_, err := h.layout.Write(ctx, checkpoint.Info{
		Position: h.log.Position(),
		StoreID:  h.store.StoreID(),
		Reason:   "Checkpoint triggered",
		Time:     time.Now(),
	})
	require.NoError(t, err)

	// The checkpoint record sits after the position it covers. It alone
	// must not make recovery necessary.
	required, err := Required(h.files, h.layout)
	require.NoError(t, err)
	assert.False(t, required)

	logCommit(t, h, 2, store.CreateNode{ID: 2})

	required, err = Required(h.files, h.layout)
	require.NoError(t, err)
	require.True(t, required)

	h = h.crash(t, checkpoint.KindInline)

	monitor := &recordingMonitor{}
	deps := h.deps()
	deps.Monitor = monitor

	require.NoError(t, New(deps).Run(context.Background()))

	assert.Equal(t, 2, h.store.NodeCount())
	assert.Equal(t, []uint64{2}, monitor.lowest)
	assert.Equal(t, []int{1}, monitor.recovered)

	latest, ok, err := h.layout.FindLatest()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, CheckpointReason, latest.Reason)

	required, err = Required(h.files, h.layout)
	require.NoError(t, err)
	assert.False(t, required)
}

func TestRecovery_GuardAbortsBeforeReplay(t *testing.T) {
	h := openHarness(t, t.TempDir(), checkpoint.KindSeparate)

	logCommit(t, h, 1, store.CreateNode{ID: 1})
	logCommit(t, h, 2, store.CreateNode{ID: 2})

	h = h.crash(t, checkpoint.KindSeparate)

	guard := &stubGuard{}
	deps := h.deps()
	deps.Guard = guard
	deps.Monitor = guardStopper{guard: guard}

	rec := New(deps)
	err := rec.Run(context.Background())
	require.ErrorIs(t, err, ErrStartAborted)
	assert.Equal(t, StateAborted, rec.State())

	// Nothing was replayed, truncated or checkpointed.
	assert.Zero(t, h.store.NodeCount())
	assert.Zero(t, h.store.AppliedTransaction())
	assert.Equal(t, 6, countEntries(t, h.files))

	_, ok, err := h.layout.FindLatest()
	require.NoError(t, err)
	assert.False(t, ok)

	required, err := Required(h.files, h.layout)
	require.NoError(t, err)
	assert.True(t, required)
}

func TestRecovery_StoreIDMismatch(t *testing.T) {
	ctx := context.Background()
	h := openHarness(t, t.TempDir(), checkpoint.KindSeparate)

	logCommit(t, h, 1, store.CreateNode{ID: 1})

	_, err := h.layout.Write(ctx, checkpoint.Info{
		Position: h.log.Position(),
		StoreID:  uuid.New(),
		Reason:   "Checkpoint triggered",
		Time:     time.Now(),
	})
	require.NoError(t, err)

	h = h.crash(t, checkpoint.KindSeparate)

	rec := New(h.deps())
	err = rec.Run(context.Background())
	require.ErrorIs(t, err, ErrStoreIDMismatch)
	assert.Equal(t, StateReverseScan, rec.State())
}

func TestRecovery_MissingIDFiles(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) *harness {
		h := openHarness(t, t.TempDir(), checkpoint.KindSeparate)

		applyCommit(t, h, store.CreateNode{ID: 1})
		require.NoError(t, h.store.Flush(ctx))

		require.NoError(t, h.log.Close())
		require.NoError(t, h.layout.Close())
		require.NoError(t, os.Remove(filepath.Join(h.dir, store.IDFileName)))

		h = openHarness(t, h.dir, checkpoint.KindSeparate)
		require.Equal(t, []string{store.IDFileName}, h.store.MissingIDFiles())

		return h
	}

	t.Run("strict fails", func(t *testing.T) {
		h := setup(t)

		rec := New(h.deps())
		err := rec.Run(context.Background())
		require.ErrorIs(t, err, ErrMissingIDFiles)

		var missing *MissingFilesError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, []string{store.IDFileName}, missing.Files)
		assert.Equal(t, StateNotStarted, rec.State())
	})

	t.Run("forced rebuilds", func(t *testing.T) {
		h := setup(t)

		deps := h.deps()
		deps.FailOnMissingFiles = false

		require.NoError(t, New(deps).Run(context.Background()))

		assert.Empty(t, h.store.MissingIDFiles())
		assert.False(t, h.store.MissingFilesRecoveryTime().IsZero())

		id, err := h.store.AllocateNodeID()
		require.NoError(t, err)
		assert.Equal(t, uint64(2), id)
	})
}

func TestRecovery_MissingLogs(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T, keepCheckpoint bool) (*harness, bool) {
		h := openHarness(t, t.TempDir(), checkpoint.KindSeparate)

		applyCommit(t, h, store.CreateNode{ID: 1})
		applyCommit(t, h, store.CreateNode{ID: 2})
		require.NoError(t, h.store.Flush(ctx))

		if keepCheckpoint {
			_, err := h.layout.Write(ctx, checkpoint.Info{
				Position: h.log.Position(),
				StoreID:  h.store.StoreID(),
				Reason:   "Checkpoint triggered",
				Time:     time.Now(),
			})
			require.NoError(t, err)
		}

		require.NoError(t, h.log.Close())
		require.NoError(t, h.layout.Close())

		if keepCheckpoint {
			require.NoError(t, os.Remove(h.files.Path(0)))
		} else {
			require.NoError(t, os.RemoveAll(h.files.Directory()))
		}

		// The missing-logs check runs before the log writer recreates
		// the current file.
		st, err := store.Open(fs.Default, h.dir)
		require.NoError(t, err)

		files := txlog.NewFiles(fs.Default, filepath.Join(h.dir, txlog.DirectoryName))

		missing, err := MissingLogs(files, st.LastCommittedTransaction())
		require.NoError(t, err)

		return openHarness(t, h.dir, checkpoint.KindSeparate), missing
	}

	t.Run("strict fails", func(t *testing.T) {
		h, missing := setup(t, false)
		require.True(t, missing)

		deps := h.deps()
		deps.LogsWereMissing = true

		err := New(deps).Run(context.Background())
		require.ErrorIs(t, err, ErrLogsMissing)

		var logsErr *MissingLogsError
		require.ErrorAs(t, err, &logsErr)
		assert.Equal(t, h.files.Directory(), logsErr.Dir)
	})

	t.Run("forced starts over", func(t *testing.T) {
		h, missing := setup(t, false)
		require.True(t, missing)

		monitor := &recordingMonitor{}
		deps := h.deps()
		deps.LogsWereMissing = true
		deps.FailOnMissingFiles = false
		deps.Monitor = monitor

		require.NoError(t, New(deps).Run(context.Background()))

		assert.Equal(t, []int{0}, monitor.recovered)
		assert.Equal(t, 2, h.store.NodeCount())
		assert.False(t, h.store.MissingFilesRecoveryTime().IsZero())

		latest, ok, err := h.layout.FindLatest()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, h.log.Position(), latest.Position)
	})

	t.Run("forced ignores stale checkpoint", func(t *testing.T) {
		h, _ := setup(t, true)

		deps := h.deps()
		deps.LogsWereMissing = true
		deps.FailOnMissingFiles = false

		require.NoError(t, New(deps).Run(context.Background()))

		latest, ok, err := h.layout.FindLatest()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, CheckpointReason, latest.Reason)
		assert.Equal(t, h.log.Position(), latest.Position)
	})
}

func TestRecovery_ReplaysAcrossRotatedFiles(t *testing.T) {
	ctx := context.Background()
	h := openHarness(t, t.TempDir(), checkpoint.KindSeparate)

	applyCommit(t, h, store.CreateNode{ID: 1})
	require.NoError(t, h.store.Flush(ctx))

	_, err := h.log.Rotate()
	require.NoError(t, err)

	logCommit(t, h, 2, store.CreateNode{ID: 2})
	logCommit(t, h, 3, store.SetProperty{NodeID: 2, Key: "name", Value: "c"})

	h = h.crash(t, checkpoint.KindSeparate)
	require.Equal(t, uint64(1), h.store.CurrentLogVersion())

	monitor := &recordingMonitor{}
	deps := h.deps()
	deps.Monitor = monitor

	require.NoError(t, New(deps).Run(context.Background()))

	assert.Equal(t, []uint64{2}, monitor.lowest)
	assert.Equal(t, []int{2}, monitor.recovered)
	assert.Equal(t, 2, h.store.NodeCount())

	n, ok := h.store.Node(2)
	require.True(t, ok)
	assert.Equal(t, "c", n.Properties["name"])

	assert.Equal(t, uint64(1), h.log.Position().Version)
}

func TestRequired_FreshDirectory(t *testing.T) {
	dir := t.TempDir()
	files := txlog.NewFiles(fs.Default, filepath.Join(dir, txlog.DirectoryName))
	layout := checkpoint.NewSeparate(fs.Default, files, uuid.New())
	defer layout.Close()

	required, err := Required(files, layout)
	require.NoError(t, err)
	assert.False(t, required)
}

func TestRequired_FreshLogFile(t *testing.T) {
	h := openHarness(t, t.TempDir(), checkpoint.KindSeparate)

	required, err := Required(h.files, h.layout)
	require.NoError(t, err)
	assert.False(t, required)
}

func TestMissingLogs(t *testing.T) {
	dir := t.TempDir()
	files := txlog.NewFiles(fs.Default, filepath.Join(dir, txlog.DirectoryName))

	missing, err := MissingLogs(files, 0)
	require.NoError(t, err)
	assert.False(t, missing, "a store with no transactions needs no logs")

	missing, err = MissingLogs(files, 7)
	require.NoError(t, err)
	assert.True(t, missing)

	h := openHarness(t, dir, checkpoint.KindSeparate)

	missing, err = MissingLogs(h.files, 7)
	require.NoError(t, err)
	assert.False(t, missing)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "not started", StateNotStarted.String())
	assert.Equal(t, "reverse scan", StateReverseScan.String())
	assert.Equal(t, "forward replay", StateForwardReplay.String())
	assert.Equal(t, "checkpoint written", StateCheckpointWritten.String())
	assert.Equal(t, "done", StateDone.String())
	assert.Equal(t, "aborted", StateAborted.String())
	assert.Equal(t, "state(9)", State(9).String())
}
