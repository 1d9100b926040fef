package txlog

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neuritedb/neurite/internal/fs"
)

// DurabilityMode controls when appended entries reach stable storage.
type DurabilityMode int

const (
	// DurabilityAsync leaves flushing to the OS. Fastest, weakest.
	DurabilityAsync DurabilityMode = iota

	// DurabilityGroupCommit coalesces concurrent flush requests into a
	// single fdatasync issued by a background syncer.
	DurabilityGroupCommit

	// DurabilitySync issues an fdatasync on every flush.
	DurabilitySync
)

// DefaultRotationThreshold is the file size at which rotation is advised.
const DefaultRotationThreshold = 256 << 20

// ErrClosed is returned by operations on a closed log file.
var ErrClosed = errors.New("txlog: log file is closed")

// VersionStore persists the current log version counter. NextLogVersion
// must make the increment durable before returning.
type VersionStore interface {
	CurrentLogVersion() uint64
	NextLogVersion() (uint64, error)
}

// TransactionSource exposes the transaction counters the writer needs for
// file headers and for finding its append point after a restart.
type TransactionSource interface {
	CommittingTransactionID() uint64
	LastClosedTransaction() (uint64, LogPosition)
}

// Options configures a LogFile.
type Options struct {
	// RotationThreshold is the file size beyond which RotationNeeded
	// reports true.
	RotationThreshold int64

	// BufferSize is the append buffer size. Zero derives it from the
	// CPU count.
	BufferSize int

	// Compression is applied to command payloads.
	Compression Compression

	// Durability selects the flush strategy.
	Durability DurabilityMode

	// StoreID is stamped into every file header.
	StoreID uuid.UUID

	// Monitor receives rotation and flush events.
	Monitor Monitor
}

// DefaultOptions hold the defaults applied by Open.
var DefaultOptions = Options{
	RotationThreshold: DefaultRotationThreshold,
	Durability:        DurabilitySync,
	Monitor:           NoopMonitor{},
}

// countingWriter tracks the absolute file offset of buffered appends.
type countingWriter struct {
	w *bufio.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)

	return n, err
}

// LogFile is the single append point of the transaction log. It owns the
// channel of the current version, hands out entry positions, rotates to
// new versions and repairs the tail after a crash.
type LogFile struct {
	fsys     fs.FileSystem
	files    *Files
	versions VersionStore
	txs      TransactionSource
	opts     Options

	mu     sync.Mutex
	ch     *Channel
	cw     *countingWriter
	header LogHeader
	closed bool

	// Group commit state, all guarded by mu.
	syncCond *sync.Cond
	doneCond *sync.Cond
	pending  LogPosition
	synced   LogPosition
	syncErr  error
	wg       sync.WaitGroup
}

// Open opens the log file for the store's current version, creating it
// when absent. A file left behind half-written by a crash is rebuilt; an
// existing file has its tail scanned so appends resume after the last
// decodable entry.
func Open(fsys fs.FileSystem, files *Files, versions VersionStore, txs TransactionSource, optFns ...func(o *Options)) (*LogFile, error) {
	opts := DefaultOptions

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Monitor == nil {
		opts.Monitor = NoopMonitor{}
	}
	if opts.RotationThreshold <= 0 {
		opts.RotationThreshold = DefaultRotationThreshold
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = calculateBufferSize(runtime.NumCPU())
	}
	if fsys == nil {
		fsys = fs.Default
	}

	if err := fsys.MkdirAll(files.Directory(), 0o755); err != nil {
		return nil, fmt.Errorf("create transaction log directory: %w", err)
	}

	w := &LogFile{
		fsys:     fsys,
		files:    files,
		versions: versions,
		txs:      txs,
		opts:     opts,
	}
	w.syncCond = sync.NewCond(&w.mu)
	w.doneCond = sync.NewCond(&w.mu)

	if err := w.openCurrent(versions.CurrentLogVersion()); err != nil {
		return nil, err
	}

	if opts.Durability == DurabilityGroupCommit {
		w.wg.Add(1)
		go w.runSyncer()
	}

	return w, nil
}

func (w *LogFile) openCurrent(version uint64) error {
	path := w.files.Path(version)

	ch, err := OpenChannel(w.fsys, path, version, os.O_CREATE|os.O_RDWR)
	if err != nil {
		return err
	}

	size, err := ch.Size()
	if err != nil {
		ch.Close()
		return err
	}

	var resume int64

	if size < HeaderSize {
		// Fresh file, or a crash hit between the version counter bump
		// and the header write. Either way the file carries no entries.
		header, err := w.writeFreshHeader(ch, version)
		if err != nil {
			ch.Close()
			return err
		}

		w.header = header
		resume = HeaderSize
	} else {
		header, err := readHeader(ch.f)
		if err != nil {
			ch.Close()
			return fmt.Errorf("log file %s: %w", path, err)
		}
		if header.Version != version {
			ch.Close()
			return fmt.Errorf("log file %s declares version %d", path, header.Version)
		}
		if w.opts.StoreID != uuid.Nil && header.StoreID != w.opts.StoreID {
			ch.Close()
			return fmt.Errorf("log file %s belongs to store %s", path, header.StoreID)
		}

		resume, err = w.seekEnd(ch, header, size)
		if err != nil {
			ch.Close()
			return fmt.Errorf("find append point in %s: %w", path, err)
		}

		w.header = header
	}

	if err := ch.SetPosition(resume); err != nil {
		ch.Close()
		return err
	}

	w.ch = ch
	w.cw = &countingWriter{w: bufio.NewWriterSize(ch, w.opts.BufferSize), n: resume}
	w.synced = LogPosition{Version: version, Offset: uint64(resume)}
	w.pending = w.synced

	return nil
}

func (w *LogFile) writeFreshHeader(ch *Channel, version uint64) (LogHeader, error) {
	header := LogHeader{
		Format:          FormatVersion,
		Version:         version,
		LastCommittedTx: w.txs.CommittingTransactionID(),
		StoreID:         w.opts.StoreID,
	}

	if err := ch.Truncate(0); err != nil {
		return LogHeader{}, err
	}
	if err := ch.SetPosition(0); err != nil {
		return LogHeader{}, err
	}
	if err := writeHeader(ch, header); err != nil {
		return LogHeader{}, err
	}
	if err := ch.Datasync(); err != nil {
		return LogHeader{}, err
	}
	if err := fs.SyncDir(w.fsys, w.files.Directory()); err != nil {
		return LogHeader{}, err
	}

	return header, nil
}

// seekEnd locates the offset after the last decodable entry. It first
// resumes from the store's last closed transaction position when that
// falls inside this file, requiring the entry there to decode; on failure
// it falls back to a full scan from the header.
func (w *LogFile) seekEnd(ch *Channel, header LogHeader, size int64) (int64, error) {
	var fromClosedErr error

	_, lastPos := w.txs.LastClosedTransaction()
	if lastPos.Version == header.Version && lastPos.Offset >= HeaderSize && int64(lastPos.Offset) <= size {
		end, err := scanToEnd(ch, int64(lastPos.Offset), size, true)
		if err == nil {
			return end, nil
		}

		fromClosedErr = fmt.Errorf("resume from last closed transaction at %s: %w", lastPos, err)
	}

	end, err := scanToEnd(ch, HeaderSize, size, false)
	if err != nil {
		if fromClosedErr != nil {
			return 0, errors.Join(fromClosedErr, err)
		}

		return 0, err
	}

	return end, nil
}

// scanToEnd walks entries from offset from and returns the end of the
// last decodable one. In strict mode an undecodable first entry is an
// error; otherwise undecodable data marks the end of the valid tail,
// since the next append overwrites it.
func scanToEnd(ch *Channel, from, size int64, strict bool) (int64, error) {
	sr := io.NewSectionReader(ch.f, from, size-from)
	br := bufio.NewReaderSize(sr, 64<<10)

	end := from
	first := true

	for {
		_, n, err := Decode(br)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return end, nil
			}
			if strict && first {
				return 0, err
			}

			return end, nil
		}

		end += n
		first = false
	}
}

// Append encodes e at the current position and returns where it starts.
// The entry is buffered; call Flush to make it durable.
func (w *LogFile) Append(e Entry) (LogPosition, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return UnspecifiedPosition, ErrClosed
	}

	pos := LogPosition{Version: w.header.Version, Offset: uint64(w.cw.n)}

	if _, err := Encode(w.cw, e, w.opts.Compression); err != nil {
		return UnspecifiedPosition, err
	}

	return pos, nil
}

// Position returns where the next appended entry would start.
func (w *LogFile) Position() LogPosition {
	w.mu.Lock()
	defer w.mu.Unlock()

	return LogPosition{Version: w.header.Version, Offset: uint64(w.cw.n)}
}

// FlushedPosition returns the highest position known durable.
func (w *LogFile) FlushedPosition() LogPosition {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.synced
}

// CurrentVersion returns the version currently appended to.
func (w *LogFile) CurrentVersion() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.header.Version
}

// Header returns the header of the current file.
func (w *LogFile) Header() LogHeader {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.header
}

// Flush makes all entries appended so far durable, according to the
// configured durability mode.
func (w *LogFile) Flush() error {
	w.mu.Lock()

	if w.closed {
		w.mu.Unlock()
		return ErrClosed
	}
	if w.syncErr != nil {
		err := w.syncErr
		w.mu.Unlock()

		return err
	}

	target := LogPosition{Version: w.header.Version, Offset: uint64(w.cw.n)}

	switch w.opts.Durability {
	case DurabilityAsync:
		err := w.cw.w.Flush()
		w.mu.Unlock()

		return err
	case DurabilityGroupCommit:
		if w.pending.Before(target) {
			w.pending = target
		}
		w.syncCond.Signal()

		for w.synced.Before(target) && w.syncErr == nil && !w.closed {
			w.doneCond.Wait()
		}

		err := w.syncErr
		interrupted := w.closed && w.synced.Before(target)
		w.mu.Unlock()

		if err != nil {
			return err
		}
		if interrupted {
			return ErrClosed
		}

		w.opts.Monitor.LogForced()

		return nil
	default:
		err := w.flushAndSyncLocked()
		w.mu.Unlock()

		if err != nil {
			return err
		}

		w.opts.Monitor.LogForced()

		return nil
	}
}

// flushAndSyncLocked drains the buffer and issues an fdatasync. Callers
// hold mu.
func (w *LogFile) flushAndSyncLocked() error {
	if err := w.cw.w.Flush(); err != nil {
		return err
	}
	if err := w.ch.Datasync(); err != nil {
		return err
	}

	w.synced = LogPosition{Version: w.header.Version, Offset: uint64(w.cw.n)}
	if w.pending.Before(w.synced) {
		w.pending = w.synced
	}
	w.doneCond.Broadcast()

	return nil
}

// runSyncer is the group commit loop. It waits for flush requests,
// batches whatever accumulated and acknowledges all waiters at once.
func (w *LogFile) runSyncer() {
	defer w.wg.Done()

	w.mu.Lock()

	for {
		for !w.closed && w.syncErr == nil && !w.synced.Before(w.pending) {
			w.syncCond.Wait()
		}

		if w.closed || w.syncErr != nil {
			w.mu.Unlock()
			return
		}

		target := w.pending
		ch := w.ch

		if err := w.cw.w.Flush(); err != nil {
			w.syncErr = err
			w.doneCond.Broadcast()
			w.mu.Unlock()

			return
		}

		w.mu.Unlock()
		err := ch.Datasync()
		w.mu.Lock()

		switch {
		case ch != w.ch:
			// Rotated while syncing. Rotation made the old file durable
			// before closing it, so the target is covered.
			if w.synced.Before(target) {
				w.synced = target
			}
		case err != nil:
			w.syncErr = err
		case w.synced.Before(target):
			w.synced = target
		}

		w.doneCond.Broadcast()
	}
}

// RotationNeeded reports whether the current file reached the rotation
// threshold.
func (w *LogFile) RotationNeeded() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.cw.n >= w.opts.RotationThreshold
}

// Rotate switches appends to a fresh log file and returns its channel.
// The sequence is ordered so that a crash at any point leaves the store
// recoverable: the version counter moves first, the old file is made
// durable and cut to its exact end, the new file gains its header, and
// only then is the old channel retired.
func (w *LogFile) Rotate() (*Channel, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, ErrClosed
	}

	start := time.Now()
	oldVersion := w.header.Version

	newVersion, err := w.versions.NextLogVersion()
	if err != nil {
		return nil, fmt.Errorf("advance log version: %w", err)
	}

	if err := w.cw.w.Flush(); err != nil {
		return nil, err
	}

	end := w.cw.n
	if err := w.ch.Truncate(end); err != nil {
		return nil, err
	}
	if err := w.ch.Datasync(); err != nil {
		return nil, err
	}

	w.synced = LogPosition{Version: oldVersion, Offset: uint64(end)}

	ch, header, err := w.createVersion(newVersion)
	if err != nil {
		return nil, err
	}

	old := w.ch
	w.ch = ch
	w.header = header
	w.cw = &countingWriter{w: bufio.NewWriterSize(ch, w.opts.BufferSize), n: HeaderSize}
	w.synced = header.StartPosition()
	w.pending = w.synced
	w.doneCond.Broadcast()

	if err := old.Close(); err != nil {
		return ch, fmt.Errorf("close rotated log version %d: %w", oldVersion, err)
	}

	w.opts.Monitor.LogRotated(oldVersion, newVersion, time.Since(start))

	return ch, nil
}

func (w *LogFile) createVersion(version uint64) (*Channel, LogHeader, error) {
	ch, err := OpenChannel(w.fsys, w.files.Path(version), version, os.O_CREATE|os.O_RDWR)
	if err != nil {
		return nil, LogHeader{}, err
	}

	header := LogHeader{
		Format:          FormatVersion,
		Version:         version,
		LastCommittedTx: w.txs.CommittingTransactionID(),
		StoreID:         w.opts.StoreID,
	}

	if err := writeHeader(ch, header); err != nil {
		ch.Close()
		return nil, LogHeader{}, err
	}
	if err := ch.Datasync(); err != nil {
		ch.Close()
		return nil, LogHeader{}, err
	}
	if err := fs.SyncDir(w.fsys, w.files.Directory()); err != nil {
		ch.Close()
		return nil, LogHeader{}, err
	}

	return ch, header, nil
}

// TruncateTo discards everything at and after pos. When pos lies in an
// older version, every later file is emptied down to its header and
// appends continue in the current version.
func (w *LogFile) TruncateTo(pos LogPosition) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrClosed
	}

	cur := w.header.Version

	if pos.Version > cur || (pos.Version == cur && pos.Offset > uint64(w.cw.n)) {
		return fmt.Errorf("truncate position %s is beyond the log end", pos)
	}
	if pos.Offset < HeaderSize {
		return fmt.Errorf("truncate position %s falls inside the file header", pos)
	}

	if err := w.cw.w.Flush(); err != nil {
		return err
	}

	if pos.Version == cur {
		return w.truncateCurrentLocked(int64(pos.Offset))
	}

	if err := truncateFile(w.fsys, w.files.Path(pos.Version), int64(pos.Offset)); err != nil {
		return err
	}

	for v := pos.Version + 1; v < cur; v++ {
		if err := truncateFile(w.fsys, w.files.Path(v), HeaderSize); err != nil {
			return err
		}
	}

	return w.truncateCurrentLocked(HeaderSize)
}

func (w *LogFile) truncateCurrentLocked(off int64) error {
	if err := w.ch.Truncate(off); err != nil {
		return err
	}
	if err := w.ch.Datasync(); err != nil {
		return err
	}
	if err := w.ch.SetPosition(off); err != nil {
		return err
	}

	w.cw = &countingWriter{w: bufio.NewWriterSize(w.ch, w.opts.BufferSize), n: off}
	w.synced = LogPosition{Version: w.header.Version, Offset: uint64(off)}
	w.pending = w.synced
	w.doneCond.Broadcast()

	return nil
}

func truncateFile(fsys fs.FileSystem, path string, size int64) error {
	f, err := fsys.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return err
	}

	if err := f.Truncate(size); err != nil {
		f.Close()
		return err
	}
	if err := f.Datasync(); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

// Close flushes outstanding entries, makes them durable and releases the
// channel.
func (w *LogFile) Close() error {
	w.mu.Lock()

	if w.closed {
		w.mu.Unlock()
		return nil
	}

	flushErr := w.cw.w.Flush()

	var syncErr error
	if flushErr == nil {
		syncErr = w.ch.Datasync()
	}

	w.closed = true
	w.syncCond.Broadcast()
	w.doneCond.Broadcast()
	ch := w.ch
	w.mu.Unlock()

	w.wg.Wait()

	closeErr := ch.Close()

	switch {
	case flushErr != nil:
		return flushErr
	case syncErr != nil:
		return syncErr
	default:
		return closeErr
	}
}

func calculateBufferSize(numCPU int) int {
	blocks := numCPU/4 + 1
	if blocks > 8 {
		blocks = 8
	}
	if blocks < 1 {
		blocks = 1
	}

	return blocks * 512 * 1024
}
