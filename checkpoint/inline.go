package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/neuritedb/neurite/txlog"
)

// Inline stores checkpoint records as regular entries in the transaction
// log. Reads scan the log and filter; writes append through the live log
// writer, which must be bound before the first Write.
type Inline struct {
	files *txlog.Files
	opts  Options

	mu  sync.Mutex
	app Appender
}

// NewInline returns an inline layout over files.
func NewInline(files *txlog.Files, optFns ...func(o *Options)) *Inline {
	return &Inline{files: files, opts: applyOptions(optFns)}
}

// Bind wires the layout to the log writer. Reads work unbound; Write does
// not.
func (l *Inline) Bind(app Appender) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.app = app
}

// FindLatest returns the most recent checkpoint entry in the log.
func (l *Inline) FindLatest() (Info, bool, error) {
	infos, err := l.Reachable()
	if err != nil || len(infos) == 0 {
		return Info{}, false, err
	}

	return infos[len(infos)-1], true, nil
}

// Reachable scans every log version and collects checkpoint entries.
// Undecodable tail data ends the scan; whatever was collected before it
// is still reachable.
func (l *Inline) Reachable() ([]Info, error) {
	low, ok, err := l.files.LowestVersion()
	if err != nil || !ok {
		return nil, err
	}

	r, err := txlog.NewReader(l.files, txlog.LogPosition{Version: low, Offset: txlog.HeaderSize})
	if err != nil {
		if errors.Is(err, txlog.ErrIncompleteHeader) {
			return nil, nil
		}

		return nil, err
	}
	defer r.Close()

	var infos []Info

	for {
		entry, pos, err := r.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return infos, nil
			}

			var corrupt *txlog.CorruptionError
			if errors.As(err, &corrupt) {
				return infos, nil
			}

			return nil, err
		}

		if cp, ok := entry.(txlog.CheckpointEntry); ok {
			infos = append(infos, fromEntry(cp, pos))
		}
	}
}

// Write appends a checkpoint entry to the log and flushes it.
func (l *Inline) Write(ctx context.Context, info Info) (txlog.LogPosition, error) {
	l.mu.Lock()
	app := l.app
	l.mu.Unlock()

	if app == nil {
		return txlog.UnspecifiedPosition, fmt.Errorf("inline checkpoint layout is not bound to a log writer")
	}

	start := time.Now()

	entry := toEntry(info)

	size, err := txlog.EncodedSize(entry, txlog.CompressionNone)
	if err != nil {
		return txlog.UnspecifiedPosition, err
	}
	if err := l.opts.IO.AcquireIO(ctx, int(size)); err != nil {
		return txlog.UnspecifiedPosition, err
	}

	pos, err := app.Append(entry)
	if err != nil {
		return txlog.UnspecifiedPosition, fmt.Errorf("append checkpoint entry: %w", err)
	}
	if err := app.Flush(); err != nil {
		return txlog.UnspecifiedPosition, fmt.Errorf("flush checkpoint entry: %w", err)
	}

	info.EntryPosition = pos
	l.opts.Monitor.CheckpointWritten(info, time.Since(start))

	return pos, nil
}

// Close is a no-op; the bound log writer is owned elsewhere.
func (l *Inline) Close() error { return nil }
