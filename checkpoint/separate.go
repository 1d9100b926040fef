package checkpoint

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/neuritedb/neurite/internal/fs"
	"github.com/neuritedb/neurite/txlog"
)

// Separate keeps checkpoint records in their own fixed-name file beside
// the transaction logs. The file reuses the log framing: a header
// followed by checkpoint entries, appended and fdatasynced one by one.
type Separate struct {
	fsys    fs.FileSystem
	files   *txlog.Files
	storeID uuid.UUID
	opts    Options

	mu sync.Mutex
	ch *txlog.Channel
}

// NewSeparate returns a separate-file layout over files.
func NewSeparate(fsys fs.FileSystem, files *txlog.Files, storeID uuid.UUID, optFns ...func(o *Options)) *Separate {
	if fsys == nil {
		fsys = fs.Default
	}

	return &Separate{
		fsys:    fsys,
		files:   files,
		storeID: storeID,
		opts:    applyOptions(optFns),
	}
}

// FindLatest returns the last durable record in the checkpoint file.
func (l *Separate) FindLatest() (Info, bool, error) {
	infos, err := l.Reachable()
	if err != nil || len(infos) == 0 {
		return Info{}, false, err
	}

	return infos[len(infos)-1], true, nil
}

// Reachable reads every durable record from the checkpoint file. A
// missing or half-created file reads as no checkpoints; an undecodable
// tail ends the scan.
func (l *Separate) Reachable() ([]Info, error) {
	ch, err := txlog.OpenChannel(l.fsys, l.files.CheckpointPath(), 0, os.O_RDONLY)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}
	defer ch.Close()

	if _, err := ch.ReadHeader(); err != nil {
		if errors.Is(err, txlog.ErrIncompleteHeader) {
			return nil, nil
		}

		return nil, fmt.Errorf("checkpoint file %s: %w", l.files.CheckpointPath(), err)
	}

	size, err := ch.Size()
	if err != nil {
		return nil, err
	}

	infos, _ := scanEntries(ch, size)

	return infos, nil
}

// scanEntries collects the decodable records and reports where they end.
// A torn final record is invisible, exactly as if the checkpoint had
// never been written.
func scanEntries(ch *txlog.Channel, size int64) ([]Info, int64) {
	br := bufio.NewReader(io.NewSectionReader(ch, txlog.HeaderSize, size-txlog.HeaderSize))

	var infos []Info

	off := int64(txlog.HeaderSize)

	for {
		entry, n, err := txlog.Decode(br)
		if err != nil {
			return infos, off
		}

		if cp, ok := entry.(txlog.CheckpointEntry); ok {
			infos = append(infos, fromEntry(cp, txlog.LogPosition{Offset: uint64(off)}))
		}

		off += n
	}
}

// Write appends a record to the checkpoint file and fdatasyncs it.
func (l *Separate) Write(ctx context.Context, info Info) (txlog.LogPosition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := time.Now()

	if err := l.ensureOpenLocked(); err != nil {
		return txlog.UnspecifiedPosition, err
	}

	entry := toEntry(info)

	size, err := txlog.EncodedSize(entry, txlog.CompressionNone)
	if err != nil {
		return txlog.UnspecifiedPosition, err
	}
	if err := l.opts.IO.AcquireIO(ctx, int(size)); err != nil {
		return txlog.UnspecifiedPosition, err
	}

	off := l.ch.Position()

	if _, err := txlog.Encode(l.ch, entry, txlog.CompressionNone); err != nil {
		return txlog.UnspecifiedPosition, fmt.Errorf("append checkpoint record: %w", err)
	}
	if err := l.ch.Datasync(); err != nil {
		return txlog.UnspecifiedPosition, fmt.Errorf("flush checkpoint record: %w", err)
	}

	entryPos := txlog.LogPosition{Offset: uint64(off)}

	info.EntryPosition = entryPos
	l.opts.Monitor.CheckpointWritten(info, time.Since(start))

	return entryPos, nil
}

// ensureOpenLocked opens the checkpoint file for appending, creating it
// with a header when new, and positions the cursor after the last
// decodable record.
func (l *Separate) ensureOpenLocked() error {
	if l.ch != nil {
		return nil
	}

	path := l.files.CheckpointPath()

	ch, err := txlog.OpenChannel(l.fsys, path, 0, os.O_CREATE|os.O_RDWR)
	if err != nil {
		return err
	}

	size, err := ch.Size()
	if err != nil {
		ch.Close()
		return err
	}

	if size < txlog.HeaderSize {
		header := txlog.LogHeader{
			Format:  txlog.FormatVersion,
			StoreID: l.storeID,
		}

		if err := ch.Truncate(0); err != nil {
			ch.Close()
			return err
		}
		if err := ch.WriteHeader(header); err != nil {
			ch.Close()
			return err
		}
		if err := ch.Datasync(); err != nil {
			ch.Close()
			return err
		}
		if err := fs.SyncDir(l.fsys, l.files.Directory()); err != nil {
			ch.Close()
			return err
		}

		l.ch = ch
		return nil
	}

	header, err := ch.ReadHeader()
	if err != nil {
		ch.Close()
		return fmt.Errorf("checkpoint file %s: %w", path, err)
	}
	if l.storeID != uuid.Nil && header.StoreID != l.storeID {
		ch.Close()
		return fmt.Errorf("checkpoint file %s belongs to store %s", path, header.StoreID)
	}

	_, end := scanEntries(ch, size)

	if err := ch.SetPosition(end); err != nil {
		ch.Close()
		return err
	}

	l.ch = ch
	return nil
}

// Close releases the checkpoint file handle.
func (l *Separate) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ch == nil {
		return nil
	}

	err := l.ch.Close()
	l.ch = nil

	return err
}
