package store

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/neuritedb/neurite/internal/fs"
	"github.com/neuritedb/neurite/resource"
)

// saveToFile writes a file through a temp file that is synced and
// renamed into place, so readers never observe a partial file. Writes
// go through a buffered writer and are throttled by ctrl when an IO
// limit is configured.
func saveToFile(ctx context.Context, fsys fs.FileSystem, ctrl *resource.Controller, path string, writeFunc func(io.Writer) error) error {
	tmp := path + ".tmp"

	f, err := fsys.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	remove := func() {
		f.Close()
		fsys.Remove(tmp)
	}

	buf := bufio.NewWriterSize(resource.NewRateLimitedWriter(ctx, f, ctrl), 256*1024)

	if err := writeFunc(buf); err != nil {
		remove()

		return fmt.Errorf("write %s: %w", tmp, err)
	}

	if err := buf.Flush(); err != nil {
		remove()

		return fmt.Errorf("flush %s: %w", tmp, err)
	}

	if err := f.Sync(); err != nil {
		remove()

		return fmt.Errorf("sync %s: %w", tmp, err)
	}

	if err := f.Close(); err != nil {
		fsys.Remove(tmp)

		return fmt.Errorf("close %s: %w", tmp, err)
	}

	if err := fsys.Rename(tmp, path); err != nil {
		fsys.Remove(tmp)

		return fmt.Errorf("rename %s: %w", tmp, err)
	}

	return fs.SyncDir(fsys, filepath.Dir(path))
}

// writeFileAtomic is saveToFile for contents already in memory.
func writeFileAtomic(ctx context.Context, fsys fs.FileSystem, ctrl *resource.Controller, path string, data []byte) error {
	return saveToFile(ctx, fsys, ctrl, path, func(w io.Writer) error {
		_, err := w.Write(data)

		return err
	})
}
