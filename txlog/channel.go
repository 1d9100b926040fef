package txlog

import (
	"fmt"
	"io"

	"github.com/neuritedb/neurite/internal/fs"
)

// Channel is a handle to a single log file version. It tracks its own
// write position so that appends, positioned reads and truncation all
// observe the same cursor.
type Channel struct {
	f       fs.File
	path    string
	version uint64
	pos     int64
}

// OpenChannel opens the log file at path as version. The flag argument
// takes the usual os.OpenFile flags.
func OpenChannel(fsys fs.FileSystem, path string, version uint64, flag int) (*Channel, error) {
	f, err := fsys.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log version %d: %w", version, err)
	}

	return &Channel{f: f, path: path, version: version}, nil
}

// Version returns the log version this channel serves.
func (c *Channel) Version() uint64 { return c.version }

// Path returns the file path backing this channel.
func (c *Channel) Path() string { return c.path }

// Position returns the current write cursor.
func (c *Channel) Position() int64 { return c.pos }

// SetPosition moves the write cursor to off.
func (c *Channel) SetPosition(off int64) error {
	if _, err := c.f.Seek(off, io.SeekStart); err != nil {
		return fmt.Errorf("seek log version %d to %d: %w", c.version, off, err)
	}

	c.pos = off

	return nil
}

// Write appends p at the current cursor and advances it.
func (c *Channel) Write(p []byte) (int, error) {
	n, err := c.f.Write(p)
	c.pos += int64(n)

	return n, err
}

// ReadAt reads from the file at the given offset without moving the
// write cursor.
func (c *Channel) ReadAt(p []byte, off int64) (int, error) {
	return c.f.ReadAt(p, off)
}

// Size returns the current file size.
func (c *Channel) Size() (int64, error) {
	info, err := c.f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat log version %d: %w", c.version, err)
	}

	return info.Size(), nil
}

// Truncate cuts the file to size and pulls the cursor back when it was
// beyond the new end.
func (c *Channel) Truncate(size int64) error {
	if err := c.f.Truncate(size); err != nil {
		return fmt.Errorf("truncate log version %d to %d: %w", c.version, size, err)
	}

	if c.pos > size {
		if err := c.SetPosition(size); err != nil {
			return err
		}
	}

	return nil
}

// ReadHeader reads and validates the file header without moving the
// write cursor.
func (c *Channel) ReadHeader() (LogHeader, error) {
	return readHeader(c.f)
}

// WriteHeader writes h at the start of the file and leaves the cursor
// after it.
func (c *Channel) WriteHeader(h LogHeader) error {
	if err := c.SetPosition(0); err != nil {
		return err
	}

	return writeHeader(c, h)
}

// Sync flushes file data and metadata.
func (c *Channel) Sync() error { return c.f.Sync() }

// Datasync flushes file data.
func (c *Channel) Datasync() error { return c.f.Datasync() }

// Close closes the underlying file.
func (c *Channel) Close() error { return c.f.Close() }
