//go:build linux

package fs

import "golang.org/x/sys/unix"

// Datasync flushes file data without forcing a metadata update when the
// platform supports it.
func (f *localFile) Datasync() error {
	return unix.Fdatasync(int(f.Fd()))
}
