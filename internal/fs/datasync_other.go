//go:build !linux

package fs

// Datasync falls back to a full Sync on platforms without fdatasync.
func (f *localFile) Datasync() error {
	return f.Sync()
}
