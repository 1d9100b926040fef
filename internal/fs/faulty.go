package fs

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// Fault describes how a matched file misbehaves. The zero value injects
// nothing; set FailAfterBytes to -1 to leave writes unlimited while still
// failing sync or close.
type Fault struct {
	// FailAfterBytes fails any write that would push this file past the
	// given byte count. Negative disables the limit.
	FailAfterBytes int64

	// FailOnSync fails Sync and Datasync. Data already written stays in
	// the page cache, which is exactly the state a crash before flush
	// leaves behind.
	FailOnSync bool

	// FailOnClose fails Close after closing the real file.
	FailOnClose bool

	// Err is returned for injected failures. Nil falls back to the
	// filesystem-wide error.
	Err error
}

// FaultyFS wraps a FileSystem and injects failures into files whose path
// matches a registered rule. Crash tests use it to cut commits and
// checkpoints off at chosen byte boundaries.
type FaultyFS struct {
	FS FileSystem

	// Err is the fallback error for rules that carry none.
	Err error

	mu      sync.Mutex
	rules   map[string]Fault
	written int64
	limit   int64
}

// NewFaultyFS wraps fsys, or the local filesystem when nil. A fresh
// FaultyFS injects nothing until a rule or limit is set.
func NewFaultyFS(fsys FileSystem) *FaultyFS {
	if fsys == nil {
		fsys = Default
	}

	return &FaultyFS{
		FS:    fsys,
		Err:   fmt.Errorf("injected fault error"),
		rules: make(map[string]Fault),
		limit: -1,
	}
}

// AddRule injects fault into every file whose path contains pattern.
func (f *FaultyFS) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.rules[pattern] = fault
}

// SetLimit caps the bytes written through the whole filesystem; writes
// beyond it fail regardless of per-file rules.
func (f *FaultyFS) SetLimit(limit int64) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.limit = limit
}

// GetWritten returns the bytes written through the filesystem so far.
func (f *FaultyFS) GetWritten() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.written
}

// match resolves the fault for name. With several matching rules the
// last one registered wins, which map iteration does not guarantee;
// tests register disjoint patterns.
func (f *FaultyFS) match(name string) Fault {
	f.mu.Lock()
	defer f.mu.Unlock()

	var fault Fault

	fault.FailAfterBytes = -1

	for pattern, rule := range f.rules {
		if strings.Contains(name, pattern) {
			fault = rule
		}
	}

	if fault.Err == nil {
		fault.Err = f.Err
	}

	return fault
}

// charge accounts len bytes against the global limit and reports whether
// the write may proceed.
func (f *FaultyFS) charge(n int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.limit >= 0 && f.written+n > f.limit {
		return false
	}

	f.written += n

	return true
}

func (f *FaultyFS) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	file, err := f.FS.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}

	return &faultyFile{File: file, fs: f, fault: f.match(name)}, nil
}

func (f *FaultyFS) Remove(name string) error             { return f.FS.Remove(name) }
func (f *FaultyFS) Rename(oldpath, newpath string) error { return f.FS.Rename(oldpath, newpath) }
func (f *FaultyFS) Stat(name string) (os.FileInfo, error) { return f.FS.Stat(name) }
func (f *FaultyFS) MkdirAll(path string, perm os.FileMode) error {
	return f.FS.MkdirAll(path, perm)
}
func (f *FaultyFS) ReadDir(name string) ([]os.DirEntry, error) { return f.FS.ReadDir(name) }
func (f *FaultyFS) Truncate(name string, size int64) error     { return f.FS.Truncate(name, size) }

type faultyFile struct {
	File
	fs      *FaultyFS
	fault   Fault
	written int64
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	if ff.fault.FailAfterBytes >= 0 && ff.written+int64(len(p)) > ff.fault.FailAfterBytes {
		return 0, ff.fault.Err
	}

	if !ff.fs.charge(int64(len(p))) {
		return 0, ff.fs.Err
	}

	n, err := ff.File.Write(p)
	ff.written += int64(n)

	return n, err
}

func (ff *faultyFile) Sync() error {
	if ff.fault.FailOnSync {
		return ff.fault.Err
	}

	return ff.File.Sync()
}

// Datasync fails alongside Sync so both flush paths are covered.
func (ff *faultyFile) Datasync() error {
	if ff.fault.FailOnSync {
		return ff.fault.Err
	}

	return ff.File.Datasync()
}

func (ff *faultyFile) Close() error {
	if ff.fault.FailOnClose {
		ff.File.Close()

		return ff.fault.Err
	}

	return ff.File.Close()
}
