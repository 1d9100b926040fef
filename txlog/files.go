package txlog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/neuritedb/neurite/internal/fs"
)

const (
	// LogFilePrefix and LogFileSuffix bound transaction log file names of
	// the form txlog_<version>.log.
	LogFilePrefix = "txlog_"
	LogFileSuffix = ".log"

	// CheckpointFileName is the fixed name of the separate checkpoint log.
	CheckpointFileName = "checkpoint.log"

	// DirectoryName is the subdirectory of the database that holds all
	// transaction log files.
	DirectoryName = "txlogs"
)

// Files is a view over the transaction log directory. It resolves
// versions to paths and enumerates what is on disk, without holding any
// file open.
type Files struct {
	fsys fs.FileSystem
	dir  string
}

// NewFiles returns a view over dir using fsys.
func NewFiles(fsys fs.FileSystem, dir string) *Files {
	if fsys == nil {
		fsys = fs.Default
	}

	return &Files{fsys: fsys, dir: dir}
}

// FS returns the file system the view operates on.
func (f *Files) FS() fs.FileSystem { return f.fsys }

// Directory returns the transaction log directory.
func (f *Files) Directory() string { return f.dir }

// Path returns the file path for a log version.
func (f *Files) Path(version uint64) string {
	return filepath.Join(f.dir, fmt.Sprintf("%s%d%s", LogFilePrefix, version, LogFileSuffix))
}

// CheckpointPath returns the path of the separate checkpoint log.
func (f *Files) CheckpointPath() string {
	return filepath.Join(f.dir, CheckpointFileName)
}

// Exists reports whether the file for version is present.
func (f *Files) Exists(version uint64) (bool, error) {
	_, err := f.fsys.Stat(f.Path(version))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// Versions lists the log versions present on disk in ascending order.
// A missing directory reads as empty.
func (f *Files) Versions() ([]uint64, error) {
	entries, err := f.fsys.ReadDir(f.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("list transaction logs in %s: %w", f.dir, err)
	}

	var versions []uint64

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		v, ok := ParseVersion(e.Name())
		if !ok {
			continue
		}

		versions = append(versions, v)
	}

	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })

	return versions, nil
}

// LowestVersion returns the smallest version on disk, if any.
func (f *Files) LowestVersion() (uint64, bool, error) {
	versions, err := f.Versions()
	if err != nil || len(versions) == 0 {
		return 0, false, err
	}

	return versions[0], true, nil
}

// HighestVersion returns the largest version on disk, if any.
func (f *Files) HighestVersion() (uint64, bool, error) {
	versions, err := f.Versions()
	if err != nil || len(versions) == 0 {
		return 0, false, err
	}

	return versions[len(versions)-1], true, nil
}

// OpenForRead opens the file for version read-only and validates its
// header. ErrIncompleteHeader passes through so callers can treat
// half-created files as empty streams.
func (f *Files) OpenForRead(version uint64) (*Channel, LogHeader, error) {
	ch, err := OpenChannel(f.fsys, f.Path(version), version, os.O_RDONLY)
	if err != nil {
		return nil, LogHeader{}, err
	}

	header, err := readHeader(ch.f)
	if err != nil {
		ch.Close()

		if errors.Is(err, ErrIncompleteHeader) {
			return nil, LogHeader{}, ErrIncompleteHeader
		}

		return nil, LogHeader{}, fmt.Errorf("log version %d: %w", version, err)
	}

	if header.Version != version {
		ch.Close()

		return nil, LogHeader{}, fmt.Errorf(
			"log file %s declares version %d", f.Path(version), header.Version)
	}

	return ch, header, nil
}

// ParseVersion extracts the log version from a file name of the form
// txlog_<version>.log.
func ParseVersion(name string) (uint64, bool) {
	if !strings.HasPrefix(name, LogFilePrefix) || !strings.HasSuffix(name, LogFileSuffix) {
		return 0, false
	}

	digits := strings.TrimSuffix(strings.TrimPrefix(name, LogFilePrefix), LogFileSuffix)
	if digits == "" {
		return 0, false
	}

	v, err := strconv.ParseUint(digits, 10, 64)
	if err != nil {
		return 0, false
	}

	return v, true
}

// LegacyLogFiles lists transaction log files that sit directly in the
// database directory instead of the txlogs subdirectory. Such files come
// from older layouts and are never moved automatically.
func LegacyLogFiles(fsys fs.FileSystem, dbDir string) ([]string, error) {
	if fsys == nil {
		fsys = fs.Default
	}

	entries, err := fsys.ReadDir(dbDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("list %s: %w", dbDir, err)
	}

	var found []string

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		if _, ok := ParseVersion(e.Name()); ok {
			found = append(found, filepath.Join(dbDir, e.Name()))
		}
	}

	return found, nil
}
