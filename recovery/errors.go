package recovery

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLogsMissing is returned when the metadata records committed
	// transactions but no transaction log files exist to replay.
	ErrLogsMissing = errors.New("recovery: transaction logs are missing and recovery is not possible")

	// ErrStartAborted is returned when the availability guard stops the
	// database while recovery is running. It is re-raised on every
	// transaction attempt until startup is retried.
	ErrStartAborted = errors.New("recovery: database start aborted")

	// ErrStoreIDMismatch is returned when the latest checkpoint belongs
	// to a different store than the one being recovered.
	ErrStoreIDMismatch = errors.New("recovery: checkpoint belongs to a different store")

	// ErrMissingIDFiles is returned when auxiliary id files are absent
	// and forced recovery is not enabled.
	ErrMissingIDFiles = errors.New("recovery: id files are missing")
)

// MissingLogsError carries the directory that was expected to hold the
// transaction logs.
type MissingLogsError struct {
	Dir string
}

func (e *MissingLogsError) Error() string {
	return fmt.Sprintf("%s: no log files in %s", ErrLogsMissing, e.Dir)
}

func (e *MissingLogsError) Unwrap() error { return ErrLogsMissing }

// MissingFilesError lists the id files recovery found absent.
type MissingFilesError struct {
	Files []string
}

func (e *MissingFilesError) Error() string {
	return fmt.Sprintf("%s: %s (set fail_on_missing_files to false to rebuild them)",
		ErrMissingIDFiles, strings.Join(e.Files, ", "))
}

func (e *MissingFilesError) Unwrap() error { return ErrMissingIDFiles }

// LegacyLogLocationError reports transaction log files found in the
// database root, the deprecated location, instead of the log directory.
type LegacyLogLocationError struct {
	Files    []string
	Expected string
}

func (e *LegacyLogLocationError) Error() string {
	return fmt.Sprintf("recovery: transaction logs found in a deprecated location: %s; move them to %s",
		strings.Join(e.Files, ", "), e.Expected)
}
