package recovery

import (
	"errors"
	"io"

	"github.com/neuritedb/neurite/checkpoint"
	"github.com/neuritedb/neurite/txlog"
)

// Required reports whether the log holds work a restart must redo:
// transactional entries past the latest checkpoint, or a corrupt tail.
// It only reads, so it is safe against an unlocked, possibly crashed
// directory, and calling it repeatedly returns the same answer.
func Required(files *txlog.Files, layout checkpoint.Layout) (bool, error) {
	latest, ok, err := layout.FindLatest()
	if err != nil {
		return false, err
	}

	var from txlog.LogPosition

	if ok {
		from = latest.Position
	} else {
		versions, err := files.Versions()
		if err != nil {
			return false, err
		}

		if len(versions) == 0 {
			return false, nil
		}

		from = txlog.StartPosition(versions[0])
	}

	r, err := txlog.NewReader(files, from)
	if errors.Is(err, txlog.ErrIncompleteHeader) {
		// A file that never got its header is as good as absent.
		return false, nil
	}

	if err != nil {
		return false, err
	}
	defer r.Close()

	for {
		entry, _, err := r.Next()
		if errors.Is(err, io.EOF) {
			return false, nil
		}

		var corrupt *txlog.CorruptionError
		if errors.As(err, &corrupt) {
			return true, nil
		}

		if err != nil {
			return false, err
		}

		// Checkpoint records past the covered position do not need
		// replay, and unknown entry kinds are skipped on replay too.
		switch entry.(type) {
		case txlog.CheckpointEntry, txlog.UnknownEntry:
		default:
			return true, nil
		}
	}
}

// MissingLogs reports whether the store has committed transactions on
// record while the log directory holds no log files at all.
func MissingLogs(files *txlog.Files, lastCommittedTx uint64) (bool, error) {
	if lastCommittedTx == 0 {
		return false, nil
	}

	versions, err := files.Versions()
	if err != nil {
		return false, err
	}

	return len(versions) == 0, nil
}
