package neurite

import (
	"sync/atomic"
	"time"

	"github.com/neuritedb/neurite/checkpoint"
)

// Metrics is a point-in-time snapshot of database counters.
type Metrics struct {
	// Commits is the number of transactions committed through this handle.
	Commits int64

	// Rotations is the number of completed log rotations.
	Rotations int64

	// ForcedFlushes counts flushes forced by group-commit coalescing.
	ForcedFlushes int64

	// Checkpoints is the number of checkpoint records written.
	Checkpoints int64

	// Recoveries is the number of recovery runs started.
	Recoveries int64

	// RecoveredTransactions is the total number of transactions replayed
	// across all recovery runs.
	RecoveredTransactions int64
}

// metricsRecorder observes log, checkpoint and recovery events and keeps
// the counters Metrics snapshots. It satisfies txlog.Monitor,
// checkpoint.Monitor and recovery.Monitor.
type metricsRecorder struct {
	commits       atomic.Int64
	rotations     atomic.Int64
	forcedFlushes atomic.Int64
	checkpoints   atomic.Int64
	recoveries    atomic.Int64
	recoveredTx   atomic.Int64
}

func (m *metricsRecorder) LogRotated(oldVersion, newVersion uint64, elapsed time.Duration) {
	m.rotations.Add(1)
}

func (m *metricsRecorder) LogForced() {
	m.forcedFlushes.Add(1)
}

func (m *metricsRecorder) CheckpointWritten(info checkpoint.Info, elapsed time.Duration) {
	m.checkpoints.Add(1)
}

func (m *metricsRecorder) RecoveryRequired() {
	m.recoveries.Add(1)
}

func (m *metricsRecorder) ReverseRecoveryCompleted(lowestTx uint64) {}

func (m *metricsRecorder) RecoveryCompleted(recovered int, elapsed time.Duration) {
	m.recoveredTx.Add(int64(recovered))
}

func (m *metricsRecorder) snapshot() Metrics {
	return Metrics{
		Commits:               m.commits.Load(),
		Rotations:             m.rotations.Load(),
		ForcedFlushes:         m.forcedFlushes.Load(),
		Checkpoints:           m.checkpoints.Load(),
		Recoveries:            m.recoveries.Load(),
		RecoveredTransactions: m.recoveredTx.Load(),
	}
}
