package recovery

import "time"

// Monitor receives recovery lifecycle events. Implementations must not
// block; the engine calls them synchronously.
type Monitor interface {
	// RecoveryRequired fires when the engine starts working on a store
	// that needs recovery.
	RecoveryRequired()

	// ReverseRecoveryCompleted fires when the backward walk has located
	// the replay start point. lowestTx is the lowest transaction id that
	// will be replayed, or 0 when nothing needs replaying.
	ReverseRecoveryCompleted(lowestTx uint64)

	// RecoveryCompleted fires after the fresh checkpoint is on disk.
	RecoveryCompleted(recovered int, elapsed time.Duration)
}

// NoopMonitor discards all events.
type NoopMonitor struct{}

func (NoopMonitor) RecoveryRequired()                                {}
func (NoopMonitor) ReverseRecoveryCompleted(lowestTx uint64)         {}
func (NoopMonitor) RecoveryCompleted(recovered int, _ time.Duration) {}

// MultiMonitor fans events out to several monitors.
func MultiMonitor(monitors ...Monitor) Monitor {
	return multiMonitor(monitors)
}

type multiMonitor []Monitor

func (m multiMonitor) RecoveryRequired() {
	for _, mon := range m {
		mon.RecoveryRequired()
	}
}

func (m multiMonitor) ReverseRecoveryCompleted(lowestTx uint64) {
	for _, mon := range m {
		mon.ReverseRecoveryCompleted(lowestTx)
	}
}

func (m multiMonitor) RecoveryCompleted(recovered int, elapsed time.Duration) {
	for _, mon := range m {
		mon.RecoveryCompleted(recovered, elapsed)
	}
}
