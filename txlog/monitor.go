package txlog

import "time"

// Monitor receives writer lifecycle events. Implementations must be safe
// for concurrent use.
type Monitor interface {
	// LogRotated fires after a rotation completed.
	LogRotated(oldVersion, newVersion uint64, elapsed time.Duration)

	// LogForced fires after an explicit flush made appended entries
	// durable.
	LogForced()
}

// NoopMonitor discards all events.
type NoopMonitor struct{}

func (NoopMonitor) LogRotated(oldVersion, newVersion uint64, elapsed time.Duration) {}
func (NoopMonitor) LogForced()                                                      {}

// MultiMonitor fans events out to several monitors.
func MultiMonitor(monitors ...Monitor) Monitor {
	return multiMonitor(monitors)
}

type multiMonitor []Monitor

func (m multiMonitor) LogRotated(oldVersion, newVersion uint64, elapsed time.Duration) {
	for _, mon := range m {
		mon.LogRotated(oldVersion, newVersion, elapsed)
	}
}

func (m multiMonitor) LogForced() {
	for _, mon := range m {
		mon.LogForced()
	}
}
