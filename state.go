package neurite

import "sync"

// Status describes the lifecycle state of a database handle.
type Status uint32

const (
	// StatusStarting means Open is still running. Startup includes crash
	// recovery, so this phase can take a while on large logs.
	StatusStarting Status = iota

	// StatusStarted means the database accepts transactions.
	StatusStarted

	// StatusFailed means startup or recovery failed. The cause is available
	// through CauseOfFailure.
	StatusFailed

	// StatusAborted means the availability guard stopped the database
	// before recovery finished.
	StatusAborted

	// StatusStopped means the database was closed.
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusStarting:
		return "starting"
	case StatusStarted:
		return "started"
	case StatusFailed:
		return "failed"
	case StatusAborted:
		return "aborted"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// stateService tracks the lifecycle status and the error that ended it.
// A failed or aborted handle stays queryable so callers can inspect what
// went wrong after Open returned.
type stateService struct {
	mu     sync.RWMutex
	status Status
	cause  error
}

func (s *stateService) transition(to Status) {
	s.mu.Lock()
	s.status = to
	s.mu.Unlock()
}

func (s *stateService) fail(to Status, cause error) {
	s.mu.Lock()
	s.status = to
	s.cause = cause
	s.mu.Unlock()
}

func (s *stateService) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *stateService) Cause() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cause
}

// require returns nil when the database accepts work, or the error that
// explains why it does not. For failed and aborted handles the original
// cause is returned so callers can match its sentinel.
func (s *stateService) require() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.status {
	case StatusStarted:
		return nil
	case StatusStopped:
		return ErrClosed
	case StatusFailed, StatusAborted:
		return s.cause
	default:
		return ErrUnavailable
	}
}
