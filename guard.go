package neurite

import (
	"fmt"
	"sync"
)

// AvailabilityGuard lets an operator take the database out of service.
// While stopped, new transactions are refused and an in-flight recovery
// aborts instead of continuing.
//
// The zero value is not usable; construct one with NewAvailabilityGuard.
type AvailabilityGuard struct {
	mu      sync.RWMutex
	stopped bool
	reason  string
}

// NewAvailabilityGuard returns a guard in the available state.
func NewAvailabilityGuard() *AvailabilityGuard {
	return &AvailabilityGuard{}
}

// Stop takes the database out of service. The reason is reported to callers
// that are refused.
func (g *AvailabilityGuard) Stop(reason string) {
	g.mu.Lock()
	g.stopped = true
	g.reason = reason
	g.mu.Unlock()
}

// Resume puts the database back in service.
func (g *AvailabilityGuard) Resume() {
	g.mu.Lock()
	g.stopped = false
	g.reason = ""
	g.mu.Unlock()
}

// Available reports whether the database is in service.
func (g *AvailabilityGuard) Available() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return !g.stopped
}

// Require returns nil when the database is in service and an error wrapping
// ErrUnavailable otherwise.
func (g *AvailabilityGuard) Require() error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if !g.stopped {
		return nil
	}
	if g.reason == "" {
		return ErrUnavailable
	}
	return fmt.Errorf("%w: %s", ErrUnavailable, g.reason)
}
