package poller

import (
	"sync"
	"time"
)

// PollGate debounces poll passes. Eager callers may trigger polling on every
// page load; the gate turns calls within the configured interval of the last
// granted pass into no-ops.
type PollGate struct {
	mu       sync.Mutex
	interval time.Duration
	lastPass time.Time
}

// NewPollGate creates a gate with the given minimum interval between passes.
// A non-positive interval falls back to one second.
func NewPollGate(interval time.Duration) *PollGate {
	if interval <= 0 {
		interval = time.Second
	}
	return &PollGate{interval: interval}
}

// TryPass reports whether a poll pass may run now. A granted pass moves the
// debounce window forward.
func (g *PollGate) TryPass() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now()
	if !g.lastPass.IsZero() && now.Sub(g.lastPass) < g.interval {
		return false
	}
	g.lastPass = now
	return true
}

// Reset clears the debounce window so the next TryPass is granted.
func (g *PollGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastPass = time.Time{}
}
