// Package clock provides the server-authoritative time source used for all
// duration math. Client supplied timestamps are never consulted.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current server time.
type Clock interface {
	Now() time.Time
}

// System is the wall clock, normalized to UTC.
type System struct{}

// Now returns time.Now in UTC.
func (System) Now() time.Time {
	return time.Now().UTC()
}

// Manual is a clock that only moves when told to. It is safe for concurrent use.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a manual clock set to start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

// Set moves the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = t
}
