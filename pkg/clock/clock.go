// Package clock supplies the time source used for expiry, cooldown and
// window math.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current time. Successive calls never go backwards.
type Clock interface {
	Now() time.Time
}

// System reads the wall clock in UTC.
type System struct{}

func (System) Now() time.Time {
	return time.Now().UTC()
}

// Monotonic wraps a clock so that a wall clock step backwards is never
// observed: it keeps returning the latest time seen until the source
// catches up.
type Monotonic struct {
	mu   sync.Mutex
	src  Clock
	last time.Time
}

// NewMonotonic wraps src.
func NewMonotonic(src Clock) *Monotonic {
	return &Monotonic{src: src}
}

func (m *Monotonic) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := m.src.Now()
	if t.Before(m.last) {
		return m.last
	}
	m.last = t
	return t
}

// Manual is a clock driven by tests.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a clock frozen at t.
func NewManual(t time.Time) *Manual {
	return &Manual{now: t}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d. Negative durations are ignored.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.now = m.now.Add(d)
	}
	return m.now
}

var (
	_ Clock = System{}
	_ Clock = (*Monotonic)(nil)
	_ Clock = (*Manual)(nil)
)
