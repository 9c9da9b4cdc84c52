// Package timekeeper abstracts the clock the server and its extensions
// read. Times are seconds on a monotonic scale whose epoch is arbitrary
// but fixed for the life of the process.
package timekeeper

import (
	"sync"
	"time"
)

// TimeKeeper reports the current time in seconds. Implementations must be
// safe for concurrent use.
type TimeKeeper interface {
	Now() float64
}

// Monotonic is the production TimeKeeper. It measures elapsed time since
// its creation using the runtime's monotonic clock, so wall-clock jumps
// never move it backwards.
type Monotonic struct {
	epoch time.Time
}

// NewMonotonic returns a TimeKeeper whose epoch is now.
func NewMonotonic() *Monotonic {
	return &Monotonic{epoch: time.Now()}
}

// Now returns seconds elapsed since the epoch.
func (m *Monotonic) Now() float64 {
	return time.Since(m.epoch).Seconds()
}

// Stub is a hand-cranked TimeKeeper for tests.
type Stub struct {
	mu  sync.Mutex
	now float64
}

// NewStub returns a Stub reading zero.
func NewStub() *Stub {
	return &Stub{}
}

// Now returns the stubbed time.
func (s *Stub) Now() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Set moves the stubbed clock to t.
func (s *Stub) Set(t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = t
}

// Advance moves the stubbed clock forward by d seconds.
func (s *Stub) Advance(d float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now += d
}
