// Package simclock provides the process-wide clock of the simulator: a wall
// clock that can be set to the session start time, plus the timer source the
// notification scheduler arms.
package simclock

import (
	"sync"
	"time"
)

// Timer is a pending callback that can be cancelled.
type Timer interface {
	// Stop prevents the callback from firing. It reports false if the timer
	// already fired or was stopped.
	Stop() bool
}

// Clock is a settable wall clock backed by the system clock.
type Clock struct {
	mu     sync.RWMutex
	offset time.Duration
	now    func() time.Time
}

// New creates a clock reading the system time.
func New() *Clock {
	return &Clock{now: time.Now}
}

// Now returns the simulated wall time.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now().Add(c.offset)
}

// Set moves the simulated wall time to t. Timers already armed keep their
// relative deadlines.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset = t.Sub(c.now())
}

// AfterFunc calls f in its own goroutine once d has elapsed.
func (c *Clock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
