package simclock

import (
	"sort"
	"sync"
	"time"
)

// Manual is a clock that only moves when told to. Timers fire synchronously
// from Advance or FireNext on the caller's goroutine.
type Manual struct {
	mu      sync.Mutex
	mono    time.Time
	offset  time.Duration
	timers  []*manualTimer
	setLog  []time.Time
	nextSeq uint64
}

type manualTimer struct {
	owner    *Manual
	deadline time.Time
	seq      uint64
	fn       func()
	stopped  bool
	fired    bool
}

// NewManual creates a manual clock reading start.
func NewManual(start time.Time) *Manual {
	return &Manual{mono: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mono.Add(m.offset)
}

// Set records t and shifts Now; pending deadlines are unaffected.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offset = t.Sub(m.mono)
	m.setLog = append(m.setLog, t)
}

// LastSet returns the most recent value passed to Set.
func (m *Manual) LastSet() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.setLog) == 0 {
		return time.Time{}, false
	}
	return m.setLog[len(m.setLog)-1], true
}

func (m *Manual) AfterFunc(d time.Duration, f func()) Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSeq++
	t := &manualTimer{owner: m, deadline: m.mono.Add(d), seq: m.nextSeq, fn: f}
	m.timers = append(m.timers, t)
	return t
}

// Pending returns the number of armed timers.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// NextDeadline returns the delay until the earliest armed timer.
func (m *Manual) NextDeadline() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.timers) == 0 {
		return 0, false
	}
	m.sortLocked()
	return m.timers[0].deadline.Sub(m.mono), true
}

// Advance moves time forward by d and fires every timer that became due.
func (m *Manual) Advance(d time.Duration) int {
	m.mu.Lock()
	m.mono = m.mono.Add(d)
	due := m.takeDueLocked()
	m.mu.Unlock()

	for _, t := range due {
		t.fn()
	}
	return len(due)
}

// FireNext jumps to the earliest deadline and fires that timer only.
func (m *Manual) FireNext() bool {
	m.mu.Lock()
	if len(m.timers) == 0 {
		m.mu.Unlock()
		return false
	}
	m.sortLocked()
	t := m.timers[0]
	m.timers = m.timers[1:]
	if t.deadline.After(m.mono) {
		m.mono = t.deadline
	}
	t.fired = true
	m.mu.Unlock()

	t.fn()
	return true
}

func (m *Manual) takeDueLocked() []*manualTimer {
	m.sortLocked()
	var due []*manualTimer
	keep := m.timers[:0]
	for _, t := range m.timers {
		if !t.deadline.After(m.mono) {
			t.fired = true
			due = append(due, t)
			continue
		}
		keep = append(keep, t)
	}
	m.timers = keep
	return due
}

func (m *Manual) sortLocked() {
	sort.Slice(m.timers, func(i, j int) bool {
		if m.timers[i].deadline.Equal(m.timers[j].deadline) {
			return m.timers[i].seq < m.timers[j].seq
		}
		return m.timers[i].deadline.Before(m.timers[j].deadline)
	})
}

func (t *manualTimer) Stop() bool {
	m := t.owner
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	for i, p := range m.timers {
		if p == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			break
		}
	}
	return true
}
