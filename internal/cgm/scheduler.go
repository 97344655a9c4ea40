package cgm

import (
	"time"

	"github.com/srg/cgmsim/internal/simclock"
)

// SchedulerState is the state of the measurement notification scheduler.
type SchedulerState int

const (
	// SchedulerDisabled means the peer is not subscribed.
	SchedulerDisabled SchedulerState = iota
	// SchedulerPaused means the peer is subscribed but the interval is the pause sentinel.
	SchedulerPaused
	// SchedulerArmed means exactly one expiry is pending.
	SchedulerArmed
)

func (s SchedulerState) String() string {
	switch s {
	case SchedulerDisabled:
		return "disabled"
	case SchedulerPaused:
		return "paused"
	case SchedulerArmed:
		return "armed"
	default:
		return "unknown"
	}
}

// TimerSource arms one-shot timers.
type TimerSource interface {
	AfterFunc(d time.Duration, f func()) simclock.Timer
}

// scheduler keeps at most one pending expiry. Every arm bumps the generation
// so an expiry that raced with a cancel is recognised as stale.
type scheduler struct {
	timers TimerSource
	expire func(gen uint64)

	state  SchedulerState
	gen    uint64
	timer  simclock.Timer
	period time.Duration
}

func newScheduler(timers TimerSource, expire func(gen uint64)) *scheduler {
	return &scheduler{timers: timers, expire: expire}
}

// arm cancels any pending expiry and schedules a new one after d.
func (s *scheduler) arm(d time.Duration) {
	s.stopTimer()
	s.gen++
	gen := s.gen
	s.period = d
	s.state = SchedulerArmed
	s.timer = s.timers.AfterFunc(d, func() { s.expire(gen) })
}

// disable cancels any pending expiry; used on unsubscribe and disconnect.
func (s *scheduler) disable() {
	s.stopTimer()
	s.state = SchedulerDisabled
}

// pause cancels the pending expiry but remembers the subscription.
func (s *scheduler) pause() {
	if s.state == SchedulerDisabled {
		return
	}
	s.stopTimer()
	s.state = SchedulerPaused
}

// expired reports whether gen is the live expiry and consumes it.
func (s *scheduler) expired(gen uint64) bool {
	if s.state != SchedulerArmed || gen != s.gen {
		return false
	}
	s.timer = nil
	return true
}

// rearm schedules the next expiry from the interval pulled from the session.
func (s *scheduler) rearm(intervalMs uint32) {
	if intervalMs == PauseInterval {
		s.stopTimer()
		s.state = SchedulerPaused
		return
	}
	s.arm(time.Duration(intervalMs) * time.Millisecond)
}

func (s *scheduler) stopTimer() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}
