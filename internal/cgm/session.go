package cgm

import (
	"fmt"
	"time"
)

// WallClock is the process-wide clock a session start time write is applied to.
type WallClock interface {
	Set(t time.Time)
}

// Session holds the per-connection CGM state. It is owned by the event loop
// and never shared across goroutines.
type Session struct {
	feature    Feature
	status     Status
	start      calendarTime
	runTime    RunTime
	intervalMs uint32
	clock      WallClock
}

// NewSession creates the store from validated initial values.
func NewSession(opts Options, clock WallClock) (*Session, error) {
	if err := opts.StartTime.Validate(); err != nil {
		return nil, fmt.Errorf("initial start time: %w", err)
	}
	intervalMs, err := intervalFromDuration(opts.Interval)
	if err != nil {
		return nil, err
	}
	return &Session{
		feature:    Feature{Bitmask: opts.Feature.Bitmask & maxUint24, TypeSample: opts.Feature.TypeSample},
		status:     Status{TimeOffset: opts.Status.TimeOffset, Bitmask: opts.Status.Bitmask & maxUint24},
		start:      normalize(opts.StartTime),
		runTime:    opts.RunTime,
		intervalMs: intervalMs,
		clock:      clock,
	}, nil
}

func (s *Session) Feature() Feature { return s.feature }

func (s *Session) Status() Status { return s.status }

func (s *Session) RunTime() RunTime { return s.runTime }

// StartTime returns the start time with one-based month and day.
func (s *Session) StartTime() SessionStartTime { return s.start.wire() }

// StartInstant returns the start time as an absolute instant.
func (s *Session) StartInstant() time.Time { return s.start.absolute() }

// SetStartTime validates st, stores it and moves the wall clock to it. On
// error the previous start time is kept.
func (s *Session) SetStartTime(st SessionStartTime) error {
	if err := st.Validate(); err != nil {
		return err
	}
	s.start = normalize(st)
	if s.clock != nil {
		s.clock.Set(s.start.absolute())
	}
	return nil
}

// Interval returns the communication interval in milliseconds; 0 means paused.
func (s *Session) Interval() uint32 { return s.intervalMs }

// SetInterval stores a new communication interval.
func (s *Session) SetInterval(ms uint32) error {
	if ms != PauseInterval && ms < MinIntervalMs {
		return fmt.Errorf("%w: %d ms", ErrIntervalRange, ms)
	}
	s.intervalMs = ms
	return nil
}

// Read serializes one characteristic.
func (s *Session) Read(c Characteristic) ([]byte, error) {
	switch c {
	case CharFeature:
		return s.feature.Encode(), nil
	case CharStatus:
		return s.status.Encode(), nil
	case CharStartTime:
		return s.StartTime().Encode(), nil
	case CharRunTime:
		return s.runTime.Encode(), nil
	default:
		return nil, fmt.Errorf("characteristic %d is not readable", int(c))
	}
}

func intervalFromDuration(d time.Duration) (uint32, error) {
	if d < 0 {
		return 0, fmt.Errorf("%w: %s", ErrIntervalRange, d)
	}
	ms := d.Milliseconds()
	if ms > int64(^uint32(0)) || (ms != 0 && ms < int64(MinIntervalMs)) {
		return 0, fmt.Errorf("%w: %s", ErrIntervalRange, d)
	}
	return uint32(ms), nil
}
