// Package scenario runs the CGM core in-process against a scripted collector.
// Time is simulated: a manual clock drives the notification scheduler, so a
// scenario of hours completes instantly and prints identically on every run.
package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/cgmsim/internal/cgm"
	"github.com/srg/cgmsim/internal/groutine"
	"github.com/srg/cgmsim/internal/simclock"
)

// Peer is the connection handle the harness uses for the simulated collector.
const Peer cgm.ConnHandle = "collector"

// Harness owns a running cgm.Service, its manual clock and the recorder that
// captures everything the service transmits.
type Harness struct {
	svc      *cgm.Service
	clock    *simclock.Manual
	recorder *Recorder
	logger   *logrus.Logger
	elapsed  time.Duration

	group *groutine.Group
}

// NewHarness starts the event loop. Close stops it.
func NewHarness(ctx context.Context, opts cgm.Options, recorder *Recorder, logger *logrus.Logger) (*Harness, error) {
	if recorder == nil {
		return nil, errors.New("scenario: recorder is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	h := &Harness{
		clock:    simclock.NewManual(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)),
		recorder: recorder,
		logger:   logger,
	}
	svc, err := cgm.NewService(opts, transport{h}, h.clock, logger)
	if err != nil {
		return nil, err
	}
	h.svc = svc

	h.group = groutine.NewGroup(ctx)
	h.group.Go("cgm-event-loop", func(ctx context.Context) error {
		if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if err := svc.Connected(ctx, Peer); err != nil {
		h.Close()
		return nil, err
	}
	return h, nil
}

// Service exposes the running core.
func (h *Harness) Service() *cgm.Service { return h.svc }

// Clock exposes the manual clock.
func (h *Harness) Clock() *simclock.Manual { return h.clock }

// Close stops the event loop and waits for it.
func (h *Harness) Close() error {
	h.group.Cancel()
	return h.group.Wait()
}

// Enable subscribes the collector to measurements.
func (h *Harness) Enable(ctx context.Context) error {
	if err := h.svc.EnableNotifications(ctx, Peer); err != nil {
		return err
	}
	return h.sync(ctx)
}

// Disable unsubscribes the collector.
func (h *Harness) Disable(ctx context.Context) error {
	if err := h.svc.DisableNotifications(ctx, Peer); err != nil {
		return err
	}
	return h.sync(ctx)
}

// Control writes a control point command and waits until the loop processed it.
func (h *Harness) Control(ctx context.Context, payload []byte) error {
	if err := h.svc.SubmitControlPoint(Peer, payload); err != nil {
		return err
	}
	return h.sync(ctx)
}

// Read returns the encoded value of c.
func (h *Harness) Read(ctx context.Context, c cgm.Characteristic) ([]byte, error) {
	return h.svc.Read(ctx, c)
}

// WriteStartTime writes a Session Start Time payload.
func (h *Harness) WriteStartTime(ctx context.Context, payload []byte) error {
	return h.svc.WriteStartTime(ctx, payload)
}

// Advance moves simulated time forward by d, firing every expiry on the way
// in deadline order.
func (h *Harness) Advance(ctx context.Context, d time.Duration) error {
	if d < 0 {
		return fmt.Errorf("scenario: cannot advance by %s", d)
	}
	h.elapsed += d
	remaining := d
	for {
		next, ok := h.clock.NextDeadline()
		if !ok || next > remaining {
			h.clock.Advance(remaining)
			return h.sync(ctx)
		}
		h.clock.Advance(next)
		remaining -= next
		if err := h.sync(ctx); err != nil {
			return err
		}
	}
}

// Elapsed returns how much simulated time has passed.
func (h *Harness) Elapsed() time.Duration { return h.elapsed }

// sync returns once every event queued before the call has been handled.
func (h *Harness) sync(ctx context.Context) error {
	_, err := h.svc.Snapshot(ctx)
	return err
}

// transport records outbound payloads with a decoded description.
type transport struct{ h *Harness }

func (t transport) Notify(_ cgm.ConnHandle, payload []byte) error {
	t.h.recorder.Add(Record{
		Time:    t.h.clock.Now(),
		Kind:    KindNotify,
		Payload: append([]byte(nil), payload...),
		Text:    describeMeasurement(payload),
	})
	return nil
}

func (t transport) Indicate(_ cgm.ConnHandle, payload []byte) error {
	t.h.recorder.Add(Record{
		Time:    t.h.clock.Now(),
		Kind:    KindIndicate,
		Payload: append([]byte(nil), payload...),
		Text:    describeResponse(payload),
	})
	return nil
}

func describeMeasurement(b []byte) string {
	m, err := cgm.DecodeMeasurement(b)
	if err != nil {
		return err.Error()
	}
	return fmt.Sprintf("measurement concentration=%d time_offset=%d", m.Concentration, m.TimeOffset)
}

func describeResponse(b []byte) string {
	r, err := cgm.DecodeResponse(b)
	if err != nil {
		return err.Error()
	}
	if ms, err := r.Interval(); err == nil {
		return fmt.Sprintf("%s %s interval=%dms", r.Opcode, r.Status, ms)
	}
	return fmt.Sprintf("%s %s", r.Opcode, r.Status)
}
