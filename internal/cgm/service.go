package cgm

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/cgmsim/internal/mailbox"
)

// ConnHandle identifies the peer notifications and indications are addressed to.
type ConnHandle string

// Transport delivers outbound payloads. Notify is unacknowledged; Indicate
// waits for the peer's confirmation.
type Transport interface {
	Notify(conn ConnHandle, payload []byte) error
	Indicate(conn ConnHandle, payload []byte) error
}

// Clock is both the wall clock start time writes are applied to and the timer
// source of the scheduler.
type Clock interface {
	WallClock
	TimerSource
}

// Metrics receives counters from the event loop.
type Metrics interface {
	MeasurementSent()
	ResponseSent(op Opcode, status ResponseStatus)
	CommandDropped(reason string)
	SendFailed(kind string)
	StartTimeRejected()
}

type nopMetrics struct{}

func (nopMetrics) MeasurementSent()                    {}
func (nopMetrics) ResponseSent(Opcode, ResponseStatus) {}
func (nopMetrics) CommandDropped(string)               {}
func (nopMetrics) SendFailed(string)                   {}
func (nopMetrics) StartTimeRejected()                  {}

type eventKind int

const (
	evConnected eventKind = iota
	evDisconnected
	evNotifyEnabled
	evNotifyDisabled
	evRead
	evStartTimeWrite
	evControlPoint
	evTimer
	evHistory
	evSnapshot
)

type event struct {
	kind    eventKind
	conn    ConnHandle
	char    Characteristic
	payload []byte
	gen     uint64
	reply   chan reply
}

type reply struct {
	data     []byte
	records  []MeasurementRecord
	snapshot Snapshot
	err      error
}

// Snapshot is a read-only view of the loop state.
type Snapshot struct {
	Conn       ConnHandle
	Connected  bool
	Scheduler  SchedulerState
	IntervalMs uint32
	Last       MeasurementRecord
	StartTime  SessionStartTime
}

// Service is one CGM service instance. All state is owned by the goroutine
// running Run; the exported methods post events to it.
type Service struct {
	opts      Options
	session   *Session
	generator *Generator
	sched     *scheduler
	history   *History
	transport Transport
	metrics   Metrics
	logger    *logrus.Logger
	events    *mailbox.Mailbox[event]

	conn      ConnHandle
	connected bool

	lifetime context.Context
	stop     context.CancelFunc
	running  atomic.Bool
}

// NewService builds the service in its power-on state. Call SetMetrics before
// Run to collect counters.
func NewService(opts Options, transport Transport, clock Clock, logger *logrus.Logger) (*Service, error) {
	if transport == nil {
		return nil, errors.New("cgm: transport is required")
	}
	if clock == nil {
		return nil, errors.New("cgm: clock is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	if opts.QueueSize <= 0 {
		return nil, fmt.Errorf("cgm: queue size must be > 0, got %d", opts.QueueSize)
	}
	if opts.NotifyPeriod <= 0 {
		return nil, fmt.Errorf("cgm: notify period must be > 0, got %s", opts.NotifyPeriod)
	}

	session, err := NewSession(opts, clock)
	if err != nil {
		return nil, fmt.Errorf("cgm: %w", err)
	}

	s := &Service{
		opts:      opts,
		session:   session,
		generator: NewGenerator(MeasurementRecord{}),
		history:   NewHistory(opts.HistorySize),
		transport: transport,
		metrics:   nopMetrics{},
		logger:    logger,
		events:    mailbox.New[event](opts.QueueSize),
	}
	s.sched = newScheduler(clock, s.onExpire)
	s.lifetime, s.stop = context.WithCancel(context.Background())
	return s, nil
}

// SetMetrics installs a metrics sink. It must be called before Run.
func (s *Service) SetMetrics(m Metrics) {
	if m == nil {
		m = nopMetrics{}
	}
	s.metrics = m
}

// Run processes events until ctx is done. A Service runs once.
func (s *Service) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("cgm: service already running")
	}
	defer s.stop()

	s.logger.WithField("queue_size", s.events.Cap()).Info("CGM event loop started")
	for {
		select {
		case <-ctx.Done():
			s.sched.disable()
			s.logger.Info("CGM event loop stopped")
			return ctx.Err()
		case ev := <-s.events.C():
			s.handle(ev)
		}
	}
}

// Connected records the peer that outbound messages are addressed to.
func (s *Service) Connected(ctx context.Context, conn ConnHandle) error {
	return s.post(ctx, event{kind: evConnected, conn: conn})
}

// Disconnected cancels any pending notification for conn.
func (s *Service) Disconnected(ctx context.Context, conn ConnHandle) error {
	return s.post(ctx, event{kind: evDisconnected, conn: conn})
}

// EnableNotifications arms the measurement scheduler with the default period.
func (s *Service) EnableNotifications(ctx context.Context, conn ConnHandle) error {
	return s.post(ctx, event{kind: evNotifyEnabled, conn: conn})
}

// DisableNotifications cancels the measurement scheduler.
func (s *Service) DisableNotifications(ctx context.Context, conn ConnHandle) error {
	return s.post(ctx, event{kind: evNotifyDisabled, conn: conn})
}

// Read serializes the current value of a characteristic.
func (s *Service) Read(ctx context.Context, c Characteristic) ([]byte, error) {
	r, err := s.call(ctx, event{kind: evRead, char: c})
	return r.data, err
}

// WriteStartTime applies a 9-byte Session Start Time write.
func (s *Service) WriteStartTime(ctx context.Context, payload []byte) error {
	_, err := s.call(ctx, event{kind: evStartTimeWrite, payload: append([]byte(nil), payload...)})
	return err
}

// SubmitControlPoint queues a control point command for the event loop and
// returns immediately. A full queue drops the command with ErrQueueFull.
func (s *Service) SubmitControlPoint(conn ConnHandle, payload []byte) error {
	if s.lifetime.Err() != nil {
		return ErrServiceStopped
	}
	ev := event{kind: evControlPoint, conn: conn, payload: append([]byte(nil), payload...)}
	if !s.events.TrySend(ev) {
		s.metrics.CommandDropped("queue_full")
		s.logger.WithFields(logrus.Fields{
			"conn":  conn,
			"bytes": len(payload),
		}).Warn("Dropped control point command: event queue full")
		return ErrQueueFull
	}
	return nil
}

// History returns the most recent measurements, oldest first.
func (s *Service) History(ctx context.Context) ([]MeasurementRecord, error) {
	r, err := s.call(ctx, event{kind: evHistory})
	return r.records, err
}

// Snapshot returns the loop state.
func (s *Service) Snapshot(ctx context.Context) (Snapshot, error) {
	r, err := s.call(ctx, event{kind: evSnapshot})
	return r.snapshot, err
}

// QueueLen returns the number of events waiting for the loop.
func (s *Service) QueueLen() int { return s.events.Len() }

// QueueCap returns the event queue capacity.
func (s *Service) QueueCap() int { return s.events.Cap() }

func (s *Service) post(ctx context.Context, ev event) error {
	if s.lifetime.Err() != nil {
		return ErrServiceStopped
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.lifetime, cancel)
	defer stop()

	if err := s.events.Send(ctx, ev); err != nil {
		if s.lifetime.Err() != nil {
			return ErrServiceStopped
		}
		return err
	}
	return nil
}

func (s *Service) call(ctx context.Context, ev event) (reply, error) {
	ev.reply = make(chan reply, 1)
	if err := s.post(ctx, ev); err != nil {
		return reply{}, err
	}
	select {
	case r := <-ev.reply:
		return r, r.err
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-s.lifetime.Done():
		return reply{}, ErrServiceStopped
	}
}

// onExpire runs on the timer goroutine and only hands the expiry to the loop.
func (s *Service) onExpire(gen uint64) {
	if err := s.events.Send(s.lifetime, event{kind: evTimer, gen: gen}); err != nil {
		s.logger.WithField("gen", gen).Debug("Timer expiry discarded: service stopped")
	}
}

func (s *Service) handle(ev event) {
	switch ev.kind {
	case evConnected:
		s.onConnected(ev.conn)
	case evDisconnected:
		s.onDisconnected(ev.conn)
	case evNotifyEnabled:
		s.onNotifyEnabled(ev.conn)
	case evNotifyDisabled:
		s.onNotifyDisabled(ev.conn)
	case evRead:
		data, err := s.session.Read(ev.char)
		ev.reply <- reply{data: data, err: err}
	case evStartTimeWrite:
		ev.reply <- reply{err: s.onStartTimeWrite(ev.payload)}
	case evControlPoint:
		s.onControlPoint(ev)
	case evTimer:
		s.onTimer(ev.gen)
	case evHistory:
		records, err := s.history.Records()
		ev.reply <- reply{records: records, err: err}
	case evSnapshot:
		ev.reply <- reply{snapshot: Snapshot{
			Conn:       s.conn,
			Connected:  s.connected,
			Scheduler:  s.sched.state,
			IntervalMs: s.session.Interval(),
			Last:       s.generator.Last(),
			StartTime:  s.session.StartTime(),
		}}
	default:
		s.logger.WithField("kind", ev.kind).Warn("Ignored unknown event")
	}
}

func (s *Service) onConnected(conn ConnHandle) {
	s.conn = conn
	s.connected = true
	s.logger.WithField("conn", conn).Info("Peer connected")
}

func (s *Service) onDisconnected(conn ConnHandle) {
	if conn != s.conn {
		s.logger.WithFields(logrus.Fields{
			"conn":    conn,
			"current": s.conn,
		}).Debug("Ignored disconnect of inactive peer")
		return
	}
	s.sched.disable()
	s.connected = false
	s.conn = ""
	s.logger.WithField("conn", conn).Info("Peer disconnected")
}

func (s *Service) onNotifyEnabled(conn ConnHandle) {
	if !s.connected || conn != s.conn {
		s.onConnected(conn)
	}
	s.sched.arm(s.opts.NotifyPeriod)
	s.logger.WithFields(logrus.Fields{
		"conn":   conn,
		"period": s.opts.NotifyPeriod,
	}).Info("Measurement notifications enabled")
}

func (s *Service) onNotifyDisabled(conn ConnHandle) {
	if conn != s.conn {
		s.logger.WithFields(logrus.Fields{
			"conn":    conn,
			"current": s.conn,
		}).Debug("Ignored unsubscribe of inactive peer")
		return
	}
	s.sched.disable()
	s.logger.WithField("conn", conn).Info("Measurement notifications disabled")
}

func (s *Service) onStartTimeWrite(payload []byte) error {
	st, err := DecodeStartTime(payload)
	if err == nil {
		err = s.session.SetStartTime(st)
	}
	if err != nil {
		s.metrics.StartTimeRejected()
		s.logger.WithError(err).Warn("Rejected session start time write")
		return err
	}
	s.logger.WithField("start", s.session.StartInstant()).Info("Session start time updated")
	return nil
}

func (s *Service) onTimer(gen uint64) {
	if !s.sched.expired(gen) {
		s.logger.WithField("gen", gen).Debug("Ignored stale timer expiry")
		return
	}

	rec := s.generator.Next()
	if err := s.transport.Notify(s.conn, rec.Encode()); err != nil {
		s.metrics.SendFailed("notification")
		s.logger.WithError(err).WithField("conn", s.conn).Warn("Measurement notification failed")
	} else {
		s.metrics.MeasurementSent()
		s.logger.WithFields(logrus.Fields{
			"concentration": rec.Concentration,
			"time_offset":   rec.TimeOffset,
		}).Debug("Measurement sent")
	}
	if err := s.history.Add(rec); err != nil {
		s.logger.WithError(err).Warn("Measurement history update failed")
	}

	s.sched.rearm(s.session.Interval())
}

func (s *Service) onControlPoint(ev event) {
	cmd, err := DecodeCommand(ev.payload)
	if err != nil {
		s.metrics.CommandDropped("empty")
		s.logger.WithError(err).Warn("Dropped control point command")
		return
	}

	rsp, ok := s.dispatch(cmd)
	if !ok {
		return
	}

	if err := s.transport.Indicate(s.conn, rsp.Encode()); err != nil {
		s.metrics.SendFailed("indication")
		s.logger.WithError(err).WithField("conn", s.conn).Warn("Control point indication failed")
		return
	}
	s.metrics.ResponseSent(rsp.Opcode, rsp.Status)
}

// dispatch runs one command to completion and reports whether a response is due.
func (s *Service) dispatch(cmd Command) (Response, bool) {
	log := s.logger.WithFields(logrus.Fields{
		"opcode":      cmd.Opcode,
		"operand_len": len(cmd.Operand),
	})

	req, err := ParseRequest(cmd)
	switch {
	case errors.Is(err, ErrOperandInvalid):
		log.WithError(err).Warn("Rejected control point operand")
		return codeResponse(StatusOperandInvalid), true
	case errors.Is(err, ErrUnrecognizedOpcode):
		if s.opts.ReplyUnsupported {
			log.Info("Answered unsupported control point opcode")
			return codeResponse(StatusOpCodeNotSupported), true
		}
		s.metrics.CommandDropped("unsupported")
		log.Warn("Dropped unsupported control point opcode")
		return Response{}, false
	case err != nil:
		log.WithError(err).Warn("Dropped control point command")
		return Response{}, false
	}

	switch r := req.(type) {
	case GetIntervalRequest:
		log.WithField("interval_ms", s.session.Interval()).Debug("Reporting communication interval")
		return intervalResponse(s.session.Interval()), true
	case SetIntervalRequest:
		return s.setInterval(r, log), true
	default:
		log.Warn("Dropped control point request without handler")
		return Response{}, false
	}
}

func (s *Service) setInterval(r SetIntervalRequest, log *logrus.Entry) Response {
	ms := r.IntervalMs()
	if err := s.session.SetInterval(ms); err != nil {
		log.WithError(err).Warn("Rejected communication interval")
		return codeResponse(StatusParameterOutOfRange)
	}

	switch {
	case ms == PauseInterval:
		s.sched.pause()
	case s.sched.state == SchedulerPaused:
		s.sched.rearm(ms)
	}

	log.WithFields(logrus.Fields{
		"interval_ms": ms,
		"scheduler":   s.sched.state,
	}).Info("Communication interval updated")
	return codeResponse(StatusSuccess)
}
