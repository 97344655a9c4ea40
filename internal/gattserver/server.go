// Package gattserver binds the CGM core to a go-ble peripheral. It builds the
// attribute table, translates attribute events into core calls and delivers
// the core's notifications and indications to subscribed peers.
package gattserver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/cgmsim/internal/cgm"
	"github.com/srg/cgmsim/internal/groutine"
)

// ErrOutOfRange is the ATT application error for a value outside its permitted range.
const ErrOutOfRange ble.ATTError = 0xFF

// indicationBacklog bounds the responses waiting behind the one in flight.
const indicationBacklog = 4

var (
	ErrNotSubscribed  = errors.New("peer is not subscribed")
	ErrIndicationBusy = errors.New("indication backlog full")
	ErrUnknownPeer    = errors.New("unknown peer")
	ErrNotBound       = errors.New("server is not bound to a handler")
)

// Handler is the core side of the router.
type Handler interface {
	Connected(ctx context.Context, conn cgm.ConnHandle) error
	Disconnected(ctx context.Context, conn cgm.ConnHandle) error
	EnableNotifications(ctx context.Context, conn cgm.ConnHandle) error
	DisableNotifications(ctx context.Context, conn cgm.ConnHandle) error
	Read(ctx context.Context, c cgm.Characteristic) ([]byte, error)
	WriteStartTime(ctx context.Context, payload []byte) error
	SubmitControlPoint(conn cgm.ConnHandle, payload []byte) error
}

// Metrics receives delivery failures the core cannot observe.
type Metrics interface {
	SendFailed(kind string)
}

type nopMetrics struct{}

func (nopMetrics) SendFailed(string) {}

// DeviceInfo holds the static values of the Device Information and Battery services.
type DeviceInfo struct {
	Manufacturer string
	Model        string
	BatteryLevel uint8
}

// Server routes attribute events for every connected peer.
type Server struct {
	info           DeviceInfo
	logger         *logrus.Logger
	requestTimeout time.Duration

	ctx     context.Context
	handler Handler
	metrics Metrics

	peers *hashmap.Map[cgm.ConnHandle, *peer]
}

type peer struct {
	conn ble.Conn

	mu           sync.Mutex
	measurement  ble.Notifier
	controlPoint *indicator
}

// indicator serializes control point indications of one subscription. An
// indication write blocks until the peer confirms it, so writes happen on the
// indicator's own goroutine, one at a time.
type indicator struct {
	n     ble.Notifier
	queue chan []byte
}

var _ cgm.Transport = (*Server)(nil)

// NewServer creates an unbound server. Bind must be called before the
// services are published.
func NewServer(info DeviceInfo, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		info:           info,
		logger:         logger,
		requestTimeout: 2 * time.Second,
		ctx:            context.Background(),
		metrics:        nopMetrics{},
		peers:          hashmap.New[cgm.ConnHandle, *peer](),
	}
}

// Bind attaches the core. ctx bounds every call the server makes into it and
// the per-peer watchers.
func (s *Server) Bind(ctx context.Context, h Handler) {
	s.ctx = ctx
	s.handler = h
}

// SetMetrics installs a sink for confirmation failures. It must be called
// before the services are published.
func (s *Server) SetMetrics(m Metrics) {
	if m == nil {
		m = nopMetrics{}
	}
	s.metrics = m
}

// SetRequestTimeout bounds synchronous reads and writes into the core.
func (s *Server) SetRequestTimeout(d time.Duration) {
	s.requestTimeout = d
}

// Peers returns the number of tracked connections.
func (s *Server) Peers() int { return s.peers.Len() }

// Handle returns the core handle of a link.
func Handle(conn ble.Conn) cgm.ConnHandle {
	return cgm.ConnHandle(conn.RemoteAddr().String())
}

// Notify sends a measurement to conn's measurement subscription.
func (s *Server) Notify(conn cgm.ConnHandle, payload []byte) error {
	p, ok := s.peers.Get(conn)
	if !ok {
		return fmt.Errorf("notify %s: %w", conn, ErrUnknownPeer)
	}
	p.mu.Lock()
	n := p.measurement
	p.mu.Unlock()
	if n == nil {
		return fmt.Errorf("notify %s: %w", conn, ErrNotSubscribed)
	}
	if _, err := n.Write(payload); err != nil {
		return fmt.Errorf("notify %s: %w", conn, err)
	}
	return nil
}

// Indicate queues a control point response for conn. It never waits for the
// peer's confirmation; a failed confirmation is logged and counted.
func (s *Server) Indicate(conn cgm.ConnHandle, payload []byte) error {
	p, ok := s.peers.Get(conn)
	if !ok {
		return fmt.Errorf("indicate %s: %w", conn, ErrUnknownPeer)
	}
	p.mu.Lock()
	ind := p.controlPoint
	p.mu.Unlock()
	if ind == nil {
		return fmt.Errorf("indicate %s: %w", conn, ErrNotSubscribed)
	}

	select {
	case ind.queue <- append([]byte(nil), payload...):
		return nil
	default:
		return fmt.Errorf("indicate %s: %w", conn, ErrIndicationBusy)
	}
}

// deliverIndications writes queued responses until ctx is done.
func (s *Server) deliverIndications(ctx context.Context, h cgm.ConnHandle, ind *indicator) {
	log := s.logger.WithField("conn", h)
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-ind.queue:
			if _, err := ind.n.Write(payload); err != nil {
				s.metrics.SendFailed("indication_confirm")
				log.WithError(err).Warn("Control point indication not confirmed")
				continue
			}
			log.WithField("payload", fmt.Sprintf("%X", payload)).Debug("Control point indication confirmed")
		}
	}
}

// track registers conn on first sight, reports it to the core and watches
// for the link going down.
func (s *Server) track(conn ble.Conn) (cgm.ConnHandle, *peer) {
	h := Handle(conn)
	p, loaded := s.peers.GetOrInsert(h, &peer{conn: conn})
	if loaded {
		return h, p
	}

	s.logger.WithField("conn", h).Info("Peer connected")
	if s.handler != nil {
		if err := s.handler.Connected(s.ctx, h); err != nil {
			s.logger.WithError(err).WithField("conn", h).Warn("Failed to report connection")
		}
	}

	groutine.Go(s.ctx, "gatt-peer-"+string(h), func(ctx context.Context) {
		select {
		case <-conn.Disconnected():
		case <-ctx.Done():
			return
		}
		s.peers.Del(h)
		s.logger.WithField("conn", h).Info("Peer disconnected")
		if s.handler != nil {
			if err := s.handler.Disconnected(ctx, h); err != nil {
				s.logger.WithError(err).WithField("conn", h).Debug("Failed to report disconnection")
			}
		}
	})
	return h, p
}

func (s *Server) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, s.requestTimeout)
}

func (s *Server) serveRead(c cgm.Characteristic) ble.ReadHandlerFunc {
	return func(req ble.Request, rsp ble.ResponseWriter) {
		h, _ := s.track(req.Conn())
		log := s.logger.WithFields(logrus.Fields{"conn": h, "characteristic": c})
		if s.handler == nil {
			rsp.SetStatus(ble.ErrUnlikely)
			log.WithError(ErrNotBound).Warn("Read rejected")
			return
		}

		ctx, cancel := s.requestContext()
		defer cancel()
		data, err := s.handler.Read(ctx, c)
		if err != nil {
			rsp.SetStatus(ble.ErrUnlikely)
			log.WithError(err).Warn("Read failed")
			return
		}
		if _, err := rsp.Write(data); err != nil {
			log.WithError(err).Warn("Read response truncated")
			return
		}
		log.WithField("bytes", len(data)).Debug("Read served")
	}
}

func (s *Server) serveStartTimeWrite(req ble.Request, rsp ble.ResponseWriter) {
	h, _ := s.track(req.Conn())
	log := s.logger.WithField("conn", h)
	if s.handler == nil {
		rsp.SetStatus(ble.ErrUnlikely)
		return
	}

	ctx, cancel := s.requestContext()
	defer cancel()
	err := s.handler.WriteStartTime(ctx, req.Data())
	if err == nil {
		log.Debug("Start time written")
		return
	}
	status := attStatus(err)
	rsp.SetStatus(status)
	log.WithError(err).WithField("att_status", fmt.Sprintf("0x%02X", byte(status))).Warn("Start time write rejected")
}

func (s *Server) serveControlPointWrite(req ble.Request, rsp ble.ResponseWriter) {
	h, _ := s.track(req.Conn())
	if s.handler == nil {
		rsp.SetStatus(ble.ErrUnlikely)
		return
	}
	if err := s.handler.SubmitControlPoint(h, req.Data()); err != nil {
		rsp.SetStatus(attStatus(err))
		s.logger.WithError(err).WithField("conn", h).Warn("Control point write not queued")
	}
}

func (s *Server) serveMeasurementNotify(req ble.Request, n ble.Notifier) {
	h, p := s.track(req.Conn())
	log := s.logger.WithField("conn", h)

	p.mu.Lock()
	p.measurement = n
	p.mu.Unlock()

	if s.handler != nil {
		if err := s.handler.EnableNotifications(s.ctx, h); err != nil {
			log.WithError(err).Warn("Failed to enable measurement notifications")
		}
	}
	log.Info("Measurement subscription started")

	select {
	case <-n.Context().Done():
	case <-s.ctx.Done():
	}

	p.mu.Lock()
	if p.measurement == n {
		p.measurement = nil
	}
	p.mu.Unlock()

	if s.handler != nil && s.ctx.Err() == nil {
		if err := s.handler.DisableNotifications(s.ctx, h); err != nil {
			log.WithError(err).Debug("Failed to disable measurement notifications")
		}
	}
	log.Info("Measurement subscription ended")
}

func (s *Server) serveControlPointIndicate(req ble.Request, n ble.Notifier) {
	h, p := s.track(req.Conn())
	ind := &indicator{n: n, queue: make(chan []byte, indicationBacklog)}

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	groutine.Go(ctx, "gatt-indicate-"+string(h), func(ctx context.Context) {
		s.deliverIndications(ctx, h, ind)
	})

	p.mu.Lock()
	p.controlPoint = ind
	p.mu.Unlock()
	s.logger.WithField("conn", h).Debug("Control point indications enabled")

	select {
	case <-n.Context().Done():
	case <-s.ctx.Done():
	}

	p.mu.Lock()
	if p.controlPoint == ind {
		p.controlPoint = nil
	}
	p.mu.Unlock()
	s.logger.WithField("conn", h).Debug("Control point indications disabled")
}

// attStatus maps core errors to ATT error codes.
func attStatus(err error) ble.ATTError {
	switch {
	case errors.Is(err, cgm.ErrPayloadLength):
		return ble.ErrInvalAttrValueLen
	case errors.Is(err, cgm.ErrTimeValidation):
		return ErrOutOfRange
	case errors.Is(err, cgm.ErrQueueFull):
		return ble.ErrInsuffResources
	default:
		return ble.ErrUnlikely
	}
}
