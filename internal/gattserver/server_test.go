//go:generate go run github.com/srgg/testify/depend/cmd/dependgen ServerTestSuite

package gattserver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/srg/cgmsim/internal/cgm"
	"github.com/srg/cgmsim/internal/gattdb"
	"github.com/srg/cgmsim/internal/simclock"
	"github.com/srg/cgmsim/internal/testutils"
	"github.com/srgg/testify/depend"
	"github.com/stretchr/testify/suite"
)

const waitFor = 2 * time.Second

// ServerTestSuite runs a live event loop behind the server and drives it
// through the go-ble handler interfaces.
type ServerTestSuite struct {
	suite.Suite

	helper *testutils.TestHelper
	clock  *simclock.Manual
	svc    *cgm.Service
	srv    *Server
	cancel context.CancelFunc
	done   chan error

	conn     *testutils.FakeConn
	services []*ble.Service
}

func (s *ServerTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.clock = simclock.NewManual(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))

	s.srv = NewServer(DeviceInfo{Manufacturer: "Acme", Model: "CGM-1", BatteryLevel: 95}, s.helper.Logger)
	svc, err := cgm.NewService(cgm.DefaultOptions(), s.srv, s.clock, s.helper.Logger)
	s.Require().NoError(err)
	s.svc = svc

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.srv.Bind(ctx, svc)
	s.done = make(chan error, 1)
	go func() { s.done <- svc.Run(ctx) }()

	s.conn = testutils.NewFakeConn("AA:BB:CC:DD:EE:01")
	s.services = s.srv.Services()
}

func (s *ServerTestSuite) TearDownTest() {
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(waitFor):
		s.Fail("event loop did not stop")
	}
}

func (s *ServerTestSuite) char(id uint16) *ble.Characteristic {
	u := ble.UUID16(id)
	for _, svc := range s.services {
		for _, c := range svc.Characteristics {
			if c.UUID.Equal(u) {
				return c
			}
		}
	}
	s.FailNowf("characteristic not found", "%04X", id)
	return nil
}

func (s *ServerTestSuite) read(id uint16) *testutils.FakeResponse {
	rsp := testutils.NewFakeResponse()
	s.char(id).ReadHandler.ServeRead(testutils.NewFakeRequest(s.conn, nil), rsp)
	return rsp
}

func (s *ServerTestSuite) write(id uint16, data []byte) *testutils.FakeResponse {
	rsp := testutils.NewFakeResponse()
	s.char(id).WriteHandler.ServeWrite(testutils.NewFakeRequest(s.conn, data), rsp)
	return rsp
}

func (s *ServerTestSuite) snapshot() cgm.Snapshot {
	snap, err := s.svc.Snapshot(context.Background())
	s.Require().NoError(err)
	return snap
}

// subscribe starts a subscription handler the way the ATT layer does on a CCCD write.
func (s *ServerTestSuite) subscribe(h ble.NotifyHandler) *testutils.FakeNotifier {
	n := testutils.NewFakeNotifier()
	go h.ServeNotify(testutils.NewFakeRequest(s.conn, nil), n)
	return n
}

func (s *ServerTestSuite) subscribeControlPoint() *testutils.FakeNotifier {
	n := s.subscribe(s.char(gattdb.CharCGMSpecificOps).IndicateHandler)
	s.Require().Eventually(func() bool {
		p, ok := s.srv.peers.Get(Handle(s.conn))
		if !ok {
			return false
		}
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.controlPoint != nil
	}, waitFor, time.Millisecond)
	return n
}

func (s *ServerTestSuite) TestAttributeTable() {
	// GOAL: Verify the published services carry the expected characteristics and properties
	//
	// TEST SCENARIO: Build services → check UUIDs and property bits per characteristic
	s.Require().Len(s.services, 3)
	s.True(s.services[0].UUID.Equal(ble.UUID16(gattdb.ServiceCGM)))
	s.Len(s.services[0].Characteristics, 6)

	s.NotZero(s.char(gattdb.CharCGMMeasurement).Property & ble.CharNotify)
	s.NotZero(s.char(gattdb.CharCGMSessionStart).Property & ble.CharWrite)
	s.NotZero(s.char(gattdb.CharCGMSessionStart).Property & ble.CharRead)
	s.NotZero(s.char(gattdb.CharCGMSpecificOps).Property & ble.CharIndicate)
	s.NotZero(s.char(gattdb.CharCGMSpecificOps).Property & ble.CharWrite)

	s.Equal([]byte("Acme"), s.char(gattdb.CharManufacturerName).Value)
	s.Equal([]byte("CGM-1"), s.char(gattdb.CharModelNumber).Value)
	s.Equal([]byte{95}, s.read(gattdb.CharBatteryLevel).Bytes())
}

func (s *ServerTestSuite) TestReads() {
	// GOAL: Verify characteristic reads return the session store encodings
	//
	// TEST SCENARIO: Read each CGM characteristic → compare with default values → peer becomes tracked
	s.Equal([]byte{0x01, 0x30, 0x00, 0x95}, s.read(gattdb.CharCGMFeature).Bytes())
	s.Equal([]byte{0x34, 0x12, 0x90, 0x78, 0x56}, s.read(gattdb.CharCGMStatus).Bytes())
	s.Equal([]byte{0x34, 0x12}, s.read(gattdb.CharCGMSessionRunTime).Bytes())
	s.Equal([]byte{0xDF, 0x07, 0x02, 0x09, 0x03, 0x03, 0x14, 0xEC, 0x00}, s.read(gattdb.CharCGMSessionStart).Bytes())

	s.Equal(1, s.srv.Peers())
	s.True(s.snapshot().Connected)
}

func (s *ServerTestSuite) TestStartTimeWrite() {
	s.Run("accepted", func() {
		st := cgm.SessionStartTime{Year: 2024, Month: 6, Day: 15, Hour: 8, TimeZone: 0}
		rsp := s.write(gattdb.CharCGMSessionStart, st.Encode())

		s.Equal(ble.ATTError(0), rsp.Status())
		s.Equal(st.Encode(), s.read(gattdb.CharCGMSessionStart).Bytes())
	})

	s.Run("wrong length", func() {
		rsp := s.write(gattdb.CharCGMSessionStart, []byte{0xE8, 0x07, 0x01})
		s.Equal(ble.ErrInvalAttrValueLen, rsp.Status())
	})

	s.Run("month out of range", func() {
		before := s.read(gattdb.CharCGMSessionStart).Bytes()
		st := cgm.SessionStartTime{Year: 2024, Month: 13, Day: 1}

		rsp := s.write(gattdb.CharCGMSessionStart, st.Encode())

		s.Equal(ErrOutOfRange, rsp.Status())
		s.Equal(before, s.read(gattdb.CharCGMSessionStart).Bytes())
	})
}

func (s *ServerTestSuite) TestMeasurementSubscription() {
	// GOAL: Verify a CCCD subscription drives the scheduler and measurements reach the notifier
	//
	// TEST SCENARIO: Subscribe → advance clock twice → two notifications → unsubscribe → scheduler disabled
	n := s.subscribe(s.char(gattdb.CharCGMMeasurement).NotifyHandler)
	s.Require().Eventually(func() bool {
		return s.snapshot().Scheduler == cgm.SchedulerArmed
	}, waitFor, time.Millisecond)

	s.clock.Advance(time.Second)
	s.Require().Eventually(func() bool { return s.clock.Pending() == 1 && len(n.Writes()) == 1 }, waitFor, time.Millisecond)
	s.clock.Advance(time.Second)

	writes := n.WaitWrites(2, waitFor)
	s.Require().Len(writes, 2)
	s.Equal([]byte{0x06, 0x00, 0x01, 0x00, 0x01, 0x00}, writes[0])
	s.Equal([]byte{0x06, 0x00, 0x02, 0x00, 0x02, 0x00}, writes[1])

	n.Unsubscribe()
	s.Eventually(func() bool {
		return s.snapshot().Scheduler == cgm.SchedulerDisabled
	}, waitFor, time.Millisecond)
	s.Equal(0, s.clock.Pending())
}

func (s *ServerTestSuite) TestControlPoint() {
	// GOAL: Verify control point writes are answered by exactly one indication each
	//
	// TEST SCENARIO: Enable indications → SET_INTERVAL(0xFE) → GET_INTERVAL → check both responses
	n := s.subscribeControlPoint()

	rsp := s.write(gattdb.CharCGMSpecificOps, []byte{byte(cgm.OpSetInterval), 0xFE})
	s.Equal(ble.ATTError(0), rsp.Status())
	rsp = s.write(gattdb.CharCGMSpecificOps, []byte{byte(cgm.OpGetInterval)})
	s.Equal(ble.ATTError(0), rsp.Status())

	writes := n.WaitWrites(2, waitFor)
	s.Require().Len(writes, 2)
	s.Equal([]byte{byte(cgm.OpRespCode), byte(cgm.StatusSuccess)}, writes[0])
	s.Equal([]byte{byte(cgm.OpRespInterval), byte(cgm.StatusSuccess), 0xD0, 0x07, 0x00, 0x00}, writes[1])
}

func (s *ServerTestSuite) TestMeasurementsContinueWhileIndicationUnconfirmed() {
	// GOAL: Verify an indication awaiting confirmation does not hold up the event loop
	//
	// TEST SCENARIO: Hold control point writes → GET_INTERVAL → three 1 s ticks each notify → further command accepted → release → both responses delivered
	measurements := s.subscribe(s.char(gattdb.CharCGMMeasurement).NotifyHandler)
	s.Require().Eventually(func() bool {
		return s.snapshot().Scheduler == cgm.SchedulerArmed
	}, waitFor, time.Millisecond)

	responses := s.subscribeControlPoint()
	release := responses.HoldWrites()
	defer release()

	rsp := s.write(gattdb.CharCGMSpecificOps, []byte{byte(cgm.OpGetInterval)})
	s.Require().Equal(ble.ATTError(0), rsp.Status())
	s.Require().True(responses.WaitHeld(waitFor), "indication should be in flight")

	for i := 1; i <= 3; i++ {
		s.clock.Advance(time.Second)
		s.Require().Eventually(func() bool {
			return s.clock.Pending() == 1 && len(measurements.Writes()) == i
		}, waitFor, time.Millisecond, "measurement %d while the indication is unconfirmed", i)
	}

	rsp = s.write(gattdb.CharCGMSpecificOps, []byte{byte(cgm.OpSetInterval), 0xFE})
	s.Equal(ble.ATTError(0), rsp.Status())
	s.Empty(responses.Writes())

	release()
	writes := responses.WaitWrites(2, waitFor)
	s.Require().Len(writes, 2)
	s.Equal([]byte{byte(cgm.OpRespInterval), byte(cgm.StatusSuccess), 0xE8, 0x03, 0x00, 0x00}, writes[0])
	s.Equal([]byte{byte(cgm.OpRespCode), byte(cgm.StatusSuccess)}, writes[1])
}

func (s *ServerTestSuite) TestIndicationBacklog() {
	// GOAL: Verify Indicate returns at once and reports a full backlog instead of blocking
	//
	// TEST SCENARIO: Hold writes → one in flight plus a full backlog → next Indicate is busy → release → all delivered in order
	responses := s.subscribeControlPoint()
	release := responses.HoldWrites()
	defer release()
	h := Handle(s.conn)

	s.Require().NoError(s.srv.Indicate(h, []byte{0}))
	s.Require().True(responses.WaitHeld(waitFor))
	for i := 1; i <= indicationBacklog; i++ {
		s.Require().NoError(s.srv.Indicate(h, []byte{byte(i)}))
	}
	s.ErrorIs(s.srv.Indicate(h, []byte{0xFF}), ErrIndicationBusy)

	release()
	writes := responses.WaitWrites(indicationBacklog+1, waitFor)
	s.Require().Len(writes, indicationBacklog+1)
	for i, w := range writes {
		s.Equal([]byte{byte(i)}, w)
	}
}

func (s *ServerTestSuite) TestIndicationConfirmFailureCounted() {
	failures := &failureCounter{}
	s.srv.SetMetrics(failures)
	responses := s.subscribeControlPoint()
	responses.FailWrites(errors.New("confirmation timeout"))

	s.Require().NoError(s.srv.Indicate(Handle(s.conn), []byte{1}))

	s.Eventually(func() bool { return failures.count("indication_confirm") == 1 }, waitFor, time.Millisecond)
}

func (s *ServerTestSuite) TestControlPointWithoutIndications() {
	// GOAL: Verify a response to a peer without indications enabled is dropped, not crashed on
	//
	// TEST SCENARIO: Write GET_INTERVAL without CCCD → write accepted → loop keeps serving reads
	rsp := s.write(gattdb.CharCGMSpecificOps, []byte{byte(cgm.OpGetInterval)})

	s.Equal(ble.ATTError(0), rsp.Status())
	s.Equal([]byte{0x34, 0x12}, s.read(gattdb.CharCGMSessionRunTime).Bytes())
}

func (s *ServerTestSuite) TestDisconnect() {
	// GOAL: Verify a dropped link cancels the subscription in the core
	//
	// TEST SCENARIO: Subscribe → disconnect → peer forgotten → scheduler disabled
	s.subscribe(s.char(gattdb.CharCGMMeasurement).NotifyHandler)
	s.Require().Eventually(func() bool {
		return s.snapshot().Scheduler == cgm.SchedulerArmed
	}, waitFor, time.Millisecond)

	s.conn.Disconnect()

	s.Eventually(func() bool { return s.srv.Peers() == 0 }, waitFor, time.Millisecond)
	s.Eventually(func() bool {
		snap := s.snapshot()
		return !snap.Connected && snap.Scheduler == cgm.SchedulerDisabled
	}, waitFor, time.Millisecond)
}

func (s *ServerTestSuite) TestTransportErrors() {
	err := s.srv.Notify("11:22:33:44:55:66", []byte{1})
	s.ErrorIs(err, ErrUnknownPeer)

	s.read(gattdb.CharCGMFeature)
	err = s.srv.Indicate(Handle(s.conn), []byte{1})
	s.ErrorIs(err, ErrNotSubscribed)
	err = s.srv.Notify(Handle(s.conn), []byte{1})
	s.ErrorIs(err, ErrNotSubscribed)
}

type failureCounter struct {
	mu    sync.Mutex
	kinds map[string]int
}

func (c *failureCounter) SendFailed(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kinds == nil {
		c.kinds = map[string]int{}
	}
	c.kinds[kind]++
}

func (c *failureCounter) count(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kinds[kind]
}

func TestServerTestSuite(t *testing.T) {
	depend.RunSuite(t, new(ServerTestSuite))
}

// stubHandler answers every core call with a fixed error.
type stubHandler struct {
	err error
}

func (h stubHandler) Connected(context.Context, cgm.ConnHandle) error            { return nil }
func (h stubHandler) Disconnected(context.Context, cgm.ConnHandle) error         { return nil }
func (h stubHandler) EnableNotifications(context.Context, cgm.ConnHandle) error  { return nil }
func (h stubHandler) DisableNotifications(context.Context, cgm.ConnHandle) error { return nil }
func (h stubHandler) Read(context.Context, cgm.Characteristic) ([]byte, error)   { return nil, h.err }
func (h stubHandler) WriteStartTime(context.Context, []byte) error               { return h.err }
func (h stubHandler) SubmitControlPoint(cgm.ConnHandle, []byte) error            { return h.err }

func TestServer_ATTStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ble.ATTError
	}{
		{name: "queue full", err: cgm.ErrQueueFull, want: ble.ErrInsuffResources},
		{name: "length", err: &cgm.LengthError{What: "start time", Want: 9, Got: 3}, want: ble.ErrInvalAttrValueLen},
		{name: "range", err: &cgm.FieldError{Field: "month", Value: 13}, want: ErrOutOfRange},
		{name: "stopped", err: cgm.ErrServiceStopped, want: ble.ErrUnlikely},
		{name: "other", err: errors.New("boom"), want: ble.ErrUnlikely},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			srv := NewServer(DeviceInfo{}, testutils.NewTestHelper(t).Logger)
			srv.Bind(ctx, stubHandler{err: tt.err})
			conn := testutils.NewFakeConn("AA:BB:CC:DD:EE:02")

			rsp := testutils.NewFakeResponse()
			srv.serveControlPointWrite(testutils.NewFakeRequest(conn, []byte{0x02}), rsp)
			if rsp.Status() != tt.want {
				t.Fatalf("control point status = 0x%02X, want 0x%02X", byte(rsp.Status()), byte(tt.want))
			}

			rsp = testutils.NewFakeResponse()
			srv.serveStartTimeWrite(testutils.NewFakeRequest(conn, nil), rsp)
			if rsp.Status() != tt.want {
				t.Fatalf("start time status = 0x%02X, want 0x%02X", byte(rsp.Status()), byte(tt.want))
			}
		})
	}
}

func TestServer_Unbound(t *testing.T) {
	srv := NewServer(DeviceInfo{}, nil)
	conn := testutils.NewFakeConn("AA:BB:CC:DD:EE:03")

	rsp := testutils.NewFakeResponse()
	srv.serveRead(cgm.CharFeature)(testutils.NewFakeRequest(conn, nil), rsp)

	if rsp.Status() != ble.ErrUnlikely {
		t.Fatalf("status = 0x%02X, want ErrUnlikely", byte(rsp.Status()))
	}
}
