package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/cgmsim/internal/gattdb"
	"github.com/srg/cgmsim/internal/testutils"
	"github.com/srg/cgmsim/pkg/config"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
)

type ServeTestSuite struct {
	CommandTestSuite
	originalFactory func() (ble.Device, error)
	device          *testutils.FakeDevice
	logger          *logrus.Logger
}

func (s *ServeTestSuite) SetupTest() {
	s.CommandTestSuite.SetupTest()
	s.logger = testutils.NewTestHelper(s.T()).Logger
	s.device = testutils.NewFakeDevice()
	s.originalFactory = deviceFactory
	deviceFactory = func() (ble.Device, error) { return s.device, nil }
}

func (s *ServeTestSuite) TearDownTest() {
	deviceFactory = s.originalFactory
	s.CommandTestSuite.TearDownTest()
}

func (s *ServeTestSuite) TestPublishesAndAdvertises() {
	// GOAL: Verify serve publishes all services and advertises until cancelled
	//
	// TEST SCENARIO: start serve → three services added → advertising with CGM + DIS → cancel → clean stop

	s.device.On("AddService", mock.Anything).Return(nil).Times(3)
	s.device.On("AdvertiseNameAndServices", "Bench CGM", mock.Anything).Return(nil).Once()
	s.device.On("Stop").Return(nil).Once()

	cfg := config.DefaultConfig()
	cfg.DeviceName = "Bench CGM"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- serve(ctx, cfg, s.logger) }()

	select {
	case <-s.device.Advertising():
	case <-time.After(2 * time.Second):
		s.FailNow("serve MUST start advertising")
	}

	services := s.device.Services()
	s.Require().Len(services, 3)
	s.True(services[0].UUID.Equal(ble.UUID16(gattdb.ServiceCGM)))

	uuids := s.device.Calls[len(s.device.Calls)-1].Arguments.Get(1).([]ble.UUID)
	s.Len(uuids, 2)

	cancel()
	select {
	case err := <-errCh:
		s.ErrorIs(err, context.Canceled)
	case <-time.After(2 * time.Second):
		s.FailNow("serve MUST return after cancellation")
	}
	s.device.AssertExpectations(s.T())
}

func (s *ServeTestSuite) TestAddServiceFailure() {
	s.device.On("AddService", mock.Anything).Return(errors.New("hci busy")).Once()
	s.device.On("Stop").Return(nil).Once()

	err := serve(context.Background(), config.DefaultConfig(), s.logger)

	s.Require().Error(err)
	s.Contains(err.Error(), "hci busy")
	s.device.AssertNotCalled(s.T(), "AdvertiseNameAndServices", mock.Anything, mock.Anything)
}

func (s *ServeTestSuite) TestDeviceUnavailable() {
	deviceFactory = func() (ble.Device, error) { return nil, ErrUnsupportedPlatform }

	err := serve(context.Background(), config.DefaultConfig(), s.logger)

	s.ErrorIs(err, ErrUnsupportedPlatform)
}

func (s *ServeTestSuite) TestMetricsEndpoint() {
	p, err := newPeripheral(config.DefaultConfig(), s.logger)
	s.Require().NoError(err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- serveMetrics(ctx, listener, p.collector.Handler(), time.Second, s.logger) }()

	rsp, err := http.Get("http://" + listener.Addr().String() + "/metrics")
	s.Require().NoError(err)
	body, err := io.ReadAll(rsp.Body)
	rsp.Body.Close()
	s.Require().NoError(err)

	s.Equal(http.StatusOK, rsp.StatusCode)
	s.Contains(string(body), "cgmsim_event_queue_capacity 16")
	s.Contains(string(body), "cgmsim_event_queue_length 0")

	cancel()
	s.ErrorIs(<-errCh, context.Canceled)
}

func (s *ServeTestSuite) TestInvalidConfig() {
	path := s.WriteFile("cgmsim.yaml", "queue_size: -1\n")

	_, err := s.ExecuteCommand("serve", "--config", path)

	s.Require().Error(err)
	s.Contains(err.Error(), "queue_size must be > 0")
}

func TestServeCommandSuite(t *testing.T) {
	suite.Run(t, new(ServeTestSuite))
}
