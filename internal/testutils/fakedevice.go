package testutils

import (
	"context"
	"sync"

	"github.com/go-ble/ble"
	"github.com/stretchr/testify/mock"
)

// FakeDevice is a local adapter for peripheral-role tests. AddService, Stop
// and AdvertiseNameAndServices go through mock.Mock; the rest of ble.Device
// panics through the nil embedded interface.
type FakeDevice struct {
	ble.Device
	mock.Mock

	mu         sync.Mutex
	services   []*ble.Service
	advertised chan struct{}
	once       sync.Once
}

func NewFakeDevice() *FakeDevice {
	return &FakeDevice{advertised: make(chan struct{})}
}

func (d *FakeDevice) AddService(svc *ble.Service) error {
	args := d.Called(svc)
	if err := args.Error(0); err != nil {
		return err
	}
	d.mu.Lock()
	d.services = append(d.services, svc)
	d.mu.Unlock()
	return nil
}

func (d *FakeDevice) Stop() error {
	return d.Called().Error(0)
}

// AdvertiseNameAndServices records the call and blocks until ctx is done
// unless the expectation returns an error.
func (d *FakeDevice) AdvertiseNameAndServices(ctx context.Context, name string, uuids ...ble.UUID) error {
	args := d.Called(name, uuids)
	d.once.Do(func() { close(d.advertised) })
	if err := args.Error(0); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

// Advertising is closed once AdvertiseNameAndServices has been called.
func (d *FakeDevice) Advertising() <-chan struct{} { return d.advertised }

// Services returns the services added so far.
func (d *FakeDevice) Services() []*ble.Service {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*ble.Service(nil), d.services...)
}
