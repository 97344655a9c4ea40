//go:build darwin

package main

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// deviceFactory opens the CoreBluetooth peripheral manager. Tests replace it.
var deviceFactory = func() (ble.Device, error) {
	return darwin.NewDevice()
}
