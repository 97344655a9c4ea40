//go:build linux

package main

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// deviceFactory opens the default HCI adapter. Tests replace it.
var deviceFactory = func() (ble.Device, error) {
	return linux.NewDevice()
}
