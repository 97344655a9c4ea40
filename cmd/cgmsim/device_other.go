//go:build !linux && !darwin

package main

import "github.com/go-ble/ble"

var deviceFactory = func() (ble.Device, error) {
	return nil, ErrUnsupportedPlatform
}
