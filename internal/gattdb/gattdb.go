// Package gattdb names the attributes the simulator publishes. Entries keep
// declaration order so tables print services followed by their characteristics.
package gattdb

import (
	"fmt"
	"strings"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Kind is the category of an attribute entry.
type Kind string

const (
	Service        Kind = "service"
	Characteristic Kind = "characteristic"
)

// 16-bit assigned numbers used by the simulator.
const (
	ServiceCGM               uint16 = 0x181F
	ServiceDeviceInformation uint16 = 0x180A
	ServiceBattery           uint16 = 0x180F

	CharCGMMeasurement    uint16 = 0x2AA7
	CharCGMFeature        uint16 = 0x2AA8
	CharCGMStatus         uint16 = 0x2AA9
	CharCGMSessionStart   uint16 = 0x2AAA
	CharCGMSessionRunTime uint16 = 0x2AAB
	CharCGMSpecificOps    uint16 = 0x2AAC
	CharManufacturerName  uint16 = 0x2A29
	CharModelNumber       uint16 = 0x2A24
	CharBatteryLevel      uint16 = 0x2A19
)

// Entry describes one service or characteristic.
type Entry struct {
	UUID       string   `json:"uuid"`
	Name       string   `json:"name"`
	Kind       Kind     `json:"kind"`
	Service    string   `json:"service,omitempty"`
	Properties []string `json:"properties,omitempty"`
}

var entries = orderedmap.New[string, Entry]()

func init() {
	service := func(id uint16, name string) {
		u := Short(id)
		entries.Set(u, Entry{UUID: u, Name: name, Kind: Service})
	}
	char := func(svc, id uint16, name string, props ...string) {
		u := Short(id)
		entries.Set(u, Entry{UUID: u, Name: name, Kind: Characteristic, Service: Short(svc), Properties: props})
	}

	service(ServiceCGM, "Continuous Glucose Monitoring")
	char(ServiceCGM, CharCGMMeasurement, "CGM Measurement", "notify")
	char(ServiceCGM, CharCGMFeature, "CGM Feature", "read")
	char(ServiceCGM, CharCGMStatus, "CGM Status", "read")
	char(ServiceCGM, CharCGMSessionStart, "CGM Session Start Time", "read", "write")
	char(ServiceCGM, CharCGMSessionRunTime, "CGM Session Run Time", "read")
	char(ServiceCGM, CharCGMSpecificOps, "CGM Specific Ops Control Point", "write", "indicate")

	service(ServiceDeviceInformation, "Device Information")
	char(ServiceDeviceInformation, CharManufacturerName, "Manufacturer Name String", "read")
	char(ServiceDeviceInformation, CharModelNumber, "Model Number String", "read")

	service(ServiceBattery, "Battery Service")
	char(ServiceBattery, CharBatteryLevel, "Battery Level", "read")
}

// Short formats a 16-bit assigned number the way NormalizeUUID does.
func Short(id uint16) string {
	return fmt.Sprintf("%04x", id)
}

const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID lowercases u, strips separators and reduces Bluetooth SIG
// base UUIDs to their 16-bit form.
func NormalizeUUID(u string) string {
	u = strings.ToLower(strings.TrimSpace(u))
	u = strings.TrimPrefix(u, "0x")
	u = strings.Trim(u, "{}")
	u = strings.ReplaceAll(u, "-", "")
	if len(u) == 32 && strings.HasPrefix(u, "0000") && strings.HasSuffix(u, sigBaseSuffix) {
		return u[4:8]
	}
	return u
}

// Lookup finds the entry for u in any UUID spelling.
func Lookup(u string) (Entry, bool) {
	return entries.Get(NormalizeUUID(u))
}

// Name returns the human-readable name of u, or u itself when unknown.
func Name(u string) string {
	if e, ok := Lookup(u); ok {
		return e.Name
	}
	return u
}

// Entries returns all entries in declaration order.
func Entries() []Entry {
	out := make([]Entry, 0, entries.Len())
	for pair := entries.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Characteristics returns the characteristics of service svc in declaration order.
func Characteristics(svc string) []Entry {
	svc = NormalizeUUID(svc)
	var out []Entry
	for pair := entries.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Kind == Characteristic && pair.Value.Service == svc {
			out = append(out, pair.Value)
		}
	}
	return out
}
