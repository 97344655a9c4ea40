package gattserver

import (
	"github.com/go-ble/ble"
	"github.com/srg/cgmsim/internal/cgm"
	"github.com/srg/cgmsim/internal/gattdb"
)

// Services builds the CGM, Device Information and Battery services. Handlers
// resolve the bound core at call time.
func (s *Server) Services() []*ble.Service {
	return []*ble.Service{s.cgmService(), s.deviceInformationService(), s.batteryService()}
}

func (s *Server) cgmService() *ble.Service {
	svc := ble.NewService(ble.UUID16(gattdb.ServiceCGM))

	measurement := svc.NewCharacteristic(ble.UUID16(gattdb.CharCGMMeasurement))
	measurement.HandleNotify(ble.NotifyHandlerFunc(s.serveMeasurementNotify))

	svc.NewCharacteristic(ble.UUID16(gattdb.CharCGMFeature)).
		HandleRead(s.serveRead(cgm.CharFeature))
	svc.NewCharacteristic(ble.UUID16(gattdb.CharCGMStatus)).
		HandleRead(s.serveRead(cgm.CharStatus))

	start := svc.NewCharacteristic(ble.UUID16(gattdb.CharCGMSessionStart))
	start.HandleRead(s.serveRead(cgm.CharStartTime))
	start.HandleWrite(ble.WriteHandlerFunc(s.serveStartTimeWrite))

	svc.NewCharacteristic(ble.UUID16(gattdb.CharCGMSessionRunTime)).
		HandleRead(s.serveRead(cgm.CharRunTime))

	cp := svc.NewCharacteristic(ble.UUID16(gattdb.CharCGMSpecificOps))
	cp.HandleWrite(ble.WriteHandlerFunc(s.serveControlPointWrite))
	cp.HandleIndicate(ble.NotifyHandlerFunc(s.serveControlPointIndicate))

	return svc
}

func (s *Server) deviceInformationService() *ble.Service {
	svc := ble.NewService(ble.UUID16(gattdb.ServiceDeviceInformation))
	svc.NewCharacteristic(ble.UUID16(gattdb.CharManufacturerName)).SetValue([]byte(s.info.Manufacturer))
	svc.NewCharacteristic(ble.UUID16(gattdb.CharModelNumber)).SetValue([]byte(s.info.Model))
	return svc
}

func (s *Server) batteryService() *ble.Service {
	svc := ble.NewService(ble.UUID16(gattdb.ServiceBattery))
	level := s.info.BatteryLevel
	svc.NewCharacteristic(ble.UUID16(gattdb.CharBatteryLevel)).
		HandleRead(ble.ReadHandlerFunc(func(req ble.Request, rsp ble.ResponseWriter) {
			_, _ = rsp.Write([]byte{level})
		}))
	return svc
}

// AdvertisedServices lists the UUIDs placed in the advertising payload.
func AdvertisedServices() []ble.UUID {
	return []ble.UUID{ble.UUID16(gattdb.ServiceCGM), ble.UUID16(gattdb.ServiceDeviceInformation)}
}
