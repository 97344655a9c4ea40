package cgm

import (
	"fmt"
	"time"
)

// Opcode is a CGM Specific Ops control point opcode.
type Opcode byte

const (
	OpSetInterval  Opcode = 0x01
	OpGetInterval  Opcode = 0x02
	OpRespInterval Opcode = 0x03
	OpRespCode     Opcode = 0x1C
)

func (o Opcode) String() string {
	switch o {
	case OpSetInterval:
		return "SET_INTERVAL"
	case OpGetInterval:
		return "GET_INTERVAL"
	case OpRespInterval:
		return "RESP_INTERVAL"
	case OpRespCode:
		return "RESP_CODE"
	default:
		return fmt.Sprintf("OPCODE(0x%02X)", byte(o))
	}
}

// ResponseStatus is the status byte carried in every control point response.
type ResponseStatus byte

const (
	StatusSuccess               ResponseStatus = 0x01
	StatusOpCodeNotSupported    ResponseStatus = 0x02
	StatusOperandInvalid        ResponseStatus = 0x03
	StatusProcedureNotCompleted ResponseStatus = 0x04
	StatusParameterOutOfRange   ResponseStatus = 0x05
)

func (s ResponseStatus) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusOpCodeNotSupported:
		return "OP_CODE_NOT_SUPPORTED"
	case StatusOperandInvalid:
		return "OPERAND_INVALID"
	case StatusProcedureNotCompleted:
		return "PROCEDURE_NOT_COMPLETED"
	case StatusParameterOutOfRange:
		return "PARAMETER_OUT_OF_RANGE"
	default:
		return fmt.Sprintf("STATUS(0x%02X)", byte(s))
	}
}

// Feature bits (24-bit field of the CGM Feature characteristic).
const (
	FeatureCalibration uint32 = 1 << iota
	FeaturePatientHighLowAlerts
	FeatureHypoAlerts
	FeatureHyperAlerts
	FeatureRateAlerts
	FeatureDeviceSpecificAlert
	FeatureSensorMalfunction
	FeatureSensorTempHighLow
	FeatureSensorResultHighLow
	FeatureLowBattery
	FeatureSensorTypeError
	FeatureGeneralDeviceFault
	FeatureE2ECRC
	FeatureMultiBond
	FeatureMultiSession
	FeatureTrendInfo
	FeatureQuality
)

// CGM type (sample fluid) values.
const (
	TypeCapillaryWholeBlood byte = 0x1
	TypeCapillaryPlasma     byte = 0x2
	TypeVenousWholeBlood    byte = 0x3
	TypeVenousPlasma        byte = 0x4
	TypeArterialWholeBlood  byte = 0x5
	TypeArterialPlasma      byte = 0x6
	TypeUndeterminedWhole   byte = 0x7
	TypeUndeterminedPlasma  byte = 0x8
	TypeISF                 byte = 0x9
	TypeControlSolution     byte = 0xA
)

// Sample location values.
const (
	LocationFinger          byte = 0x1
	LocationAlternateSite   byte = 0x2
	LocationEarlobe         byte = 0x3
	LocationControlSolution byte = 0x4
	LocationSubcutaneous    byte = 0x5
	LocationNotAvailable    byte = 0xF
)

// Status bits (24-bit field of the CGM Status characteristic).
const (
	StatusSessionStopped uint32 = 1 << iota
	StatusDeviceBatteryLow
	StatusSensorTypeIncorrect
	StatusSensorMalfunction
	StatusDeviceSpecificAlert
	StatusGeneralDeviceFault
)

// DST offset codes of the Session Start Time characteristic.
const (
	DSTStandard     byte = 0
	DSTHalfHour     byte = 2
	DSTDaylight     byte = 4
	DSTDoubleHour   byte = 8
	DSTUnknown      byte = 255
	TimeZoneUnknown int8 = -128
)

const (
	// DefaultNotifyPeriod is the first period armed when a peer subscribes to measurements.
	DefaultNotifyPeriod = time.Second

	// MinIntervalMs is the shortest non-zero communication interval.
	MinIntervalMs uint32 = 1000

	// PauseInterval is the interval sentinel meaning "notifications paused".
	PauseInterval uint32 = 0
)

// Characteristic names the readable characteristics served by the session store.
type Characteristic int

const (
	CharFeature Characteristic = iota
	CharStatus
	CharStartTime
	CharRunTime
)

func (c Characteristic) String() string {
	switch c {
	case CharFeature:
		return "feature"
	case CharStatus:
		return "status"
	case CharStartTime:
		return "start-time"
	case CharRunTime:
		return "run-time"
	default:
		return "unknown"
	}
}
