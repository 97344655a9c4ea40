package cgm

import "time"

// Options configures a Service. The zero value is not usable; start from
// DefaultOptions.
type Options struct {
	Feature   Feature
	Status    Status
	StartTime SessionStartTime
	RunTime   RunTime

	// Interval is the initial communication interval.
	Interval time.Duration
	// NotifyPeriod is armed when a peer enables measurement notifications.
	NotifyPeriod time.Duration

	QueueSize   int
	HistorySize int

	// ReplyUnsupported answers unknown opcodes with OP_CODE_NOT_SUPPORTED
	// instead of dropping them.
	ReplyUnsupported bool
}

// DefaultOptions returns the simulator's power-on state.
func DefaultOptions() Options {
	return Options{
		Feature: Feature{
			Bitmask:    FeatureMultiBond | FeatureE2ECRC | FeatureCalibration,
			TypeSample: PackTypeSample(TypeISF, LocationSubcutaneous),
		},
		Status: Status{TimeOffset: 0x1234, Bitmask: 0x567890},
		StartTime: SessionStartTime{
			Year: 2015, Month: 2, Day: 9,
			Hour: 3, Minute: 3, Second: 20,
			TimeZone:  -20,
			DSTOffset: DSTStandard,
		},
		RunTime:      0x1234,
		Interval:     time.Second,
		NotifyPeriod: DefaultNotifyPeriod,
		QueueSize:    16,
		HistorySize:  64,
	}
}
