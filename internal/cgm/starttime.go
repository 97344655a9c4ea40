package cgm

import (
	"encoding/binary"
	"time"
)

// StartTimeSize is the encoded length of the Session Start Time characteristic.
const StartTimeSize = 9

const (
	minYear = 2000
	maxYear = 2111
)

// SessionStartTime is the wire form of the Session Start Time characteristic.
// Month and Day are one-based.
type SessionStartTime struct {
	Year      uint16
	Month     uint8
	Day       uint8
	Hour      uint8
	Minute    uint8
	Second    uint8
	TimeZone  int8 // 15 minute units from UTC
	DSTOffset uint8
}

func (s SessionStartTime) Encode() []byte {
	b := make([]byte, StartTimeSize)
	binary.LittleEndian.PutUint16(b[0:2], s.Year)
	b[2] = s.Month
	b[3] = s.Day
	b[4] = s.Hour
	b[5] = s.Minute
	b[6] = s.Second
	b[7] = byte(s.TimeZone)
	b[8] = s.DSTOffset
	return b
}

func DecodeStartTime(b []byte) (SessionStartTime, error) {
	if len(b) != StartTimeSize {
		return SessionStartTime{}, &LengthError{What: "start time", Want: StartTimeSize, Got: len(b)}
	}
	return SessionStartTime{
		Year:      binary.LittleEndian.Uint16(b[0:2]),
		Month:     b[2],
		Day:       b[3],
		Hour:      b[4],
		Minute:    b[5],
		Second:    b[6],
		TimeZone:  int8(b[7]),
		DSTOffset: b[8],
	}, nil
}

// Validate checks the calendar fields a write must satisfy: year 2000..2111,
// day 1..31 and month 1..12.
func (s SessionStartTime) Validate() error {
	if s.Year < minYear || s.Year > maxYear {
		return &FieldError{Field: "year", Value: int(s.Year)}
	}
	if s.Day == 0 || s.Day > 31 {
		return &FieldError{Field: "day", Value: int(s.Day)}
	}
	if s.Month == 0 || s.Month > 12 {
		return &FieldError{Field: "month", Value: int(s.Month)}
	}
	return nil
}

// calendarTime is the stored start time with zero-based month and day.
type calendarTime struct {
	year      uint16
	month0    uint8
	day0      uint8
	hour      uint8
	minute    uint8
	second    uint8
	timeZone  int8
	dstOffset uint8
}

// normalize converts a validated wire start time to the stored form.
func normalize(s SessionStartTime) calendarTime {
	return calendarTime{
		year:      s.Year,
		month0:    s.Month - 1,
		day0:      s.Day - 1,
		hour:      s.Hour,
		minute:    s.Minute,
		second:    s.Second,
		timeZone:  s.TimeZone,
		dstOffset: s.DSTOffset,
	}
}

func (c calendarTime) wire() SessionStartTime {
	return SessionStartTime{
		Year:      c.year,
		Month:     c.month0 + 1,
		Day:       c.day0 + 1,
		Hour:      c.hour,
		Minute:    c.minute,
		Second:    c.second,
		TimeZone:  c.timeZone,
		DSTOffset: c.dstOffset,
	}
}

// absolute converts the stored start time to an instant. The zone offset is
// TimeZone*15min plus the DST adjustment; unknown values count as zero.
func (c calendarTime) absolute() time.Time {
	offset := time.Duration(0)
	if c.timeZone != TimeZoneUnknown {
		offset = time.Duration(c.timeZone) * 15 * time.Minute
	}
	offset += dstDuration(c.dstOffset)
	zone := time.FixedZone("", int(offset/time.Second))
	return time.Date(int(c.year), time.Month(c.month0)+1, int(c.day0)+1,
		int(c.hour), int(c.minute), int(c.second), 0, zone)
}

func dstDuration(code uint8) time.Duration {
	switch code {
	case DSTHalfHour:
		return 30 * time.Minute
	case DSTDaylight:
		return time.Hour
	case DSTDoubleHour:
		return 2 * time.Hour
	default:
		return 0
	}
}
