package cgm

import "encoding/binary"

// MeasurementSize is the encoded length of a measurement record without optional fields.
const MeasurementSize = 6

// MeasurementRecord is one CGM Measurement notification.
type MeasurementRecord struct {
	Size          uint8
	Flags         uint8
	Concentration uint16
	TimeOffset    uint16
}

// Encode returns the wire layout
// [size][flags][concentration lo][concentration hi][offset lo][offset hi].
func (m MeasurementRecord) Encode() []byte {
	b := make([]byte, MeasurementSize)
	b[0] = m.Size
	b[1] = m.Flags
	binary.LittleEndian.PutUint16(b[2:4], m.Concentration)
	binary.LittleEndian.PutUint16(b[4:6], m.TimeOffset)
	return b
}

// DecodeMeasurement parses a measurement record and checks the self-described size.
func DecodeMeasurement(b []byte) (MeasurementRecord, error) {
	if len(b) != MeasurementSize {
		return MeasurementRecord{}, &LengthError{What: "measurement", Want: MeasurementSize, Got: len(b)}
	}
	if int(b[0]) != len(b) {
		return MeasurementRecord{}, &LengthError{What: "measurement size field", Want: len(b), Got: int(b[0])}
	}
	return MeasurementRecord{
		Size:          b[0],
		Flags:         b[1],
		Concentration: binary.LittleEndian.Uint16(b[2:4]),
		TimeOffset:    binary.LittleEndian.Uint16(b[4:6]),
	}, nil
}

// Generator produces the synthetic measurement signal. Concentration and time
// offset both advance by one per record and wrap at 2^16.
type Generator struct {
	last MeasurementRecord
}

// NewGenerator starts the signal after the given record.
func NewGenerator(seed MeasurementRecord) *Generator {
	return &Generator{last: seed}
}

// Next advances the signal and returns the new record.
func (g *Generator) Next() MeasurementRecord {
	g.last = MeasurementRecord{
		Size:          MeasurementSize,
		Flags:         0,
		Concentration: g.last.Concentration + 1,
		TimeOffset:    g.last.TimeOffset + 1,
	}
	return g.last
}

// Last returns the most recently generated record.
func (g *Generator) Last() MeasurementRecord {
	return g.last
}
