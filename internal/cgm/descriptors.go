package cgm

import "encoding/binary"

const (
	FeatureSize = 4
	StatusSize  = 5
	RunTimeSize = 2

	maxUint24 = 1<<24 - 1
)

// Feature is the CGM Feature characteristic: a 24-bit capability mask plus
// the packed type/sample-location byte.
type Feature struct {
	Bitmask    uint32
	TypeSample byte
}

// PackTypeSample packs a CGM type and sample location into one byte, type in
// the high nibble.
func PackTypeSample(cgmType, location byte) byte {
	return (cgmType&0x0F)<<4 | location&0x0F
}

// Type returns the CGM type nibble.
func (f Feature) Type() byte {
	return f.TypeSample >> 4
}

// Location returns the sample location nibble.
func (f Feature) Location() byte {
	return f.TypeSample & 0x0F
}

// Has reports whether every bit of mask is set.
func (f Feature) Has(mask uint32) bool {
	return f.Bitmask&mask == mask
}

func (f Feature) Encode() []byte {
	b := make([]byte, FeatureSize)
	putUint24(b[0:3], f.Bitmask)
	b[3] = f.TypeSample
	return b
}

func DecodeFeature(b []byte) (Feature, error) {
	if len(b) != FeatureSize {
		return Feature{}, &LengthError{What: "feature", Want: FeatureSize, Got: len(b)}
	}
	return Feature{Bitmask: uint24(b[0:3]), TypeSample: b[3]}, nil
}

// Status is the CGM Status characteristic snapshot.
type Status struct {
	TimeOffset uint16
	Bitmask    uint32
}

func (s Status) Encode() []byte {
	b := make([]byte, StatusSize)
	binary.LittleEndian.PutUint16(b[0:2], s.TimeOffset)
	putUint24(b[2:5], s.Bitmask)
	return b
}

func DecodeStatus(b []byte) (Status, error) {
	if len(b) != StatusSize {
		return Status{}, &LengthError{What: "status", Want: StatusSize, Got: len(b)}
	}
	return Status{TimeOffset: binary.LittleEndian.Uint16(b[0:2]), Bitmask: uint24(b[2:5])}, nil
}

// RunTime is the CGM Session Run Time in minutes.
type RunTime uint16

func (r RunTime) Encode() []byte {
	b := make([]byte, RunTimeSize)
	binary.LittleEndian.PutUint16(b, uint16(r))
	return b
}

func DecodeRunTime(b []byte) (RunTime, error) {
	if len(b) != RunTimeSize {
		return 0, &LengthError{What: "run time", Want: RunTimeSize, Got: len(b)}
	}
	return RunTime(binary.LittleEndian.Uint16(b)), nil
}

// putUint24 writes the low 24 bits of v least-significant byte first.
func putUint24(b []byte, v uint32) {
	_ = b[2]
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

func uint24(b []byte) uint32 {
	_ = b[2]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}
