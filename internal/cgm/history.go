package cgm

import (
	"errors"
	"fmt"

	"github.com/smallnest/ringbuffer"
)

// History keeps the most recent encoded measurements, oldest first.
type History struct {
	buf      *ringbuffer.RingBuffer
	capacity int
}

// NewHistory keeps up to capacity records. A capacity of 0 disables it.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		return &History{}
	}
	return &History{
		buf:      ringbuffer.New(capacity * MeasurementSize),
		capacity: capacity,
	}
}

// Add appends rec, evicting the oldest record when full.
func (h *History) Add(rec MeasurementRecord) error {
	if h.buf == nil {
		return nil
	}
	if h.buf.Free() < MeasurementSize {
		if _, err := h.buf.Read(make([]byte, MeasurementSize)); err != nil {
			return fmt.Errorf("evict oldest measurement: %w", err)
		}
	}
	if _, err := h.buf.Write(rec.Encode()); err != nil {
		return fmt.Errorf("store measurement: %w", err)
	}
	return nil
}

// Len returns the number of stored records.
func (h *History) Len() int {
	if h.buf == nil {
		return 0
	}
	return h.buf.Length() / MeasurementSize
}

// Cap returns the record capacity.
func (h *History) Cap() int {
	return h.capacity
}

// Records returns a copy of the stored records, oldest first.
func (h *History) Records() ([]MeasurementRecord, error) {
	if h.buf == nil || h.buf.IsEmpty() {
		return nil, nil
	}
	raw := make([]byte, h.buf.Length())
	n, err := h.buf.Read(raw)
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return nil, fmt.Errorf("read history: %w", err)
	}
	raw = raw[:n]
	// Reading drains the ring; put the bytes back.
	if _, err := h.buf.Write(raw); err != nil {
		return nil, fmt.Errorf("restore history: %w", err)
	}

	records := make([]MeasurementRecord, 0, n/MeasurementSize)
	for off := 0; off+MeasurementSize <= n; off += MeasurementSize {
		rec, err := DecodeMeasurement(raw[off : off+MeasurementSize])
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
