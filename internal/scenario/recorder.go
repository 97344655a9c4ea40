package scenario

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// Kind tags a recorded event.
type Kind string

const (
	KindNotify   Kind = "notify"
	KindIndicate Kind = "indicate"
	KindPrint    Kind = "print"
	KindError    Kind = "error"
)

// Record is one line of scenario output.
type Record struct {
	Time    time.Time `json:"time"`
	Kind    Kind      `json:"kind"`
	Payload []byte    `json:"payload,omitempty"`
	Text    string    `json:"text"`
}

// Recorder keeps the most recent records; when full the oldest are overwritten.
// Safe for concurrent producers.
type Recorder struct {
	buf         mpmc.RichOverlappedRingBuffer[Record]
	overwritten atomic.Int64
	total       atomic.Int64
	onError     func(error)
}

// NewRecorder keeps up to size records. onError receives unexpected buffer errors.
func NewRecorder(size uint32, onError func(error)) *Recorder {
	if size == 0 {
		size = 1
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &Recorder{
		buf:     mpmc.NewOverlappedRingBuffer[Record](size),
		onError: onError,
	}
}

// Add appends rec.
func (r *Recorder) Add(rec Record) {
	overwrites, err := r.buf.EnqueueM(rec)
	if err != nil {
		r.onError(fmt.Errorf("record %s: %w", rec.Kind, err))
		return
	}
	r.total.Add(1)
	r.overwritten.Add(int64(overwrites))
}

// Drain removes and returns the buffered records, oldest first.
func (r *Recorder) Drain() []Record {
	var out []Record
	for !r.buf.IsEmpty() {
		rec, err := r.buf.Dequeue()
		if err != nil {
			r.onError(fmt.Errorf("drain: %w", err))
			break
		}
		out = append(out, rec)
	}
	return out
}

// Total returns how many records were added.
func (r *Recorder) Total() int64 { return r.total.Load() }

// Overwritten returns how many records were lost to overflow.
func (r *Recorder) Overwritten() int64 { return r.overwritten.Load() }
