// Package mailbox provides the bounded queue that feeds a single-threaded
// event loop.
package mailbox

import (
	"context"
	"sync/atomic"
)

// Mailbox is a bounded channel-backed queue with two producer policies:
//
//	mb := mailbox.New[event](16)
//
//	// Droppable input: never blocks, reports false when full.
//	if !mb.TrySend(ev) { ... }
//
//	// Required input: waits for room or for ctx.
//	if err := mb.Send(ctx, ev); err != nil { ... }
//
//	// Consumer: select on mb.C() next to other channels.
//
// Reads through C() are not counted; use Receive or TryReceive when the
// Processed counter matters.
type Mailbox[T any] struct {
	ch    chan T
	stats Stats
}

// New creates a mailbox holding up to capacity items.
func New[T any](capacity int) *Mailbox[T] {
	if capacity <= 0 {
		panic("mailbox: capacity must be > 0")
	}
	return &Mailbox[T]{ch: make(chan T, capacity)}
}

// C returns the receive side for use in select statements.
func (mb *Mailbox[T]) C() <-chan T {
	return mb.ch
}

// TrySend enqueues v without blocking. When the mailbox is full v is dropped
// and false is returned.
func (mb *Mailbox[T]) TrySend(v T) bool {
	select {
	case mb.ch <- v:
		atomic.AddInt64(&mb.stats.Written, 1)
		return true
	default:
		atomic.AddInt64(&mb.stats.Dropped, 1)
		return false
	}
}

// Send enqueues v, waiting for room until ctx is done.
func (mb *Mailbox[T]) Send(ctx context.Context, v T) error {
	select {
	case mb.ch <- v:
		atomic.AddInt64(&mb.stats.Written, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryReceive dequeues without blocking.
func (mb *Mailbox[T]) TryReceive() (v T, ok bool) {
	select {
	case v = <-mb.ch:
		atomic.AddInt64(&mb.stats.Processed, 1)
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// Receive waits for an item or for ctx.
func (mb *Mailbox[T]) Receive(ctx context.Context) (v T, err error) {
	select {
	case v = <-mb.ch:
		atomic.AddInt64(&mb.stats.Processed, 1)
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (mb *Mailbox[T]) Len() int { return len(mb.ch) }

func (mb *Mailbox[T]) Cap() int { return cap(mb.ch) }

// Stats returns a snapshot of the counters.
func (mb *Mailbox[T]) Stats() Stats {
	return Stats{
		Written:   atomic.LoadInt64(&mb.stats.Written),
		Dropped:   atomic.LoadInt64(&mb.stats.Dropped),
		Processed: atomic.LoadInt64(&mb.stats.Processed),
	}
}

// Stats counts mailbox traffic. Fields are updated atomically.
type Stats struct {
	Written   int64
	Dropped   int64
	Processed int64
}
