package testutils

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-ble/ble"
)

// FakeConn is a peer connection. Only the methods the GATT server uses are
// implemented; anything else panics through the nil embedded interface.
type FakeConn struct {
	ble.Conn
	addr ble.Addr
	done chan struct{}
	once sync.Once
}

func NewFakeConn(addr string) *FakeConn {
	return &FakeConn{addr: ble.NewAddr(addr), done: make(chan struct{})}
}

func (c *FakeConn) RemoteAddr() ble.Addr { return c.addr }

func (c *FakeConn) Disconnected() <-chan struct{} { return c.done }

// Disconnect closes the link as the peer would.
func (c *FakeConn) Disconnect() { c.once.Do(func() { close(c.done) }) }

// FakeRequest is an attribute request arriving on Conn.
type FakeRequest struct {
	ble.Request
	conn ble.Conn
	data []byte
}

func NewFakeRequest(conn ble.Conn, data []byte) *FakeRequest {
	return &FakeRequest{conn: conn, data: data}
}

func (r *FakeRequest) Conn() ble.Conn { return r.conn }

func (r *FakeRequest) Data() []byte { return r.data }

func (r *FakeRequest) Offset() int { return 0 }

// FakeResponse captures what a handler wrote and the ATT status it set.
type FakeResponse struct {
	ble.ResponseWriter
	buf    []byte
	status ble.ATTError
}

func NewFakeResponse() *FakeResponse { return &FakeResponse{} }

func (r *FakeResponse) Write(b []byte) (int, error) {
	r.buf = append(r.buf, b...)
	return len(b), nil
}

func (r *FakeResponse) SetStatus(status ble.ATTError) { r.status = status }

func (r *FakeResponse) Status() ble.ATTError { return r.status }

func (r *FakeResponse) Bytes() []byte { return r.buf }

// FakeNotifier records notifications or indications sent to one subscriber.
// Unsubscribe ends the subscription the way a CCCD write of zero does.
type FakeNotifier struct {
	ble.Notifier
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	writes   [][]byte
	writeErr error
	written  chan struct{}
	gate     chan struct{}
	entered  chan struct{}
}

func NewFakeNotifier() *FakeNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	return &FakeNotifier{
		ctx:     ctx,
		cancel:  cancel,
		written: make(chan struct{}, 64),
		entered: make(chan struct{}, 64),
	}
}

func (n *FakeNotifier) Context() context.Context { return n.ctx }

func (n *FakeNotifier) Write(b []byte) (int, error) {
	n.mu.Lock()
	gate := n.gate
	n.mu.Unlock()
	if gate != nil {
		select {
		case n.entered <- struct{}{}:
		default:
		}
		// an indication waiting for the peer's confirmation
		select {
		case <-gate:
		case <-n.ctx.Done():
			return 0, errors.New("notifier closed")
		}
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ctx.Err() != nil {
		return 0, errors.New("notifier closed")
	}
	if n.writeErr != nil {
		return 0, n.writeErr
	}
	n.writes = append(n.writes, append([]byte(nil), b...))
	select {
	case n.written <- struct{}{}:
	default:
	}
	return len(b), nil
}

func (n *FakeNotifier) Close() error {
	n.cancel()
	return nil
}

func (n *FakeNotifier) Cap() int { return 20 }

// Unsubscribe cancels the notifier context.
func (n *FakeNotifier) Unsubscribe() { n.cancel() }

// HoldWrites makes subsequent writes block until the returned release is
// called. Release is idempotent.
func (n *FakeNotifier) HoldWrites() (release func()) {
	gate := make(chan struct{})
	n.mu.Lock()
	n.gate = gate
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			n.gate = nil
			n.mu.Unlock()
			close(gate)
		})
	}
}

// WaitHeld reports whether a write started blocking on HoldWrites within timeout.
func (n *FakeNotifier) WaitHeld(timeout time.Duration) bool {
	select {
	case <-n.entered:
		return true
	case <-time.After(timeout):
		return false
	}
}

// FailWrites makes subsequent writes return err.
func (n *FakeNotifier) FailWrites(err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.writeErr = err
}

func (n *FakeNotifier) Writes() [][]byte {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([][]byte(nil), n.writes...)
}

// WaitWrites blocks until at least count writes arrived or timeout elapses.
func (n *FakeNotifier) WaitWrites(count int, timeout time.Duration) [][]byte {
	deadline := time.After(timeout)
	for {
		if w := n.Writes(); len(w) >= count {
			return w
		}
		select {
		case <-n.written:
		case <-deadline:
			return n.Writes()
		}
	}
}
