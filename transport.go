package bedge

import (
	"net"
	"sync"
	"sync/atomic"
)

// netTransport makes a net.Conn non-blocking by handing each write to a dedicated writer
// goroutine. While a write is in flight TryWrite returns ErrWouldBlock, and the end of every write
// is reported through onWritable. OnExit, if set, runs after the connection was closed.
type netTransport struct {
	nc         net.Conn
	buf        []byte
	work       chan int
	busy       atomic.Bool
	err        atomic.Pointer[error]
	onWritable func()
	onExit     func()
	closed     bool
	closeOnce  sync.Once
	exited     chan struct{}
}

func newNetTransport(nc net.Conn, maxWrite int, onWritable, onExit func()) *netTransport {
	t := &netTransport{
		nc:         nc,
		buf:        make([]byte, maxWrite),
		work:       make(chan int, 1),
		onWritable: onWritable,
		onExit:     onExit,
		exited:     make(chan struct{}),
	}

	go t.writeLoop()

	return t
}

// TryWrite copies at most one write buffer worth of p for the writer goroutine. It must be called
// from a single goroutine.
func (t *netTransport) TryWrite(p []byte) (int, error) {
	if errp := t.err.Load(); errp != nil {
		return 0, *errp
	}

	if t.closed {
		return 0, net.ErrClosed
	}

	if len(p) == 0 {
		return 0, nil
	}

	if !t.busy.CompareAndSwap(false, true) {
		return 0, ErrWouldBlock
	}

	n := copy(t.buf, p)
	t.work <- n

	return n, nil
}

// Close lets the writer finish what was accepted and then closes the connection.
func (t *netTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closed = true
		close(t.work)
	})

	return nil
}

func (t *netTransport) writeLoop() {
	defer func() {
		_ = t.nc.Close()
		close(t.exited)

		if t.onExit != nil {
			t.onExit()
		}
	}()

	for n := range t.work {
		if _, err := t.nc.Write(t.buf[:n]); err != nil {
			t.err.Store(&err)
		}

		t.busy.Store(false)
		t.onWritable()
	}
}
