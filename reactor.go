package bedge

import (
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
)

// ErrWouldBlock is returned by a [Transport] that cannot take any bytes right now. The bridge
// stops writing until the next writability event.
var ErrWouldBlock = errors.New("transport would block")

// Transport is the non-blocking write side of one connection.
type Transport interface {
	// TryWrite accepts a prefix of p and returns its length. It never blocks.
	TryWrite(p []byte) (int, error)
	Close() error
}

// Progress is what a writability event achieved for a connection.
type Progress int

const (
	// ProgressIdle means there is nothing to write until the handler produces more.
	ProgressIdle Progress = iota
	// ProgressBlocked means the transport did not take everything, wait for it to become writable.
	ProgressBlocked
	// ProgressKeepAlive means the response was fully written and the next request may be read.
	ProgressKeepAlive
	// ProgressClose means the response was fully written and the connection must be closed.
	ProgressClose
)

func (p Progress) String() string {
	switch p {
	case ProgressIdle:
		return "idle"
	case ProgressBlocked:
		return "blocked"
	case ProgressKeepAlive:
		return "keep-alive"
	case ProgressClose:
		return "close"
	default:
		return "unknown"
	}
}

// Conn is the reactor side of one connection. It holds the only strong reference to the active
// response, which refers back to it weakly to wake the reactor.
type Conn struct {
	id        uint64
	transport Transport
	wake      func()

	res       *ResponseState
	isHead    bool
	proto11   bool
	keepAlive bool
	framing   bodyFraming
	headDone  bool
	ended     bool
	interest  bool
	status    int
	bodyBytes int64
	start     time.Time

	out []byte
	off int
}

// ID returns the connection id.
func (c *Conn) ID() uint64 { return c.id }

// Wake asks the reactor to poll this connection.
func (c *Conn) Wake() {
	if c.wake != nil {
		c.wake()
	}
}

// WantsWrite reports whether the connection waits for the transport to become writable.
func (c *Conn) WantsWrite() bool { return c.interest }

// Active reports whether a response is in flight.
func (c *Conn) Active() bool { return c.res != nil }

// DisableKeepAlive makes the connection close after the current response.
func (c *Conn) DisableKeepAlive() { c.keepAlive = false }

func (c *Conn) pending() []byte { return c.out[c.off:] }

// Bridge drains responses into transports. All methods except the wake callback it is given must
// be called from the single goroutine that owns the connections.
type Bridge struct {
	conns    map[uint64]*Conn
	wake     func(id uint64)
	clock    clock.Clock
	logs     Logger
	obs      Observer
	maxChunk int
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithClock sets the clock used for the Date header and response timings.
func WithClock(c clock.Clock) BridgeOption {
	return func(b *Bridge) { b.clock = c }
}

// WithLogger sets the logger for transport errors.
func WithLogger(l Logger) BridgeOption {
	return func(b *Bridge) { b.logs = l }
}

// WithObserver sets the observer for completed responses.
func WithObserver(o Observer) BridgeOption {
	return func(b *Bridge) { b.obs = o }
}

// WithMaxChunk bounds how many body bytes are drained from a response at a time.
func WithMaxChunk(n int) BridgeOption {
	return func(b *Bridge) { b.maxChunk = n }
}

// NewBridge creates a bridge. Wake is called from any goroutine whenever a response of connection
// id has something to drain. It must not block and typically schedules [Bridge.OnWritable].
func NewBridge(wake func(id uint64), opts ...BridgeOption) *Bridge {
	b := &Bridge{
		conns:    make(map[uint64]*Conn),
		wake:     wake,
		clock:    clock.New(),
		logs:     NewStdLogger(nil),
		obs:      NopObserver(),
		maxChunk: 32 << 10,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Attach registers a connection and returns it.
func (b *Bridge) Attach(id uint64, t Transport) *Conn {
	c := &Conn{id: id, transport: t}
	c.wake = func() { b.wake(id) }
	b.conns[id] = c

	return c
}

// Conn returns the connection with the given id, or nil.
func (b *Bridge) Conn(id uint64) *Conn { return b.conns[id] }

// Activate makes res the response of the connection. Req decides framing and keep-alive, a nil
// req means an HTTP/1.1 response after which the connection closes.
func (b *Bridge) Activate(id uint64, res *ResponseState, req *Request) error {
	c := b.conns[id]
	if c == nil {
		return errors.Newf("unknown connection %d", id)
	}

	if c.res != nil {
		return errors.Newf("connection %d already has an active response", id)
	}

	c.res = res
	c.isHead, c.proto11, c.keepAlive = false, true, false
	if req != nil {
		c.isHead = req.Method == http.MethodHead
		c.proto11 = req.ProtoMajor > 1 || (req.ProtoMajor == 1 && req.ProtoMinor >= 1)
		c.keepAlive = !req.wantsClose()
	}

	c.headDone, c.ended, c.interest = false, false, false
	c.status, c.bodyBytes = 0, 0
	c.start = b.clock.Now()
	c.out, c.off = c.out[:0], 0

	return nil
}

// PollResponse returns the framed bytes that are ready to be written for the connection. It
// reports false while the handler has not produced anything. The bytes stay pending until
// [Bridge.OnWritable] got the transport to accept them.
func (b *Bridge) PollResponse(id uint64) ([]byte, bool) {
	c := b.conns[id]
	if c == nil || c.res == nil {
		return nil, false
	}

	if p := c.pending(); len(p) > 0 {
		return p, true
	}

	if c.ended {
		return nil, false
	}

	c.out, c.off = c.out[:0], 0

	if !c.headDone {
		status, header, size, ok := c.res.head()
		if !ok {
			return nil, false
		}

		c.framing = responseFraming(status, c.isHead, c.proto11, size)
		if c.framing == framingClose {
			c.keepAlive = false
		}

		c.out = appendHead(c.out, status, header, c.framing, size, !c.keepAlive, b.clock.Now())
		c.headDone, c.status = true, status
	}

	for {
		chunk, done := c.res.drain(b.maxChunk)
		c.bodyBytes += int64(len(chunk))

		switch c.framing {
		case framingChunked:
			if len(chunk) > 0 {
				c.out = appendChunk(c.out, chunk)
			}
		case framingLength, framingClose:
			c.out = append(c.out, chunk...)
		case framingNone:
		}

		if done {
			if c.framing == framingChunked {
				c.out = append(c.out, lastChunk...)
			}

			c.ended = true
			break
		}

		// bodies that are not sent are drained until nothing is left
		if len(chunk) == 0 || c.framing != framingNone {
			break
		}
	}

	return c.out, len(c.out) > 0
}

// OnWritable writes as much of the connection's response as the transport accepts. A partial
// write or [ErrWouldBlock] ends the event, the rest is written on the next one. A transport error
// detaches the connection and is returned in the [ErrTransport] category. Events for unknown
// connections are ignored.
func (b *Bridge) OnWritable(id uint64) (Progress, error) {
	c := b.conns[id]
	if c == nil || c.res == nil {
		return ProgressIdle, nil
	}

	for {
		p, ok := b.PollResponse(id)
		if !ok {
			break
		}

		n, err := c.transport.TryWrite(p)
		c.off += n

		switch {
		case errors.Is(err, ErrWouldBlock):
			c.interest = true
			return ProgressBlocked, nil
		case err != nil:
			b.logs.LogTransportError(id, err)
			b.Detach(id)
			return ProgressClose, categorize(ErrTransport, errors.Wrapf(err, "write to connection %d", id))
		case n < len(p):
			c.interest = true
			return ProgressBlocked, nil
		}
	}

	c.interest = false
	if !c.ended || !c.res.IsTerminal() {
		return ProgressIdle, nil
	}

	res := c.res
	c.res = nil
	res.release(connSide)
	b.obs.ObserveResponse(c.status, c.bodyBytes, b.clock.Since(c.start))

	if c.keepAlive {
		return ProgressKeepAlive, nil
	}

	return ProgressClose, nil
}

// Detach tears the connection down. An active response is cancelled so later handler calls
// become no-ops, and the transport is closed.
func (b *Bridge) Detach(id uint64) {
	c := b.conns[id]
	if c == nil {
		return
	}

	delete(b.conns, id)

	if c.res != nil {
		c.res.Cancel()
		c.res.release(connSide)
		c.res = nil
	}

	if err := c.transport.Close(); err != nil {
		b.logs.LogTransportError(id, errors.Wrap(err, "close"))
	}
}
