package bedge

import (
	"net/http"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/cockroachdb/errors"
	"golang.org/x/net/http/httpguts"
)

// completion states of a ResponseState. Transitions only ever move forward.
const (
	statePending uint32 = iota
	stateArmed
	stateDone
)

// holders of a ResponseState. The body buffer is recycled once both have let go.
const (
	handlerSide uint32 = 1 << iota
	connSide
)

// maxPooledBody caps the capacity of body buffers that are returned to the pool.
const maxPooledBody = 64 << 10

var bodyPool = sync.Pool{New: func() any {
	b := make([]byte, 0, 4096)
	return &b
}}

// ResponseState holds the status, headers and body of one in-flight response together with its
// completion state. A handler may complete it from any goroutine, while the reactor that owns the
// connection drains it into the transport. Every transition of the completion state is a single
// compare-and-swap so exactly one actor wins it.
//
// A response is completed in one of three ways: [ResponseState.Send] sets the whole body at once,
// [ResponseState.Append] followed by [ResponseState.End] streams it, and the [Dispatcher] forces
// an error response when the handler fails.
type ResponseState struct {
	state     atomic.Uint32
	notify    atomic.Bool
	cancelled atomic.Bool
	released  atomic.Uint32
	conn      weak.Pointer[Conn]
	limit     int

	mu       sync.Mutex
	status   int
	header   http.Header
	body     *[]byte
	off      int
	streamed bool
}

// NewResponseState creates a pending response with status 200. A limit below zero disables the
// bound on unsent streamed bytes.
func NewResponseState(limit int) *ResponseState {
	return newResponseState(limit, nil)
}

func newResponseState(limit int, conn *Conn) *ResponseState {
	res := &ResponseState{limit: limit, status: http.StatusOK, header: http.Header{}}
	if conn != nil {
		res.conn = weak.Make(conn)
	}

	return res
}

// Status returns the response status code.
func (r *ResponseState) Status() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.status
}

// Header returns a copy of the response headers.
func (r *ResponseState) Header() http.Header {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.header.Clone()
}

// SetStatus sets the status code.
func (r *ResponseState) SetStatus(code int) error {
	if code < 100 || code > 999 {
		return errors.Newf("invalid status code %d", code)
	}

	return r.mutate(func() { r.status = code })
}

// SetHeader replaces any existing values of header k.
func (r *ResponseState) SetHeader(k, v string) error {
	if err := validHeader(k, v); err != nil {
		return err
	}

	return r.mutate(func() { r.header.Set(k, v) })
}

// AddHeader adds v to the values of header k.
func (r *ResponseState) AddHeader(k, v string) error {
	if err := validHeader(k, v); err != nil {
		return err
	}

	return r.mutate(func() { r.header.Add(k, v) })
}

// ContentType sets the Content-Type header.
func (r *ResponseState) ContentType(v string) error {
	return r.SetHeader("Content-Type", v)
}

// SetCookie adds a Set-Cookie header. Invalid cookies are rejected.
func (r *ResponseState) SetCookie(c *http.Cookie) error {
	v := c.String()
	if v == "" {
		return errors.Newf("invalid cookie %q", c.Name)
	}

	return r.AddHeader("Set-Cookie", v)
}

// Redirect completes the response with a Location header and an empty body. A zero code
// means 302 Found.
func (r *ResponseState) Redirect(url string, code int) error {
	if code == 0 {
		code = http.StatusFound
	}

	if code < 300 || code > 399 {
		return errors.Newf("invalid redirect status code %d", code)
	}

	if err := validHeader("Location", url); err != nil {
		return err
	}

	return r.finish(nil, func() {
		r.status = code
		r.header.Set("Location", url)
	})
}

// Send completes the response with p as the full body. When another actor already completed,
// started streaming or cancelled the response, Send has no effect and returns [ErrCompleted] or
// [ErrCancelled].
func (r *ResponseState) Send(p []byte) error {
	return r.finish(p, nil)
}

// Append adds p to a streamed body. The first call freezes status and headers. Bytes are drained
// in the order they were appended.
func (r *ResponseState) Append(p []byte) error {
	r.mu.Lock()
	switch {
	case r.cancelled.Load():
		r.mu.Unlock()
		r.release(handlerSide)
		return ErrCancelled
	case r.state.Load() == stateDone:
		r.mu.Unlock()
		r.release(handlerSide)
		return ErrStateFrozen
	case r.limit >= 0 && r.unsent()+len(p) > r.limit:
		want := r.unsent() + len(p)
		r.mu.Unlock()
		return errors.Wrapf(ErrBufferFull, "%d unsent bytes, limit is %d", want, r.limit)
	}

	if r.state.CompareAndSwap(statePending, stateArmed) {
		r.streamed = true
	}

	r.appendBody(p)
	r.mu.Unlock()

	r.wake()
	return nil
}

// End completes a streamed response. Ending a response that never streamed sends an empty body.
func (r *ResponseState) End() error {
	r.mu.Lock()
	if r.cancelled.Load() {
		r.mu.Unlock()
		r.release(handlerSide)
		return ErrCancelled
	}

	if !r.state.CompareAndSwap(stateArmed, stateDone) && !r.state.CompareAndSwap(statePending, stateDone) {
		r.mu.Unlock()
		return r.lost()
	}

	r.mu.Unlock()
	r.release(handlerSide)
	r.wake()

	return nil
}

// TryDrain returns up to max unsent body bytes and advances past them. A max of zero or less
// means no bound. It never blocks and returns nil while nothing is ready. It must only be
// called by the single goroutine that owns the connection, and the returned slice is only
// valid until the next call.
func (r *ResponseState) TryDrain(max int) []byte {
	chunk, _ := r.drain(max)
	return chunk
}

// IsTerminal reports whether the response is done and fully drained, or cancelled.
func (r *ResponseState) IsTerminal() bool {
	if r.cancelled.Load() {
		return true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state.Load() == stateDone && r.unsent() == 0
}

// IsCancelled reports whether the connection layer gave up on the response.
func (r *ResponseState) IsCancelled() bool {
	return r.cancelled.Load()
}

// Cancel marks the response as abandoned. Any later handler call is a no-op that returns
// [ErrCancelled].
func (r *ResponseState) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelled.Store(true)
	for {
		s := r.state.Load()
		if s == stateDone || r.state.CompareAndSwap(s, stateDone) {
			return
		}
	}
}

// finish moves the response from pending straight to done, running prepare and storing p
// for the winner only.
func (r *ResponseState) finish(p []byte, prepare func()) error {
	r.mu.Lock()
	if !r.state.CompareAndSwap(statePending, stateDone) {
		r.mu.Unlock()
		return r.lost()
	}

	if prepare != nil {
		prepare()
	}

	r.appendBody(p)
	r.mu.Unlock()

	r.release(handlerSide)
	r.wake()

	return nil
}

// force completes the response on behalf of a failed handler. A pending response is replaced by
// a plain text error, a streaming response is ended where it is. It reports whether it won.
func (r *ResponseState) force(status int, body []byte) bool {
	r.mu.Lock()
	switch {
	case r.state.CompareAndSwap(statePending, stateDone):
		r.status = status
		r.header = http.Header{
			"Content-Type":           {"text/plain; charset=utf-8"},
			"X-Content-Type-Options": {"nosniff"},
		}

		if r.body != nil {
			*r.body = (*r.body)[:0]
			r.off = 0
		}

		r.appendBody(body)
	case r.state.CompareAndSwap(stateArmed, stateDone):
	default:
		r.mu.Unlock()
		return false
	}

	r.mu.Unlock()
	r.release(handlerSide)
	r.wake()

	return true
}

// lost reports the outcome for an actor whose transition did not win.
func (r *ResponseState) lost() error {
	if r.state.Load() == stateDone {
		r.release(handlerSide)
	}

	if r.cancelled.Load() {
		return ErrCancelled
	}

	return ErrCompleted
}

// mutate runs fn while the response is still pending.
func (r *ResponseState) mutate(fn func()) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Load() != statePending {
		return ErrStateFrozen
	}

	fn()

	return nil
}

// head returns the frozen status line inputs. Size is the full body length for responses
// completed with Send and -1 for streamed ones. It reports false while the response is pending.
func (r *ResponseState) head() (status int, header http.Header, size int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Load() == statePending {
		return 0, nil, 0, false
	}

	size = -1
	if !r.streamed {
		size = r.unsent()
	}

	return r.status, r.header, size, true
}

// drain clears the notify flag before looking at the buffer so an append racing with it
// always wakes the reactor again. It also reports whether nothing more will follow.
func (r *ResponseState) drain(max int) ([]byte, bool) {
	r.notify.Store(false)

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cancelled.Load() {
		return nil, true
	}

	st := r.state.Load()
	if st == statePending {
		return nil, false
	}

	if r.body == nil {
		return nil, st == stateDone
	}

	buf := *r.body
	if r.off == len(buf) {
		*r.body, r.off = buf[:0], 0
		return nil, st == stateDone
	}

	end := len(buf)
	if max > 0 && end-r.off > max {
		end = r.off + max
	}

	chunk := buf[r.off:end:end]
	r.off = end

	return chunk, st == stateDone && r.off == len(buf)
}

func (r *ResponseState) unsent() int {
	if r.body == nil {
		return 0
	}

	return len(*r.body) - r.off
}

func (r *ResponseState) appendBody(p []byte) {
	if len(p) == 0 {
		return
	}

	if r.body == nil {
		r.body = bodyPool.Get().(*[]byte)
	}

	*r.body = append(*r.body, p...)
}

// wake tells the owning connection there is something to drain, at most once until the
// reactor drains again.
func (r *ResponseState) wake() {
	if !r.notify.CompareAndSwap(false, true) {
		return
	}

	if c := r.conn.Value(); c != nil {
		c.Wake()
	}
}

// release drops the hold of one side and recycles the body once both sides let go.
func (r *ResponseState) release(side uint32) {
	for {
		old := r.released.Load()
		if old&side != 0 {
			return
		}

		if r.released.CompareAndSwap(old, old|side) {
			if old|side == handlerSide|connSide {
				r.free()
			}

			return
		}
	}
}

func (r *ResponseState) free() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.body == nil {
		return
	}

	if cap(*r.body) <= maxPooledBody {
		*r.body = (*r.body)[:0]
		bodyPool.Put(r.body)
	}

	r.body, r.off = nil, 0
}

func validHeader(k, v string) error {
	if !httpguts.ValidHeaderFieldName(k) {
		return errors.Newf("invalid header field name %q", k)
	}

	if !httpguts.ValidHeaderFieldValue(v) {
		return errors.Newf("invalid value for header field %q", k)
	}

	return nil
}
