package bedge

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
)

// ErrServerClosed is returned by [Server.Serve] after Shutdown or Close.
var ErrServerClosed = errors.New("bedge: server closed")

// ServerOptions configures a Server. Zero values select the defaults.
type ServerOptions struct {
	// IdleTimeout closes keep-alive connections that do not start a new request in time.
	IdleTimeout time.Duration
	// ReadTimeout bounds reading one request head and body.
	ReadTimeout time.Duration
	// MaxBodyBytes bounds request bodies. Larger bodies are answered with 413.
	MaxBodyBytes int64
	// MaxWriteChunk bounds how many bytes are handed to a connection in one write.
	MaxWriteChunk int

	Clock    clock.Clock
	Logger   Logger
	Observer Observer
}

func (o ServerOptions) withDefaults() ServerOptions {
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 2 * time.Minute
	}

	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 30 * time.Second
	}

	if o.MaxBodyBytes <= 0 {
		o.MaxBodyBytes = 10 << 20
	}

	if o.MaxWriteChunk <= 0 {
		o.MaxWriteChunk = 32 << 10
	}

	if o.Clock == nil {
		o.Clock = clock.New()
	}

	if o.Logger == nil {
		o.Logger = NewStdLogger(nil)
	}

	if o.Observer == nil {
		o.Observer = NopObserver()
	}

	return o
}

// Server accepts connections and serves them through a single reactor goroutine. Each connection
// has a reader goroutine that parses requests and a writer goroutine that performs the writes the
// reactor hands to it. Handlers run on the reactor and must move blocking work to their own
// goroutines.
type Server struct {
	mux    *ServeMux
	opts   ServerOptions
	loop   *Loop
	bridge *Bridge

	nextID  atomic.Uint64
	closing atomic.Bool
	conns   map[uint64]*serverConn // owned by the loop
	connWG  sync.WaitGroup
	ioWG    sync.WaitGroup

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	started   bool
	baseCtx   context.Context
	stopLoop  context.CancelFunc
	loopDone  chan struct{}
}

// Idle states of a connection. The reader and the idle timer race for an idle connection, the
// first to swap the state out of connIdle wins.
const (
	connIdle int32 = iota
	connReading
	connExpired
)

// serverConn is the per connection state. The reader goroutine owns br, everything else is owned
// by the loop unless noted.
type serverConn struct {
	id        uint64
	nc        net.Conn
	br        *bufio.Reader
	transport *netTransport
	conn      *Conn
	busy      bool
	cancel    context.CancelFunc
	idle      *clock.Timer
	idleGen   uint64
	state     atomic.Int32 // shared with the reader

	ready  chan struct{} // previous response is done, the reader may read the next request
	closed chan struct{}
}

// NewServer creates a server for mux.
func NewServer(mux *ServeMux, opts ServerOptions) *Server {
	s := &Server{
		mux:       mux,
		opts:      opts.withDefaults(),
		loop:      NewLoop(),
		conns:     make(map[uint64]*serverConn),
		listeners: make(map[net.Listener]struct{}),
	}

	s.bridge = NewBridge(
		func(id uint64) { s.loop.Post(func() { s.flush(id) }) },
		WithClock(s.opts.Clock),
		WithLogger(s.opts.Logger),
		WithObserver(s.opts.Observer),
		WithMaxChunk(s.opts.MaxWriteChunk),
	)

	return s
}

// ListenAndServe listens on the TCP address addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen on %q", addr)
	}

	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until Shutdown or Close is called, or ctx is done. The routes
// of the mux are sealed first. Request contexts derive from ctx. Ln is always closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mux.Router().Seal()

	s.mu.Lock()
	if s.closing.Load() {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}

	s.listeners[ln] = struct{}{}
	s.start(ctx)
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	defer func() {
		s.mu.Lock()
		delete(s.listeners, ln)
		s.mu.Unlock()
		_ = ln.Close()
	}()

	for {
		nc, err := ln.Accept()
		if err != nil {
			if s.closing.Load() {
				return ErrServerClosed
			}

			if ctx.Err() != nil {
				return ctx.Err()
			}

			return errors.Wrap(err, "accept")
		}

		s.accept(nc)
	}
}

// Shutdown stops accepting, closes idle connections and waits for in-flight responses to finish.
// When ctx ends first the remaining connections are closed and ctx's error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closing.Store(true)
	s.closeListeners()
	s.loop.Post(func() {
		for id, sc := range s.conns {
			if !sc.busy {
				s.drop(id, true)
				continue
			}

			sc.conn.DisableKeepAlive()
		}
	})

	done := make(chan struct{})
	go func() {
		s.connWG.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
		s.loop.Post(s.dropAll)
		<-done
	}

	s.finish()

	return err
}

// Close closes all listeners and connections immediately.
func (s *Server) Close() error {
	s.closing.Store(true)
	s.closeListeners()
	s.loop.Post(s.dropAll)
	s.connWG.Wait()
	s.finish()

	return nil
}

// start runs the loop once. It must be called with mu held.
func (s *Server) start(ctx context.Context) {
	if s.started {
		return
	}

	s.started = true
	s.baseCtx = ctx

	var loopCtx context.Context
	loopCtx, s.stopLoop = context.WithCancel(context.WithoutCancel(ctx))
	s.loopDone = make(chan struct{})

	go func() {
		defer close(s.loopDone)
		_ = s.loop.Run(loopCtx)
	}()
}

func (s *Server) finish() {
	s.ioWG.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		s.stopLoop()
		<-s.loopDone
	}
}

func (s *Server) closeListeners() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for ln := range s.listeners {
		_ = ln.Close()
	}
}

func (s *Server) accept(nc net.Conn) {
	if s.closing.Load() {
		_ = nc.Close()
		return
	}

	id := s.nextID.Add(1)
	sc := &serverConn{
		id:     id,
		nc:     nc,
		br:     bufio.NewReader(nc),
		ready:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}

	sc.ready <- struct{}{}
	s.connWG.Add(1)
	s.ioWG.Add(2)
	sc.transport = newNetTransport(nc, s.opts.MaxWriteChunk, func() {
		s.loop.Post(func() { s.flush(id) })
	}, s.ioWG.Done)

	s.loop.Post(func() { s.attach(sc) })

	go s.readLoop(sc)
}

// readLoop parses requests of one connection and posts them to the loop. The next request is
// only read once the previous response was written, but the connection is read from while the
// response is in flight so that a client going away aborts it.
func (s *Server) readLoop(sc *serverConn) {
	defer s.ioWG.Done()

	for {
		if _, err := sc.br.Peek(1); err != nil {
			s.loop.Post(func() { s.drop(sc.id, true) })
			return
		}

		select {
		case <-sc.ready:
		case <-sc.closed:
			return
		}

		if !sc.state.CompareAndSwap(connIdle, connReading) {
			return // expired
		}

		req, err := s.readRequest(sc)
		if err != nil {
			var herr *Error
			if errors.As(err, &herr) {
				s.loop.Post(func() { s.reject(sc, err) })
				<-sc.closed
				return
			}

			s.loop.Post(func() { s.drop(sc.id, true) })
			return
		}

		s.loop.Post(func() { s.serve(sc, req) })
	}
}

// readRequest reads the next request including its full body under the read timeout.
func (s *Server) readRequest(sc *serverConn) (*Request, error) {
	timer := s.opts.Clock.AfterFunc(s.opts.ReadTimeout, func() { _ = sc.nc.Close() })
	defer timer.Stop()

	req, ignored, err := readRequest(sc.br)
	if err != nil {
		return nil, err
	}

	req.RemoteAddr = sc.nc.RemoteAddr().String()

	limited := io.LimitReader(req.Body, s.opts.MaxBodyBytes+1)
	if ignored {
		n, err := io.Copy(io.Discard, limited)
		if err != nil {
			return nil, errors.Wrap(err, "discard body")
		}

		if n > s.opts.MaxBodyBytes {
			return nil, NewError(CodeRequestEntityTooLarge, errors.Newf("body exceeds %d bytes", s.opts.MaxBodyBytes))
		}

		s.opts.Logger.LogIgnoredBody(req.Method, req.Path)
		req.Body, req.ContentLength = http.NoBody, 0

		return req, nil
	}

	if req.ContentLength == 0 {
		return req, nil
	}

	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}

	if int64(len(body)) > s.opts.MaxBodyBytes {
		return nil, NewError(CodeRequestEntityTooLarge, errors.Newf("body exceeds %d bytes", s.opts.MaxBodyBytes))
	}

	req.Body, req.ContentLength = bytes.NewReader(body), int64(len(body))

	return req, nil
}

func (s *Server) attach(sc *serverConn) {
	s.conns[sc.id] = sc
	sc.conn = s.bridge.Attach(sc.id, sc.transport)
	s.opts.Observer.ObserveConn(1)

	if s.closing.Load() {
		s.drop(sc.id, true)
		return
	}

	s.armIdle(sc)
}

// armIdle (re)starts the idle timer of the connection. Fires of earlier timers are ignored.
func (s *Server) armIdle(sc *serverConn) {
	if sc.idle != nil {
		sc.idle.Stop()
	}

	sc.idleGen++
	id, gen := sc.id, sc.idleGen
	sc.idle = s.opts.Clock.AfterFunc(s.opts.IdleTimeout, func() {
		s.loop.Post(func() { s.expire(id, gen) })
	})
}

func (s *Server) serve(sc *serverConn, req *Request) {
	if _, ok := s.conns[sc.id]; !ok {
		return
	}

	var ctx context.Context
	ctx, sc.cancel = context.WithCancel(s.baseCtx)
	sc.busy = true
	sc.idle.Stop()

	res, _ := s.mux.Dispatch(ctx, req, sc.conn)
	if err := s.bridge.Activate(sc.id, res, req); err != nil {
		res.Cancel()
		s.opts.Logger.LogUnhandledServeError(err)
		s.drop(sc.id, true)
		return
	}

	if s.closing.Load() {
		sc.conn.DisableKeepAlive()
	}

	s.flush(sc.id)
}

func (s *Server) reject(sc *serverConn, err error) {
	if _, ok := s.conns[sc.id]; !ok {
		return
	}

	sc.busy = true
	sc.idle.Stop()
	res := s.mux.Dispatcher().Reject(err, sc.conn)
	if aerr := s.bridge.Activate(sc.id, res, nil); aerr != nil {
		s.drop(sc.id, true)
		return
	}

	s.flush(sc.id)
}

// flush runs a writability event for the connection and acts on the result.
func (s *Server) flush(id uint64) {
	sc, ok := s.conns[id]
	if !ok {
		return
	}

	progress, err := s.bridge.OnWritable(id)
	if err != nil {
		s.drop(id, true)
		return
	}

	switch progress {
	case ProgressKeepAlive:
		sc.busy = false
		if sc.cancel != nil {
			sc.cancel()
			sc.cancel = nil
		}

		if s.closing.Load() {
			s.drop(id, false)
			return
		}

		sc.state.Store(connIdle)
		s.armIdle(sc)
		sc.ready <- struct{}{}
	case ProgressClose:
		s.drop(id, false)
	case ProgressIdle, ProgressBlocked:
	}
}

// drop removes the connection. An abort closes the socket right away, otherwise bytes the
// transport already accepted are still written.
func (s *Server) drop(id uint64, abort bool) {
	sc, ok := s.conns[id]
	if !ok {
		return
	}

	delete(s.conns, id)

	if sc.idle != nil {
		sc.idle.Stop()
	}

	if sc.cancel != nil {
		sc.cancel()
	}

	s.bridge.Detach(id)
	if abort {
		_ = sc.nc.Close()
	}

	close(sc.closed)
	s.opts.Observer.ObserveConn(-1)
	s.connWG.Done()
}

func (s *Server) dropAll() {
	for id := range s.conns {
		s.drop(id, true)
	}
}

// expire closes a connection whose idle timeout fired, unless a request arrived in the meantime.
func (s *Server) expire(id, gen uint64) {
	sc, ok := s.conns[id]
	if !ok || sc.busy || gen != sc.idleGen {
		return
	}

	if sc.state.CompareAndSwap(connIdle, connExpired) {
		s.drop(id, true)
	}
}
