package bedge

import (
	"context"
	"log"
	"net/http"
	"runtime"
	"strconv"

	"github.com/cockroachdb/errors"
)

// ServeMux is a router with middleware, named routes and a dispatcher. It is served by [Server] and
// also implements http.Handler so it can run behind the standard library server.
type ServeMux struct {
	logs        Logger
	router      *Router
	dispatcher  *Dispatcher
	middlewares struct {
		captured bool
		buffered []Middleware
	}
}

// NewServeMux creates a new ServeMux with default settings.
func NewServeMux() *ServeMux {
	return NewServeMuxWith(-1, NewStdLogger(log.Default()), NewRouter(), nil)
}

// NewServeMuxWith creates a ServeMux with custom settings. BufLimit bounds unsent streamed bytes
// per response, a negative value disables the bound. A nil observer discards measurements.
func NewServeMuxWith(bufLimit int, logger Logger, router *Router, obs Observer) *ServeMux {
	return &ServeMux{
		logs:       logger,
		router:     router,
		dispatcher: NewDispatcher(bufLimit, logger, obs),
	}
}

// Router returns the underlying router.
func (m *ServeMux) Router() *Router { return m.router }

// Dispatcher returns the dispatcher that serves matched routes.
func (m *ServeMux) Dispatcher() *Dispatcher { return m.dispatcher }

// Reverse returns the url based on the name and parameter values.
func (m *ServeMux) Reverse(name string, vals ...string) (string, error) {
	return m.router.Reverse(name, vals...)
}

// Use allows providing of middleware.
func (m *ServeMux) Use(mw ...Middleware) {
	m.ensureNoUseAfterHandle()
	m.middlewares.buffered = append(m.middlewares.buffered, mw...)
}

// NotFound replaces the handler for requests that match no route. Middleware is applied.
func (m *ServeMux) NotFound(h Handler) {
	m.middlewares.captured = true
	m.dispatcher.notFound = Wrap(h, m.middlewares.buffered...)
}

// HandleFunc handles the request given the pattern using a function.
func (m *ServeMux) HandleFunc(method, pattern string, handler HandlerFunc, name ...string) {
	m.Handle(method, pattern, handler, name...)
}

// HandleStd registers a standard library [http.Handler] for the given pattern. Middleware
// registered via [ServeMux.Use] is applied.
func (m *ServeMux) HandleStd(method, pattern string, handler http.Handler, name ...string) {
	m.Handle(method, pattern, FromStd(handler), name...)
}

// Handle handles the request given a handler. It panics when the route cannot be registered, use
// [ServeMux.Register] to get the error instead.
func (m *ServeMux) Handle(method, pattern string, handler Handler, name ...string) {
	if err := m.Register(method, pattern, handler, name...); err != nil {
		panic("bedge: " + err.Error())
	}
}

// Register is like Handle but returns the registration error.
func (m *ServeMux) Register(method, pattern string, handler Handler, name ...string) error {
	m.middlewares.captured = true

	return m.router.Register(method, pattern, Wrap(handler, m.middlewares.buffered...), name...)
}

// Dispatch resolves req and dispatches it to the matching handler.
func (m *ServeMux) Dispatch(ctx context.Context, req *Request, conn *Conn) (*ResponseState, Outcome) {
	h, params, ok := m.router.Resolve(req.Method, req.routingPath())
	if !ok {
		return m.dispatcher.Dispatch(ctx, req, nil, conn)
	}

	return m.dispatcher.Dispatch(ctx, req.withParams(params), h, conn)
}

// ServeHTTP makes the server mux implement the http.Handler interface. The goroutine of the
// standard library server takes the place of the reactor: it waits for the response to become
// ready and copies it to w, flushing after every streamed chunk.
func (m *ServeMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, ignored := requestFromHTTP(r)
	if ignored {
		m.logs.LogIgnoredBody(req.Method, req.Path)
	}

	ready := make(chan struct{}, 1)
	conn := &Conn{wake: func() {
		select {
		case ready <- struct{}{}:
		default:
		}
	}}

	res, _ := m.Dispatch(r.Context(), req, conn)
	defer runtime.KeepAlive(conn)
	defer res.release(connSide)

	if err := m.pump(r.Context(), w, res, ready); err != nil {
		res.Cancel()
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			m.logs.LogUnhandledServeError(err)
		}
	}
}

func (m *ServeMux) pump(ctx context.Context, w http.ResponseWriter, res *ResponseState, ready <-chan struct{}) error {
	var (
		headDone bool
		streamed bool
	)

	flusher, _ := w.(http.Flusher)
	for {
		if !headDone {
			status, header, size, ok := res.head()
			if ok {
				for k, vs := range header {
					w.Header()[k] = append([]string(nil), vs...)
				}

				if size >= 0 && responseFraming(status, false, true, size) == framingLength {
					w.Header().Set("Content-Length", strconv.Itoa(size))
				}

				w.WriteHeader(status)
				headDone, streamed = true, size < 0
			}
		}

		if headDone {
			chunk, done := res.drain(0)
			if len(chunk) > 0 {
				if _, err := w.Write(chunk); err != nil {
					return errors.Wrap(err, "write response")
				}

				if streamed && flusher != nil {
					flusher.Flush()
				}
			}

			if done {
				return nil
			}

			if len(chunk) > 0 {
				continue
			}
		}

		select {
		case <-ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (m *ServeMux) ensureNoUseAfterHandle() {
	if m.middlewares.captured {
		panic("bedge: cannot call Use() after calling Handle")
	}
}
