package bedge

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
)

// Outcome describes what a dispatch left behind.
type Outcome int

const (
	// OutcomeCompleted means the response was completed before the handler returned.
	OutcomeCompleted Outcome = iota
	// OutcomeDeferred means the handler returned without completing, or while still streaming.
	// The response is completed later from another goroutine.
	OutcomeDeferred
	// OutcomeFaulted means the handler returned an error or panicked and an error response was
	// forced in its place.
	OutcomeFaulted
	// OutcomeNotFound means no route matched and the not-found handler answered.
	OutcomeNotFound
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeDeferred:
		return "deferred"
	case OutcomeFaulted:
		return "faulted"
	case OutcomeNotFound:
		return "not_found"
	default:
		return "unknown"
	}
}

// Dispatcher invokes handlers with a fresh ResponseState. It never waits for deferred handlers.
type Dispatcher struct {
	bufLimit int
	logs     Logger
	obs      Observer
	notFound Handler
}

// NewDispatcher creates a dispatcher. The buffer limit bounds unsent streamed bytes per response, a
// negative limit disables it. A nil observer discards measurements.
func NewDispatcher(bufLimit int, logs Logger, obs Observer) *Dispatcher {
	if obs == nil {
		obs = NopObserver()
	}

	return &Dispatcher{
		bufLimit: bufLimit,
		logs:     logs,
		obs:      obs,
		notFound: HandlerFunc(serveNotFound),
	}
}

// Dispatch serves req with h. A nil handler means no route matched, in which case the not-found
// handler serves the request. The returned response wakes conn whenever it has bytes to drain, conn
// may be nil when the caller polls on its own.
func (d *Dispatcher) Dispatch(ctx context.Context, req *Request, h Handler, conn *Conn) (*ResponseState, Outcome) {
	res := newResponseState(d.bufLimit, conn)

	var outcome Outcome
	if h == nil {
		outcome = d.serve(ctx, res, req, d.notFound)
		if outcome != OutcomeFaulted {
			outcome = OutcomeNotFound
		}
	} else {
		outcome = d.serve(ctx, res, req, h)
	}

	d.obs.ObserveDispatch(outcome)

	return res, outcome
}

// Reject answers a request that was refused before routing, such as one with contradicting
// framing. The error decides the status.
func (d *Dispatcher) Reject(err error, conn *Conn) *ResponseState {
	d.logs.LogBadRequest(err)

	res := newResponseState(d.bufLimit, conn)
	d.fail(res, err)

	return res
}

func (d *Dispatcher) serve(ctx context.Context, res *ResponseState, req *Request, h Handler) Outcome {
	if err := invoke(ctx, res, req, h); err != nil {
		return d.fail(res, err)
	}

	if res.state.Load() == stateDone {
		return OutcomeCompleted
	}

	return OutcomeDeferred
}

// fail forces an error response for err. A pending response becomes a plain text error with the
// status taken from err, a streaming response is cut short.
func (d *Dispatcher) fail(res *ResponseState, err error) Outcome {
	code, outcome := CodeOf(err), OutcomeFaulted
	switch {
	case code != CodeUnknown:
	case errors.Is(err, ErrRouteNotFound):
		code, outcome = CodeNotFound, OutcomeNotFound
	default:
		code = CodeInternalServerError
		d.logs.LogUnhandledServeError(categorize(ErrHandlerFault, err))
	}

	if res.force(int(code), []byte(http.StatusText(int(code))+"\n")) {
		return outcome
	}

	// the handler completed the response before failing, that response went out
	if code != CodeInternalServerError {
		d.logs.LogUnhandledServeError(categorize(ErrHandlerFault,
			errors.Wrap(err, "handler failed after completing the response")))
	}

	return OutcomeCompleted
}

// invoke calls the handler and turns a panic into an error.
func invoke(ctx context.Context, res *ResponseState, req *Request, h Handler) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = errors.Newf("panic: %v", v)
		}
	}()

	return h.ServeEdge(ctx, res, req)
}

func serveNotFound(_ context.Context, res *ResponseState, r *Request) error {
	if err := res.SetStatus(http.StatusNotFound); err != nil {
		return err
	}

	if err := res.ContentType("text/plain; charset=utf-8"); err != nil {
		return err
	}

	return res.Send([]byte("not found: " + r.Path))
}
