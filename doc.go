// Package bedge is an embeddable HTTP/1.1 request dispatch core. Handlers complete a response
// object from any goroutine, while a single reactor goroutine drains completed and streamed
// responses into the connections.
//
// # Overview
//
// A handler receives a [ResponseState] instead of a writer. It may complete the response before
// returning, or hand it to another goroutine and return right away. The connection keeps serving
// other requests in the meantime.
//
//	mux := bedge.NewServeMux()
//	mux.HandleFunc(http.MethodGet, "/items/:id", func(ctx context.Context, res *bedge.ResponseState, r *bedge.Request) error {
//	    item, err := db.GetItem(r.Param("id"))
//	    if err != nil {
//	        return bedge.NewError(bedge.CodeNotFound, err)
//	    }
//
//	    body, err := json.Marshal(item)
//	    if err != nil {
//	        return err
//	    }
//
//	    return res.Send(body)
//	}, "get-item")
//
// # Completing a response
//
// A response is pending until one of these wins:
//
//   - [ResponseState.Send] sets the whole body and completes.
//   - [ResponseState.Append] starts a streamed body, [ResponseState.End] completes it.
//   - [ResponseState.Redirect] completes with a Location header.
//   - The [Dispatcher] forces an error response when the handler fails.
//
// Each transition is a compare-and-swap, so racing completions are safe: exactly one succeeds and
// the others get [ErrCompleted]. Status and headers can only change while the response is pending.
// Once the client went away every call returns [ErrCancelled], which deferred work can use as a
// signal to stop.
//
// [Stream] wraps a response in an io.WriteCloser for streamed bodies. Appends beyond the buffer
// limit fail with [ErrBufferFull] until the reactor has drained the earlier bytes.
//
// # Errors
//
// A handler that returns an error, or panics, is answered with a plain text error response when
// the response is still pending. The status is taken from an [*Error] created with [NewError], any
// other error is logged and answered with 500. A response that is already streaming is cut short.
//
// # Routing
//
// Routes are registered per method. Patterns are absolute paths whose segments are literals or
// captures written as ":name" or "{name}". The first registered route that matches wins, there is
// no HEAD to GET fallback and a trailing slash is ignored. Named routes can be turned back into
// paths with [ServeMux.Reverse].
//
// # Middleware
//
// Middleware wraps handlers to add cross-cutting concerns. It must be registered with
// [ServeMux.Use] before the first route.
//
//	mux.Use(func(next bedge.Handler) bedge.Handler {
//	    return bedge.HandlerFunc(func(ctx context.Context, res *bedge.ResponseState, r *bedge.Request) error {
//	        _ = res.SetHeader("X-Frame-Options", "DENY")
//	        return next.ServeEdge(ctx, res, r)
//	    })
//	})
//
// # Serving
//
// [Server] owns the connections. A reader goroutine per connection parses requests and hands them
// to the reactor, which dispatches them, frames the responses and writes them through a
// non-blocking [Transport]. Embedders with their own event loop can drive a [Bridge] directly.
// [ServeMux] also implements http.Handler for use behind the standard library server, and
// [FromStd] adapts standard library handlers.
package bedge
