package bedge

import (
	"bytes"
	"context"
	"net/http"
)

// Handler serves a request by completing res. It may complete res before returning, or return
// early and complete it later from another goroutine. A returned error, or a panic, is turned into
// an error response by the [Dispatcher].
type Handler interface {
	ServeEdge(ctx context.Context, res *ResponseState, r *Request) error
}

// HandlerFunc allow casting a function to imple [Handler].
type HandlerFunc func(context.Context, *ResponseState, *Request) error

// ServeEdge implements the [Handler] interface.
func (f HandlerFunc) ServeEdge(ctx context.Context, res *ResponseState, r *Request) error {
	return f(ctx, res, r)
}

// FromStd converts a standard library [http.Handler] into a [Handler]. Output is buffered and sent
// as one body when the handler returns. Calling Flush on the writer switches to streaming: what was
// buffered so far is appended and later writes go straight to the response.
func FromStd(h http.Handler) Handler {
	return HandlerFunc(func(ctx context.Context, res *ResponseState, r *Request) error {
		w := &stdWriter{res: res, header: http.Header{}}
		h.ServeHTTP(w, r.toHTTP(ctx))

		return w.finish()
	})
}

// stdWriter adapts a ResponseState to the http.ResponseWriter and http.Flusher interfaces.
type stdWriter struct {
	res    *ResponseState
	header http.Header
	status int
	buf    bytes.Buffer
	stream *StreamWriter
	err    error
}

func (w *stdWriter) Header() http.Header { return w.header }

func (w *stdWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *stdWriter) Write(p []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	if w.stream != nil {
		return w.stream.Write(p)
	}

	return w.buf.Write(p)
}

func (w *stdWriter) Flush() {
	if w.err != nil {
		return
	}

	if w.stream == nil {
		if w.err = w.commit(); w.err != nil {
			return
		}

		w.stream = Stream(w.res)
	}

	if w.buf.Len() > 0 {
		_, w.err = w.stream.Write(w.buf.Bytes())
		w.buf.Reset()
	}
}

func (w *stdWriter) commit() error {
	w.WriteHeader(http.StatusOK)
	if w.header.Get("Content-Type") == "" && w.buf.Len() > 0 {
		w.header.Set("Content-Type", http.DetectContentType(w.buf.Bytes()))
	}

	if err := w.res.SetStatus(w.status); err != nil {
		return err
	}

	for k, vs := range w.header {
		for _, v := range vs {
			if err := w.res.AddHeader(k, v); err != nil {
				return err
			}
		}
	}

	return nil
}

func (w *stdWriter) finish() error {
	if w.err != nil {
		return w.err
	}

	if w.stream != nil {
		return w.stream.Close()
	}

	if err := w.commit(); err != nil {
		return err
	}

	return w.res.Send(w.buf.Bytes())
}

var _ http.Flusher = &stdWriter{}
