package bedge

import (
	"io"
	"sync/atomic"
)

// StreamWriter writes a streamed body into a response. It may be used from any goroutine.
type StreamWriter struct {
	res    *ResponseState
	closed atomic.Bool
}

// Stream returns a StreamWriter that appends to res.
func Stream(res *ResponseState) *StreamWriter {
	return &StreamWriter{res: res}
}

// Write appends p to the response body. It fails with [ErrStreamClosed] after Close, and with
// [ErrBufferFull] when the reactor has not yet drained enough of the earlier writes.
func (w *StreamWriter) Write(p []byte) (int, error) {
	if w.closed.Load() {
		return 0, ErrStreamClosed
	}

	if err := w.res.Append(p); err != nil {
		return 0, err
	}

	return len(p), nil
}

// Close ends the response. Only the first call has an effect.
func (w *StreamWriter) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}

	return w.res.End()
}

var _ io.WriteCloser = &StreamWriter{}
