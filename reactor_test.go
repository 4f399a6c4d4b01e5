package bedge_test

import (
	"bytes"
	"context"
	"net/http"
	"testing"

	"github.com/advdv/bedge"
	"github.com/benbjohnson/clock"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const epochDate = "Date: Thu, 01 Jan 1970 00:00:00 GMT\r\n"

// fakeTransport accepts at most max bytes per write, or everything when max is zero.
type fakeTransport struct {
	out    bytes.Buffer
	max    int
	block  bool
	err    error
	closed bool
}

func (t *fakeTransport) TryWrite(p []byte) (int, error) {
	switch {
	case t.err != nil:
		return 0, t.err
	case t.block:
		return 0, bedge.ErrWouldBlock
	}

	n := len(p)
	if t.max > 0 && n > t.max {
		n = t.max
	}

	t.out.Write(p[:n])

	return n, nil
}

func (t *fakeTransport) Close() error {
	t.closed = true
	return nil
}

type bridgeFixture struct {
	bridge *bedge.Bridge
	disp   *bedge.Dispatcher
	logs   *bedge.TestLogger
	obs    *countingObserver
	wakes  map[uint64]int
}

func newBridgeFixture(t *testing.T, opts ...bedge.BridgeOption) *bridgeFixture {
	t.Helper()

	f := &bridgeFixture{
		logs:  bedge.NewTestLogger(t),
		obs:   &countingObserver{},
		wakes: map[uint64]int{},
	}

	f.disp = bedge.NewDispatcher(-1, f.logs, nil)
	f.bridge = bedge.NewBridge(func(id uint64) { f.wakes[id]++ }, append([]bedge.BridgeOption{
		bedge.WithClock(clock.NewMock()),
		bedge.WithLogger(f.logs),
		bedge.WithObserver(f.obs),
	}, opts...)...)

	return f
}

// serve attaches a connection, dispatches req to h and activates the response.
func (f *bridgeFixture) serve(t *testing.T, id uint64, tr bedge.Transport, req *bedge.Request, h bedge.HandlerFunc) *bedge.ResponseState {
	t.Helper()

	conn := f.bridge.Conn(id)
	if conn == nil {
		conn = f.bridge.Attach(id, tr)
	}

	res, _ := f.disp.Dispatch(t.Context(), req, h, conn)
	require.NoError(t, f.bridge.Activate(id, res, req))

	return res
}

func sendBody(body string) bedge.HandlerFunc {
	return func(_ context.Context, res *bedge.ResponseState, _ *bedge.Request) error {
		return res.Send([]byte(body))
	}
}

func TestBridgeSend(t *testing.T) {
	f, tr := newBridgeFixture(t), &fakeTransport{}
	f.serve(t, 1, tr, bedge.NewRequest(http.MethodGet, "/", nil), sendBody("hello"))
	assert.Equal(t, 1, f.wakes[1])

	progress, err := f.bridge.OnWritable(1)
	require.NoError(t, err)
	assert.Equal(t, bedge.ProgressKeepAlive, progress)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n"+epochDate+"Content-Length: 5\r\n\r\nhello", tr.out.String())
	assert.False(t, f.bridge.Conn(1).Active())
	assert.Equal(t, []int{http.StatusOK}, f.obs.statuses)
	assert.Equal(t, []int64{5}, f.obs.bodyBytes)

	progress, err = f.bridge.OnWritable(1)
	require.NoError(t, err)
	assert.Equal(t, bedge.ProgressIdle, progress)
}

func TestBridgePartialWrites(t *testing.T) {
	f, tr := newBridgeFixture(t), &fakeTransport{max: 3}
	f.serve(t, 1, tr, bedge.NewRequest(http.MethodGet, "/", nil), sendBody("0123456789"))

	var rounds int
	for {
		progress, err := f.bridge.OnWritable(1)
		require.NoError(t, err)
		rounds++

		if progress == bedge.ProgressKeepAlive {
			break
		}

		require.Equal(t, bedge.ProgressBlocked, progress)
		require.True(t, f.bridge.Conn(1).WantsWrite())
	}

	assert.Greater(t, rounds, 10)
	assert.False(t, f.bridge.Conn(1).WantsWrite())
	assert.Equal(t, "HTTP/1.1 200 OK\r\n"+epochDate+"Content-Length: 10\r\n\r\n0123456789", tr.out.String())
}

func TestBridgeWouldBlock(t *testing.T) {
	f, tr := newBridgeFixture(t), &fakeTransport{block: true}
	f.serve(t, 1, tr, bedge.NewRequest(http.MethodGet, "/", nil), sendBody("hello"))

	progress, err := f.bridge.OnWritable(1)
	require.NoError(t, err)
	assert.Equal(t, bedge.ProgressBlocked, progress)
	assert.True(t, f.bridge.Conn(1).WantsWrite())
	assert.Zero(t, tr.out.Len())

	tr.block = false
	progress, err = f.bridge.OnWritable(1)
	require.NoError(t, err)
	assert.Equal(t, bedge.ProgressKeepAlive, progress)
	assert.Contains(t, tr.out.String(), "\r\n\r\nhello")
}

func TestBridgeChunkedStream(t *testing.T) {
	f, tr := newBridgeFixture(t), &fakeTransport{}
	res := f.serve(t, 1, tr, bedge.NewRequest(http.MethodGet, "/", nil),
		func(_ context.Context, res *bedge.ResponseState, _ *bedge.Request) error {
			if err := res.ContentType("text/plain"); err != nil {
				return err
			}

			return res.Append([]byte("ab"))
		})

	progress, err := f.bridge.OnWritable(1)
	require.NoError(t, err)
	assert.Equal(t, bedge.ProgressIdle, progress)
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\n"+epochDate+
		"Transfer-Encoding: chunked\r\n\r\n2\r\nab\r\n", tr.out.String())

	tr.out.Reset()
	require.NoError(t, res.Append([]byte("cde")))
	require.NoError(t, res.End())

	progress, err = f.bridge.OnWritable(1)
	require.NoError(t, err)
	assert.Equal(t, bedge.ProgressKeepAlive, progress)
	assert.Equal(t, "3\r\ncde\r\n0\r\n\r\n", tr.out.String())
	assert.Equal(t, []int64{5}, f.obs.bodyBytes)
}

func TestBridgeMaxChunk(t *testing.T) {
	f, tr := newBridgeFixture(t, bedge.WithMaxChunk(4)), &fakeTransport{}
	res := f.serve(t, 1, tr, bedge.NewRequest(http.MethodGet, "/", nil),
		func(_ context.Context, res *bedge.ResponseState, _ *bedge.Request) error {
			return res.Append([]byte("abcdefghij"))
		})
	require.NoError(t, res.End())

	progress, err := f.bridge.OnWritable(1)
	require.NoError(t, err)
	assert.Equal(t, bedge.ProgressKeepAlive, progress)
	assert.Contains(t, tr.out.String(), "\r\n\r\n4\r\nabcd\r\n4\r\nefgh\r\n2\r\nij\r\n0\r\n\r\n")
}

func TestBridgeHTTP10Stream(t *testing.T) {
	f, tr := newBridgeFixture(t), &fakeTransport{}
	req := bedge.NewRequest(http.MethodGet, "/", nil)
	req.Proto, req.ProtoMinor = "HTTP/1.0", 0
	req.Header.Set("Connection", "keep-alive")

	res := f.serve(t, 1, tr, req, func(_ context.Context, res *bedge.ResponseState, _ *bedge.Request) error {
		return res.Append([]byte("abc"))
	})
	require.NoError(t, res.End())

	progress, err := f.bridge.OnWritable(1)
	require.NoError(t, err)
	assert.Equal(t, bedge.ProgressClose, progress)
	assert.Equal(t, "HTTP/1.1 200 OK\r\n"+epochDate+"Connection: close\r\n\r\nabc", tr.out.String())
}

func TestBridgeKeepAliveDecisions(t *testing.T) {
	for _, tt := range []struct {
		name  string
		proto string
		minor int
		conn  string
		exp   bedge.Progress
	}{
		{"http/1.1 default", "HTTP/1.1", 1, "", bedge.ProgressKeepAlive},
		{"http/1.1 close", "HTTP/1.1", 1, "close", bedge.ProgressClose},
		{"http/1.0 default", "HTTP/1.0", 0, "", bedge.ProgressClose},
		{"http/1.0 keep-alive", "HTTP/1.0", 0, "keep-alive", bedge.ProgressKeepAlive},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f, tr := newBridgeFixture(t), &fakeTransport{}
			req := bedge.NewRequest(http.MethodGet, "/", nil)
			req.Proto, req.ProtoMinor = tt.proto, tt.minor
			if tt.conn != "" {
				req.Header.Set("Connection", tt.conn)
			}

			f.serve(t, 1, tr, req, sendBody("x"))

			progress, err := f.bridge.OnWritable(1)
			require.NoError(t, err)
			assert.Equal(t, tt.exp, progress)
			assert.Equal(t, tt.exp == bedge.ProgressClose, bytes.Contains(tr.out.Bytes(), []byte("Connection: close\r\n")))
		})
	}
}

func TestBridgeBodilessResponses(t *testing.T) {
	t.Run("head", func(t *testing.T) {
		f, tr := newBridgeFixture(t), &fakeTransport{}
		f.serve(t, 1, tr, bedge.NewRequest(http.MethodHead, "/", nil), sendBody("hello"))

		progress, err := f.bridge.OnWritable(1)
		require.NoError(t, err)
		assert.Equal(t, bedge.ProgressKeepAlive, progress)
		assert.Equal(t, "HTTP/1.1 200 OK\r\n"+epochDate+"\r\n", tr.out.String())
	})

	t.Run("no content", func(t *testing.T) {
		f, tr := newBridgeFixture(t), &fakeTransport{}
		f.serve(t, 1, tr, bedge.NewRequest(http.MethodDelete, "/", nil),
			func(_ context.Context, res *bedge.ResponseState, _ *bedge.Request) error {
				if err := res.SetStatus(http.StatusNoContent); err != nil {
					return err
				}

				return res.Send([]byte("dropped"))
			})

		progress, err := f.bridge.OnWritable(1)
		require.NoError(t, err)
		assert.Equal(t, bedge.ProgressKeepAlive, progress)
		assert.Equal(t, "HTTP/1.1 204 No Content\r\n"+epochDate+"\r\n", tr.out.String())
	})
}

func TestBridgeDeferredWake(t *testing.T) {
	f, tr := newBridgeFixture(t), &fakeTransport{}

	var held *bedge.ResponseState
	f.serve(t, 1, tr, bedge.NewRequest(http.MethodGet, "/", nil),
		func(_ context.Context, res *bedge.ResponseState, _ *bedge.Request) error {
			held = res
			return nil
		})

	progress, err := f.bridge.OnWritable(1)
	require.NoError(t, err)
	assert.Equal(t, bedge.ProgressIdle, progress)
	assert.Zero(t, tr.out.Len())
	assert.Zero(t, f.wakes[1])

	require.NoError(t, held.Send([]byte("late")))
	assert.Equal(t, 1, f.wakes[1])

	progress, err = f.bridge.OnWritable(1)
	require.NoError(t, err)
	assert.Equal(t, bedge.ProgressKeepAlive, progress)
	assert.Contains(t, tr.out.String(), "\r\n\r\nlate")
}

func TestBridgeTransportError(t *testing.T) {
	f, tr := newBridgeFixture(t), &fakeTransport{err: errors.New("broken pipe")}
	res := f.serve(t, 1, tr, bedge.NewRequest(http.MethodGet, "/", nil),
		func(_ context.Context, res *bedge.ResponseState, _ *bedge.Request) error {
			return res.Append([]byte("abc"))
		})

	progress, err := f.bridge.OnWritable(1)
	require.ErrorIs(t, err, bedge.ErrTransport)
	require.ErrorIs(t, err, tr.err)
	assert.Equal(t, bedge.ProgressClose, progress)
	assert.Equal(t, int64(1), f.logs.NumLogTransportError)
	assert.True(t, tr.closed)
	assert.Nil(t, f.bridge.Conn(1))

	assert.True(t, res.IsCancelled())
	require.ErrorIs(t, res.Append([]byte("more")), bedge.ErrCancelled)
}

func TestBridgeDetach(t *testing.T) {
	f, tr := newBridgeFixture(t), &fakeTransport{}

	var held *bedge.ResponseState
	f.serve(t, 1, tr, bedge.NewRequest(http.MethodGet, "/", nil),
		func(_ context.Context, res *bedge.ResponseState, _ *bedge.Request) error {
			held = res
			return nil
		})

	f.bridge.Detach(1)
	f.bridge.Detach(1)
	assert.True(t, tr.closed)
	require.ErrorIs(t, held.Send([]byte("late")), bedge.ErrCancelled)

	progress, err := f.bridge.OnWritable(1)
	require.NoError(t, err)
	assert.Equal(t, bedge.ProgressIdle, progress)
}

func TestBridgeActivateErrors(t *testing.T) {
	f, tr := newBridgeFixture(t), &fakeTransport{}
	require.Error(t, f.bridge.Activate(9, bedge.NewResponseState(-1), nil))

	f.serve(t, 1, tr, bedge.NewRequest(http.MethodGet, "/", nil), sendBody("x"))
	require.Error(t, f.bridge.Activate(1, bedge.NewResponseState(-1), nil))
}

func TestBridgeReject(t *testing.T) {
	f, tr := newBridgeFixture(t), &fakeTransport{}
	conn := f.bridge.Attach(1, tr)

	res := f.disp.Reject(bedge.NewError(bedge.CodeBadRequest, errors.New("bad")), conn)
	require.NoError(t, f.bridge.Activate(1, res, nil))

	progress, err := f.bridge.OnWritable(1)
	require.NoError(t, err)
	assert.Equal(t, bedge.ProgressClose, progress)
	assert.Equal(t, "HTTP/1.1 400 Bad Request\r\n"+
		"Content-Type: text/plain; charset=utf-8\r\n"+
		"X-Content-Type-Options: nosniff\r\n"+
		epochDate+
		"Content-Length: 12\r\n"+
		"Connection: close\r\n\r\n"+
		"Bad Request\n", tr.out.String())
}

func TestBridgePipelinedResponses(t *testing.T) {
	f, tr := newBridgeFixture(t), &fakeTransport{}
	for _, body := range []string{"one", "two"} {
		f.serve(t, 1, tr, bedge.NewRequest(http.MethodGet, "/", nil), sendBody(body))

		progress, err := f.bridge.OnWritable(1)
		require.NoError(t, err)
		require.Equal(t, bedge.ProgressKeepAlive, progress)
	}

	out := tr.out.String()
	assert.Equal(t, 2, bytes.Count([]byte(out), []byte("HTTP/1.1 200 OK")))
	assert.Less(t, bytes.Index([]byte(out), []byte("one")), bytes.Index([]byte(out), []byte("two")))
}

func TestProgressString(t *testing.T) {
	assert.Equal(t, "idle", bedge.ProgressIdle.String())
	assert.Equal(t, "blocked", bedge.ProgressBlocked.String())
	assert.Equal(t, "keep-alive", bedge.ProgressKeepAlive.String())
	assert.Equal(t, "close", bedge.ProgressClose.String())
}
