package bapptest

import (
	"context"
	"net/http"
	"net/http/httptest"

	"github.com/advdv/bedge"
)

// CallHandler invokes handler for req and returns the recorded response once the handler, or the
// goroutine it handed the response to, completed it. Route parameters are not available, use
// [CallRoute] for those. It panics when the handler returns an error.
func CallHandler(handler bedge.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	return call(req, handler, func(mux *bedge.ServeMux, h bedge.Handler) { mux.NotFound(h) })
}

// CallRoute registers handler for method and pattern and serves req with it, so the handler sees
// the parameters the pattern captures. It panics when the handler returns an error.
func CallRoute(method, pattern string, handler bedge.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	return call(req, handler, func(mux *bedge.ServeMux, h bedge.Handler) { mux.Handle(method, pattern, h) })
}

func call(req *http.Request, handler bedge.HandlerFunc, register func(*bedge.ServeMux, bedge.Handler)) *httptest.ResponseRecorder {
	var herr error
	mux := bedge.NewServeMuxWith(-1, bedge.NewStdLogger(nil), bedge.NewRouter(), nil)
	register(mux, bedge.HandlerFunc(func(ctx context.Context, res *bedge.ResponseState, r *bedge.Request) error {
		herr = handler(ctx, res, r)
		return herr
	}))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if herr != nil {
		panic("bapptest: handler returned error: " + herr.Error())
	}

	return rec
}
