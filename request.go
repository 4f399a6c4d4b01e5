package bedge

import (
	"context"
	"io"
	"maps"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

// Methods is the fixed set of methods routes can be registered for.
var Methods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodConnect,
	http.MethodOptions,
	http.MethodTrace,
	http.MethodPatch,
}

// Request is a parsed request as handlers see it. Handlers must treat it as read-only, apart from
// reading the body.
type Request struct {
	Method string

	// Path is the unescaped request path.
	Path string

	// RawPath is the request path as sent, still escaped. Routes are matched against it, so an
	// escaped slash does not split a segment.
	RawPath string

	RawQuery   string
	Query      url.Values
	Proto      string
	ProtoMajor int
	ProtoMinor int
	Host       string
	Header     http.Header
	RemoteAddr string

	// Body is never nil. For methods whose body has no defined meaning it is always empty.
	Body          io.Reader
	ContentLength int64

	params map[string]string

	formOnce sync.Once
	form     url.Values
	formErr  error
}

// NewRequest returns a request for tests, in the manner of httptest.NewRequest. It panics when
// target is not a valid request target.
func NewRequest(method, target string, body io.Reader) *Request {
	u, err := url.ParseRequestURI(target)
	if err != nil {
		panic("bedge: invalid request target: " + err.Error())
	}

	if body == nil {
		body = http.NoBody
	}

	req := &Request{
		Method:        method,
		Path:          u.Path,
		RawPath:       u.EscapedPath(),
		RawQuery:      u.RawQuery,
		Query:         u.Query(),
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Host:          "example.com",
		Header:        http.Header{},
		RemoteAddr:    "192.0.2.1:1234",
		Body:          body,
		ContentLength: -1,
	}

	if !hasBody(method) {
		req.Body, req.ContentLength = http.NoBody, 0
	}

	return req
}

// requestFromHTTP converts a request that was parsed by net/http.
func requestFromHTTP(hr *http.Request) (*Request, bool) {
	req := &Request{
		Method:        hr.Method,
		Path:          hr.URL.Path,
		RawPath:       hr.URL.EscapedPath(),
		RawQuery:      hr.URL.RawQuery,
		Query:         hr.URL.Query(),
		Proto:         hr.Proto,
		ProtoMajor:    hr.ProtoMajor,
		ProtoMinor:    hr.ProtoMinor,
		Host:          hr.Host,
		Header:        hr.Header,
		RemoteAddr:    hr.RemoteAddr,
		Body:          hr.Body,
		ContentLength: hr.ContentLength,
	}

	if req.Body == nil {
		req.Body = http.NoBody
	}

	ignored := false
	if !hasBody(hr.Method) {
		ignored = hr.ContentLength > 0 || len(hr.TransferEncoding) > 0
		req.Body, req.ContentLength = http.NoBody, 0
	}

	return req, ignored
}

// Param returns the value bound to the named path capture, or the empty string.
func (r *Request) Param(name string) string {
	return r.params[name]
}

// Params returns a copy of all path captures.
func (r *Request) Params() map[string]string {
	return maps.Clone(r.params)
}

// Cookie returns the named cookie, or [http.ErrNoCookie].
func (r *Request) Cookie(name string) (*http.Cookie, error) {
	return (&http.Request{Header: r.Header}).Cookie(name)
}

// Cookies returns all cookies sent with the request.
func (r *Request) Cookies() []*http.Cookie {
	return (&http.Request{Header: r.Header}).Cookies()
}

// Form parses an application/x-www-form-urlencoded body. The body is read on the first call, later
// calls return the same result.
func (r *Request) Form() (url.Values, error) {
	r.formOnce.Do(func() {
		r.form, r.formErr = r.parseForm()
	})

	return r.form, r.formErr
}

func (r *Request) parseForm() (url.Values, error) {
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		return url.Values{}, nil
	}

	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return nil, NewError(CodeBadRequest, errors.Wrap(err, "parse content type"))
	}

	if mt != "application/x-www-form-urlencoded" {
		return url.Values{}, nil
	}

	b, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.Wrap(err, "read form body")
	}

	vals, err := url.ParseQuery(string(b))
	if err != nil {
		return nil, NewError(CodeBadRequest, errors.Wrap(err, "parse form"))
	}

	return vals, nil
}

// routingPath is the escaped path that routes are matched against.
func (r *Request) routingPath() string {
	if r.RawPath != "" {
		return r.RawPath
	}

	return (&url.URL{Path: r.Path}).EscapedPath()
}

// withParams returns a shallow copy of r carrying the given path captures.
func (r *Request) withParams(params map[string]string) *Request {
	r2 := &Request{
		Method:        r.Method,
		Path:          r.Path,
		RawPath:       r.RawPath,
		RawQuery:      r.RawQuery,
		Query:         r.Query,
		Proto:         r.Proto,
		ProtoMajor:    r.ProtoMajor,
		ProtoMinor:    r.ProtoMinor,
		Host:          r.Host,
		Header:        r.Header,
		RemoteAddr:    r.RemoteAddr,
		Body:          r.Body,
		ContentLength: r.ContentLength,
		params:        params,
	}

	return r2
}

// toHTTP builds the net/http view of the request for standard library handlers.
func (r *Request) toHTTP(ctx context.Context) *http.Request {
	u := &url.URL{Path: r.Path, RawPath: r.RawPath, RawQuery: r.RawQuery}
	hr := &http.Request{
		Method:        r.Method,
		URL:           u,
		Proto:         r.Proto,
		ProtoMajor:    r.ProtoMajor,
		ProtoMinor:    r.ProtoMinor,
		Header:        r.Header,
		Body:          io.NopCloser(r.Body),
		ContentLength: r.ContentLength,
		Host:          r.Host,
		RemoteAddr:    r.RemoteAddr,
		RequestURI:    u.RequestURI(),
	}

	for k, v := range r.params {
		hr.SetPathValue(k, v)
	}

	return hr.WithContext(ctx)
}

// wantsClose reports whether the client asked to close the connection after this request.
func (r *Request) wantsClose() bool {
	if r.ProtoMajor < 1 || (r.ProtoMajor == 1 && r.ProtoMinor == 0) {
		return !headerHasToken(r.Header, "Connection", "keep-alive")
	}

	return headerHasToken(r.Header, "Connection", "close")
}

// hasBody reports whether a request body has defined semantics for the method. Bodies on the other
// methods are read off the wire and dropped.
func hasBody(method string) bool {
	return !lo.Contains([]string{
		http.MethodGet,
		http.MethodHead,
		http.MethodDelete,
		http.MethodConnect,
	}, strings.ToUpper(method))
}
