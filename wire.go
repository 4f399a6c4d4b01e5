package bedge

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"golang.org/x/net/http/httpguts"
)

// bodyFraming is how a response body is delimited on the wire.
type bodyFraming int

const (
	framingLength  bodyFraming = iota // Content-Length
	framingChunked                    // Transfer-Encoding: chunked
	framingClose                      // until the connection closes
	framingNone                       // no body at all
)

// framingHeaders are owned by the connection layer and never copied from handler headers.
var framingHeaders = map[string]bool{
	"Content-Length":    true,
	"Transfer-Encoding": true,
	"Connection":        true,
}

// badRequest is a request that is rejected before it reaches a handler.
func badRequest(format string, args ...any) error {
	return NewError(CodeBadRequest, errors.Wrapf(ErrBadRequest, format, args...))
}

// readRequest reads one request head from br and sets up its body reader. The body is not consumed.
// It reports whether the body must be dropped because the method gives it no meaning. A clean
// close before any byte of the request line is returned as io.EOF.
func readRequest(br *bufio.Reader) (*Request, bool, error) {
	tp := textproto.NewReader(br)

	line, err := tp.ReadLine()
	if err != nil {
		return nil, false, err
	}

	method, target, proto, ok := parseRequestLine(line)
	if !ok {
		return nil, false, badRequest("malformed request line %q", line)
	}

	major, minor, ok := http.ParseHTTPVersion(proto)
	if !ok || major != 1 {
		return nil, false, NewError(CodeHTTPVersionNotSupported, errors.Newf("unsupported protocol %q", proto))
	}

	u, err := url.ParseRequestURI(target)
	if err != nil {
		return nil, false, badRequest("invalid request target %q", target)
	}

	mh, err := tp.ReadMIMEHeader()
	if err != nil {
		return nil, false, badRequest("malformed header: %v", err)
	}

	header := http.Header(mh)
	if minor >= 1 && len(header.Values("Host")) != 1 {
		return nil, false, badRequest("missing or repeated Host header")
	}

	length, chunked, err := requestFraming(method, header)
	if err != nil {
		return nil, false, err
	}

	req := &Request{
		Method:        method,
		Path:          u.Path,
		RawPath:       u.EscapedPath(),
		RawQuery:      u.RawQuery,
		Query:         u.Query(),
		Proto:         proto,
		ProtoMajor:    major,
		ProtoMinor:    minor,
		Host:          header.Get("Host"),
		Header:        header,
		Body:          http.NoBody,
		ContentLength: length,
	}

	switch {
	case chunked:
		req.Body, req.ContentLength = &chunkedBody{r: httputil.NewChunkedReader(br), tp: tp}, -1
	case length > 0:
		req.Body = io.LimitReader(br, length)
	}

	return req, !hasBody(method) && req.ContentLength != 0, nil
}

func parseRequestLine(line string) (method, target, proto string, ok bool) {
	method, rest, ok1 := strings.Cut(line, " ")
	target, proto, ok2 := strings.Cut(rest, " ")
	if !ok1 || !ok2 || method == "" || target == "" {
		return "", "", "", false
	}

	return method, target, proto, true
}

// requestFraming validates how the request body is delimited. Contradicting or ambiguous
// framing is rejected outright.
func requestFraming(method string, h http.Header) (length int64, chunked bool, err error) {
	te, cl := h.Values("Transfer-Encoding"), h.Values("Content-Length")

	if len(te) > 0 {
		if len(cl) > 0 {
			return 0, false, badRequest("both Transfer-Encoding and Content-Length are set")
		}

		var codings []string
		for _, v := range te {
			for _, c := range strings.Split(v, ",") {
				codings = append(codings, strings.ToLower(textproto.TrimString(c)))
			}
		}

		if codings[len(codings)-1] != "chunked" {
			return 0, false, badRequest("final transfer coding must be chunked, got %q", strings.Join(codings, ", "))
		}

		if len(codings) > 1 {
			return 0, false, NewError(CodeNotImplemented,
				errors.Newf("unsupported transfer codings %q", strings.Join(codings, ", ")))
		}

		chunked = true
	}

	if len(cl) > 0 {
		first := textproto.TrimString(cl[0])
		for _, v := range cl[1:] {
			if textproto.TrimString(v) != first {
				return 0, false, badRequest("conflicting Content-Length values %q", cl)
			}
		}

		n, perr := strconv.ParseUint(first, 10, 63)
		if perr != nil {
			return 0, false, badRequest("invalid Content-Length %q", first)
		}

		length = int64(n)
	}

	if method == http.MethodTrace && (chunked || length > 0) {
		return 0, false, badRequest("TRACE request must not carry a body")
	}

	return length, chunked, nil
}

// chunkedBody reads a chunked body and consumes the trailer section after the last chunk, so the
// reader is positioned at the next request. Trailer fields are discarded.
type chunkedBody struct {
	r    io.Reader
	tp   *textproto.Reader
	done bool
}

func (b *chunkedBody) Read(p []byte) (int, error) {
	if b.done {
		return 0, io.EOF
	}

	n, err := b.r.Read(p)
	if errors.Is(err, io.EOF) {
		b.done = true
		if _, terr := b.tp.ReadMIMEHeader(); terr != nil {
			return n, errors.Wrap(terr, "read trailer")
		}
	}

	return n, err
}

// responseFraming decides how the body is delimited given the status, the request and whether the
// body length is known up front.
func responseFraming(status int, head bool, proto11 bool, size int) bodyFraming {
	switch {
	case head, status < 200, status == http.StatusNoContent, status == http.StatusNotModified:
		return framingNone
	case size >= 0:
		return framingLength
	case proto11:
		return framingChunked
	default:
		return framingClose
	}
}

// appendHead encodes the status line and headers.
func appendHead(dst []byte, status int, h http.Header, fr bodyFraming, size int, closeConn bool, now time.Time) []byte {
	text := http.StatusText(status)
	if text == "" {
		text = "status code " + strconv.Itoa(status)
	}

	dst = fmt.Appendf(dst, "HTTP/1.1 %03d %s\r\n", status, text)

	buf := bytes.NewBuffer(dst)
	_ = h.WriteSubset(buf, framingHeaders) // writes to a bytes.Buffer do not fail
	dst = buf.Bytes()

	if h.Get("Date") == "" {
		dst = append(dst, "Date: "...)
		dst = now.UTC().AppendFormat(dst, http.TimeFormat)
		dst = append(dst, "\r\n"...)
	}

	switch fr {
	case framingLength:
		dst = append(dst, "Content-Length: "...)
		dst = strconv.AppendInt(dst, int64(size), 10)
		dst = append(dst, "\r\n"...)
	case framingChunked:
		dst = append(dst, "Transfer-Encoding: chunked\r\n"...)
	case framingClose, framingNone:
	}

	if closeConn {
		dst = append(dst, "Connection: close\r\n"...)
	}

	return append(dst, "\r\n"...)
}

// appendChunk frames p as one chunk of a chunked body.
func appendChunk(dst, p []byte) []byte {
	dst = strconv.AppendInt(dst, int64(len(p)), 16)
	dst = append(dst, "\r\n"...)
	dst = append(dst, p...)

	return append(dst, "\r\n"...)
}

const lastChunk = "0\r\n\r\n"

func headerHasToken(h http.Header, name, token string) bool {
	return httpguts.HeaderValuesContainsToken(h[name], token)
}
