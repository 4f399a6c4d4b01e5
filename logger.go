package bedge

import (
	"log"
	"sync/atomic"
	"testing"
)

// Logger can be implemented to get informed about important states.
type Logger interface {
	LogUnhandledServeError(err error)
	LogTransportError(connID uint64, err error)
	LogBadRequest(err error)
	LogIgnoredBody(method, path string)
}

type stdLogger struct{ *log.Logger }

func (l stdLogger) LogUnhandledServeError(err error) {
	l.Logger.Printf("bedge: unhandled server error: %s", err)
}

func (l stdLogger) LogTransportError(connID uint64, err error) {
	l.Logger.Printf("bedge: transport error on connection %d: %s", connID, err)
}

func (l stdLogger) LogBadRequest(err error) {
	l.Logger.Printf("bedge: rejected request: %s", err)
}

func (l stdLogger) LogIgnoredBody(method, path string) {
	l.Logger.Printf("bedge: ignoring payload of %s request to %s", method, path)
}

// NewStdLogger returns a Logger that prints to l, or to the default logger when l is nil.
func NewStdLogger(l *log.Logger) Logger {
	if l == nil {
		l = log.Default()
	}

	return stdLogger{l}
}

type TestLogger struct {
	tb testing.TB

	NumLogUnhandledServeError int64
	NumLogTransportError      int64
	NumLogBadRequest          int64
	NumLogIgnoredBody         int64
}

func NewTestLogger(tb testing.TB) *TestLogger {
	return &TestLogger{tb: tb}
}

func (l *TestLogger) LogUnhandledServeError(err error) {
	atomic.AddInt64(&l.NumLogUnhandledServeError, 1)
	l.tb.Logf("bedge: unhandled server error: %s", err)
}

func (l *TestLogger) LogTransportError(connID uint64, err error) {
	atomic.AddInt64(&l.NumLogTransportError, 1)
	l.tb.Logf("bedge: transport error on connection %d: %s", connID, err)
}

func (l *TestLogger) LogBadRequest(err error) {
	atomic.AddInt64(&l.NumLogBadRequest, 1)
	l.tb.Logf("bedge: rejected request: %s", err)
}

func (l *TestLogger) LogIgnoredBody(method, path string) {
	atomic.AddInt64(&l.NumLogIgnoredBody, 1)
	l.tb.Logf("bedge: ignoring payload of %s request to %s", method, path)
}

var _ Logger = &TestLogger{}
