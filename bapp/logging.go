package bapp

import (
	"github.com/advdv/bedge"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger creates a zap logger configured from the environment.
// Uses JSON encoding suitable for CloudWatch.
// BD_LOG_LEVEL controls the level (debug, info, warn, error).
func NewLogger(env Environment) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(env.logLevel())
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

type zapLogger struct{ *zap.Logger }

func (l zapLogger) LogUnhandledServeError(err error) {
	l.Logger.Error("unhandled server error", zap.Error(err))
}

func (l zapLogger) LogTransportError(connID uint64, err error) {
	l.Logger.Warn("transport error", zap.Uint64("conn_id", connID), zap.Error(err))
}

func (l zapLogger) LogBadRequest(err error) {
	l.Logger.Info("rejected request", zap.Error(err))
}

func (l zapLogger) LogIgnoredBody(method, path string) {
	l.Logger.Debug("ignoring request payload", zap.String("method", method), zap.String("path", path))
}

// NewEdgeLogger adapts l to the logger the dispatch and connection layers report to.
func NewEdgeLogger(l *zap.Logger) bedge.Logger {
	return zapLogger{l.Named("bedge")}
}
