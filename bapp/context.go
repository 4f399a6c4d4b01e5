package bapp

import (
	"context"

	"github.com/advdv/bedge"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ctxKey is the key type for context values.
type ctxKey int

const (
	ctxKeyRequestDep ctxKey = iota
	ctxKeyRequestID
)

// requestDep holds request-scoped dependencies available via context.
// App-scoped dependencies (env, mux, awsClients) are accessed via Runtime instead.
type requestDep struct {
	logger *zap.Logger
}

// withRequestDep injects dependencies into the request context.
func withRequestDep(d *requestDep) bedge.Middleware {
	return func(next bedge.Handler) bedge.Handler {
		return bedge.HandlerFunc(func(ctx context.Context, res *bedge.ResponseState, r *bedge.Request) error {
			return next.ServeEdge(context.WithValue(ctx, ctxKeyRequestDep, d), res, r)
		})
	}
}

func requestDepFromContext(ctx context.Context) *requestDep {
	d, ok := ctx.Value(ctxKeyRequestDep).(*requestDep)
	if !ok {
		panic("bapp: requestDep not found in context; is the middleware configured?")
	}
	return d
}

// WithLogger returns a context that [Log] reads logger from. It lets handlers be called directly,
// without the middleware the app installs.
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKeyRequestDep, &requestDep{logger: logger})
}

// Log returns a zap logger from the context, correlated with the trace and the request id.
func Log(ctx context.Context) *zap.Logger {
	d := requestDepFromContext(ctx)

	fields := traceFields(ctx)
	if id := RequestID(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}

	return d.logger.With(fields...)
}

// Span returns the current trace span from the context.
func Span(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// traceFields extracts trace_id and span_id from the context for log correlation.
func traceFields(ctx context.Context) []zap.Field {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return nil
	}
	sc := span.SpanContext()
	return []zap.Field{
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	}
}
