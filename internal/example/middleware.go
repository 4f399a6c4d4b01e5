// Package example implements example middleware in an outside package.
package example

import (
	"context"

	"github.com/advdv/bedge"
	"go.uber.org/zap"
)

// ctxKey type scopes middleware values.
type ctxKey string

// Middleware provides an example for middleware that adds a logger to the context.
func Middleware(logs *zap.Logger) bedge.Middleware {
	return func(n bedge.Handler) bedge.Handler {
		return bedge.HandlerFunc(func(ctx context.Context, res *bedge.ResponseState, r *bedge.Request) error {
			logs := logs.With(zap.String("method", r.Method), zap.String("path", r.Path))
			ctx = context.WithValue(ctx, ctxKey("zap"), logs)

			return n.ServeEdge(ctx, res, r)
		})
	}
}

// Log returns the logger that was added by [Middleware], or nil.
func Log(ctx context.Context) *zap.Logger {
	v, _ := ctx.Value(ctxKey("zap")).(*zap.Logger)

	return v
}
