package bapp

import (
	"context"

	"github.com/advdv/bedge"
	"github.com/google/uuid"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-Id"

// maxRequestIDLen bounds ids taken over from the client.
const maxRequestIDLen = 128

// withRequestID takes the request id from the request header, or generates one, and echoes it on
// the response.
func withRequestID() bedge.Middleware {
	return func(next bedge.Handler) bedge.Handler {
		return bedge.HandlerFunc(func(ctx context.Context, res *bedge.ResponseState, r *bedge.Request) error {
			id := r.Header.Get(RequestIDHeader)
			if id == "" || len(id) > maxRequestIDLen {
				id = uuid.NewString()
			}

			if err := res.SetHeader(RequestIDHeader, id); err != nil {
				return err
			}

			return next.ServeEdge(context.WithValue(ctx, ctxKeyRequestID, id), res, r)
		})
	}
}

// RequestID returns the id of the request being served, or an empty string outside of a request.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}
