package bapp

import (
	"github.com/advdv/bedge"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// MuxParams holds the dependencies of the mux.
type MuxParams struct {
	fx.In

	Env     Environment
	Logger  *zap.Logger
	Metrics *Metrics
}

// NewMux creates the mux that routes are registered on. Edge events are logged through zap and
// measured through the prometheus metrics.
func NewMux(p MuxParams) *bedge.ServeMux {
	return bedge.NewServeMuxWith(
		p.Env.serverOptions().bufferLimit,
		NewEdgeLogger(p.Logger),
		bedge.NewRouter(),
		p.Metrics,
	)
}

