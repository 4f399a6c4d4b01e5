package bapp

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/advdv/bedge"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ServerConfig holds optional configuration for the HTTP server.
type ServerConfig struct {
	HealthHandler bedge.HandlerFunc
}

// ServerParams holds the dependencies for creating the server.
type ServerParams struct {
	fx.In

	Env        Environment
	Mux        *bedge.ServeMux
	Logger     *zap.Logger
	TracerProv trace.TracerProvider
	Propagator propagation.TextMapPropagator
	Metrics    *Metrics
	Gatherer   prometheus.Gatherer
}

// NewServer installs the request middleware, the health route and the metrics route on the mux and
// creates the server that serves it.
func NewServer(params ServerParams, cfg ServerConfig) *bedge.Server {
	healthPath, metricsPath := params.Env.readinessCheckPath(), params.Env.metricsPath()

	params.Mux.Use(
		withRequestDep(&requestDep{logger: params.Logger}),
		withRequestID(),
		withTracing(params.TracerProv, params.Propagator, healthPath, metricsPath),
	)

	healthHandler := cfg.HealthHandler
	if healthHandler == nil {
		healthHandler = defaultHealthHandler
	}
	params.Mux.HandleFunc(http.MethodGet, healthPath, healthHandler)

	if metricsPath != "" {
		params.Mux.HandleStd(http.MethodGet, metricsPath, promhttp.HandlerFor(params.Gatherer, promhttp.HandlerOpts{}))
	}

	limits := params.Env.serverOptions()

	return bedge.NewServer(params.Mux, bedge.ServerOptions{
		IdleTimeout:   limits.idleTimeout,
		ReadTimeout:   limits.readTimeout,
		MaxBodyBytes:  limits.maxBodyBytes,
		MaxWriteChunk: limits.maxWriteChunk,
		Logger:        NewEdgeLogger(params.Logger),
		Observer:      params.Metrics,
	})
}

// startServerHook binds the listener when the app starts, so a taken port fails the start, and
// shuts the server down gracefully when the app stops.
func startServerHook(lc fx.Lifecycle, server *bedge.Server, env Environment, logger *zap.Logger) {
	addr := fmt.Sprintf(":%d", env.port())

	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return errors.Wrapf(err, "failed to listen on %q", addr)
			}

			logger.Info("starting server", zap.String("addr", ln.Addr().String()))

			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			done = make(chan struct{})

			go func() {
				defer close(done)
				if err := server.Serve(ctx, ln); err != nil && !errors.Is(err, bedge.ErrServerClosed) {
					logger.Error("server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("stopping server")
			err := server.Shutdown(ctx)
			cancel()
			<-done
			return err
		},
	})
}

func defaultHealthHandler(_ context.Context, res *bedge.ResponseState, _ *bedge.Request) error {
	return res.Send(nil)
}
