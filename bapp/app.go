package bapp

import (
	"context"
	"net/http"

	"github.com/advdv/bedge"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// App wraps an fx.App for lifecycle management.
type App struct {
	app *fx.App
}

// AppConfig holds configuration for the app.
type AppConfig struct {
	ServerConfig
	Registry     *prometheus.Registry
	SecretReader SecretReader
	FxOptions    []fx.Option
}

// Option configures the App.
type Option func(*AppConfig)

// runtimeProviderParams holds dependencies for Runtime.
type runtimeProviderParams[E Environment] struct {
	fx.In

	Env          E
	Mux          *bedge.ServeMux
	SecretReader SecretReader
	Transport    http.RoundTripper
}

// WithAWSClient registers an AWS SDK v2 client for dependency injection. By default the client
// targets the local region (AWS_REGION):
//
//	bapp.WithAWSClient(func(cfg aws.Config) *dynamodb.Client {
//	    return dynamodb.NewFromConfig(cfg)
//	})
//
// Use [ForPrimaryRegion] with a [Primary] wrapper, or [ForRegion] with an [InRegion] wrapper, for
// clients of other regions.
func WithAWSClient[T any](factory func(aws.Config) T, opts ...ClientOption) Option {
	return func(c *AppConfig) {
		c.FxOptions = append(c.FxOptions, AWSClientProvider(factory, opts...))
	}
}

// WithFx adds fx options for dependency injection.
func WithFx(fxOpts ...fx.Option) Option {
	return func(c *AppConfig) {
		c.FxOptions = append(c.FxOptions, fxOpts...)
	}
}

// WithHealthHandler sets a custom health check handler.
// If not set, a default handler returning 200 OK is used.
func WithHealthHandler(h bedge.HandlerFunc) Option {
	return func(c *AppConfig) {
		c.HealthHandler = h
	}
}

// WithRegistry sets the registry the edge metrics are registered with and served from. By default
// every app gets its own registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(c *AppConfig) {
		c.Registry = reg
	}
}

// WithSecretReader replaces the AWS Secrets Manager reader.
func WithSecretReader(r SecretReader) Option {
	return func(c *AppConfig) {
		c.SecretReader = r
	}
}

// FxOptions returns the options of the dependency graph that [NewApp] runs. The routing function
// is invoked with whatever it asks for, at minimum the *bedge.ServeMux to register routes on.
func FxOptions[E Environment](routing any, opts ...Option) []fx.Option {
	var cfg AppConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	secrets := fx.Provide(func(cfg aws.Config) (SecretReader, error) {
		return NewAWSSecretReader(cfg, 0)
	})
	if cfg.SecretReader != nil {
		secrets = fx.Supply(fx.Annotate(cfg.SecretReader, fx.As(new(SecretReader))))
	}

	baseOpts := make([]fx.Option, 0, 20+len(cfg.FxOptions))
	baseOpts = append(baseOpts, []fx.Option{
		fx.NopLogger,
		fx.Provide(ParseEnv[E]()),
		fx.Provide(func(e E) Environment { return e }),
		fx.Provide(func(e E) (*zap.Logger, error) { return NewLogger(e) }),
		fx.Supply(cfg.Registry),
		fx.Provide(
			func(r *prometheus.Registry) prometheus.Registerer { return r },
			func(r *prometheus.Registry) prometheus.Gatherer { return r },
		),
		fx.Provide(NewMetrics),
		fx.Provide(NewMux),
		fx.Provide(NewTracerProvider),
		fx.Provide(NewPropagator),
		fx.Provide(NewHTTPTransport),
		fx.Provide(NewHTTPClient),
		fx.Provide(provideAWSConfig),
		secrets,
		fx.Supply(cfg.ServerConfig),
		fx.Provide(NewServer),
		fx.Provide(func(p runtimeProviderParams[E]) *Runtime[E] {
			return NewRuntime(p.Env, p.Mux, RuntimeParams{SecretReader: p.SecretReader, Transport: p.Transport})
		}),
		fx.Invoke(startServerHook),
		fx.Invoke(routing),
	}...)

	return append(baseOpts, cfg.FxOptions...)
}

// NewApp creates a batteries-included app with dependency injection.
//
//	bapp.NewApp[Env](func(m *bedge.ServeMux, h *Handlers) {
//	    m.HandleFunc(http.MethodGet, "/items/:id", h.GetItem, "get-item")
//	},
//	    bapp.WithAWSClient(func(cfg aws.Config) *dynamodb.Client {
//	        return dynamodb.NewFromConfig(cfg)
//	    }),
//	    bapp.WithFx(fx.Provide(NewHandlers)),
//	).Run()
func NewApp[E Environment](routing any, opts ...Option) *App {
	return &App{app: fx.New(FxOptions[E](routing, opts...)...)}
}

// Err returns the error that building the dependency graph ran into, if any.
func (a *App) Err() error {
	return a.app.Err()
}

// Run starts the application and blocks until interrupted.
func (a *App) Run() {
	a.app.Run()
}

// Start starts the application and blocks until ctx is done, then stops it.
func (a *App) Start(ctx context.Context) error {
	if err := a.app.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.app.StopTimeout())
	defer cancel()

	return a.app.Stop(stopCtx)
}
