// Package bapp provides a batteries-included way to run a bedge service: environment parsing,
// structured logging, OpenTelemetry tracing, prometheus metrics, AWS SDK clients and graceful
// shutdown, wired together with fx.
//
// # Overview
//
// A complete application is created in a single call:
//
//	bapp.NewApp[Env](func(m *bedge.ServeMux, h *Handlers) {
//	    m.HandleFunc(http.MethodGet, "/items", h.ListItems)
//	    m.HandleFunc(http.MethodGet, "/items/:id", h.GetItem, "get-item")
//	},
//	    bapp.WithAWSClient(func(cfg aws.Config) *dynamodb.Client {
//	        return dynamodb.NewFromConfig(cfg)
//	    }),
//	    bapp.WithFx(fx.Provide(NewHandlers)),
//	).Run()
//
// # Environment Configuration
//
// Define your environment by embedding [BaseEnvironment]:
//
//	type Env struct {
//	    bapp.BaseEnvironment
//	    MainTableName string `env:"MAIN_TABLE_NAME,required"`
//	}
//
// BaseEnvironment reads the following variables:
//
//	| Variable                     | Required | Default  | Description                                     |
//	|------------------------------|----------|----------|-------------------------------------------------|
//	| BD_PORT                      | Yes      | -        | Port the server listens on                      |
//	| BD_SERVICE_NAME              | Yes      | -        | Service name for tracing and outbound requests  |
//	| BD_READINESS_CHECK_PATH      | Yes      | -        | Health check route, never traced                |
//	| AWS_REGION                   | Yes      | -        | Region of the local AWS clients                 |
//	| BD_PRIMARY_REGION            | Yes      | -        | Region of the [Primary] AWS clients             |
//	| BD_LOG_LEVEL                 | No       | info     | Log level (debug, info, warn, error)            |
//	| BD_OTEL_EXPORTER             | No       | stdout   | Trace exporter: "stdout" or "xrayudp"           |
//	| BD_GATEWAY_ACCESS_LOG_GROUP  | No       | -        | Log group added to traces for X-Ray correlation |
//	| BD_METRICS_PATH              | No       | /metrics | Prometheus route, empty disables it             |
//	| BD_IDLE_TIMEOUT              | No       | 2m       | Idle keep-alive connections are closed after it |
//	| BD_READ_TIMEOUT              | No       | 30s      | Bound on reading one request                    |
//	| BD_MAX_BODY_BYTES            | No       | 10485760 | Larger request bodies are answered with 413     |
//	| BD_BUFFER_LIMIT              | No       | 6291456  | Unsent streamed bytes per response, -1 disables |
//	| BD_MAX_WRITE_CHUNK           | No       | 32768    | Bytes handed to a connection in one write       |
//
// # Runtime
//
// [Runtime] provides access to app-scoped dependencies and should be injected into handler
// constructors via fx:
//
//   - [Runtime.Env] returns the typed environment configuration
//   - [Runtime.Reverse] generates URLs for named routes
//   - [Runtime.Secret] reads secrets, optionally extracting a gjson path
//   - [Runtime.NewRequest] starts an outbound request on the traced transport
//
// # Context
//
// Handlers receive a context.Context that carries request-scoped values:
//
//	func (h *Handlers) GetItem(ctx context.Context, res *bedge.ResponseState, r *bedge.Request) error {
//	    bapp.Log(ctx).Info("fetching item", zap.String("id", r.Param("id")))
//	    bapp.Span(ctx).AddEvent("fetching item")
//	    // ...
//	}
//
// [Log] is correlated with the trace and with [RequestID]. The request id is taken from the
// X-Request-Id header or generated, and echoed on the response.
//
// A handler that completes its response from another goroutine should detach the request context
// with context.WithoutCancel before handing it over: the span has ended by the time it runs.
//
// # Tracing and Metrics
//
// Every handler call gets a server span that continues the trace propagated by the client. The
// tracer provider and propagator are injected explicitly, no globals are set. With "xrayudp" the
// X-Ray propagator and id generator are used.
//
// [Metrics] observes dispatch outcomes, written responses and open connections. The metrics are
// served on BD_METRICS_PATH from the app's own registry, see [WithRegistry].
//
// # AWS Clients
//
// AWS SDK v2 clients are registered with [WithAWSClient] and injected directly into handler
// constructors via fx. Clients of the primary region are wrapped in [Primary], clients of a fixed
// region in [InRegion], so the region shows in the type:
//
//	bapp.WithAWSClient(func(cfg aws.Config) *bapp.Primary[ssm.Client] {
//	    return bapp.NewPrimary(ssm.NewFromConfig(cfg))
//	}, bapp.ForPrimaryRegion())
//
// # Testing
//
// The bapptest package builds the same dependency graph on fxtest and calls handlers directly.
// Combine it with [WithLogger] to test handlers that call [Log].
package bapp
