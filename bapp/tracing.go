package bapp

import (
	"context"
	"time"

	"github.com/advdv/bedge"
	"github.com/aws-observability/aws-otel-go/exporters/xrayudp"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/contrib/detectors/aws/lambda"
	"go.opentelemetry.io/contrib/propagators/aws/xray"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

const tracingInitTimeout = 5 * time.Second

// tracerName is the instrumentation scope of the dispatch spans.
const tracerName = "github.com/advdv/bedge/bapp"

// NewTracerProvider creates and configures the OpenTelemetry TracerProvider.
// Supported exporters via BD_OTEL_EXPORTER: "stdout" (default), "xrayudp".
// Shutdown is handled automatically via fx.Lifecycle.
func NewTracerProvider(lc fx.Lifecycle, env Environment) (trace.TracerProvider, error) {
	ctx, cancel := context.WithTimeout(context.Background(), tracingInitTimeout)
	defer cancel()

	exporterType := env.otelExporter()

	exporter, err := newExporter(ctx, exporterType)
	if err != nil {
		return nil, err
	}

	res, err := newResource(ctx, exporterType, env.serviceName(), env.gatewayAccessLogGroup())
	if err != nil {
		return nil, err
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	}
	if exporterType == "xrayudp" {
		opts = append(opts, sdktrace.WithIDGenerator(xray.NewIDGenerator()))
	}

	tp := sdktrace.NewTracerProvider(opts...)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})

	return tp, nil
}

// NewPropagator creates a TextMapPropagator based on the exporter type.
// For xrayudp: uses the X-Ray propagator.
// For stdout/default: uses W3C TraceContext + Baggage composite propagator.
func NewPropagator(env Environment) propagation.TextMapPropagator {
	if env.otelExporter() == "xrayudp" {
		return xray.Propagator{}
	}
	return propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	)
}

// newExporter creates a span exporter based on the exporter type.
func newExporter(ctx context.Context, exporterType string) (sdktrace.SpanExporter, error) {
	switch exporterType {
	case "stdout", "":
		return stdouttrace.New(stdouttrace.WithPrettyPrint())
	case "xrayudp":
		return xrayudp.NewSpanExporter(ctx)
	default:
		return nil, errors.Newf("unsupported BD_OTEL_EXPORTER: %q (supported: stdout, xrayudp)", exporterType)
	}
}

// newResource creates a resource with appropriate attributes for the exporter.
// If gatewayAccessLogGroup is set, it's added to aws.log.group.names for X-Ray log correlation.
func newResource(ctx context.Context, exporterType, serviceName, gatewayAccessLogGroup string) (*resource.Resource, error) {
	if exporterType == "xrayudp" {
		lambdaRes, err := lambda.NewResourceDetector().Detect(ctx)
		if err != nil {
			return nil, err
		}

		return withAdditionalLogGroups(ctx, lambdaRes, gatewayAccessLogGroup)
	}

	return resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
	), nil
}

// withAdditionalLogGroups merges additional CloudWatch log groups into the resource
// for X-Ray log correlation. Empty log group names are filtered out.
func withAdditionalLogGroups(ctx context.Context, base *resource.Resource, logGroups ...string) (*resource.Resource, error) {
	var filtered []string
	for _, lg := range logGroups {
		if lg != "" {
			filtered = append(filtered, lg)
		}
	}
	if len(filtered) == 0 {
		return base, nil
	}

	customRes, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.StringSlice("aws.log.group.names", filtered),
		),
	)
	if err != nil {
		return nil, err
	}
	return resource.Merge(base, customRes)
}

// withTracing starts a server span around every handler call, continuing the trace propagated in
// the request headers. Requests to excludePaths are not traced. The span covers the handler call
// only: a response that is completed later from another goroutine is not part of it.
func withTracing(tp trace.TracerProvider, prop propagation.TextMapPropagator, excludePaths ...string) bedge.Middleware {
	excludeSet := make(map[string]struct{}, len(excludePaths))
	for _, p := range excludePaths {
		excludeSet[p] = struct{}{}
	}

	tracer := tp.Tracer(tracerName)

	return func(next bedge.Handler) bedge.Handler {
		return bedge.HandlerFunc(func(ctx context.Context, res *bedge.ResponseState, r *bedge.Request) error {
			if _, excluded := excludeSet[r.Path]; excluded {
				return next.ServeEdge(ctx, res, r)
			}

			ctx = prop.Extract(ctx, propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+r.Path,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.Path),
				))
			defer span.End()

			err := next.ServeEdge(ctx, res, r)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return err
			}

			span.SetAttributes(semconv.HTTPResponseStatusCode(res.Status()))
			return nil
		})
	}
}
