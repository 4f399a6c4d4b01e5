package bapp

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/aws/aws-sdk-go-v2/otelaws"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
)

// Region selects the region an AWS client is configured for.
type Region func(env Environment) string

// LocalRegion is the region the service runs in (AWS_REGION).
func LocalRegion() Region {
	return func(env Environment) string { return env.awsRegion() }
}

// PrimaryRegion is the primary deployment region (BD_PRIMARY_REGION).
func PrimaryRegion() Region {
	return func(env Environment) string { return env.primaryRegion() }
}

// FixedRegion is always region.
func FixedRegion(region string) Region {
	return func(Environment) string { return region }
}

// Primary wraps an AWS client for the primary deployment region, so the region shows in the
// type a handler constructor asks for.
//
//	bapp.WithAWSClient(func(cfg aws.Config) *bapp.Primary[ssm.Client] {
//	    return bapp.NewPrimary(ssm.NewFromConfig(cfg))
//	}, bapp.ForPrimaryRegion())
type Primary[T any] struct {
	Client *T
}

// NewPrimary wraps a client that was created for the primary region.
func NewPrimary[T any](client *T) *Primary[T] {
	return &Primary[T]{Client: client}
}

// InRegion wraps an AWS client for one fixed region.
//
//	bapp.WithAWSClient(func(cfg aws.Config) *bapp.InRegion[sqs.Client] {
//	    return bapp.NewInRegion(sqs.NewFromConfig(cfg), "us-east-1")
//	}, bapp.ForRegion("us-east-1"))
type InRegion[T any] struct {
	Client *T
	Region string
}

// NewInRegion wraps a client that was created for region.
func NewInRegion[T any](client *T, region string) *InRegion[T] {
	return &InRegion[T]{Client: client, Region: region}
}

// ClientOption configures AWS client registration.
type ClientOption func(*clientOptions)

type clientOptions struct {
	region Region
}

// ForPrimaryRegion configures the client for BD_PRIMARY_REGION. The factory should return a
// [Primary].
func ForPrimaryRegion() ClientOption {
	return func(o *clientOptions) { o.region = PrimaryRegion() }
}

// ForRegion configures the client for a fixed region. The factory should return an [InRegion].
func ForRegion(region string) ClientOption {
	return func(o *clientOptions) { o.region = FixedRegion(region) }
}

const awsConfigTimeout = 10 * time.Second

// NewAWSConfig loads the default AWS SDK v2 configuration for region.
func NewAWSConfig(ctx context.Context, region string) (aws.Config, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return cfg, errors.Wrap(err, "failed to load aws config")
	}
	return cfg, nil
}

// provideAWSConfig loads the AWS config for the local region and instruments every client created
// from it with the injected tracer provider and propagator.
func provideAWSConfig(env Environment, tp trace.TracerProvider, prop propagation.TextMapPropagator) (aws.Config, error) {
	ctx, cancel := context.WithTimeout(context.Background(), awsConfigTimeout)
	defer cancel()

	cfg, err := NewAWSConfig(ctx, env.awsRegion())
	if err != nil {
		return cfg, err
	}

	otelaws.AppendMiddlewares(&cfg.APIOptions,
		otelaws.WithTracerProvider(tp),
		otelaws.WithTextMapPropagator(prop),
	)
	return cfg, nil
}

// AWSClientProvider creates an fx.Option that provides the client built by factory. The factory
// receives a copy of the shared config with the region set, by default the local region.
func AWSClientProvider[T any](factory func(aws.Config) T, opts ...ClientOption) fx.Option {
	options := &clientOptions{region: LocalRegion()}
	for _, opt := range opts {
		opt(options)
	}

	return fx.Provide(func(cfg aws.Config, env Environment) T {
		awsCfg := cfg.Copy()
		if r := options.region(env); r != "" {
			awsCfg.Region = r
		}
		return factory(awsCfg)
	})
}
