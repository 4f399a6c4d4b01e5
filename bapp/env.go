package bapp

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap/zapcore"
)

// Environment defines the interface that all environment configurations must implement.
// Embed BaseEnvironment in your struct to satisfy this interface.
type Environment interface {
	port() int
	serviceName() string
	readinessCheckPath() string
	logLevel() zapcore.Level
	otelExporter() string
	awsRegion() string
	primaryRegion() string
	gatewayAccessLogGroup() string
	metricsPath() string
	serverOptions() serverLimits
}

// serverLimits are the connection level settings read from the environment.
type serverLimits struct {
	idleTimeout   time.Duration
	readTimeout   time.Duration
	maxBodyBytes  int64
	bufferLimit   int
	maxWriteChunk int
}

// BaseEnvironment contains the environment variables every bedge service reads.
// Embed this in your custom environment struct.
type BaseEnvironment struct {
	Port               int           `env:"BD_PORT,required"`
	ServiceName        string        `env:"BD_SERVICE_NAME,required"`
	ReadinessCheckPath string        `env:"BD_READINESS_CHECK_PATH,required"`
	LogLevel           zapcore.Level `env:"BD_LOG_LEVEL" envDefault:"info"`
	OtelExporter       string        `env:"BD_OTEL_EXPORTER" envDefault:"stdout"`
	AWSRegion          string        `env:"AWS_REGION,required"`
	PrimaryRegion      string        `env:"BD_PRIMARY_REGION,required"`
	// GatewayAccessLogGroup is the CloudWatch Log Group name for API Gateway
	// access logs. When set, traces include this log group for X-Ray log
	// correlation.
	GatewayAccessLogGroup string `env:"BD_GATEWAY_ACCESS_LOG_GROUP"`
	// MetricsPath is where prometheus metrics are served. Empty disables the route.
	MetricsPath string `env:"BD_METRICS_PATH" envDefault:"/metrics"`

	IdleTimeout   time.Duration `env:"BD_IDLE_TIMEOUT" envDefault:"2m"`
	ReadTimeout   time.Duration `env:"BD_READ_TIMEOUT" envDefault:"30s"`
	MaxBodyBytes  int64         `env:"BD_MAX_BODY_BYTES" envDefault:"10485760"`
	BufferLimit   int           `env:"BD_BUFFER_LIMIT" envDefault:"6291456"`
	MaxWriteChunk int           `env:"BD_MAX_WRITE_CHUNK" envDefault:"32768"`
}

func (e BaseEnvironment) port() int {
	return e.Port
}

func (e BaseEnvironment) serviceName() string {
	return e.ServiceName
}

func (e BaseEnvironment) readinessCheckPath() string {
	return e.ReadinessCheckPath
}

func (e BaseEnvironment) logLevel() zapcore.Level {
	return e.LogLevel
}

func (e BaseEnvironment) otelExporter() string {
	return e.OtelExporter
}

func (e BaseEnvironment) awsRegion() string {
	return e.AWSRegion
}

func (e BaseEnvironment) primaryRegion() string {
	return e.PrimaryRegion
}

func (e BaseEnvironment) gatewayAccessLogGroup() string {
	return e.GatewayAccessLogGroup
}

func (e BaseEnvironment) metricsPath() string {
	return e.MetricsPath
}

func (e BaseEnvironment) serverOptions() serverLimits {
	return serverLimits{
		idleTimeout:   e.IdleTimeout,
		readTimeout:   e.ReadTimeout,
		maxBodyBytes:  e.MaxBodyBytes,
		bufferLimit:   e.BufferLimit,
		maxWriteChunk: e.MaxWriteChunk,
	}
}

var _ Environment = BaseEnvironment{}

// ParseEnv parses environment variables into the given Environment type.
func ParseEnv[E Environment]() func() (E, error) {
	return func() (e E, err error) {
		if err := env.Parse(&e); err != nil {
			return e, errors.Wrap(err, "failed to parse environment")
		}
		return e, nil
	}
}
