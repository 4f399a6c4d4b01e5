package bapptest

import (
	"strconv"
	"testing"
)

// Env provides a chainable builder for setting [bapp.BaseEnvironment] env vars via t.Setenv.
// Create one with [SetBaseEnv].
type Env struct {
	t testing.TB
}

// SetBaseEnv sets all required [bapp.BaseEnvironment] env vars to test defaults. Port is required
// because each test must use a unique port to avoid collisions.
//
// Defaults:
//   - BD_SERVICE_NAME: "test"
//   - BD_READINESS_CHECK_PATH: "/health"
//   - AWS_REGION: "us-east-1"
//   - BD_PRIMARY_REGION: "eu-west-1"
//   - OTEL_SDK_DISABLED: "true"
//   - AWS_ACCESS_KEY_ID: "test"
//   - AWS_SECRET_ACCESS_KEY: "test"
//
// Use the returned [Env] to override individual values:
//
//	bapptest.SetBaseEnv(t, 18085).AWSRegion("eu-west-1").PrimaryRegion("eu-central-1")
func SetBaseEnv(t testing.TB, port int) *Env {
	t.Helper()
	t.Setenv("BD_PORT", strconv.Itoa(port))
	t.Setenv("BD_SERVICE_NAME", "test")
	t.Setenv("BD_READINESS_CHECK_PATH", "/health")
	t.Setenv("AWS_REGION", "us-east-1")
	t.Setenv("BD_PRIMARY_REGION", "eu-west-1")
	t.Setenv("OTEL_SDK_DISABLED", "true")
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")
	return &Env{t: t}
}

func (e *Env) set(key, value string) *Env {
	e.t.Helper()
	e.t.Setenv(key, value)
	return e
}

// ServiceName overrides BD_SERVICE_NAME.
func (e *Env) ServiceName(name string) *Env { return e.set("BD_SERVICE_NAME", name) }

// ReadinessCheckPath overrides BD_READINESS_CHECK_PATH.
func (e *Env) ReadinessCheckPath(path string) *Env { return e.set("BD_READINESS_CHECK_PATH", path) }

// AWSRegion overrides AWS_REGION.
func (e *Env) AWSRegion(region string) *Env { return e.set("AWS_REGION", region) }

// PrimaryRegion overrides BD_PRIMARY_REGION.
func (e *Env) PrimaryRegion(region string) *Env { return e.set("BD_PRIMARY_REGION", region) }

// MetricsPath overrides BD_METRICS_PATH.
func (e *Env) MetricsPath(path string) *Env { return e.set("BD_METRICS_PATH", path) }

// IdleTimeout overrides BD_IDLE_TIMEOUT.
func (e *Env) IdleTimeout(d string) *Env { return e.set("BD_IDLE_TIMEOUT", d) }

// MaxBodyBytes overrides BD_MAX_BODY_BYTES.
func (e *Env) MaxBodyBytes(n int64) *Env {
	return e.set("BD_MAX_BODY_BYTES", strconv.FormatInt(n, 10))
}
