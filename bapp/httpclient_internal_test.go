package bapp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNewHTTPTransport(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	rt := NewHTTPTransport(tp, propagation.TraceContext{})

	var traceparent string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceparent = r.Header.Get("traceparent")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, ts.URL, nil)
	require.NoError(t, err)

	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	require.NoError(t, resp.Body.Close())

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, traceparent)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "HTTP GET "+req.URL.Host, spans[0].Name())
}

func TestNewHTTPClient(t *testing.T) {
	rt := NewHTTPTransport(sdktrace.NewTracerProvider(), propagation.TraceContext{})

	client := NewHTTPClient(rt)
	require.NotNil(t, client)
	assert.Equal(t, rt, client.Transport)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, ts.URL, nil)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestNewRequestBuilder(t *testing.T) {
	rt := NewHTTPTransport(sdktrace.NewTracerProvider(), propagation.TraceContext{})

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(r.URL.Path + " " + r.UserAgent()))
	}))
	defer ts.Close()

	var first, second string
	require.NoError(t, newRequestBuilder(rt, "orders").
		BaseURL(ts.URL).
		Path("/first").
		ToString(&first).
		Fetch(context.Background()))
	require.NoError(t, newRequestBuilder(rt, "orders").
		BaseURL(ts.URL).
		Path("/second").
		ToString(&second).
		Fetch(context.Background()))

	assert.Equal(t, "/first orders", first)
	assert.Equal(t, "/second orders", second)
}

func TestRuntimeNewRequest(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("from-runtime " + r.UserAgent()))
	}))
	defer ts.Close()

	for name, rt := range map[string]*Runtime[testEnv]{
		"traced transport":  NewRuntime(testEnv{}, nil, RuntimeParams{Transport: NewHTTPTransport(sdktrace.NewTracerProvider(), propagation.TraceContext{})}),
		"default transport": NewRuntime(testEnv{}, nil, RuntimeParams{}),
	} {
		t.Run(name, func(t *testing.T) {
			var s string
			require.NoError(t, rt.NewRequest().
				BaseURL(ts.URL).
				ToString(&s).
				Fetch(context.Background()))
			assert.Equal(t, "from-runtime test", s)
		})
	}
}
