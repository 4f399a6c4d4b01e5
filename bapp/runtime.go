package bapp

import (
	"context"
	"net/http"

	"github.com/advdv/bedge"
	"github.com/carlmjohnson/requests"
	"github.com/cockroachdb/errors"
)

// Runtime provides access to app-scoped dependencies.
// Inject this into handler constructors via fx instead of pulling from context.
//
//	type Handlers struct {
//	    rt     *bapp.Runtime[Env]
//	    dynamo *dynamodb.Client
//	}
//
//	func (h *Handlers) GetItem(ctx context.Context, res *bedge.ResponseState, r *bedge.Request) error {
//	    url, _ := h.rt.Reverse("get-item", r.Param("id"))
//	    // ...
//	}
type Runtime[E Environment] struct {
	env          E
	mux          *bedge.ServeMux
	secretReader SecretReader
	transport    http.RoundTripper
}

// RuntimeParams holds optional dependencies for Runtime.
type RuntimeParams struct {
	SecretReader SecretReader
	Transport    http.RoundTripper
}

// NewRuntime creates a new Runtime with the given dependencies.
func NewRuntime[E Environment](env E, mux *bedge.ServeMux, params RuntimeParams) *Runtime[E] {
	return &Runtime[E]{
		env:          env,
		mux:          mux,
		secretReader: params.SecretReader,
		transport:    params.Transport,
	}
}

// Env returns the environment configuration.
func (r *Runtime[E]) Env() E {
	return r.env
}

// Reverse returns the URL for a named route with the given parameters.
func (r *Runtime[E]) Reverse(name string, params ...string) (string, error) {
	return r.mux.Reverse(name, params...)
}

// Secret retrieves a secret value. With a jsonPath the secret is parsed as JSON and the value at
// that gjson path is returned, e.g. "database.password" or "api.keys.0".
//
// Secrets are cached but fetched per call, so rotation does not need a redeploy.
func (r *Runtime[E]) Secret(ctx context.Context, secretID string, jsonPath ...string) (string, error) {
	if r.secretReader == nil {
		return "", errors.New("bapp: secret reader not configured")
	}
	return readSecret(ctx, r.secretReader, secretID, jsonPath...)
}

// NewRequest returns a fresh [requests.Builder] on the traced transport.
func (r *Runtime[E]) NewRequest() *requests.Builder {
	t := r.transport
	if t == nil {
		t = http.DefaultTransport
	}
	return newRequestBuilder(t, r.env.serviceName())
}
