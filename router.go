package bedge

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/advdv/bedge/internal/pathpattern"
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

// Route is one registered handler.
type Route struct {
	Method  string
	Pattern string
	Name    string
	Handler Handler

	pat *pathpattern.Pattern
}

// Router maps a method and path to a handler. Routes are tried in registration order and the first
// match wins, so register literal routes such as "/users/new" before "/users/:id". Registration is
// only allowed until the router is sealed, after which it is safe for concurrent lookups.
type Router struct {
	mu       sync.Mutex
	routes   []Route
	seen     map[string]struct{}
	reverser *Reverser
	sealed   atomic.Bool
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return NewRouterWith(NewReverser())
}

// NewRouterWith creates an empty router that records named routes in reverser.
func NewRouterWith(reverser *Reverser) *Router {
	return &Router{seen: make(map[string]struct{}), reverser: reverser}
}

// Register adds a route for method and pattern. An optional name makes the route reversible.
func (rt *Router) Register(method, pattern string, h Handler, name ...string) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if rt.sealed.Load() {
		return errors.Wrapf(ErrRouterSealed, "register %s %s", method, pattern)
	}

	if !lo.Contains(Methods, method) {
		return errors.Wrapf(ErrUnknownMethod, "method %q", method)
	}

	pat, err := pathpattern.Compile(pattern)
	if err != nil {
		return err
	}

	key := method + " " + pat.Canonical()
	if _, dup := rt.seen[key]; dup {
		return errors.Wrapf(ErrDuplicateRoute, "%s %s", method, pattern)
	}

	route := Route{Method: method, Pattern: pattern, Handler: h, pat: pat}
	if len(name) > 0 && name[0] != "" {
		if err := rt.reverser.add(name[0], pat); err != nil {
			return err
		}

		route.Name = name[0]
	}

	rt.seen[key] = struct{}{}
	rt.routes = append(rt.routes, route)

	return nil
}

// Resolve finds the first route for method whose pattern matches path. Path is expected in its
// escaped form, captured values are unescaped. HEAD requests only match routes registered for HEAD.
func (rt *Router) Resolve(method, path string) (Handler, map[string]string, bool) {
	for _, route := range rt.snapshot() {
		if route.Method != method {
			continue
		}

		if params, ok := route.pat.Match(path); ok {
			return route.Handler, params, true
		}
	}

	return nil, nil, false
}

// Routes returns the registered routes in registration order.
func (rt *Router) Routes() []Route {
	return append([]Route(nil), rt.snapshot()...)
}

// Seal freezes the route table. Sealing twice is a no-op.
func (rt *Router) Seal() {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	rt.sealed.Store(true)
}

// Sealed reports whether the route table is frozen.
func (rt *Router) Sealed() bool { return rt.sealed.Load() }

// Reverse builds the path of a named route.
func (rt *Router) Reverse(name string, vals ...string) (string, error) {
	return rt.reverser.Reverse(name, vals...)
}

// Mount registers every route of sub below prefix, in sub's order. Names are carried over.
func (rt *Router) Mount(prefix string, sub *Router) error {
	return rt.mount(prefix, sub, func(h Handler) Handler { return h })
}

func (rt *Router) mount(prefix string, sub *Router, wrap func(Handler) Handler) error {
	for _, route := range sub.Routes() {
		if err := rt.Register(route.Method, joinPattern(prefix, route.Pattern), wrap(route.Handler), route.Name); err != nil {
			return errors.Wrapf(err, "mount %q", prefix)
		}
	}

	return nil
}

// snapshot returns the route slice. Lookups before sealing take the lock, after sealing the slice
// no longer changes.
func (rt *Router) snapshot() []Route {
	if rt.sealed.Load() {
		return rt.routes
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()

	return rt.routes
}

func joinPattern(prefix, pattern string) string {
	prefix = strings.TrimSuffix(prefix, "/")
	if pattern == "/" {
		if prefix == "" {
			return "/"
		}

		return prefix
	}

	return prefix + pattern
}
