package bedge

// Mount registers every route of sub below prefix. Middleware registered via [ServeMux.Use] wraps
// the mounted handlers, and named routes of sub stay reversible through this mux. A sub route for
// "/" is served at the prefix itself.
func (m *ServeMux) Mount(prefix string, sub *Router) {
	if err := m.MountRouter(prefix, sub); err != nil {
		panic("bedge: " + err.Error())
	}
}

// MountRouter is like Mount but returns the registration error.
func (m *ServeMux) MountRouter(prefix string, sub *Router) error {
	m.middlewares.captured = true

	return m.router.mount(prefix, sub, func(h Handler) Handler {
		return Wrap(h, m.middlewares.buffered...)
	})
}
