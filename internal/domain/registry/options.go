package registry

import "log/slog"

// Option defines a functional configuration type for the Hub.
type Option func(*Hub)

// WithLogger replaces the default slog logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Hub) {
		if l != nil {
			h.logger = l.With("component", "hub")
		}
	}
}

// WithObserver attaches a sink for routing outcomes and session counts.
func WithObserver(o RouteObserver) Option {
	return func(h *Hub) {
		h.observer = o
	}
}
