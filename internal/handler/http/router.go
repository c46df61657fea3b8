package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/webitel/im-notify-gateway/infra/server/http/interceptors"
	"github.com/webitel/im-notify-gateway/internal/auth"
	"github.com/webitel/im-notify-gateway/internal/handler/lp"
	"github.com/webitel/im-notify-gateway/internal/handler/ws"
)

// Routes bundles everything the inbound API mounts.
type Routes struct {
	Handler   *Handler
	WS        *ws.WSHandler
	LP        *lp.LPHandler
	Inspector auth.Inspector
	Metrics   http.Handler
	Observer  RequestObserver
	Logger    *slog.Logger
}

// NewRouter mounts the inbound API.
func NewRouter(rt Routes) chi.Router {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		LoggingMiddleware(rt.Logger, rt.Observer),
		middleware.Recoverer,
	)

	r.Get("/", rt.Handler.Health)
	r.Get("/websocket", rt.WS.ServeHTTP)
	r.Get("/poll", rt.LP.Poll)
	r.Get("/stats", rt.Handler.Stats)
	if rt.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", rt.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(interceptors.NewAuthMiddleware(rt.Inspector, rt.Logger))
		r.Post("/send", rt.Handler.Send)
	})

	return r
}
