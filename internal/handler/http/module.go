package http

import (
	"log/slog"
	"net/http"

	"go.uber.org/fx"

	"github.com/webitel/im-notify-gateway/config"
	"github.com/webitel/im-notify-gateway/internal/auth"
	"github.com/webitel/im-notify-gateway/internal/handler/lp"
	"github.com/webitel/im-notify-gateway/internal/handler/ws"
	"github.com/webitel/im-notify-gateway/internal/metrics"
	"github.com/webitel/im-notify-gateway/internal/service"
)

var Module = fx.Module("http-handler",
	fx.Provide(
		NewHandler,
		func(logger *slog.Logger, deliverer service.Deliverer, cfg *config.Config) *ws.WSHandler {
			return ws.NewWSHandler(logger, deliverer, cfg.Session)
		},
		func(deliverer service.Deliverer, logger *slog.Logger, cfg *config.Config) *lp.LPHandler {
			return lp.NewLPHandler(deliverer, logger, cfg.LP.Timeout)
		},
		ProvideHTTPHandler,
	),
)

func ProvideHTTPHandler(h *Handler, wsh *ws.WSHandler, lph *lp.LPHandler, inspector auth.Inspector, gw *metrics.Gateway, logger *slog.Logger) http.Handler {
	return NewRouter(Routes{
		Handler:   h,
		WS:        wsh,
		LP:        lph,
		Inspector: inspector,
		Metrics:   gw.Handler(),
		Observer:  gw,
		Logger:    logger,
	})
}
