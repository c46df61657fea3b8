package cmd

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/webitel/im-notify-gateway/config"
	httpsrv "github.com/webitel/im-notify-gateway/infra/server/http"
	"github.com/webitel/im-notify-gateway/internal/adapter/pubsub"
	"github.com/webitel/im-notify-gateway/internal/auth"
	"github.com/webitel/im-notify-gateway/internal/domain/registry"
	amqpdi "github.com/webitel/im-notify-gateway/internal/handler/amqp"
	httphandler "github.com/webitel/im-notify-gateway/internal/handler/http"
	"github.com/webitel/im-notify-gateway/internal/metrics"
	"github.com/webitel/im-notify-gateway/internal/service"
)

func NewApp(cfg *config.Config) *fx.App {
	return fx.New(appOptions(cfg)...)
}

func appOptions(cfg *config.Config) []fx.Option {
	return []fx.Option{
		fx.Provide(
			func() *config.Config { return cfg },
			ProvideLogger,
			ProvideWatermillLogger,
			ProvideTracerProvider,
		),
		// Tracing has no consumer in the graph; force it so the globals get installed.
		fx.Invoke(func(trace.TracerProvider) {}),
		fx.WithLogger(func(l *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: l.With("component", "fx")}
		}),

		// [OBSERVER_BINDINGS] One Prometheus gateway serves every layer.
		fx.Provide(
			func(g *metrics.Gateway) registry.RouteObserver { return g },
			func(g *metrics.Gateway) pubsub.PublishObserver { return g },
			func(g *metrics.Gateway) amqpdi.ConsumeObserver { return g },
		),

		metrics.Module,
		registry.Module,
		auth.Module,
		pubsub.Module,
		service.Module,
		amqpdi.Module,
		httphandler.Module,
		httpsrv.Module,
	}
}
