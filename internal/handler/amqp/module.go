package amqp

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/im-notify-gateway/config"
	"github.com/webitel/im-notify-gateway/internal/adapter/pubsub"
	"github.com/webitel/im-notify-gateway/internal/domain/registry"
)

var Module = fx.Module("amqp-handler",
	fx.Provide(
		func(hub registry.Hubber, ps *pubsub.PubSub, logger *slog.Logger, observer ConsumeObserver, cfg *config.Config) *DeliveryHandler {
			return NewDeliveryHandler(hub, ps.RetryPublisher, logger, observer, cfg.Broker)
		},
		NewWatermillRouter,
		NewBridge,
	),

	fx.Invoke(
		RegisterHandlers,
		func(lc fx.Lifecycle, b *Bridge) {
			lc.Append(fx.Hook{
				OnStart: b.Start,
				OnStop:  b.Stop,
			})
		},
	),
)
