package pubsub

import (
	"context"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/fx"

	"github.com/webitel/im-notify-gateway/config"
)

var Module = fx.Module("pubsub",
	fx.Provide(
		ProvidePubSub,
		ProvideDispatcher,
	),
)

func ProvidePubSub(lc fx.Lifecycle, cfg *config.Config, logger watermill.LoggerAdapter, sl *slog.Logger) (*PubSub, error) {
	ps, err := NewPubSub(cfg.Broker, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sl.Info("PUBSUB_CLOSING", "driver", cfg.Broker.Driver)
			return ps.Close()
		},
	})

	return ps, nil
}

func ProvideDispatcher(ps *PubSub, cfg *config.Config, logger *slog.Logger, observer PublishObserver) Dispatcher {
	return NewDispatcher(ps.Publisher, ps.Topic,
		WithDispatcherLogger(logger),
		WithPublishObserver(observer),
		WithBuffer(cfg.Broker.PublishBuffer),
		WithPublishTimeout(cfg.Broker.PublishTimeout),
	)
}
