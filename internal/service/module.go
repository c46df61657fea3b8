package service

import (
	"log/slog"

	"go.uber.org/fx"

	"github.com/webitel/im-notify-gateway/config"
	"github.com/webitel/im-notify-gateway/internal/adapter/pubsub"
	"github.com/webitel/im-notify-gateway/internal/domain/registry"
)

var Module = fx.Module(
	"service",

	fx.Provide(ProvideDeliverer),
)

// ProvideDeliverer builds the delivery service behind its logging decorator.
// [DECORATION_LAYER] The wrap happens here rather than in fx.Decorate, whose effect
// would stay inside this module and miss the transport handlers.
func ProvideDeliverer(hub registry.Hubber, dispatcher pubsub.Dispatcher, logger *slog.Logger, cfg *config.Config) Deliverer {
	svc := NewDeliveryService(hub, dispatcher, logger, cfg.Session.MailboxSize)
	return NewDelivererMiddleware(svc, logger)
}
