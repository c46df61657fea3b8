package amqp

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/components/requeuer"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/webitel/im-notify-gateway/config"
	"github.com/webitel/im-notify-gateway/internal/adapter/pubsub"
)

// DeliveryHandlerName identifies the single queue consumer. Messages are handled one
// at a time so per-key order is whatever the broker hands over.
const DeliveryHandlerName = "ON_NOTIFICATION"

func NewWatermillRouter(logger watermill.LoggerAdapter) (*message.Router, error) {
	return message.NewRouter(message.RouterConfig{
		CloseTimeout: 15 * time.Second,
	}, logger)
}

// [REGISTRATION_PIPELINE]
// The delivery handler consumes the main topic. A requeuer on the same router
// moves parked envelopes from the retry topic back to the main topic once their
// redelivery time has passed.
func RegisterHandlers(router *message.Router, ps *pubsub.PubSub, h *DeliveryHandler, cfg *config.Config, logger *slog.Logger) error {
	router.AddMiddleware(RedeliveryHoldMiddleware)

	router.AddConsumerHandler(DeliveryHandlerName, ps.Topic, ps.Subscriber, h.Handle).AddMiddleware(
		TracingMiddleware,
		LoggingMiddleware(logger),
	)

	_, err := requeuer.NewRequeuer(requeuer.Config{
		Subscriber:     ps.RetrySubscriber,
		SubscribeTopic: ps.RetryTopic,
		Publisher:      ps.Publisher,
		GeneratePublishTopic: func(requeuer.GeneratePublishTopicParams) (string, error) {
			return ps.Topic, nil
		},
		Router: router,
	}, watermill.NewSlogLogger(logger))
	if err != nil {
		return fmt.Errorf("amqp: requeuer: %w", err)
	}

	logger.Info("AMQP_PIPELINE_READY",
		"topic", ps.Topic,
		"retry_topic", ps.RetryTopic,
		"driver", cfg.Broker.Driver,
		"ack_policy", cfg.Broker.AckPolicy,
		"redelivery_delay", cfg.Broker.RedeliveryDelay)
	return nil
}
