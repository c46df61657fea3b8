package pubsub

import (
	"errors"
	"fmt"
	"slices"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/webitel/im-notify-gateway/config"
)

// PubSub bundles the broker-facing publisher and subscriber of one driver.
// RetryTopic parks envelopes whose target was offline until their redelivery
// time comes up, away from the main topic so live keys keep flowing.
type PubSub struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
	Topic      string

	RetryPublisher  message.Publisher
	RetrySubscriber message.Subscriber
	RetryTopic      string
}

// Close releases every distinct publisher and subscriber once.
func (p *PubSub) Close() error {
	var (
		errs   []error
		closed []any
	)
	for _, c := range []interface{ Close() error }{p.Publisher, p.Subscriber, p.RetryPublisher, p.RetrySubscriber} {
		if c == nil || slices.Contains(closed, any(c)) {
			continue
		}
		closed = append(closed, any(c))
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// NewPubSub builds the driver selected in configuration.
func NewPubSub(cfg config.BrokerConfig, logger watermill.LoggerAdapter) (*PubSub, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return NewMemoryPubSub(cfg.Topic, cfg.RetryTopic, logger), nil
	case config.DriverAMQP:
		return newAMQPPubSub(cfg, logger)
	default:
		return nil, fmt.Errorf("pubsub: unknown broker driver %q", cfg.Driver)
	}
}

// NewMemoryPubSub is an in-process broker for development and tests.
// Publishing on the main topic blocks until the subscriber acks, so per-topic
// order is kept. The retry topic lives on its own channel that never blocks
// the publisher: the consumer parks envelopes there from inside its handler.
func NewMemoryPubSub(topic, retryTopic string, logger watermill.LoggerAdapter) *PubSub {
	ch := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            64,
		BlockPublishUntilSubscriberAck: true,
	}, logger)
	retry := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, logger)

	return &PubSub{
		Publisher:       ch,
		Subscriber:      ch,
		Topic:           topic,
		RetryPublisher:  retry,
		RetrySubscriber: retry,
		RetryTopic:      retryTopic,
	}
}

func newAMQPPubSub(cfg config.BrokerConfig, logger watermill.LoggerAdapter) (*PubSub, error) {
	// [NAMED_SUBSCRIPTION]
	// Every gateway process binds the same durable queue (topic + subscription name),
	// so unacked envelopes survive restarts and are redelivered to whoever holds it.
	amqpCfg := amqp.NewDurablePubSubConfig(
		cfg.URL,
		amqp.GenerateQueueNameTopicNameWithSuffix(cfg.SubscriptionName),
	)
	amqpCfg.Consume.Consumer = cfg.ConsumerName

	pub, err := amqp.NewPublisher(amqpCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("pubsub: amqp publisher: %w", err)
	}

	sub, err := amqp.NewSubscriber(amqpCfg, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("pubsub: amqp subscriber: %w", err)
	}

	// The retry topic is a second exchange and queue on the same connection.
	return &PubSub{
		Publisher:       pub,
		Subscriber:      sub,
		Topic:           cfg.Topic,
		RetryPublisher:  pub,
		RetrySubscriber: sub,
		RetryTopic:      cfg.RetryTopic,
	}, nil
}
