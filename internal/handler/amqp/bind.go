package amqp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/ThreeDotsLabs/watermill/components/requeuer"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/webitel/im-notify-gateway/config"
	"github.com/webitel/im-notify-gateway/internal/adapter/pubsub"
	"github.com/webitel/im-notify-gateway/internal/domain/model"
	"github.com/webitel/im-notify-gateway/internal/domain/registry"
	"github.com/webitel/im-notify-gateway/internal/metrics"
)

// ConsumeObserver receives the terminal outcome of every consumed message.
type ConsumeObserver interface {
	ObserveConsumed(outcome string)
}

// DeliveryHandler turns queue envelopes into Hub routes.
type DeliveryHandler struct {
	hub             registry.Hubber
	retry           message.Publisher
	retryTopic      string
	logger          *slog.Logger
	observer        ConsumeObserver
	ackPolicy       string
	redeliveryDelay time.Duration
}

// NewDeliveryHandler builds the consumer handler. Envelopes that cannot be routed
// yet are parked on cfg.RetryTopic through retry.
func NewDeliveryHandler(hub registry.Hubber, retry message.Publisher, logger *slog.Logger, observer ConsumeObserver, cfg config.BrokerConfig) *DeliveryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeliveryHandler{
		hub:             hub,
		retry:           retry,
		retryTopic:      cfg.RetryTopic,
		logger:          logger,
		observer:        observer,
		ackPolicy:       cfg.AckPolicy,
		redeliveryDelay: cfg.RedeliveryDelay,
	}
}

// [INFRASTRUCTURE_BRIDGE]
// Handle connects Watermill to the Hub. It always returns nil: the outcome is
// expressed through explicit Ack/Nack so the router never retries on its own.
// It never waits: one offline key must not hold up the keys behind it.
func (h *DeliveryHandler) Handle(msg *message.Message) (err error) {
	// [PANIC_RECOVERY]
	// Safely handle runtime panics to keep the consumer alive. The message is
	// dropped, a redelivered poison pill would panic again.
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("PANIC_RECOVERED",
				"err", r,
				"stack", string(debug.Stack()),
				"msg_id", msg.UUID)
			msg.Ack()
			h.observer.ObserveConsumed(metrics.QueueSkipped)
			err = nil
		}
	}()

	// [DECODING]
	routed, err := decode(msg)
	if err != nil {
		h.logger.Error("DECODE_FAILED", "err", err, "msg_id", msg.UUID)
		msg.Ack()
		h.observer.ObserveConsumed(metrics.QueueSkipped)
		return nil // ACK: Poison Pill protection.
	}
	key, _ := routed.Target()

	// [LOCALITY_FILTER]
	if !h.hub.Exists(key) {
		h.requeue(msg, key)
		return nil
	}

	if h.ackPolicy == config.RouteFirst {
		if h.hub.Route(routed) != registry.Delivered {
			h.requeue(msg, key)
			return nil
		}
		msg.Ack()
		h.observer.ObserveConsumed(metrics.QueueAcked)
		return nil
	}

	// [ACK_BEFORE_ROUTE]
	// The broker forgets the message before the Hub sees it. A session that
	// vanishes in between loses the message.
	msg.Ack()
	h.observer.ObserveConsumed(metrics.QueueAcked)

	if res := h.hub.Route(routed); res != registry.Delivered {
		h.logger.Warn("ROUTE_AFTER_ACK_MISSED",
			"msg_id", msg.UUID,
			"key", key,
			"message_id", routed.ID)
	}

	return nil
}

// [REDELIVERY]
// requeue parks a copy on the retry topic stamped with its redelivery time and
// acks the original. Only when parking fails is the original nacked, so the
// broker keeps it.
func (h *DeliveryHandler) requeue(msg *message.Message, key string) {
	parked := msg.Copy()
	parked.Metadata.Set(pubsub.MetadataRedeliverAt,
		time.Now().Add(h.redeliveryDelay).UTC().Format(time.RFC3339Nano))

	if err := h.retry.Publish(h.retryTopic, parked); err != nil {
		h.logger.Error("REQUEUE_FAILED",
			"err", err,
			"msg_id", msg.UUID,
			"key", key)
		msg.Nack()
		h.observer.ObserveConsumed(metrics.QueueNacked)
		return
	}

	msg.Ack()
	h.observer.ObserveConsumed(metrics.QueueRequeued)
	h.logger.Debug("SESSION_OFFLINE: redelivery_scheduled",
		"msg_id", msg.UUID,
		"key", key,
		"delay", h.redeliveryDelay,
		"redeliveries", msg.Metadata.Get(requeuer.RetriesKey))
}

func decode(msg *message.Message) (*model.RoutedMessage, error) {
	env := new(model.Envelope)
	if err := json.Unmarshal(msg.Payload, env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if key := msg.Metadata.Get(pubsub.MetadataPartitionKey); key != "" {
		env.PartitionKey = key
	}

	routed, err := env.Message()
	if err != nil {
		return nil, err
	}
	if err := routed.Validate(); err != nil {
		return nil, err
	}
	return routed, nil
}
