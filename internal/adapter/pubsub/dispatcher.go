package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/webitel/im-notify-gateway/internal/domain/model"
)

// MetadataPartitionKey carries the connection key of an envelope so that brokers
// with key-ordered delivery keep per-key order.
const MetadataPartitionKey = "partition_key"

// MetadataRedeliverAt holds the RFC 3339 time before which a parked envelope must
// not be handed back to the main topic.
const MetadataRedeliverAt = "redeliver_at"

var (
	ErrPublishBufferFull    = errors.New("pubsub: publish buffer full")
	ErrTransportUnavailable = errors.New("pubsub: transport unavailable")
	ErrDispatcherClosed     = errors.New("pubsub: dispatcher closed")
)

// PublishObserver receives producer outcomes.
type PublishObserver interface {
	ObservePublished()
	ObservePublishFailure(reason string)
}

// Dispatcher defines the contract for outgoing envelopes.
// Publish never blocks on the broker round-trip.
type Dispatcher interface {
	Publish(ctx context.Context, env *model.Envelope) error
	// Run drains the buffer into the broker until ctx is cancelled.
	Run(ctx context.Context) error
}

var _ Dispatcher = (*envelopeDispatcher)(nil)

type envelopeDispatcher struct {
	publisher message.Publisher
	topic     string
	buffer    chan *message.Message
	timeout   time.Duration
	breaker   *gobreaker.CircuitBreaker
	logger    *slog.Logger
	observer  PublishObserver
	tracer    trace.Tracer

	closing   chan struct{}
	closeOnce sync.Once
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*envelopeDispatcher)

func WithDispatcherLogger(l *slog.Logger) DispatcherOption {
	return func(d *envelopeDispatcher) {
		if l != nil {
			d.logger = l
		}
	}
}

func WithPublishObserver(o PublishObserver) DispatcherOption {
	return func(d *envelopeDispatcher) {
		if o != nil {
			d.observer = o
		}
	}
}

func WithBuffer(size int) DispatcherOption {
	return func(d *envelopeDispatcher) {
		if size > 0 {
			d.buffer = make(chan *message.Message, size)
		}
	}
}

// WithPublishTimeout bounds how long Publish waits for buffer space.
func WithPublishTimeout(t time.Duration) DispatcherOption {
	return func(d *envelopeDispatcher) {
		if t > 0 {
			d.timeout = t
		}
	}
}

// WithBreakerSettings replaces the default circuit breaker settings.
func WithBreakerSettings(st gobreaker.Settings) DispatcherOption {
	return func(d *envelopeDispatcher) {
		d.breaker = gobreaker.NewCircuitBreaker(st)
	}
}

// NewDispatcher returns the interface instead of the pointer to the struct.
func NewDispatcher(pub message.Publisher, topic string, opts ...DispatcherOption) Dispatcher {
	d := &envelopeDispatcher{
		publisher: pub,
		topic:     topic,
		buffer:    make(chan *message.Message, 1024),
		timeout:   250 * time.Millisecond,
		logger:    slog.Default(),
		observer:  noopObserver{},
		tracer:    otel.Tracer("github.com/webitel/im-notify-gateway/internal/adapter/pubsub"),
		closing:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.breaker == nil {
		d.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "broker-publish",
			Timeout: 10 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				d.logger.Warn("BREAKER_STATE_CHANGED",
					"breaker", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
		})
	}

	return d
}

func (d *envelopeDispatcher) Publish(ctx context.Context, env *model.Envelope) error {
	if env == nil {
		return fmt.Errorf("dispatcher: cannot publish nil envelope")
	}
	if env.PartitionKey == "" {
		return model.ErrEmptyPartitionKey
	}

	select {
	case <-d.closing:
		return ErrDispatcherClosed
	default:
	}

	// [FAIL_FAST]
	// While the breaker is open the broker is known to be down; queueing more
	// envelopes would only hide the outage from the caller.
	if d.breaker.State() == gobreaker.StateOpen {
		d.observer.ObservePublishFailure("unavailable")
		return ErrTransportUnavailable
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("dispatcher: marshal failure: %w", err)
	}

	ctx, span := d.tracer.Start(ctx, "queue.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", d.topic),
			attribute.String("gateway.partition_key", env.PartitionKey),
		),
	)
	defer span.End()

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataPartitionKey, env.PartitionKey)
	otel.GetTextMapPropagator().Inject(ctx, propagation.MapCarrier(msg.Metadata))

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case d.buffer <- msg:
		return nil
	case <-timer.C:
		d.observer.ObservePublishFailure("buffer_full")
		return ErrPublishBufferFull
	case <-d.closing:
		return ErrDispatcherClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *envelopeDispatcher) Run(ctx context.Context) error {
	d.logger.Info("DISPATCHER_STARTED", "topic", d.topic, "buffer", cap(d.buffer))

	for {
		select {
		case msg := <-d.buffer:
			d.send(msg)
		case <-ctx.Done():
			d.closeOnce.Do(func() { close(d.closing) })
			d.drain()
			d.logger.Info("DISPATCHER_STOPPED", "topic", d.topic)
			return nil
		}
	}
}

// drain flushes what was accepted before shutdown.
func (d *envelopeDispatcher) drain() {
	for {
		select {
		case msg := <-d.buffer:
			d.send(msg)
		default:
			return
		}
	}
}

func (d *envelopeDispatcher) send(msg *message.Message) {
	_, err := d.breaker.Execute(func() (interface{}, error) {
		return nil, d.publisher.Publish(d.topic, msg)
	})
	if err == nil {
		d.observer.ObservePublished()
		return
	}

	reason := "broker"
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		reason = "unavailable"
	}
	d.observer.ObservePublishFailure(reason)

	d.logger.Error("PUBLISH_FAILED",
		"err", err,
		"topic", d.topic,
		"message_id", msg.UUID,
		"partition_key", msg.Metadata.Get(MetadataPartitionKey),
	)
}

type noopObserver struct{}

func (noopObserver) ObservePublished()            {}
func (noopObserver) ObservePublishFailure(string) {}
