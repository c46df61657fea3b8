package amqp

import (
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/webitel/im-notify-gateway/internal/adapter/pubsub"
)

const tracerName = "github.com/webitel/im-notify-gateway/internal/handler/amqp"

// [TRACE_CONTEXT_MIDDLEWARE]
// Continues the producer trace carried in message metadata.
func TracingMiddleware(h message.HandlerFunc) message.HandlerFunc {
	tracer := otel.Tracer(tracerName)

	return func(msg *message.Message) ([]*message.Message, error) {
		ctx := otel.GetTextMapPropagator().Extract(msg.Context(), propagation.MapCarrier(msg.Metadata))
		ctx, span := tracer.Start(ctx, "queue.consume",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("messaging.message.id", msg.UUID),
				attribute.String("gateway.partition_key", msg.Metadata.Get(pubsub.MetadataPartitionKey)),
			),
		)
		defer span.End()

		msg.SetContext(ctx)
		return h(msg)
	}
}

// [LOGGING_MIDDLEWARE]
// Structured logging with latency and trace id.
func LoggingMiddleware(logger *slog.Logger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			start := time.Now()
			msgs, err := h(msg)

			logger.Debug("MESSAGE_HANDLED",
				"msg_id", msg.UUID,
				"trace_id", trace.SpanContextFromContext(msg.Context()).TraceID().String(),
				"partition_key", msg.Metadata.Get(pubsub.MetadataPartitionKey),
				"duration_ms", time.Since(start).Milliseconds(),
				"success", err == nil,
			)
			return msgs, err
		}
	}
}

// [REDELIVERY_HOLD]
// Holds a parked envelope until its redelivery time. Envelopes are parked in
// order with the same delay, so the head of the retry queue is always the first
// one due and the hold never stacks. Shutdown cancels the hold and leaves the
// envelope on the retry queue.
func RedeliveryHoldMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if at, err := time.Parse(time.RFC3339Nano, msg.Metadata.Get(pubsub.MetadataRedeliverAt)); err == nil {
			timer := time.NewTimer(time.Until(at))
			defer timer.Stop()

			select {
			case <-msg.Context().Done():
				return nil, msg.Context().Err()
			case <-timer.C:
			}
		}
		return h(msg)
	}
}
