package service

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/webitel/im-notify-gateway/internal/domain/model"
	"github.com/webitel/im-notify-gateway/internal/domain/registry"
)

// DelivererMiddleware implements [DECORATOR_PATTERN] to add observability
// to delivery without touching business logic.
type DelivererMiddleware struct {
	Next   Deliverer
	Logger *slog.Logger
	tracer trace.Tracer
}

// NewDelivererMiddleware creates a new logging and tracing decorator for the Deliverer.
func NewDelivererMiddleware(next Deliverer, logger *slog.Logger) Deliverer {
	return &DelivererMiddleware{
		Next:   next,
		Logger: logger,
		tracer: otel.Tracer("github.com/webitel/im-notify-gateway/internal/service"),
	}
}

func (m *DelivererMiddleware) Subscribe(ctx context.Context, key model.ConnectionKey, md registry.ConnectMetadata) (registry.Connector, error) {
	conn, err := m.Next.Subscribe(ctx, key, md)
	if err != nil {
		m.Logger.Warn("SUBSCRIBE_FAILED", "key", key.String(), "err", err)
		return nil, err
	}

	m.Logger.Info("SESSION_REGISTERED",
		"key", key.String(),
		"conn_id", conn.GetID(),
		"transport", md.Transport,
		"remote_ip", md.RemoteIP,
	)
	return conn, nil
}

func (m *DelivererMiddleware) Unsubscribe(key model.ConnectionKey, conn registry.Connector) {
	m.Next.Unsubscribe(key, conn)

	m.Logger.Info("SESSION_DEREGISTERED",
		"key", key.String(),
		"conn_id", conn.GetID(),
		"lifetime_ms", time.Since(conn.Metadata().ConnectedAt).Milliseconds(),
		"dropped", conn.Dropped(),
	)
}

// Send wraps delivery with a span and outcome logging.
func (m *DelivererMiddleware) Send(ctx context.Context, msg *model.RoutedMessage, mode Mode) (SendResult, error) {
	start := time.Now()
	key, _ := msg.Target()

	ctx, span := m.tracer.Start(ctx, "deliverer.send", trace.WithAttributes(
		attribute.String("gateway.mode", string(mode)),
		attribute.String("gateway.target_key", key),
		attribute.String("gateway.action_type", msg.ActionType.String()),
	))
	defer span.End()

	res, err := m.Next.Send(ctx, msg, mode)

	// [OBSERVABILITY] Scoped logging for delivery auditing
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		m.Logger.Warn("SEND_FAILED",
			"err", err,
			"key", key,
			"mode", mode,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return res, err
	}

	span.SetAttributes(attribute.String("gateway.result", res.Result))
	m.Logger.Debug("SEND_COMPLETED",
		"key", key,
		"msg_id", res.MessageID,
		"mode", res.Mode,
		"result", res.Result,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res, nil
}

func (m *DelivererMiddleware) OnClientFrame(ctx context.Context, key model.ConnectionKey, frame []byte) {
	m.Next.OnClientFrame(ctx, key, frame)
}

func (m *DelivererMiddleware) Stats() model.HubStats {
	return m.Next.Stats()
}
