package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/webitel/im-notify-gateway/internal/adapter/pubsub"
	"github.com/webitel/im-notify-gateway/internal/domain/model"
	"github.com/webitel/im-notify-gateway/internal/domain/registry"
)

// Mode selects how Send reaches the target session.
type Mode string

const (
	// ModeImmediate routes straight to the local Hub. Offline targets are missed.
	ModeImmediate Mode = "immediate"
	// ModeQueued hands the message to the durable queue.
	ModeQueued Mode = "queued"
)

// ParseMode maps the request field onto a Mode. Anything but "immediate" is queued.
func ParseMode(s string) Mode {
	if strings.EqualFold(strings.TrimSpace(s), string(ModeImmediate)) {
		return ModeImmediate
	}
	return ModeQueued
}

// SendResult reports what Send did with a message.
type SendResult struct {
	MessageID string `json:"message_id"`
	Mode      Mode   `json:"mode"`
	// Result is "delivered" or "not_found" for immediate sends, "queued" otherwise.
	Result string `json:"result"`
}

const ResultQueued = "queued"

// [DELIVERY_SERVICE] PRIMARY INTERFACE FOR TRANSPORT HANDLERS (WebSocket/LP/HTTP)
type Deliverer interface {
	Subscribe(ctx context.Context, key model.ConnectionKey, md registry.ConnectMetadata) (registry.Connector, error)
	Unsubscribe(key model.ConnectionKey, conn registry.Connector)
	Send(ctx context.Context, msg *model.RoutedMessage, mode Mode) (SendResult, error)
	OnClientFrame(ctx context.Context, key model.ConnectionKey, frame []byte)
	Stats() model.HubStats
}

var _ Deliverer = (*DeliveryService)(nil)

type DeliveryService struct {
	hub         registry.Hubber
	dispatcher  pubsub.Dispatcher
	logger      *slog.Logger
	mailboxSize int
}

// NewDeliveryService returns a production-ready instance of the service.
func NewDeliveryService(hub registry.Hubber, dispatcher pubsub.Dispatcher, logger *slog.Logger, mailboxSize int) *DeliveryService {
	if mailboxSize <= 0 {
		mailboxSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeliveryService{
		hub:         hub,
		dispatcher:  dispatcher,
		logger:      logger,
		mailboxSize: mailboxSize,
	}
}

// [SUBSCRIBE] HANDLES CONNECTION LIFECYCLE INITIATION
func (s *DeliveryService) Subscribe(ctx context.Context, key model.ConnectionKey, md registry.ConnectMetadata) (registry.Connector, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", key, err)
	}

	// The handle lives as long as ctx; the transport decides when that ends.
	conn := registry.NewConnector(ctx, key, s.mailboxSize, md)
	s.hub.Register(key.String(), conn)

	return conn, nil
}

// [UNSUBSCRIBE] REVOKES THE HANDLE AND RELEASES THE KEY IF IT IS STILL OURS
func (s *DeliveryService) Unsubscribe(key model.ConnectionKey, conn registry.Connector) {
	conn.Close()
	s.hub.Deregister(key.String(), conn)
}

func (s *DeliveryService) Send(ctx context.Context, msg *model.RoutedMessage, mode Mode) (SendResult, error) {
	if err := msg.Validate(); err != nil {
		return SendResult{}, err
	}
	res := SendResult{MessageID: msg.ID, Mode: mode}

	if mode == ModeImmediate {
		res.Result = s.hub.Route(msg).String()
		return res, nil
	}

	env, err := model.NewEnvelope(msg)
	if err != nil {
		return SendResult{}, err
	}
	if err := s.dispatcher.Publish(ctx, env); err != nil {
		return SendResult{}, fmt.Errorf("queue message %s: %w", msg.ID, err)
	}

	res.Mode, res.Result = ModeQueued, ResultQueued
	return res, nil
}

// OnClientFrame receives raw client frames. The gateway is push-only, so frames are
// acknowledged in the log and otherwise dropped.
func (s *DeliveryService) OnClientFrame(_ context.Context, key model.ConnectionKey, frame []byte) {
	s.logger.Debug("CLIENT_FRAME_RECEIVED",
		"key", key.String(),
		"size", len(frame),
	)
}

func (s *DeliveryService) Stats() model.HubStats {
	return s.hub.Stats()
}
