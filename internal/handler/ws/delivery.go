package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/webitel/im-notify-gateway/config"
	"github.com/webitel/im-notify-gateway/internal/domain/model"
	"github.com/webitel/im-notify-gateway/internal/domain/registry"
	"github.com/webitel/im-notify-gateway/internal/handler/response"
	"github.com/webitel/im-notify-gateway/internal/service"
)

const TransportWebSocket = "websocket"

type WSHandler struct {
	logger    *slog.Logger
	deliverer service.Deliverer
	cfg       config.SessionConfig
	upgrader  websocket.Upgrader
}

func NewWSHandler(logger *slog.Logger, deliverer service.Deliverer, cfg config.SessionConfig) *WSHandler {
	return &WSHandler{
		logger:    logger,
		deliverer: deliverer,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(r *http.Request) bool { return true }, // Security: adjust for production
		},
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. RESOLVE THE CONNECTION KEY BEFORE ANY PROTOCOL SWITCH
	q := r.URL.Query()
	key, err := model.ParseConnectionKey(q.Get("user_id"), q.Get("business_id"), q.Get("device_id"))
	if err != nil {
		response.Error(w, err)
		return
	}

	// 2. UPGRADE TO WEBSOCKET (Connecting)
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already replied to the client.
		h.logger.Warn("WS_UPGRADE_FAILED", "err", err, "key", key.String())
		return
	}

	md := registry.ConnectMetadata{
		Transport:   TransportWebSocket,
		RemoteIP:    r.RemoteAddr,
		UserAgent:   r.UserAgent(),
		ConnectedAt: time.Now(),
	}

	// 3. RUN THE SESSION UNTIL CLOSED
	session := NewSession(ws, key, h.deliverer, h.logger, h.cfg)
	if err := session.Run(r.Context(), md); err != nil {
		h.logger.Error("WS_SESSION_FAILED", "err", err, "key", key.String())
	}
}
