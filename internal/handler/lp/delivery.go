package lp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/webitel/im-notify-gateway/internal/domain/model"
	"github.com/webitel/im-notify-gateway/internal/domain/registry"
	lpmarshaller "github.com/webitel/im-notify-gateway/internal/handler/marshaller/lp"
	"github.com/webitel/im-notify-gateway/internal/handler/response"
	"github.com/webitel/im-notify-gateway/internal/service"
)

const TransportLongPoll = "long_poll"

type LPHandler struct {
	deliverer service.Deliverer
	logger    *slog.Logger
	timeout   time.Duration
}

func NewLPHandler(deliverer service.Deliverer, logger *slog.Logger, timeout time.Duration) *LPHandler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &LPHandler{
		deliverer: deliverer,
		logger:    logger,
		timeout:   timeout,
	}
}

// Poll handles the long-polling request.
// It holds the connection until a message arrives or timeout occurs. While the
// request is open it owns the connection key like any other session.
func (h *LPHandler) Poll(w http.ResponseWriter, r *http.Request) {
	// 1. Extract Identity.
	q := r.URL.Query()
	key, err := model.ParseConnectionKey(q.Get("user_id"), q.Get("business_id"), q.Get("device_id"))
	if err != nil {
		response.Error(w, err)
		return
	}

	// 2. Temporary Subscription.
	// The connector lives only for the duration of this HTTP request.
	conn, err := h.deliverer.Subscribe(r.Context(), key, registry.ConnectMetadata{
		Transport: TransportLongPoll,
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		response.Error(w, err)
		return
	}

	var batch []*model.RoutedMessage

	timer := time.NewTimer(h.timeout)
	defer timer.Stop()

	// 3. Wait for data or timeout.
	select {
	case <-r.Context().Done():
	case <-conn.Done():
		// Revoked by hub shutdown.
	case <-timer.C:
		// Standard Long-Polling timeout to prevent hanging connections.
	case msg := <-conn.Recv():
		batch = append(batch, msg)
	}

	// [RELEASE_THEN_DRAIN]
	// Once the key is released no route can land in the mailbox any more, so
	// everything the Hub reported as delivered is in the batch.
	h.deliverer.Unsubscribe(key, conn)
	batch = append(batch, drain(conn)...)

	if r.Context().Err() != nil {
		if len(batch) > 0 {
			h.logger.Warn("LP_CLIENT_GONE: messages_dropped",
				"key", key.String(),
				"dropped", len(batch))
		}
		return
	}
	if len(batch) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// 4. Final transmission.
	data, err := lpmarshaller.MarshallEvents(batch)
	if err != nil {
		h.logger.Error("LP_MARSHAL_FAILED", "err", err, "key", key.String())
		response.Error(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func drain(conn registry.Connector) []*model.RoutedMessage {
	var batch []*model.RoutedMessage
	for {
		select {
		case msg := <-conn.Recv():
			batch = append(batch, msg)
		default:
			return batch
		}
	}
}
