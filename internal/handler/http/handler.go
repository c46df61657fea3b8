package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/webitel/im-notify-gateway/infra/server/http/interceptors"
	"github.com/webitel/im-notify-gateway/internal/domain/model"
	"github.com/webitel/im-notify-gateway/internal/handler/response"
	"github.com/webitel/im-notify-gateway/internal/service"
)

const (
	HealthBody     = "Running Server"
	maxRequestBody = 1 << 20
	sentMessage    = "Successfully send Web Socket Notification"
)

// SendRequest is the body of POST /send. Absent identity parts render as "NA".
type SendRequest struct {
	UserID     *string          `json:"user_id"`
	BusinessID *string          `json:"business_id"`
	DeviceID   *string          `json:"device_id"`
	ActionType model.ActionType `json:"action_type"`
	Data       json.RawMessage  `json:"data"`
	Mode       string           `json:"mode"`
}

// Key validates the identity parts present in the request and builds the target key.
func (r *SendRequest) Key() (model.ConnectionKey, error) {
	uid, err := canonical(r.UserID)
	if err != nil {
		return model.ConnectionKey{}, fmt.Errorf("user_id: %w", err)
	}
	bid, err := canonical(r.BusinessID)
	if err != nil {
		return model.ConnectionKey{}, fmt.Errorf("business_id: %w", err)
	}
	return model.NewConnectionKey(uid, bid, r.DeviceID), nil
}

func canonical(id *string) (*string, error) {
	if id == nil || *id == "" {
		return nil, nil
	}
	s, err := model.ParseIdentityToken(*id)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

type StatsResponse struct {
	ActiveSessions int     `json:"active_sessions"`
	Routed         uint64  `json:"routed"`
	NotFound       uint64  `json:"not_found"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

type Handler struct {
	deliverer service.Deliverer
	logger    *slog.Logger
}

func NewHandler(deliverer service.Deliverer, logger *slog.Logger) *Handler {
	return &Handler{deliverer: deliverer, logger: logger}
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, HealthBody)
}

// Send accepts a notification for one connection key, either routing it right away
// or handing it to the durable queue.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	req, err := decodeSendRequest(w, r)
	if err != nil {
		response.Error(w, err)
		return
	}

	key, err := req.Key()
	if err != nil {
		response.Error(w, err)
		return
	}

	msg := model.NewRoutedMessage(req.ActionType, req.Data, key)
	res, err := h.deliverer.Send(r.Context(), msg, service.ParseMode(req.Mode))
	if err != nil {
		response.Error(w, err)
		return
	}

	claims, _ := interceptors.GetAuthClaims(r.Context())
	h.logger.Info("NOTIFICATION_ACCEPTED",
		"publisher", claims.Subject,
		"key", key.String(),
		"message_id", res.MessageID,
		"mode", res.Mode,
		"result", res.Result)

	response.Write(w, http.StatusOK, response.Success(sentMessage, res))
}

func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	st := h.deliverer.Stats()
	response.Write(w, http.StatusOK, response.Success("hub stats", StatsResponse{
		ActiveSessions: st.ActiveSessions,
		Routed:         st.Routed,
		NotFound:       st.NotFound,
		UptimeSeconds:  st.Uptime.Seconds(),
	}))
}

func decodeSendRequest(w http.ResponseWriter, r *http.Request) (*SendRequest, error) {
	req := new(SendRequest)
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(req); err != nil {
		if errors.Is(err, model.ErrValidation) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: malformed request body: %v", model.ErrValidation, err)
	}

	if !req.ActionType.Valid() {
		return nil, model.ErrUnknownActionType
	}
	if len(req.Data) == 0 {
		return nil, fmt.Errorf("%w: data is required", model.ErrValidation)
	}
	return req, nil
}
