package wsmarshaller

import (
	"encoding/json"

	"github.com/webitel/im-notify-gateway/internal/domain/model"
)

// WSEvent is the text frame pushed to WebSocket clients.
type WSEvent struct {
	Event   string          `json:"event"` // action type, e.g. "on_confirm"
	ID      string          `json:"id"`
	SentAt  int64           `json:"sent_at"`
	Payload json.RawMessage `json:"payload"`
}

// MarshallDeliveryEvent prepares a routed message for WebSocket transmission.
// The payload is relayed byte for byte.
func MarshallDeliveryEvent(msg *model.RoutedMessage) ([]byte, error) {
	return json.Marshal(NewWSEvent(msg))
}

func NewWSEvent(msg *model.RoutedMessage) *WSEvent {
	payload := msg.Data
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	return &WSEvent{
		Event:   msg.ActionType.String(),
		ID:      msg.ID,
		SentAt:  msg.CreatedAt,
		Payload: payload,
	}
}
