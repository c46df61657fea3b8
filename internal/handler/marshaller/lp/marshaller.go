package lpmarshaller

import (
	"encoding/json"

	"github.com/webitel/im-notify-gateway/internal/domain/model"
)

// LPEvent represents a single event structured for long-polling consumers.
type LPEvent struct {
	Type    string          `json:"type"`
	ID      string          `json:"id"`
	SentAt  int64           `json:"sent_at"`
	Payload json.RawMessage `json:"payload"`
}

// Response defines the top-level JSON array to support event batching.
type Response struct {
	Events []LPEvent `json:"events"`
}

// MarshallEvents converts a batch of routed messages into a single JSON document.
func MarshallEvents(msgs []*model.RoutedMessage) ([]byte, error) {
	res := Response{
		Events: make([]LPEvent, 0, len(msgs)),
	}

	for _, m := range msgs {
		payload := m.Data
		if len(payload) == 0 {
			payload = json.RawMessage("null")
		}
		res.Events = append(res.Events, LPEvent{
			Type:    m.ActionType.String(),
			ID:      m.ID,
			SentAt:  m.CreatedAt,
			Payload: payload,
		})
	}

	return json.Marshal(res)
}
