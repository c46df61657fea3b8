package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RoutedMessage is the unit the Hub delivers to a session.
//
// [OPAQUE_PAYLOAD]
// Data is never interpreted by the Hub or the queue bridge; it is relayed to the
// client as-is under the action type.
type RoutedMessage struct {
	ID         string          `json:"id"`
	ActionType ActionType      `json:"action_type"`
	Data       json.RawMessage `json:"data"`
	TargetKey  *string         `json:"target_key,omitempty"`
	CreatedAt  int64           `json:"created_at"`
}

// NewRoutedMessage creates a message addressed to key.
func NewRoutedMessage(action ActionType, data json.RawMessage, key ConnectionKey) *RoutedMessage {
	target := key.String()
	return &RoutedMessage{
		ID:         uuid.NewString(),
		ActionType: action,
		Data:       data,
		TargetKey:  &target,
		CreatedAt:  time.Now().UnixMilli(),
	}
}

// Target returns the rendered target key and whether the message is routable.
func (m *RoutedMessage) Target() (string, bool) {
	if m == nil || m.TargetKey == nil || *m.TargetKey == "" {
		return "", false
	}
	return *m.TargetKey, true
}

// Validate checks the boundary invariants: a known action type and a target key.
func (m *RoutedMessage) Validate() error {
	if !m.ActionType.Valid() {
		return ErrUnknownActionType
	}
	if _, ok := m.Target(); !ok {
		return ErrNoTargetKey
	}
	return nil
}
