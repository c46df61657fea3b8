package model

import (
	"encoding/json"
	"fmt"
)

// Envelope is the wire unit exchanged with the durable queue.
// PartitionKey always equals the target ConnectionKey rendering, which keeps
// per-key ordering on the broker side.
type Envelope struct {
	Data         string `json:"data"`
	PartitionKey string `json:"partition_key"`
}

// NewEnvelope wraps a routable message for the queue.
func NewEnvelope(msg *RoutedMessage) (*Envelope, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("envelope: marshal routed message: %w", err)
	}
	key, _ := msg.Target()
	return &Envelope{Data: string(data), PartitionKey: key}, nil
}

// Message decodes the wrapped RoutedMessage. A message without its own target key
// inherits the envelope partition key.
func (e *Envelope) Message() (*RoutedMessage, error) {
	msg := new(RoutedMessage)
	if err := json.Unmarshal([]byte(e.Data), msg); err != nil {
		return nil, fmt.Errorf("envelope: decode routed message: %w", err)
	}
	if _, ok := msg.Target(); !ok && e.PartitionKey != "" {
		key := e.PartitionKey
		msg.TargetKey = &key
	}
	return msg, nil
}
