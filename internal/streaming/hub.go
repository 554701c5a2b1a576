package streaming

import (
	"context"

	"github.com/rendis/cascade/pkg/schema"
)

// StreamEvent is a real-time notification emitted while a run executes.
type StreamEvent struct {
	RunID   string                `json:"run_id"`
	Type    string                `json:"type"`
	From    schema.ExecutionState `json:"from,omitempty"`
	To      schema.ExecutionState `json:"to,omitempty"`
	Event   schema.Event          `json:"event,omitempty"`
	Payload any                   `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive.
type EventFilter struct {
	RunID string   `json:"run_id,omitempty"`
	Types []string `json:"types,omitempty"`
}

// EventHub provides pub/sub for real-time run events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
