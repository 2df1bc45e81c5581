package streaming

import (
	"context"

	"github.com/castofly/remedy/pkg/schema"
)

// StreamEvent is a real-time event emitted during session execution.
type StreamEvent struct {
	SessionID string       `json:"session_id"`
	Phase     schema.Phase `json:"phase,omitempty"`
	EventType string       `json:"event_type"`
	Payload   any          `json:"payload,omitempty"`
}

// EventFilter specifies which events a subscriber wants to receive. Empty
// fields match everything; set fields are ANDed together.
type EventFilter struct {
	SessionID  string       `json:"session_id,omitempty"`
	Phase      schema.Phase `json:"phase,omitempty"`
	EventTypes []string     `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for real-time session events. Publishing is
// advisory: slow or absent subscribers must never stall the pipeline.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
