package streaming

import (
	"context"

	"github.com/sigmoyd/flowcraft/pkg/schema"
)

// StreamEvent is a real-time event: either an execution trace pushed by the
// backend or a session transition.
type StreamEvent struct {
	Kind       string             `json:"kind"`
	WorkflowID string             `json:"workflow_id,omitempty"`
	NodeID     string             `json:"node_id,omitempty"`
	SessionID  string             `json:"session_id,omitempty"`
	Status     string             `json:"status,omitempty"`
	Log        *schema.LogMessage `json:"log,omitempty"`
	Event      *schema.Event      `json:"event,omitempty"`
}

// FromLog wraps an execution trace.
func FromLog(msg schema.LogMessage) StreamEvent {
	return StreamEvent{
		Kind:       schema.EventNodeLog,
		WorkflowID: msg.WorkflowID.String(),
		NodeID:     msg.Node.String(),
		Status:     msg.Status,
		Log:        &msg,
	}
}

// FromEvent wraps a session transition.
func FromEvent(e *schema.Event) StreamEvent {
	return StreamEvent{
		Kind:       e.Type,
		WorkflowID: e.WorkflowID,
		NodeID:     e.NodeID,
		SessionID:  e.SessionID,
		Event:      e,
	}
}

// EventFilter specifies which events a subscriber wants to receive.
// Empty fields match everything.
type EventFilter struct {
	WorkflowID string   `json:"workflow_id,omitempty"`
	NodeID     string   `json:"node_id,omitempty"`
	Kinds      []string `json:"kinds,omitempty"`
	Statuses   []string `json:"statuses,omitempty"`
}

// EventHub provides pub/sub for real-time workflow events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
