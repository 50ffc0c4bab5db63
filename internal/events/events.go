package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind identifies which lifecycle transition an event describes.
type Kind string

// Queue event kinds, one per task state transition.
const (
	KindSubmitted Kind = "submitted"
	KindStarted   Kind = "started"
	KindSucceeded Kind = "succeeded"
	KindRetrying  Kind = "retrying"
	KindFailed    Kind = "failed"
	KindCancelled Kind = "cancelled"
)

// QueueEvent describes a single task state transition.
type QueueEvent struct {
	// Kind is the transition that occurred.
	Kind Kind `json:"kind"`

	// TaskID identifies the task.
	TaskID uuid.UUID `json:"task_id"`

	// TaskType is the task's registered type.
	TaskType string `json:"task_type"`

	// Attempt is the task's attempt count at the time of the event.
	Attempt int `json:"attempt"`

	// Err carries the failure message for retrying/failed events.
	Err string `json:"error,omitempty"`

	// At is when the transition happened.
	At time.Time `json:"at"`
}

// Handler is implemented by components that observe queue events.
type Handler interface {
	// HandleEvent processes one event. Errors are the handler's own
	// problem; the emitter logs them and keeps going.
	HandleEvent(ctx context.Context, event QueueEvent) error
}

// Emitter publishes queue events to registered handlers.
type Emitter interface {
	EmitEvent(ctx context.Context, event QueueEvent)
}
