package task

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Status represents the current lifecycle state of a task.
type Status string

// Possible task status values.
const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusRetrying  Status = "retrying"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the status is one from which no further
// transition occurs.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Task represents a unit of background work submitted to the engine.
// A task belongs to exactly one of the queue, the in-flight set, or the
// terminal history at any instant; all mutation happens under the runner's
// lock.
type Task struct {
	// ID is the task's unique identifier, assigned at submission.
	ID uuid.UUID `json:"id"`

	// Type keys into the handler registry.
	Type string `json:"type"`

	// Payload is the opaque task data. The engine never inspects it beyond
	// a basic well-formedness check; decoding belongs to the handler.
	Payload json.RawMessage `json:"payload"`

	// Priority orders dispatch; higher values dispatch first. Ties are
	// broken by submission order.
	Priority int `json:"priority"`

	Status Status `json:"status"`

	// AttemptCount increments once per failed execution.
	AttemptCount int `json:"attempt_count"`

	// MaxAttempts is the retry ceiling; the task becomes Failed when
	// AttemptCount reaches it.
	MaxAttempts int `json:"max_attempts"`

	// ScheduledAt is the earliest time the task may be dispatched. Zero
	// means immediately ready; retries push it into the future.
	ScheduledAt time.Time `json:"scheduled_at"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// LastError records the most recent handler failure message.
	LastError string `json:"last_error,omitempty"`

	// Result holds the handler's output once the task succeeds.
	Result json.RawMessage `json:"result,omitempty"`

	// seq is the submission sequence number used for FIFO tie-breaking.
	// Process-local, not persisted; recovery reassigns it in stored
	// creation order.
	seq uint64
}

// Clone returns a copy of the task for handing to observers and queries
// without exposing engine-owned state.
func (t *Task) Clone() *Task {
	c := *t
	if t.Payload != nil {
		c.Payload = append(json.RawMessage(nil), t.Payload...)
	}
	if t.Result != nil {
		c.Result = append(json.RawMessage(nil), t.Result...)
	}
	if t.StartedAt != nil {
		at := *t.StartedAt
		c.StartedAt = &at
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		c.CompletedAt = &at
	}
	return &c
}

// Ready reports whether the task may be dispatched at the given instant.
func (t *Task) Ready(now time.Time) bool {
	return !t.ScheduledAt.After(now)
}
