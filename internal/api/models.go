package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/batchq/internal/task"
)

// SubmitTaskRequest defines the payload for the task submission endpoint.
type SubmitTaskRequest struct {
	Type     string          `json:"type"     validate:"required"`
	Payload  json.RawMessage `json:"payload"`
	Priority int             `json:"priority"`
}

// SubmitTaskResponse carries the assigned ID back to the caller.
type SubmitTaskResponse struct {
	TaskID uuid.UUID `json:"task_id"`
}

// SubmitBulkRequest defines the payload for the bulk submission endpoint.
type SubmitBulkRequest struct {
	Tasks []SubmitTaskRequest `json:"tasks" validate:"required,min=1,dive"`
}

// SubmitBulkResponse carries the IDs assigned to a bulk submission, in
// request order.
type SubmitBulkResponse struct {
	TaskIDs []uuid.UUID `json:"task_ids"`
}

// TaskResponse is the external representation of a task record.
type TaskResponse struct {
	ID           uuid.UUID       `json:"id"`
	Type         string          `json:"type"`
	Status       task.Status     `json:"status"`
	Priority     int             `json:"priority"`
	AttemptCount int             `json:"attempt_count"`
	MaxAttempts  int             `json:"max_attempts"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	StartedAt    *time.Time      `json:"started_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	LastError    string          `json:"last_error,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
}

// ExportRequest defines the payload for the export endpoint.
type ExportRequest struct {
	Path string `json:"path" validate:"required"`
}

// PurgeResponse reports how many terminal records a purge removed.
type PurgeResponse struct {
	Purged int `json:"purged"`
}

func taskToResponse(t *task.Task) TaskResponse {
	return TaskResponse{
		ID:           t.ID,
		Type:         t.Type,
		Status:       t.Status,
		Priority:     t.Priority,
		AttemptCount: t.AttemptCount,
		MaxAttempts:  t.MaxAttempts,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
		StartedAt:    t.StartedAt,
		CompletedAt:  t.CompletedAt,
		LastError:    t.LastError,
		Result:       t.Result,
	}
}
