package task

import (
	"context"

	"github.com/google/uuid"
)

// Store is the persistence contract for queue and task state. Every
// state-changing engine operation results in a store write; the in-memory
// state stays authoritative, so a failed write is logged and reconciled
// by the next successful one rather than failing the operation.
//
// Implementations live under internal/platform: a JSON file store, a
// bbolt store, a Postgres store, a Redis store, and an in-memory store
// for tests.
type Store interface {
	// SaveTask persists a newly submitted task.
	SaveTask(ctx context.Context, t *Task) error

	// UpdateTask persists the current state of an existing task.
	UpdateTask(ctx context.Context, t *Task) error

	// GetTask loads a single task. Returns ErrTaskNotFound if absent.
	GetTask(ctx context.Context, id uuid.UUID) (*Task, error)

	// ListTasks loads every stored task, terminal and non-terminal.
	// Used for crash recovery and export reconciliation at startup.
	ListTasks(ctx context.Context) ([]*Task, error)

	// DeleteTask removes a task record, used when purging terminal
	// history. Deleting an absent task is not an error.
	DeleteTask(ctx context.Context, id uuid.UUID) error

	Close() error
}
