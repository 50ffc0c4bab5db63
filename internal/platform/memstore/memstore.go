// Package memstore provides an in-memory task.Store for tests and
// ephemeral runs. Nothing survives a restart.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/batchq/internal/task"
)

// Store is a map-backed task.Store.
type Store struct {
	mu    sync.RWMutex
	tasks map[uuid.UUID]*task.Task
}

var _ task.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		tasks: make(map[uuid.UUID]*task.Task),
	}
}

// SaveTask persists a newly submitted task.
func (s *Store) SaveTask(_ context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t.Clone()
	return nil
}

// UpdateTask persists the current state of an existing task.
func (s *Store) UpdateTask(_ context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t.Clone()
	return nil
}

// GetTask loads a single task.
func (s *Store) GetTask(_ context.Context, id uuid.UUID) (*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
	}
	return t.Clone(), nil
}

// ListTasks loads every stored task.
func (s *Store) ListTasks(_ context.Context) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := make([]*task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t.Clone())
	}
	return tasks, nil
}

// DeleteTask removes a task record. Deleting an absent task is a no-op.
func (s *Store) DeleteTask(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}
