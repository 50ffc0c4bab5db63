package task

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// mockStore is an in-memory Store with optional error injection, used to
// exercise the runner without a platform backend.
type mockStore struct {
	mu      sync.Mutex
	tasks   map[uuid.UUID]*Task
	saveErr error
	listErr error
	saves   int
	updates int
}

func newMockStore() *mockStore {
	return &mockStore{
		tasks: make(map[uuid.UUID]*Task),
	}
}

func (s *mockStore) SaveTask(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.tasks[t.ID] = t.Clone()
	return nil
}

func (s *mockStore) UpdateTask(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	if s.saveErr != nil {
		return s.saveErr
	}
	s.tasks[t.ID] = t.Clone()
	return nil
}

func (s *mockStore) GetTask(_ context.Context, id uuid.UUID) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return t.Clone(), nil
}

func (s *mockStore) ListTasks(_ context.Context) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	tasks := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t.Clone())
	}
	return tasks, nil
}

func (s *mockStore) DeleteTask(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *mockStore) Close() error { return nil }

// status reads a stored task's status, for assertions.
func (s *mockStore) status(id uuid.UUID) (Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return "", false
	}
	return t.Status, true
}
