// Package boltstore persists tasks in a bbolt database, one JSON-encoded
// record per task keyed by ID. It is the embedded key-value backend for
// single-node production runs where the flat state file gets too large to
// rewrite on every transition.
package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/batchq/internal/task"
	bolt "go.etcd.io/bbolt"
)

var taskBucket = []byte("tasks")

// Store is a bbolt-backed task.Store.
type Store struct {
	db *bolt.DB
}

var _ task.Store = (*Store)(nil)

// Open opens (or creates) the database at path. An unreadable database is
// reported as corrupt state so the process refuses to start.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", task.ErrCorruptState, path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(taskBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: initializing %s: %v", task.ErrCorruptState, path, err)
	}

	return &Store{db: db}, nil
}

// SaveTask persists a newly submitted task.
func (s *Store) SaveTask(_ context.Context, t *task.Task) error {
	return s.put(t)
}

// UpdateTask persists the current state of an existing task.
func (s *Store) UpdateTask(_ context.Context, t *task.Task) error {
	return s.put(t)
}

func (s *Store) put(t *task.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode task %s: %w", t.ID, err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(taskBucket).Put(t.ID[:], data)
	})
}

// GetTask loads a single task.
func (s *Store) GetTask(_ context.Context, id uuid.UUID) (*task.Task, error) {
	var t *task.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(taskBucket).Get(id[:])
		if data == nil {
			return fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
		}
		t = &task.Task{}
		return json.Unmarshal(data, t)
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTasks loads every stored task.
func (s *Store) ListTasks(_ context.Context) ([]*task.Task, error) {
	var tasks []*task.Task
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(taskBucket).ForEach(func(k, v []byte) error {
			var t task.Task
			if err := json.Unmarshal(v, &t); err != nil {
				return fmt.Errorf("%w: record %x: %v", task.ErrCorruptState, k, err)
			}
			tasks = append(tasks, &t)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return tasks, nil
}

// DeleteTask removes a task record. Deleting an absent task is a no-op.
func (s *Store) DeleteTask(_ context.Context, id uuid.UUID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(taskBucket).Delete(id[:])
	})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
