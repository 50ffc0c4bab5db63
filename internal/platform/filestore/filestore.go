// Package filestore persists engine state as a single versioned JSON
// document. Writes are synchronous by default for correctness, with an
// optional batched flush interval as a performance knob, and always
// atomic (temp file + rename). A file that cannot be parsed at open is
// reported as corrupt state so the process refuses to start instead of
// silently dropping submitted work.
package filestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/batchq/internal/task"
)

// schemaVersion identifies the state file layout. Files claiming a newer
// version than this are refused.
const schemaVersion = 1

// document is the on-disk layout of the state file.
type document struct {
	SchemaVersion int          `json:"schema_version"`
	Tasks         []*task.Task `json:"tasks"`
}

// Options tunes store behavior.
type Options struct {
	// FlushInterval batches durable writes: mutations mark the snapshot
	// dirty and a background flusher writes it out this often. Zero
	// means every mutation writes synchronously.
	FlushInterval time.Duration
}

// Store is a file-backed task.Store.
type Store struct {
	path   string
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[uuid.UUID]*task.Task
	dirty bool

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
}

var _ task.Store = (*Store)(nil)

// Open loads (or creates) the state file at path. Returns
// task.ErrCorruptState when an existing file cannot be read or parsed.
func Open(path string, opts Options, logger *slog.Logger) (*Store, error) {
	s := &Store{
		path:       path,
		logger:     logger.With("component", "filestore"),
		tasks:      make(map[uuid.UUID]*task.Task),
		flushEvery: opts.FlushInterval,
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// Fresh state; first mutation creates the file.
	case err != nil:
		return nil, fmt.Errorf("%w: reading %s: %v", task.ErrCorruptState, path, err)
	default:
		var doc document
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("%w: parsing %s: %v", task.ErrCorruptState, path, err)
		}
		if doc.SchemaVersion > schemaVersion {
			return nil, fmt.Errorf("%w: %s has schema version %d, this build supports up to %d",
				task.ErrCorruptState, path, doc.SchemaVersion, schemaVersion)
		}
		for _, t := range doc.Tasks {
			if t.ID == uuid.Nil {
				return nil, fmt.Errorf("%w: %s contains a task without an id", task.ErrCorruptState, path)
			}
			s.tasks[t.ID] = t
		}
	}

	if s.flushEvery > 0 {
		s.stopCh = make(chan struct{})
		s.doneCh = make(chan struct{})
		go s.flusher()
	}
	return s, nil
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
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t.Clone()
	s.dirty = true
	if s.flushEvery > 0 {
		return nil
	}
	return s.flushLocked()
}

// GetTask loads a single task.
func (s *Store) GetTask(_ context.Context, id uuid.UUID) (*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
	}
	return t.Clone(), nil
}

// ListTasks loads every stored task.
func (s *Store) ListTasks(_ context.Context) ([]*task.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
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
	if _, ok := s.tasks[id]; !ok {
		return nil
	}
	delete(s.tasks, id)
	s.dirty = true
	if s.flushEvery > 0 {
		return nil
	}
	return s.flushLocked()
}

// Close stops the background flusher, if any, and writes a final
// snapshot.
func (s *Store) Close() error {
	if s.stopCh != nil {
		close(s.stopCh)
		<-s.doneCh
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	return s.flushLocked()
}

// flusher periodically writes the snapshot when batching is enabled.
func (s *Store) flusher() {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.dirty {
				if err := s.flushLocked(); err != nil {
					s.logger.Warn("batched flush failed", "error", err)
				}
			}
			s.mu.Unlock()
		}
	}
}

// flushLocked writes the full document atomically. Callers must hold
// s.mu.
func (s *Store) flushLocked() error {
	doc := document{
		SchemaVersion: schemaVersion,
		Tasks:         make([]*task.Task, 0, len(s.tasks)),
	}
	for _, t := range s.tasks {
		doc.Tasks = append(doc.Tasks, t)
	}
	sort.Slice(doc.Tasks, func(i, j int) bool {
		if !doc.Tasks[i].CreatedAt.Equal(doc.Tasks[j].CreatedAt) {
			return doc.Tasks[i].CreatedAt.Before(doc.Tasks[j].CreatedAt)
		}
		return doc.Tasks[i].ID.String() < doc.Tasks[j].ID.String()
	})

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".state-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move state file into place: %w", err)
	}
	s.dirty = false
	return nil
}
