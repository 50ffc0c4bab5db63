// Package redisstore persists tasks in Redis, one JSON-encoded value per
// task plus a set indexing all task IDs. Suited to deployments that
// already run Redis and want queue state to outlive the process without
// managing local files.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/batchq/internal/task"
	"github.com/redis/go-redis/v9"
)

const (
	taskKeyPrefix = "batchq:task:"
	indexKey      = "batchq:tasks"
)

// Store is a Redis-backed task.Store.
type Store struct {
	client *redis.Client
}

var _ task.Store = (*Store)(nil)

// Open connects to the Redis server at addr and verifies connectivity.
func Open(ctx context.Context, addr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &Store{client: client}, nil
}

// SaveTask persists a newly submitted task.
func (s *Store) SaveTask(ctx context.Context, t *task.Task) error {
	return s.put(ctx, t)
}

// UpdateTask persists the current state of an existing task.
func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	return s.put(ctx, t)
}

func (s *Store) put(ctx context.Context, t *task.Task) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to encode task %s: %w", t.ID, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, taskKeyPrefix+t.ID.String(), data, 0)
	pipe.SAdd(ctx, indexKey, t.ID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write task %s: %w", t.ID, err)
	}
	return nil
}

// GetTask loads a single task.
func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	data, err := s.client.Get(ctx, taskKeyPrefix+id.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", id, err)
	}
	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("%w: task %s: %v", task.ErrCorruptState, id, err)
	}
	return &t, nil
}

// ListTasks loads every stored task.
func (s *Store) ListTasks(ctx context.Context) ([]*task.Task, error) {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list task index: %w", err)
	}
	var tasks []*task.Task
	for _, id := range ids {
		data, err := s.client.Get(ctx, taskKeyPrefix+id).Bytes()
		if errors.Is(err, redis.Nil) {
			// Index entry without a record; skip and let the next write
			// reconcile.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load task %s: %w", id, err)
		}
		var t task.Task
		if err := json.Unmarshal(data, &t); err != nil {
			return nil, fmt.Errorf("%w: task %s: %v", task.ErrCorruptState, id, err)
		}
		tasks = append(tasks, &t)
	}
	return tasks, nil
}

// DeleteTask removes a task record. Deleting an absent task is a no-op.
func (s *Store) DeleteTask(ctx context.Context, id uuid.UUID) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, taskKeyPrefix+id.String())
	pipe.SRem(ctx, indexKey, id.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return nil
}

// Close closes the client connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
