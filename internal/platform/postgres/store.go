// Package postgres persists tasks in PostgreSQL for deployments where
// several processes share one durable record of the queue. The schema is
// managed with embedded goose migrations applied at open.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver
	"github.com/phrazzld/batchq/internal/task"
)

// Store is a PostgreSQL-backed task.Store.
type Store struct {
	db *sql.DB
}

var _ task.Store = (*Store)(nil)

// Open connects to the database at dsn, verifies connectivity, and
// applies pending migrations. Schema or connectivity problems at startup
// are fatal to the caller.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: applying migrations: %v", task.ErrCorruptState, err)
	}

	return &Store{db: db}, nil
}

// SaveTask persists a newly submitted task.
func (s *Store) SaveTask(ctx context.Context, t *task.Task) error {
	query := `
		INSERT INTO tasks (
			id, type, payload, priority, status, attempt_count, max_attempts,
			scheduled_at, created_at, updated_at, started_at, completed_at,
			last_error, result
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			attempt_count = EXCLUDED.attempt_count,
			scheduled_at = EXCLUDED.scheduled_at,
			updated_at = EXCLUDED.updated_at,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			last_error = EXCLUDED.last_error,
			result = EXCLUDED.result
	`
	_, err := s.db.ExecContext(ctx, query,
		t.ID,
		t.Type,
		[]byte(t.Payload),
		t.Priority,
		t.Status,
		t.AttemptCount,
		t.MaxAttempts,
		nullTime(t.ScheduledAt),
		t.CreatedAt,
		t.UpdatedAt,
		t.StartedAt,
		t.CompletedAt,
		t.LastError,
		nullBytes(t.Result),
	)
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", t.ID, err)
	}
	return nil
}

// UpdateTask persists the current state of an existing task.
func (s *Store) UpdateTask(ctx context.Context, t *task.Task) error {
	query := `
		UPDATE tasks
		SET status = $1, attempt_count = $2, scheduled_at = $3,
			updated_at = $4, started_at = $5, completed_at = $6,
			last_error = $7, result = $8
		WHERE id = $9
	`
	res, err := s.db.ExecContext(ctx, query,
		t.Status,
		t.AttemptCount,
		nullTime(t.ScheduledAt),
		t.UpdatedAt,
		t.StartedAt,
		t.CompletedAt,
		t.LastError,
		nullBytes(t.Result),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update task %s: %w", t.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected for task %s: %w", t.ID, err)
	}
	if affected == 0 {
		// Earlier writes for this task may have been dropped as warnings;
		// treat an update to an unknown row as an insert so the store
		// converges.
		return s.SaveTask(ctx, t)
	}
	return nil
}

const selectColumns = `
	id, type, payload, priority, status, attempt_count, max_attempts,
	scheduled_at, created_at, updated_at, started_at, completed_at,
	last_error, result
`

// GetTask loads a single task.
func (s *Store) GetTask(ctx context.Context, id uuid.UUID) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load task %s: %w", id, err)
	}
	return t, nil
}

// ListTasks loads every stored task in creation order.
func (s *Store) ListTasks(ctx context.Context) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM tasks ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task row: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate task rows: %w", err)
	}
	return tasks, nil
}

// DeleteTask removes a task record. Deleting an absent task is a no-op.
func (s *Store) DeleteTask(ctx context.Context, id uuid.UUID) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete task %s: %w", id, err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*task.Task, error) {
	var (
		t           task.Task
		payload     []byte
		result      []byte
		scheduledAt sql.NullTime
		startedAt   sql.NullTime
		completedAt sql.NullTime
	)
	err := row.Scan(
		&t.ID,
		&t.Type,
		&payload,
		&t.Priority,
		&t.Status,
		&t.AttemptCount,
		&t.MaxAttempts,
		&scheduledAt,
		&t.CreatedAt,
		&t.UpdatedAt,
		&startedAt,
		&completedAt,
		&t.LastError,
		&result,
	)
	if err != nil {
		return nil, err
	}
	t.Payload = payload
	t.Result = result
	if scheduledAt.Valid {
		t.ScheduledAt = scheduledAt.Time
	}
	if startedAt.Valid {
		at := startedAt.Time
		t.StartedAt = &at
	}
	if completedAt.Valid {
		at := completedAt.Time
		t.CompletedAt = &at
	}
	return &t, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func nullBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
