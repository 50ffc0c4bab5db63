package filestore

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/batchq/internal/task"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleTask(status task.Status) *task.Task {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &task.Task{
		ID:          uuid.New(),
		Type:        "generate_report",
		Payload:     json.RawMessage(`{"month":"2025-05"}`),
		Priority:    2,
		Status:      status,
		MaxAttempts: 3,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestStoreRoundTripAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()

	s, err := Open(path, Options{}, testLogger())
	require.NoError(t, err)

	want := sampleTask(task.StatusPending)
	require.NoError(t, s.SaveTask(ctx, want))

	want.Status = task.StatusSucceeded
	want.AttemptCount = 1
	want.Result = json.RawMessage(`{"rows":42}`)
	require.NoError(t, s.UpdateTask(ctx, want))
	require.NoError(t, s.Close())

	reopened, err := Open(path, Options{}, testLogger())
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetTask(ctx, want.ID)
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, task.StatusSucceeded, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.JSONEq(t, `{"rows":42}`, string(got.Result))
}

func TestStoreGetTaskNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path, Options{}, testLogger())
	require.NoError(t, err)
	defer s.Close()

	_, err = s.GetTask(context.Background(), uuid.New())
	assert.ErrorIs(t, err, task.ErrTaskNotFound)
}

func TestStoreListTasks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()
	s, err := Open(path, Options{}, testLogger())
	require.NoError(t, err)
	defer s.Close()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveTask(ctx, sampleTask(task.StatusPending)))
	}

	tasks, err := s.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 3)
}

func TestStoreDeleteTask(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	ctx := context.Background()
	s, err := Open(path, Options{}, testLogger())
	require.NoError(t, err)
	defer s.Close()

	rec := sampleTask(task.StatusSucceeded)
	require.NoError(t, s.SaveTask(ctx, rec))
	require.NoError(t, s.DeleteTask(ctx, rec.ID))

	_, err = s.GetTask(ctx, rec.ID)
	assert.ErrorIs(t, err, task.ErrTaskNotFound)

	// Deleting an absent task is a no-op.
	assert.NoError(t, s.DeleteTask(ctx, uuid.New()))
}

func TestOpenRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_version": 1, "tasks": [{`), 0o600))

	_, err := Open(path, Options{}, testLogger())
	assert.ErrorIs(t, err, task.ErrCorruptState)
}

func TestOpenRejectsNewerSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_version": 99, "tasks": []}`), 0o600))

	_, err := Open(path, Options{}, testLogger())
	assert.ErrorIs(t, err, task.ErrCorruptState)
}

func TestOpenRejectsTaskWithoutID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"schema_version": 1, "tasks": [{"type": "orphan", "status": "pending"}]}`), 0o600))

	_, err := Open(path, Options{}, testLogger())
	assert.ErrorIs(t, err, task.ErrCorruptState)
}

func TestStoreSynchronousWritesHitDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path, Options{}, testLogger())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.SaveTask(context.Background(), sampleTask(task.StatusPending)))

	// No Close yet: the default mode flushes on every mutation.
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		SchemaVersion int `json:"schema_version"`
		Tasks         []json.RawMessage
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, 1, doc.SchemaVersion)
	assert.Len(t, doc.Tasks, 1)
}

func TestStoreBatchedModeFlushesOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := Open(path, Options{FlushInterval: time.Hour}, testLogger())
	require.NoError(t, err)

	rec := sampleTask(task.StatusPending)
	require.NoError(t, s.SaveTask(context.Background(), rec))

	// With a long flush interval nothing has been written yet.
	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, s.Close())

	reopened, err := Open(path, Options{}, testLogger())
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetTask(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
}
