package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
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

// fakeEngine is a scriptable Engine for handler tests.
type fakeEngine struct {
	submitID   uuid.UUID
	submitErr  error
	cancelErr  error
	getTask    *task.Task
	getErr     error
	summary    task.Summary
	exportErr  error
	purged     int
	submitted  []task.SubmitRequest
	cancelled  []uuid.UUID
	exportPath string
}

func (f *fakeEngine) Submit(_ context.Context, taskType string, payload json.RawMessage, priority int) (uuid.UUID, error) {
	if f.submitErr != nil {
		return uuid.Nil, f.submitErr
	}
	f.submitted = append(f.submitted, task.SubmitRequest{Type: taskType, Payload: payload, Priority: priority})
	return f.submitID, nil
}

func (f *fakeEngine) SubmitBulk(ctx context.Context, reqs []task.SubmitRequest) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(reqs))
	for _, req := range reqs {
		id, err := f.Submit(ctx, req.Type, req.Payload, req.Priority)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (f *fakeEngine) Cancel(_ context.Context, id uuid.UUID) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeEngine) GetTask(uuid.UUID) (*task.Task, error) {
	return f.getTask, f.getErr
}

func (f *fakeEngine) QueueSummary() task.Summary { return f.summary }

func (f *fakeEngine) ExportResults(path string) error {
	f.exportPath = path
	return f.exportErr
}

func (f *fakeEngine) PurgeTerminal(context.Context) int { return f.purged }

func doRequest(t *testing.T, engine Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	NewRouter(engine, testLogger()).ServeHTTP(rec, req)
	return rec
}

func TestSubmitTask(t *testing.T) {
	engine := &fakeEngine{submitID: uuid.New()}

	rec := doRequest(t, engine, http.MethodPost, "/tasks", SubmitTaskRequest{
		Type:     "generate_report",
		Payload:  json.RawMessage(`{"month":"2025-05"}`),
		Priority: 3,
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp SubmitTaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, engine.submitID, resp.TaskID)

	require.Len(t, engine.submitted, 1)
	assert.Equal(t, "generate_report", engine.submitted[0].Type)
	assert.Equal(t, 3, engine.submitted[0].Priority)
}

func TestSubmitTaskRejectsMissingType(t *testing.T) {
	rec := doRequest(t, &fakeEngine{}, http.MethodPost, "/tasks", map[string]any{
		"payload": map[string]any{"x": 1},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitTaskRejectsMalformedBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewReader([]byte(`{nope`)))
	rec := httptest.NewRecorder()
	NewRouter(&fakeEngine{}, testLogger()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitTaskErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"unknown type", fmt.Errorf("%w: %q", task.ErrUnknownTaskType, "nope"), http.StatusBadRequest},
		{"validation", fmt.Errorf("%w: bad payload", task.ErrValidation), http.StatusBadRequest},
		{"stopped", task.ErrRunnerStopped, http.StatusServiceUnavailable},
		{"unexpected", fmt.Errorf("disk exploded"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine := &fakeEngine{submitErr: tc.err}
			rec := doRequest(t, engine, http.MethodPost, "/tasks", SubmitTaskRequest{Type: "t"})
			assert.Equal(t, tc.code, rec.Code)
		})
	}
}

func TestSubmitTaskHidesInternalErrors(t *testing.T) {
	engine := &fakeEngine{submitErr: fmt.Errorf("pq: connection to 10.0.0.5 refused")}
	rec := doRequest(t, engine, http.MethodPost, "/tasks", SubmitTaskRequest{Type: "t"})

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
	assert.Contains(t, rec.Body.String(), "internal server error")
}

func TestSubmitBulk(t *testing.T) {
	engine := &fakeEngine{submitID: uuid.New()}

	rec := doRequest(t, engine, http.MethodPost, "/tasks/bulk", SubmitBulkRequest{
		Tasks: []SubmitTaskRequest{
			{Type: "a", Priority: 1},
			{Type: "b", Priority: 2},
		},
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp SubmitBulkResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.TaskIDs, 2)
}

func TestSubmitBulkRejectsEmptyList(t *testing.T) {
	rec := doRequest(t, &fakeEngine{}, http.MethodPost, "/tasks/bulk", SubmitBulkRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitBulkReportsAcceptedIDsOnError(t *testing.T) {
	engine := &fakeEngine{submitErr: fmt.Errorf("%w: %q", task.ErrUnknownTaskType, "b")}

	rec := doRequest(t, engine, http.MethodPost, "/tasks/bulk", SubmitBulkRequest{
		Tasks: []SubmitTaskRequest{{Type: "a"}, {Type: "b"}},
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp struct {
		TaskIDs []uuid.UUID `json:"task_ids"`
		Error   string      `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.Error)
}

func TestGetTask(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := doRequest(t, &fakeEngine{getTask: &task.Task{
		ID:           uuid.New(),
		Type:         "transcode",
		Status:       task.StatusSucceeded,
		AttemptCount: 2,
		MaxAttempts:  3,
		CreatedAt:    now,
		UpdatedAt:    now,
		Result:       json.RawMessage(`{"frames":120}`),
	}}, http.MethodGet, "/tasks/"+uuid.NewString(), nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp TaskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, task.StatusSucceeded, resp.Status)
	assert.Equal(t, 2, resp.AttemptCount)
	assert.JSONEq(t, `{"frames":120}`, string(resp.Result))
}

func TestGetTaskNotFound(t *testing.T) {
	engine := &fakeEngine{getErr: fmt.Errorf("%w: nope", task.ErrTaskNotFound)}
	rec := doRequest(t, engine, http.MethodGet, "/tasks/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetTaskRejectsBadID(t *testing.T) {
	rec := doRequest(t, &fakeEngine{}, http.MethodGet, "/tasks/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelTask(t *testing.T) {
	engine := &fakeEngine{}
	id := uuid.New()
	rec := doRequest(t, engine, http.MethodDelete, "/tasks/"+id.String(), nil)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, engine.cancelled, 1)
	assert.Equal(t, id, engine.cancelled[0])
}

func TestCancelRunningTaskConflicts(t *testing.T) {
	engine := &fakeEngine{cancelErr: fmt.Errorf("%w: task is running", task.ErrCannotCancelRunning)}
	rec := doRequest(t, engine, http.MethodDelete, "/tasks/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestQueueStatus(t *testing.T) {
	engine := &fakeEngine{summary: task.Summary{
		Total:     5,
		Pending:   2,
		Running:   1,
		Succeeded: 2,
	}}

	rec := doRequest(t, engine, http.MethodGet, "/queue/status", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp task.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, engine.summary, resp)
}

func TestExportResults(t *testing.T) {
	engine := &fakeEngine{}
	path := filepath.Join(t.TempDir(), "results.json")

	rec := doRequest(t, engine, http.MethodPost, "/queue/export", ExportRequest{Path: path})

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, path, engine.exportPath)
}

func TestExportResultsRequiresPath(t *testing.T) {
	rec := doRequest(t, &fakeEngine{}, http.MethodPost, "/queue/export", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPurgeTerminal(t *testing.T) {
	rec := doRequest(t, &fakeEngine{purged: 4}, http.MethodPost, "/queue/purge", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp PurgeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 4, resp.Purged)
}

func TestHealthz(t *testing.T) {
	rec := doRequest(t, &fakeEngine{}, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}
