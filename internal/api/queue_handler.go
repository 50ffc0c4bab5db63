package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/phrazzld/batchq/internal/platform/logger"
	"github.com/phrazzld/batchq/internal/task"
)

// Engine is the queue surface the handlers need. *task.Runner satisfies
// it; tests substitute their own.
type Engine interface {
	Submit(ctx context.Context, taskType string, payload json.RawMessage, priority int) (uuid.UUID, error)
	SubmitBulk(ctx context.Context, reqs []task.SubmitRequest) ([]uuid.UUID, error)
	Cancel(ctx context.Context, id uuid.UUID) error
	GetTask(id uuid.UUID) (*task.Task, error)
	QueueSummary() task.Summary
	ExportResults(path string) error
	PurgeTerminal(ctx context.Context) int
}

// QueueHandler handles queue-related HTTP requests.
type QueueHandler struct {
	engine   Engine
	validate *validator.Validate
	logger   *slog.Logger
}

// NewQueueHandler creates a QueueHandler over the given engine.
func NewQueueHandler(engine Engine, logger *slog.Logger) *QueueHandler {
	return &QueueHandler{
		engine:   engine,
		validate: validator.New(),
		logger:   logger.With("component", "queue_handler"),
	}
}

// SubmitTask handles POST /tasks.
func (h *QueueHandler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if !h.decode(w, r, &req) {
		return
	}

	id, err := h.engine.Submit(r.Context(), req.Type, req.Payload, req.Priority)
	if err != nil {
		log := logger.FromContextOrDefault(r.Context(), h.logger)
		log.Warn("task submission rejected", "task_type", req.Type, "error", err)
		respondWithError(w, statusCodeForError(err), safeMessageForError(err))
		return
	}
	respondWithJSON(w, http.StatusCreated, SubmitTaskResponse{TaskID: id})
}

// SubmitBulk handles POST /tasks/bulk. Submission stops at the first
// rejected task; accepted IDs are not rolled back, so the response names
// them even on error.
func (h *QueueHandler) SubmitBulk(w http.ResponseWriter, r *http.Request) {
	var req SubmitBulkRequest
	if !h.decode(w, r, &req) {
		return
	}

	reqs := make([]task.SubmitRequest, len(req.Tasks))
	for i, t := range req.Tasks {
		reqs[i] = task.SubmitRequest{Type: t.Type, Payload: t.Payload, Priority: t.Priority}
	}

	ids, err := h.engine.SubmitBulk(r.Context(), reqs)
	if err != nil {
		logger.FromContextOrDefault(r.Context(), h.logger).Warn("bulk submission aborted",
			"accepted", len(ids),
			"requested", len(reqs),
			"error", err)
		respondWithJSON(w, statusCodeForError(err), struct {
			SubmitBulkResponse
			Error string `json:"error"`
		}{SubmitBulkResponse{TaskIDs: ids}, safeMessageForError(err)})
		return
	}
	respondWithJSON(w, http.StatusCreated, SubmitBulkResponse{TaskIDs: ids})
}

// GetTask handles GET /tasks/{id}.
func (h *QueueHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}
	t, err := h.engine.GetTask(id)
	if err != nil {
		respondWithError(w, statusCodeForError(err), safeMessageForError(err))
		return
	}
	respondWithJSON(w, http.StatusOK, taskToResponse(t))
}

// CancelTask handles DELETE /tasks/{id}.
func (h *QueueHandler) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, ok := h.taskID(w, r)
	if !ok {
		return
	}
	if err := h.engine.Cancel(r.Context(), id); err != nil {
		respondWithError(w, statusCodeForError(err), safeMessageForError(err))
		return
	}
	respondWithJSON(w, http.StatusNoContent, nil)
}

// QueueStatus handles GET /queue/status.
func (h *QueueHandler) QueueStatus(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, h.engine.QueueSummary())
}

// ExportResults handles POST /queue/export.
func (h *QueueHandler) ExportResults(w http.ResponseWriter, r *http.Request) {
	var req ExportRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.engine.ExportResults(req.Path); err != nil {
		logger.FromContextOrDefault(r.Context(), h.logger).Error("export failed", "path", req.Path, "error", err)
		respondWithError(w, http.StatusInternalServerError, "failed to export results")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"path": req.Path})
}

// PurgeTerminal handles POST /queue/purge.
func (h *QueueHandler) PurgeTerminal(w http.ResponseWriter, r *http.Request) {
	purged := h.engine.PurgeTerminal(r.Context())
	respondWithJSON(w, http.StatusOK, PurgeResponse{Purged: purged})
}

// decode unmarshals and validates a JSON request body, responding with a
// 400 itself when either step fails.
func (h *QueueHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		respondWithError(w, http.StatusBadRequest, "request failed validation: "+err.Error())
		return false
	}
	return true
}

func (h *QueueHandler) taskID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid task id")
		return uuid.Nil, false
	}
	return id, true
}
