package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/phrazzld/batchq/internal/task"
)

// errorResponse is the uniform error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

func respondWithJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("failed to encode response body", "error", err)
	}
}

func respondWithError(w http.ResponseWriter, status int, message string) {
	respondWithJSON(w, status, errorResponse{Error: message})
}

// statusCodeForError maps engine errors to HTTP status codes. Unknown
// errors become 500s with a generic message so internals never leak.
func statusCodeForError(err error) int {
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		return http.StatusNotFound
	case errors.Is(err, task.ErrUnknownTaskType), errors.Is(err, task.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, task.ErrCannotCancelRunning):
		return http.StatusConflict
	case errors.Is(err, task.ErrRunnerStopped):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// safeMessageForError returns a client-safe message for an engine error.
func safeMessageForError(err error) string {
	if statusCodeForError(err) == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}
