package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/batchq/internal/platform/logger"
)

// NewRouter builds the HTTP router for the queue control surface.
func NewRouter(engine Engine, logger *slog.Logger) http.Handler {
	h := NewQueueHandler(engine, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", h.SubmitTask)
		r.Post("/bulk", h.SubmitBulk)
		r.Get("/{id}", h.GetTask)
		r.Delete("/{id}", h.CancelTask)
	})

	r.Route("/queue", func(r chi.Router) {
		r.Get("/status", h.QueueStatus)
		r.Post("/export", h.ExportResults)
		r.Post("/purge", h.PurgeTerminal)
	})

	return r
}

// requestLogger attaches a request-scoped logger to the context and logs
// each request with method, path, and duration.
func requestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	httpLog := base.With("component", "http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := httpLog.With("request_id", middleware.GetReqID(r.Context()))
			r = r.WithContext(logger.WithLogger(r.Context(), log))

			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug("request handled",
				"method", r.Method,
				"path", r.URL.Path,
				"duration", time.Since(start))
		})
	}
}
