package events

import (
	"context"
	"log/slog"
	"sync"
)

// InMemoryEmitter is a simple Emitter that fans events out to handlers
// registered in memory. Handler failures are logged and never block the
// engine or other handlers.
type InMemoryEmitter struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   *slog.Logger
}

// NewInMemoryEmitter creates an emitter with no handlers registered.
func NewInMemoryEmitter(logger *slog.Logger) *InMemoryEmitter {
	return &InMemoryEmitter{
		logger: logger.With("component", "event_emitter"),
	}
}

// RegisterHandler adds a handler to receive all subsequent events.
func (e *InMemoryEmitter) RegisterHandler(handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers = append(e.handlers, handler)
}

// EmitEvent delivers the event to every registered handler in
// registration order.
func (e *InMemoryEmitter) EmitEvent(ctx context.Context, event QueueEvent) {
	e.mu.RLock()
	handlers := make([]Handler, len(e.handlers))
	copy(handlers, e.handlers)
	e.mu.RUnlock()

	for _, h := range handlers {
		if err := h.HandleEvent(ctx, event); err != nil {
			e.logger.Warn("event handler failed",
				"event_kind", event.Kind,
				"task_id", event.TaskID,
				"error", err)
		}
	}
}

// NopEmitter discards all events. Used when no observers are configured.
type NopEmitter struct{}

func (NopEmitter) EmitEvent(context.Context, QueueEvent) {}

// LogObserver is a Handler that writes every queue event through slog.
// It is the default observability sink wired up by the binary.
type LogObserver struct {
	logger *slog.Logger
}

// NewLogObserver creates a LogObserver writing to the given logger.
func NewLogObserver(logger *slog.Logger) *LogObserver {
	return &LogObserver{logger: logger.With("component", "queue_events")}
}

// HandleEvent logs the event at a level matching its severity.
func (o *LogObserver) HandleEvent(_ context.Context, event QueueEvent) error {
	attrs := []any{
		"task_id", event.TaskID,
		"task_type", event.TaskType,
		"attempt", event.Attempt,
	}
	switch event.Kind {
	case KindFailed:
		o.logger.Error("task failed permanently", append(attrs, "error", event.Err)...)
	case KindRetrying:
		o.logger.Warn("task scheduled for retry", append(attrs, "error", event.Err)...)
	default:
		o.logger.Info("task "+string(event.Kind), attrs...)
	}
	return nil
}
