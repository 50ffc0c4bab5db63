package task

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Handler executes tasks of a registered type. The payload is the raw
// JSON supplied at submission; the returned value is stored as the task
// result on success. Errors (and panics, which are recovered at the
// dispatch boundary) are routed through the retry policy and never
// propagate past the worker.
type Handler func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Registry maps task types to handlers. Registrations happen at startup;
// the runner freezes the registry when it starts, after which the mapping
// is read-only.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	frozen   bool
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register associates a handler with a task type. It fails if the
// registry has been frozen or the type is already registered.
func (r *Registry) Register(taskType string, handler Handler) error {
	if taskType == "" {
		return fmt.Errorf("%w: empty task type", ErrValidation)
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for type %q", ErrValidation, taskType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: cannot register %q", ErrRegistryFrozen, taskType)
	}
	if _, ok := r.handlers[taskType]; ok {
		return fmt.Errorf("%w: %q", ErrHandlerRegistered, taskType)
	}
	r.handlers[taskType] = handler
	return nil
}

// Freeze makes the registry read-only. Called by the runner at start.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Resolve returns the handler for a task type.
func (r *Registry) Resolve(taskType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, ok
}

// Types returns the registered task types, for diagnostics.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
