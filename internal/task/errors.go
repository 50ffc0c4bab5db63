package task

import "errors"

// Sentinel errors returned by the engine. Callers should match them with
// errors.Is; engine methods wrap them with additional context.
var (
	// ErrUnknownTaskType indicates a submission for a type with no
	// registered handler.
	ErrUnknownTaskType = errors.New("unknown task type")

	// ErrValidation indicates a submission whose payload failed basic
	// shape checks before enqueue.
	ErrValidation = errors.New("invalid task payload")

	// ErrCannotCancelRunning indicates a cancel attempt on an in-flight
	// task. Only queued (Pending or Retrying) tasks can be cancelled.
	ErrCannotCancelRunning = errors.New("cannot cancel running task")

	// ErrTaskNotFound indicates a query or cancel for an unknown task ID.
	ErrTaskNotFound = errors.New("task not found")

	// ErrRegistryFrozen indicates a handler registration after the
	// registry was frozen at runner start.
	ErrRegistryFrozen = errors.New("handler registry is frozen")

	// ErrHandlerRegistered indicates a duplicate handler registration for
	// a task type.
	ErrHandlerRegistered = errors.New("handler already registered")

	// ErrRunnerStopped indicates an operation against a runner that has
	// been stopped.
	ErrRunnerStopped = errors.New("runner is stopped")

	// ErrCorruptState indicates persisted state that could not be read at
	// startup. The engine refuses to start rather than silently dropping
	// submitted work.
	ErrCorruptState = errors.New("corrupt persisted state")
)
