package task

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/batchq/internal/events"
	"github.com/phrazzld/batchq/internal/redact"
)

// RunnerConfig holds configuration for the task runner.
type RunnerConfig struct {
	// Concurrency is the number of worker slots. Tasks execute truly in
	// parallel up to this bound.
	Concurrency int

	// MaxAttempts is the default retry ceiling applied to submitted
	// tasks.
	MaxAttempts int

	// Retry decides backoff delays for failed executions.
	Retry RetryPolicy

	// TaskTimeout bounds a single handler execution. Zero disables it.
	// Expiry is best-effort logical cancellation: the task is treated as
	// failed even if the handler goroutine has not returned.
	TaskTimeout time.Duration

	// ShutdownTimeout is how long a forced stop waits for workers before
	// resetting still-running tasks to pending.
	ShutdownTimeout time.Duration
}

// DefaultRunnerConfig returns a RunnerConfig with reasonable defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		Concurrency:     3,
		MaxAttempts:     3,
		Retry:           DefaultRetryPolicy(),
		ShutdownTimeout: 30 * time.Second,
	}
}

// SubmitRequest describes one task in a bulk submission.
type SubmitRequest struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Priority int             `json:"priority"`
}

// Runner coordinates the whole engine: it owns the queue, the task
// table, and the in-flight set, and funnels every mutation through a
// single mutex so no two workers can claim the same task. Workers block
// waiting for ready work and are woken by submissions, elapsed retry
// delays, or shutdown.
type Runner struct {
	cfg      RunnerConfig
	registry *Registry
	store    Store
	tracker  *Tracker
	emitter  events.Emitter
	clock    Clock
	logger   *slog.Logger

	mu           sync.Mutex
	q            *queue
	tasks        map[uuid.UUID]*Task
	inflight     map[uuid.UUID]*Task
	seq          uint64
	wakeCh       chan struct{}
	drainWaiters []chan struct{}
	started      bool
	stopping     bool
	stopped      bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner over the given store and handler registry.
// The store must be open; the registry is frozen when Start is called.
func NewRunner(store Store, registry *Registry, cfg RunnerConfig, logger *slog.Logger) *Runner {
	if cfg.Concurrency <= 0 {
		logger.Warn("invalid concurrency specified, using default",
			"specified", cfg.Concurrency,
			"default", 3)
		cfg.Concurrency = 3
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Runner{
		cfg:      cfg,
		registry: registry,
		store:    store,
		tracker:  NewTracker(),
		emitter:  events.NopEmitter{},
		clock:    SystemClock(),
		logger:   logger.With("component", "task_runner"),
		q:        newQueue(),
		tasks:    make(map[uuid.UUID]*Task),
		inflight: make(map[uuid.UUID]*Task),
		wakeCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SetEmitter wires an event emitter. Must be called before Start.
func (r *Runner) SetEmitter(e events.Emitter) {
	r.emitter = e
}

// SetClock overrides the time source. Must be called before Start.
func (r *Runner) SetClock(c Clock) {
	r.clock = c
}

// Submit validates and enqueues a new task, returning its assigned ID.
// It fails with ErrUnknownTaskType if no handler is registered for the
// type and ErrValidation if the payload is malformed.
func (r *Runner) Submit(ctx context.Context, taskType string, payload json.RawMessage, priority int) (uuid.UUID, error) {
	if _, ok := r.registry.Resolve(taskType); !ok {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrUnknownTaskType, taskType)
	}
	if len(payload) > 0 && !json.Valid(payload) {
		return uuid.Nil, fmt.Errorf("%w: payload is not valid JSON", ErrValidation)
	}

	now := r.clock.Now()
	t := &Task{
		ID:          uuid.New(),
		Type:        taskType,
		Payload:     payload,
		Priority:    priority,
		Status:      StatusPending,
		MaxAttempts: r.cfg.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	r.mu.Lock()
	if r.stopped || r.stopping {
		r.mu.Unlock()
		return uuid.Nil, ErrRunnerStopped
	}
	r.seq++
	t.seq = r.seq
	r.tasks[t.ID] = t
	r.q.push(t, now)
	r.tracker.Record(t)
	r.wakeLocked()
	r.mu.Unlock()

	r.persist(ctx, t, true)
	r.emitter.EmitEvent(ctx, events.QueueEvent{
		Kind:     events.KindSubmitted,
		TaskID:   t.ID,
		TaskType: t.Type,
		At:       now,
	})

	r.logger.Debug("task submitted",
		"task_id", t.ID,
		"task_type", t.Type,
		"priority", t.Priority)
	return t.ID, nil
}

// SubmitBulk enqueues several tasks at once, returning the IDs assigned
// so far. It stops at the first rejection and returns the error alongside
// the IDs that were accepted.
func (r *Runner) SubmitBulk(ctx context.Context, reqs []SubmitRequest) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(reqs))
	for _, req := range reqs {
		id, err := r.Submit(ctx, req.Type, req.Payload, req.Priority)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Cancel removes a queued task. Only Pending and Retrying tasks can be
// cancelled; anything already dispatched or finished fails with
// ErrCannotCancelRunning.
func (r *Runner) Cancel(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	t, ok := r.tasks[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.Status != StatusPending && t.Status != StatusRetrying {
		status := t.Status
		r.mu.Unlock()
		return fmt.Errorf("%w: task is %s", ErrCannotCancelRunning, status)
	}
	r.q.remove(id)
	now := r.clock.Now()
	t.Status = StatusCancelled
	t.UpdatedAt = now
	t.CompletedAt = &now
	r.tracker.Record(t)
	r.notifyDrainLocked()
	r.mu.Unlock()

	r.persist(ctx, t, false)
	r.emitter.EmitEvent(ctx, events.QueueEvent{
		Kind:     events.KindCancelled,
		TaskID:   t.ID,
		TaskType: t.Type,
		Attempt:  t.AttemptCount,
		At:       now,
	})

	r.logger.Info("task cancelled", "task_id", id)
	return nil
}

// Start recovers persisted state and launches the worker pool. Recovery
// reinserts every non-terminal task, resetting interrupted Running tasks
// to Pending; execution is therefore at-least-once and handlers should be
// idempotent. Unreadable persisted state is fatal.
func (r *Runner) Start() error {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return fmt.Errorf("runner already started")
	}
	r.started = true
	r.mu.Unlock()

	r.registry.Freeze()

	if err := r.recover(); err != nil {
		return fmt.Errorf("failed to recover persisted tasks: %w", err)
	}

	for i := 0; i < r.cfg.Concurrency; i++ {
		r.wg.Add(1)
		go r.worker(i)
	}

	r.logger.Info("task runner started",
		"concurrency", r.cfg.Concurrency,
		"max_attempts", r.cfg.MaxAttempts,
		"registered_types", len(r.registry.Types()))
	return nil
}

// recover reloads stored tasks: terminal records go straight to the
// tracker so history survives restarts; everything else is requeued as
// Pending in original submission order.
func (r *Runner) recover() error {
	ctx := context.Background()

	stored, err := r.store.ListTasks(ctx)
	if err != nil {
		return err
	}
	sort.Slice(stored, func(i, j int) bool {
		return stored[i].CreatedAt.Before(stored[j].CreatedAt)
	})

	now := r.clock.Now()
	var requeued, interrupted int

	r.mu.Lock()
	for _, t := range stored {
		if _, exists := r.tasks[t.ID]; exists {
			continue
		}
		if t.Status.IsTerminal() {
			r.tracker.Record(t)
			continue
		}
		if t.Status == StatusRunning {
			interrupted++
		}
		t.Status = StatusPending
		t.StartedAt = nil
		t.UpdatedAt = now
		r.seq++
		t.seq = r.seq
		r.tasks[t.ID] = t
		r.q.push(t, now)
		r.tracker.Record(t)
		requeued++
	}
	r.mu.Unlock()

	for _, t := range stored {
		if !t.Status.IsTerminal() {
			r.persist(ctx, t, false)
		}
	}

	if requeued > 0 {
		r.logger.Info("recovered unfinished tasks",
			"requeued", requeued,
			"interrupted", interrupted)
	}
	return nil
}

// Stop shuts the pool down. Graceful mode stops claiming new work and
// lets in-flight handlers finish. Forced mode cancels handler contexts,
// waits up to ShutdownTimeout, and resets any task still running to
// Pending so it is retried on the next start; handler completion is not
// assumed atomic, so handlers should be safely resumable.
func (r *Runner) Stop(graceful bool) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopping = true
	r.wakeLocked()
	r.mu.Unlock()

	if graceful {
		r.wg.Wait()
	} else {
		r.cancel()
		if !waitTimeout(&r.wg, r.cfg.ShutdownTimeout) {
			r.logger.Warn("workers did not exit before shutdown timeout",
				"timeout", r.cfg.ShutdownTimeout)
		}
		r.resetInterrupted()
	}

	r.mu.Lock()
	r.stopped = true
	r.notifyDrainLocked()
	r.mu.Unlock()
	r.cancel()

	r.logger.Info("task runner stopped", "graceful", graceful)
}

// resetInterrupted returns tasks abandoned by a forced stop to the
// pending state and persists the reset so a restart retries them.
func (r *Runner) resetInterrupted() {
	ctx := context.Background()
	now := r.clock.Now()

	r.mu.Lock()
	var reset []*Task
	for id, t := range r.inflight {
		t.Status = StatusPending
		t.StartedAt = nil
		t.UpdatedAt = now
		r.tracker.Record(t)
		reset = append(reset, t)
		delete(r.inflight, id)
	}
	r.mu.Unlock()

	for _, t := range reset {
		r.persist(ctx, t, false)
		r.logger.Warn("reset interrupted task to pending", "task_id", t.ID)
	}
}

// ProcessQueue blocks until every queued and in-flight task has reached a
// terminal state, the runner stops, or the context is cancelled.
func (r *Runner) ProcessQueue(ctx context.Context) error {
	r.mu.Lock()
	if r.drainedLocked() {
		r.mu.Unlock()
		return nil
	}
	waiter := make(chan struct{})
	r.drainWaiters = append(r.drainWaiters, waiter)
	r.mu.Unlock()

	select {
	case <-waiter:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetTask returns the last known state of a task.
func (r *Runner) GetTask(id uuid.UUID) (*Task, error) {
	return r.tracker.Get(id)
}

// QueueSummary returns aggregate task counts by status.
func (r *Runner) QueueSummary() Summary {
	return r.tracker.Summary()
}

// ExportResults writes terminal task records to path as JSON. The export
// always reflects the in-memory snapshot even if durable writes lagged.
func (r *Runner) ExportResults(path string) error {
	return r.tracker.ExportResults(path)
}

// PurgeTerminal drops terminal task history from the tracker and the
// store, returning how many records were removed.
func (r *Runner) PurgeTerminal(ctx context.Context) int {
	purged := r.tracker.PurgeTerminal()

	r.mu.Lock()
	for _, id := range purged {
		delete(r.tasks, id)
	}
	r.mu.Unlock()

	for _, id := range purged {
		if err := r.store.DeleteTask(ctx, id); err != nil {
			r.logger.Warn("failed to delete purged task from store",
				"task_id", id,
				"error", err)
		}
	}
	return len(purged)
}

// worker is one execution slot. It claims a ready task under the runner
// lock, executes it, and otherwise sleeps until woken by a submission,
// the earliest retry delay, or shutdown. There is no busy polling.
func (r *Runner) worker(id int) {
	defer r.wg.Done()

	r.logger.Debug("worker started", "worker_id", id)

	for {
		t, wait, wake, done := r.claimNext()
		if done {
			r.logger.Debug("worker stopping", "worker_id", id)
			return
		}
		if t == nil {
			var timerC <-chan time.Time
			var timer *time.Timer
			if wait >= 0 {
				timer = time.NewTimer(wait)
				timerC = timer.C
			}
			select {
			case <-r.ctx.Done():
			case <-wake:
			case <-timerC:
			}
			if timer != nil {
				timer.Stop()
			}
			continue
		}
		r.execute(t, id)
	}
}

// claimNext atomically claims the highest-priority ready task. When
// nothing is ready it returns the current wake channel and how long until
// the earliest delayed task is due (wait < 0 when there is none).
func (r *Runner) claimNext() (t *Task, wait time.Duration, wake <-chan struct{}, done bool) {
	r.mu.Lock()

	if r.stopping {
		r.mu.Unlock()
		return nil, 0, nil, true
	}

	now := r.clock.Now()
	t = r.q.popReady(now)
	if t == nil {
		wait = -1
		if d, ok := r.q.nextWake(now); ok {
			wait = d
		}
		wake = r.wakeCh
		r.mu.Unlock()
		return nil, wait, wake, false
	}

	t.Status = StatusRunning
	t.UpdatedAt = now
	started := now
	t.StartedAt = &started
	r.inflight[t.ID] = t
	r.tracker.Record(t)
	r.mu.Unlock()

	ctx := context.Background()
	r.persist(ctx, t, false)
	r.emitter.EmitEvent(ctx, events.QueueEvent{
		Kind:     events.KindStarted,
		TaskID:   t.ID,
		TaskType: t.Type,
		Attempt:  t.AttemptCount,
		At:       now,
	})
	return t, 0, nil, false
}

type execResult struct {
	result json.RawMessage
	err    error
}

// execute runs the task's handler in its own goroutine so a blocking
// handler never wedges the slot's timeout handling, then routes the
// outcome through the retry policy. Handler errors and panics are
// intercepted here and never propagate past the worker.
func (r *Runner) execute(t *Task, workerID int) {
	log := r.logger.With(
		"task_id", t.ID,
		"task_type", t.Type,
		"worker_id", workerID,
	)

	handler, ok := r.registry.Resolve(t.Type)
	if !ok {
		// Submission validates types, so this only happens when recovered
		// state references a type the current process never registered.
		r.completeFailure(t, fmt.Errorf("%w: %q", ErrUnknownTaskType, t.Type), log)
		return
	}

	execCtx := r.ctx
	var cancel context.CancelFunc
	if r.cfg.TaskTimeout > 0 {
		execCtx, cancel = context.WithTimeout(execCtx, r.cfg.TaskTimeout)
		defer cancel()
	}

	log.Debug("executing task", "attempt", t.AttemptCount+1)

	doneCh := make(chan execResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				doneCh <- execResult{err: fmt.Errorf("handler panicked: %v", rec)}
			}
		}()
		result, err := handler(execCtx, t.Payload)
		doneCh <- execResult{result: result, err: err}
	}()

	var out execResult
	select {
	case out = <-doneCh:
	case <-execCtx.Done():
		if r.ctx.Err() != nil {
			// Forced shutdown: leave the task in-flight so the stop path
			// resets it to pending.
			return
		}
		out = execResult{err: fmt.Errorf("handler timed out after %s", r.cfg.TaskTimeout)}
	}

	if out.err != nil {
		r.completeFailure(t, out.err, log)
		return
	}
	r.completeSuccess(t, out.result, log)
}

// completeSuccess finalizes a successful execution.
func (r *Runner) completeSuccess(t *Task, result json.RawMessage, log *slog.Logger) {
	now := r.clock.Now()

	r.mu.Lock()
	delete(r.inflight, t.ID)
	t.Status = StatusSucceeded
	t.AttemptCount++
	t.Result = result
	t.UpdatedAt = now
	t.CompletedAt = &now
	t.LastError = ""
	r.tracker.Record(t)
	r.notifyDrainLocked()
	r.mu.Unlock()

	ctx := context.Background()
	r.persist(ctx, t, false)
	r.emitter.EmitEvent(ctx, events.QueueEvent{
		Kind:     events.KindSucceeded,
		TaskID:   t.ID,
		TaskType: t.Type,
		Attempt:  t.AttemptCount,
		At:       now,
	})
	log.Info("task succeeded", "attempts", t.AttemptCount)
}

// completeFailure routes a failed execution through the retry policy:
// either back into the queue with a backoff delay, or to the terminal
// failed state once attempts are exhausted.
func (r *Runner) completeFailure(t *Task, execErr error, log *slog.Logger) {
	now := r.clock.Now()

	// Handler errors can wrap driver errors carrying full connection
	// strings; scrub them before they reach records, events, or exports.
	msg := redact.Error(execErr)

	r.mu.Lock()
	delete(r.inflight, t.ID)
	t.AttemptCount++
	t.LastError = msg
	t.UpdatedAt = now

	decision := r.cfg.Retry.Decide(t.AttemptCount, t.MaxAttempts)
	var kind events.Kind
	if decision.Retry {
		t.Status = StatusRetrying
		t.ScheduledAt = now.Add(decision.Delay)
		t.StartedAt = nil
		r.q.push(t, now)
		r.wakeLocked()
		kind = events.KindRetrying
	} else {
		t.Status = StatusFailed
		t.CompletedAt = &now
		kind = events.KindFailed
	}
	r.tracker.Record(t)
	r.notifyDrainLocked()
	r.mu.Unlock()

	ctx := context.Background()
	r.persist(ctx, t, false)
	r.emitter.EmitEvent(ctx, events.QueueEvent{
		Kind:     kind,
		TaskID:   t.ID,
		TaskType: t.Type,
		Attempt:  t.AttemptCount,
		Err:      msg,
		At:       now,
	})

	if decision.Retry {
		log.Warn("task failed, scheduling retry",
			"attempt", t.AttemptCount,
			"max_attempts", t.MaxAttempts,
			"retry_delay", decision.Delay,
			"error", msg)
	} else {
		log.Error("task failed permanently",
			"attempts", t.AttemptCount,
			"error", msg)
	}
}

// persist writes the task's current state through the store. Failures
// are logged as warnings: in-memory state stays authoritative and the
// next successful write reconciles the store.
func (r *Runner) persist(ctx context.Context, t *Task, isNew bool) {
	r.mu.Lock()
	c := t.Clone()
	r.mu.Unlock()

	var err error
	if isNew {
		err = r.store.SaveTask(ctx, c)
	} else {
		err = r.store.UpdateTask(ctx, c)
	}
	if err != nil {
		r.logger.Warn("durable write failed, in-memory state remains authoritative",
			"task_id", c.ID,
			"status", c.Status,
			"error", err)
	}
}

// wakeLocked broadcasts to every worker waiting for ready work. Callers
// must hold r.mu.
func (r *Runner) wakeLocked() {
	close(r.wakeCh)
	r.wakeCh = make(chan struct{})
}

// drainedLocked reports whether no queued or in-flight work remains.
// Callers must hold r.mu.
func (r *Runner) drainedLocked() bool {
	return r.q.len() == 0 && len(r.inflight) == 0
}

// notifyDrainLocked releases ProcessQueue waiters once the queue and the
// in-flight set are both empty. Callers must hold r.mu.
func (r *Runner) notifyDrainLocked() {
	if !r.drainedLocked() && !r.stopped {
		return
	}
	for _, w := range r.drainWaiters {
		close(w)
	}
	r.drainWaiters = nil
}

// waitTimeout waits for the WaitGroup up to d. Returns false on timeout.
func waitTimeout(wg *sync.WaitGroup, d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
