package task

import (
	"container/heap"
	"time"

	"github.com/google/uuid"
)

// queue holds not-yet-dispatched tasks. Ready tasks sit in a priority
// heap ordered (priority desc, submission seq asc); delayed tasks sit in
// a separate heap ordered by ScheduledAt, and are promoted to the ready
// heap as their delays elapse. All methods must be called with the
// runner's lock held; the queue itself does no locking.
type queue struct {
	ready   readyHeap
	delayed delayedHeap
}

func newQueue() *queue {
	return &queue{}
}

// push inserts a task, choosing the ready or delayed heap based on its
// scheduled time.
func (q *queue) push(t *Task, now time.Time) {
	if t.Ready(now) {
		heap.Push(&q.ready, t)
	} else {
		heap.Push(&q.delayed, t)
	}
}

// promote moves every delayed task whose scheduled time has elapsed into
// the ready heap.
func (q *queue) promote(now time.Time) {
	for q.delayed.Len() > 0 && q.delayed[0].Ready(now) {
		heap.Push(&q.ready, heap.Pop(&q.delayed).(*Task))
	}
}

// popReady promotes due tasks and removes the highest-priority ready
// task, or returns nil if nothing is ready.
func (q *queue) popReady(now time.Time) *Task {
	q.promote(now)
	if q.ready.Len() == 0 {
		return nil
	}
	return heap.Pop(&q.ready).(*Task)
}

// remove deletes a task from whichever heap holds it. Returns false if
// the task is not queued.
func (q *queue) remove(id uuid.UUID) bool {
	for i, t := range q.ready {
		if t.ID == id {
			heap.Remove(&q.ready, i)
			return true
		}
	}
	for i, t := range q.delayed {
		if t.ID == id {
			heap.Remove(&q.delayed, i)
			return true
		}
	}
	return false
}

// nextWake returns how long until the earliest delayed task becomes
// ready. The second return is false when no delayed task exists.
func (q *queue) nextWake(now time.Time) (time.Duration, bool) {
	if q.delayed.Len() == 0 {
		return 0, false
	}
	d := q.delayed[0].ScheduledAt.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

func (q *queue) len() int {
	return q.ready.Len() + q.delayed.Len()
}

// readyHeap orders tasks by priority (higher first), breaking ties by
// submission sequence so equal-priority tasks dispatch FIFO.
type readyHeap []*Task

func (h readyHeap) Len() int { return len(h) }

func (h readyHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h readyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *readyHeap) Push(x any) { *h = append(*h, x.(*Task)) }

func (h *readyHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// delayedHeap orders tasks by scheduled time, earliest first.
type delayedHeap []*Task

func (h delayedHeap) Len() int { return len(h) }

func (h delayedHeap) Less(i, j int) bool {
	if !h[i].ScheduledAt.Equal(h[j].ScheduledAt) {
		return h[i].ScheduledAt.Before(h[j].ScheduledAt)
	}
	return h[i].seq < h[j].seq
}

func (h delayedHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *delayedHeap) Push(x any) { *h = append(*h, x.(*Task)) }

func (h *delayedHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
