// Package task implements the batch processing engine: a priority-ordered
// work queue, a bounded worker pool, exponential-backoff retries, and a
// pluggable persistence contract that lets queued work survive restarts.
package task
