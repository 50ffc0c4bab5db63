package task

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy decides what happens to a task after a failed execution:
// either a requeue after an exponentially growing delay, or permanent
// failure once the attempt ceiling is reached. The decision is pure so
// tests can exercise it without a running pool.
type RetryPolicy struct {
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration

	// MaxDelay caps the computed backoff. Zero means uncapped.
	MaxDelay time.Duration

	// Jitter randomizes the delay by up to the given fraction (0..1) in
	// either direction, spreading out retry storms. Zero disables it.
	Jitter float64
}

// DefaultRetryPolicy mirrors the engine defaults: 5s base delay capped at
// 5 minutes, with 10% jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay: 5 * time.Second,
		MaxDelay:  5 * time.Minute,
		Jitter:    0.1,
	}
}

// Decision is the outcome of a retry evaluation.
type Decision struct {
	// Retry is true when the task should be requeued.
	Retry bool

	// Delay is how long to wait before the task becomes ready again.
	// Meaningful only when Retry is true.
	Delay time.Duration
}

// Decide evaluates a failed execution. attempt is the number of attempts
// completed so far, including the one that just failed; the task is
// permanently failed exactly when attempt reaches maxAttempts.
func (p RetryPolicy) Decide(attempt, maxAttempts int) Decision {
	if attempt >= maxAttempts {
		return Decision{Retry: false}
	}
	return Decision{Retry: true, Delay: p.backoff(attempt)}
}

// backoff computes BaseDelay * 2^(attempt-1), capped and jittered.
func (p RetryPolicy) backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter > 0 {
		// Uniform in [-Jitter, +Jitter] around the computed delay.
		f := 1 + p.Jitter*(2*rand.Float64()-1)
		delay = time.Duration(float64(delay) * f)
	}
	if delay < 0 {
		delay = 0
	}
	return delay
}
