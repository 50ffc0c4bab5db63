package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyDoubling(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second}

	d1 := p.Decide(1, 5)
	d2 := p.Decide(2, 5)
	d3 := p.Decide(3, 5)

	assert.True(t, d1.Retry)
	assert.Equal(t, time.Second, d1.Delay)
	assert.Equal(t, 2*time.Second, d2.Delay)
	assert.Equal(t, 4*time.Second, d3.Delay)
}

func TestRetryPolicyMaxDelayCap(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 3 * time.Second}

	assert.Equal(t, 2*time.Second, p.Decide(2, 10).Delay)
	assert.Equal(t, 3*time.Second, p.Decide(3, 10).Delay)
	assert.Equal(t, 3*time.Second, p.Decide(9, 10).Delay)
}

func TestRetryPolicyExhaustion(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second}

	assert.True(t, p.Decide(2, 3).Retry)
	assert.False(t, p.Decide(3, 3).Retry)
	assert.False(t, p.Decide(4, 3).Retry)
}

func TestRetryPolicyJitterBounds(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, Jitter: 0.5}

	for i := 0; i < 100; i++ {
		d := p.Decide(1, 5)
		assert.True(t, d.Retry)
		assert.GreaterOrEqual(t, d.Delay, 500*time.Millisecond)
		assert.LessOrEqual(t, d.Delay, 1500*time.Millisecond)
	}
}

func TestRetryPolicySingleAttempt(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second}

	// With a ceiling of one attempt the first failure is permanent.
	assert.False(t, p.Decide(1, 1).Retry)
}
