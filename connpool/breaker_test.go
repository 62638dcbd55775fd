package connpool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreaker_OpensAtFailureThreshold(t *testing.T) {
	b := newBreaker(3, 1, time.Minute)

	b.recordFailure()
	b.recordFailure()
	state, _, _, _ := b.snapshot()
	assert.Equal(t, StateClosed, state)

	b.recordFailure()
	state, consecutive, _, _ := b.snapshot()
	assert.Equal(t, StateOpen, state)
	assert.Equal(t, 3, consecutive)

	assert.False(t, b.allow(), "open breaker must reject before recovery timeout")
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := newBreaker(3, 1, time.Minute)

	b.recordFailure()
	b.recordFailure()
	b.recordSuccess()
	b.recordFailure()
	b.recordFailure()

	state, _, _, _ := b.snapshot()
	assert.Equal(t, StateClosed, state, "non-consecutive failures must not open the breaker")
}

func TestBreaker_HalfOpenAfterRecoveryTimeout(t *testing.T) {
	b := newBreaker(1, 1, 10*time.Millisecond)

	b.recordFailure()
	require.False(t, b.allow())

	// Move the clock past the recovery timeout.
	b.mu.Lock()
	b.now = func() time.Time { return time.Now().Add(time.Second) }
	b.mu.Unlock()

	assert.True(t, b.allow(), "breaker should enter probation after the timeout")
	state, _, _, _ := b.snapshot()
	assert.Equal(t, StateHalfOpen, state)
}

func TestBreaker_HalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	b := newBreaker(1, 2, time.Minute)

	b.recordFailure()
	advanceBreakerClock(b, 2*time.Minute)
	require.True(t, b.allow())

	b.recordSuccess()
	state, _, _, _ := b.snapshot()
	assert.Equal(t, StateHalfOpen, state, "one success is below the threshold")

	b.recordSuccess()
	state, _, _, _ = b.snapshot()
	assert.Equal(t, StateClosed, state)
}

func TestBreaker_HalfOpenReopensOnFailure(t *testing.T) {
	b := newBreaker(1, 2, time.Minute)

	b.recordFailure()
	advanceBreakerClock(b, 2*time.Minute)
	require.True(t, b.allow())

	advanceBreakerClock(b, 0) // probation failure happens "now"
	b.recordFailure()
	state, _, _, _ := b.snapshot()
	assert.Equal(t, StateOpen, state)
	assert.False(t, b.allow())
}

// advanceBreakerClock pins the breaker clock to real time plus offset.
func advanceBreakerClock(b *breaker, offset time.Duration) {
	b.mu.Lock()
	b.now = func() time.Time { return time.Now().Add(offset) }
	b.mu.Unlock()
}
