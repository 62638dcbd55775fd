package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/conduit/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchedulerConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxConcurrent = 1
	cfg.MaxQueued = 16
	cfg.HistorySize = 8
	cfg.PollInterval = 5 * time.Millisecond
	cfg.DefaultMaxAttempts = 1
	cfg.DefaultRetryDelay = time.Millisecond
	cfg.DefaultTimeout = time.Second
	return cfg
}

func newTestScheduler(t *testing.T, cfg Config) *Scheduler {
	t.Helper()
	s, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func waitForState(t *testing.T, s *Scheduler, id string, want JobState) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		var err error
		snap, err = s.Job(id)
		return err == nil && snap.State == want
	}, 2*time.Second, time.Millisecond, "job %s never reached %s", id, want)
	return snap
}

func TestScheduler_SubmitValidation(t *testing.T) {
	s := newTestScheduler(t, testSchedulerConfig())

	_, err := s.Submit("user", nil, nil, JobConfig{})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = s.Submit("", nil, func(ctx context.Context, jc *JobContext) error { return nil }, JobConfig{})
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestScheduler_QueueFull(t *testing.T) {
	cfg := testSchedulerConfig()
	cfg.MaxQueued = 2
	s := newTestScheduler(t, cfg)
	s.Pause()

	noop := func(ctx context.Context, jc *JobContext) error { return nil }
	_, err := s.Submit("user", nil, noop, JobConfig{})
	require.NoError(t, err)
	_, err = s.Submit("user", nil, noop, JobConfig{})
	require.NoError(t, err)

	_, err = s.Submit("user", nil, noop, JobConfig{})
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestScheduler_PriorityOrderWithFIFOTiebreak(t *testing.T) {
	s := newTestScheduler(t, testSchedulerConfig())

	block := make(chan struct{})
	blockID, err := s.Submit("user", nil, func(ctx context.Context, jc *JobContext) error {
		<-block
		return nil
	}, JobConfig{})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Stats().Running == 1 }, time.Second, time.Millisecond)

	var mu sync.Mutex
	var order []string
	track := func(name string) Processor {
		return func(ctx context.Context, jc *JobContext) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	_, err = s.Submit("user", nil, track("low-first"), JobConfig{Priority: 1})
	require.NoError(t, err)
	_, err = s.Submit("user", nil, track("high"), JobConfig{Priority: 5})
	require.NoError(t, err)
	_, err = s.Submit("user", nil, track("low-second"), JobConfig{Priority: 1})
	require.NoError(t, err)

	close(block)
	waitForState(t, s, blockID, StateCompleted)
	require.Eventually(t, func() bool { return s.Stats().Processed == 4 }, 2*time.Second, time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"high", "low-first", "low-second"}, order)
}

func TestScheduler_RetryableFailureRetriesWithBackoff(t *testing.T) {
	s := newTestScheduler(t, testSchedulerConfig())

	var mu sync.Mutex
	calls := 0
	id, err := s.Submit("user", nil, func(ctx context.Context, jc *JobContext) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return errors.New("connection reset")
		}
		return nil
	}, JobConfig{MaxAttempts: 3, RetryDelay: time.Millisecond})
	require.NoError(t, err)

	snap := waitForState(t, s, id, StateCompleted)
	assert.Equal(t, 2, snap.Attempts)
	assert.Len(t, snap.Errors, 1)
	assert.Equal(t, int64(1), s.Stats().Retried)
}

func TestScheduler_NonRetryableFailureFailsImmediately(t *testing.T) {
	s := newTestScheduler(t, testSchedulerConfig())

	id, err := s.Submit("user", nil, func(ctx context.Context, jc *JobContext) error {
		return errors.New("permission denied")
	}, JobConfig{MaxAttempts: 3, RetryDelay: time.Millisecond})
	require.NoError(t, err)

	snap := waitForState(t, s, id, StateFailed)
	assert.Equal(t, 1, snap.Attempts, "permanent errors must not consume further attempts")
	assert.Equal(t, int64(0), s.Stats().Retried)
}

func TestScheduler_AttemptBudgetExhausted(t *testing.T) {
	s := newTestScheduler(t, testSchedulerConfig())

	id, err := s.Submit("user", nil, func(ctx context.Context, jc *JobContext) error {
		return errors.New("flaky backend")
	}, JobConfig{MaxAttempts: 2, RetryDelay: time.Millisecond})
	require.NoError(t, err)

	snap := waitForState(t, s, id, StateFailed)
	assert.Equal(t, 2, snap.Attempts)
	assert.Len(t, snap.Errors, 2)
}

func TestScheduler_TimeoutConsumesAttempt(t *testing.T) {
	s := newTestScheduler(t, testSchedulerConfig())

	id, err := s.Submit("user", nil, func(ctx context.Context, jc *JobContext) error {
		<-ctx.Done()
		return ctx.Err()
	}, JobConfig{MaxAttempts: 1, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)

	snap := waitForState(t, s, id, StateFailed)
	require.Len(t, snap.Errors, 1)
	assert.Contains(t, snap.Errors[0], "timed out")
}

func TestScheduler_CancelQueuedJob(t *testing.T) {
	s := newTestScheduler(t, testSchedulerConfig())
	s.Pause()

	id, err := s.Submit("user", nil, func(ctx context.Context, jc *JobContext) error { return nil }, JobConfig{})
	require.NoError(t, err)

	require.NoError(t, s.Cancel(id))
	snap, err := s.Job(id)
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, snap.State)
	assert.Equal(t, 0, s.Stats().Queued)

	s.Resume()
}

func TestScheduler_CancelProcessingJob(t *testing.T) {
	s := newTestScheduler(t, testSchedulerConfig())

	started := make(chan struct{})
	id, err := s.Submit("user", nil, func(ctx context.Context, jc *JobContext) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}, JobConfig{MaxAttempts: 3})
	require.NoError(t, err)
	<-started

	require.NoError(t, s.Cancel(id))
	snap := waitForState(t, s, id, StateCancelled)
	assert.Equal(t, StateCancelled, snap.State, "cancelled jobs must not retry")
}

func TestScheduler_CancelFinishedJobFails(t *testing.T) {
	s := newTestScheduler(t, testSchedulerConfig())

	id, err := s.Submit("user", nil, func(ctx context.Context, jc *JobContext) error { return nil }, JobConfig{})
	require.NoError(t, err)
	waitForState(t, s, id, StateCompleted)

	err = s.Cancel(id)
	assert.ErrorIs(t, err, ErrNotCancellable)

	err = s.Cancel("no-such-job")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestScheduler_PauseHoldsQueue(t *testing.T) {
	s := newTestScheduler(t, testSchedulerConfig())
	s.Pause()

	id, err := s.Submit("user", nil, func(ctx context.Context, jc *JobContext) error { return nil }, JobConfig{})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	snap, err := s.Job(id)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, snap.State)

	s.Resume()
	waitForState(t, s, id, StateCompleted)
}

func TestScheduler_MemoryPredicateHoldsQueue(t *testing.T) {
	cfg := testSchedulerConfig()
	cfg.MemoryHighWater = 1 << 20
	s := newTestScheduler(t, cfg)

	s.mu.Lock()
	s.readMem = func() uint64 { return 2 << 20 } // above the high water
	s.mu.Unlock()

	id, err := s.Submit("user", nil, func(ctx context.Context, jc *JobContext) error { return nil }, JobConfig{})
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	snap, err := s.Job(id)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, snap.State, "jobs must not start above the memory high water")

	s.mu.Lock()
	s.readMem = func() uint64 { return 0 }
	s.mu.Unlock()
	waitForState(t, s, id, StateCompleted)
}

func TestScheduler_ProgressVisibleInSnapshot(t *testing.T) {
	s := newTestScheduler(t, testSchedulerConfig())

	release := make(chan struct{})
	id, err := s.Submit("user", nil, func(ctx context.Context, jc *JobContext) error {
		jc.ReportProgress(42)
		<-release
		return nil
	}, JobConfig{})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, jerr := s.Job(id)
		return jerr == nil && snap.Progress == 42
	}, time.Second, time.Millisecond)

	close(release)
	snap := waitForState(t, s, id, StateCompleted)
	assert.Equal(t, float64(100), snap.Progress)
}

func TestScheduler_PanicBecomesFailure(t *testing.T) {
	s := newTestScheduler(t, testSchedulerConfig())

	id, err := s.Submit("user", nil, func(ctx context.Context, jc *JobContext) error {
		panic("bad payload shape")
	}, JobConfig{MaxAttempts: 1})
	require.NoError(t, err)

	snap := waitForState(t, s, id, StateFailed)
	require.Len(t, snap.Errors, 1)
	assert.Contains(t, snap.Errors[0], "panic")
}

func TestScheduler_HistoryRingEvictsOldest(t *testing.T) {
	cfg := testSchedulerConfig()
	cfg.HistorySize = 2
	s := newTestScheduler(t, cfg)

	noop := func(ctx context.Context, jc *JobContext) error { return nil }
	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.Submit("user", nil, noop, JobConfig{})
		require.NoError(t, err)
		waitForState(t, s, id, StateCompleted)
		ids = append(ids, id)
	}

	_, err := s.Job(ids[0])
	assert.ErrorIs(t, err, ErrJobNotFound, "oldest snapshot should be evicted")
	_, err = s.Job(ids[2])
	assert.NoError(t, err)
}

func TestScheduler_SubmitAfterClose(t *testing.T) {
	s, err := New(testSchedulerConfig(), nil)
	require.NoError(t, err)
	s.Close()

	_, err = s.Submit("user", nil, func(ctx context.Context, jc *JobContext) error { return nil }, JobConfig{})
	assert.ErrorIs(t, err, ErrSchedulerClosed)
}
