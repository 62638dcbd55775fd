package connpool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/conduit/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialConnections = 2
	cfg.MinConnections = 1
	cfg.MaxConnections = 4
	cfg.AcquireTimeout = 100 * time.Millisecond
	cfg.CallTimeout = 200 * time.Millisecond
	cfg.FailureThreshold = 3
	cfg.SuccessThreshold = 1
	cfg.RecoveryTimeout = time.Minute
	cfg.HealthInterval = 0 // no probing unless a test opts in
	cfg.ResizeInterval = 0
	return cfg
}

func newTestPool(t *testing.T, cfg Config, probe HealthProbe) *Pool {
	t.Helper()
	p, err := New(cfg, probe)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestPool_ExecuteSuccess(t *testing.T) {
	p := newTestPool(t, testConfig(), nil)

	err := p.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	m := p.Metrics()
	assert.Equal(t, int64(1), m.TotalCalls)
	assert.Equal(t, int64(1), m.Successes)
	assert.Equal(t, 0, m.ActiveConnections, "slot must be released after the call")
}

func TestPool_BreakerOpensAndFailsFast(t *testing.T) {
	p := newTestPool(t, testConfig(), nil)
	boom := errors.New("connection refused")

	for i := 0; i < 3; i++ {
		err := p.Execute(context.Background(), func(ctx context.Context) error { return boom })
		require.ErrorIs(t, err, boom)
	}

	var touched atomic.Bool
	err := p.Execute(context.Background(), func(ctx context.Context) error {
		touched.Store(true)
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, touched.Load(), "open breaker must not invoke the operation")

	m := p.Metrics()
	assert.Equal(t, "open", m.BreakerState)
	assert.Equal(t, int64(1), m.Rejections)
}

func TestPool_BreakerRecoversThroughHalfOpen(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = 20 * time.Millisecond
	p := newTestPool(t, cfg, nil)

	err := p.Execute(context.Background(), func(ctx context.Context) error { return errors.New("down") })
	require.Error(t, err)
	require.ErrorIs(t, p.Execute(context.Background(), func(ctx context.Context) error { return nil }), ErrCircuitOpen)

	time.Sleep(30 * time.Millisecond)

	err = p.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err, "trial call should be admitted after the recovery timeout")
	assert.Equal(t, "closed", p.Metrics().BreakerState)
}

func TestPool_CallTimeout(t *testing.T) {
	p := newTestPool(t, testConfig(), nil)

	err := p.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, core.ErrTimeout)

	m := p.Metrics()
	assert.Equal(t, int64(1), m.Timeouts)
	assert.Equal(t, 0, m.ActiveConnections, "slot must be released on timeout")
}

func TestPool_AcquireTimeoutWhenSaturated(t *testing.T) {
	cfg := testConfig()
	cfg.InitialConnections = 1
	cfg.MinConnections = 1
	cfg.CallTimeout = 2 * time.Second
	p := newTestPool(t, cfg, nil)

	block := make(chan struct{})
	go func() {
		_ = p.Execute(context.Background(), func(ctx context.Context) error {
			<-block
			return nil
		})
	}()
	require.Eventually(t, func() bool { return p.Metrics().ActiveConnections == 1 }, time.Second, time.Millisecond)

	err := p.Execute(context.Background(), func(ctx context.Context) error { return nil })
	require.ErrorIs(t, err, ErrAcquireTimeout)
	close(block)
}

func TestPool_ReleaseAdmitsOldestWaiter(t *testing.T) {
	cfg := testConfig()
	cfg.InitialConnections = 1
	cfg.AcquireTimeout = time.Second
	cfg.CallTimeout = 2 * time.Second
	p := newTestPool(t, cfg, nil)

	block := make(chan struct{})
	go func() {
		_ = p.Execute(context.Background(), func(ctx context.Context) error {
			<-block
			return nil
		})
	}()
	require.Eventually(t, func() bool { return p.Metrics().ActiveConnections == 1 }, time.Second, time.Millisecond)

	ran := make(chan int, 2)
	for i := 1; i <= 2; i++ {
		go func(n int) {
			_ = p.Execute(context.Background(), func(ctx context.Context) error {
				ran <- n
				return nil
			})
		}(i)
		require.Eventually(t, func() bool { return p.Metrics().WaitingAcquires == i }, time.Second, time.Millisecond)
		time.Sleep(5 * time.Millisecond)
	}

	close(block)
	first := <-ran
	assert.Equal(t, 1, first, "oldest waiter must run first")
	<-ran
}

func TestPool_HealthProbeFeedsBreaker(t *testing.T) {
	cfg := testConfig()
	cfg.FailureThreshold = 2
	cfg.HealthInterval = 10 * time.Millisecond
	probeErr := errors.New("store unreachable")
	p := newTestPool(t, cfg, func(ctx context.Context) error { return probeErr })

	require.Eventually(t, func() bool {
		m := p.Metrics()
		return m.BreakerState == "open" && !m.HealthOK
	}, time.Second, 5*time.Millisecond, "failing probes alone should open the breaker")

	err := p.Execute(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestPool_AdaptiveResize(t *testing.T) {
	cfg := testConfig()
	cfg.InitialConnections = 1
	cfg.MinConnections = 1
	cfg.MaxConnections = 3
	cfg.ResizeInterval = 10 * time.Millisecond
	cfg.CallTimeout = 5 * time.Second
	cfg.AcquireTimeout = 5 * time.Second
	p := newTestPool(t, cfg, nil)

	block := make(chan struct{})
	for i := 0; i < 3; i++ {
		go func() {
			_ = p.Execute(context.Background(), func(ctx context.Context) error {
				<-block
				return nil
			})
		}()
	}

	require.Eventually(t, func() bool { return p.Metrics().MaxConnections > 1 }, time.Second, 5*time.Millisecond,
		"queued waiters should scale the pool up")

	close(block)
	require.Eventually(t, func() bool {
		m := p.Metrics()
		return m.ActiveConnections == 0 && m.MaxConnections == cfg.MinConnections
	}, 2*time.Second, 5*time.Millisecond, "idle pool should shrink back to the floor")
}

func TestPool_ClosedRejectsCalls(t *testing.T) {
	p, err := New(testConfig(), nil)
	require.NoError(t, err)
	p.Close()

	err = p.Execute(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolClosed)
}
