// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package connpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/poiesic/conduit/core"
)

// Operation is a unit of work executed against the guarded dependency.
// It must honor ctx cancellation; the pool abandons (but cannot abort)
// operations that outlive the call timeout.
type Operation func(ctx context.Context) error

// HealthProbe checks the guarded dependency, independent of request traffic.
type HealthProbe func(ctx context.Context) error

// Config bounds and tunes a Pool.
type Config struct {
	// InitialConnections is the starting connection ceiling.
	InitialConnections int

	// MinConnections is the hard floor for adaptive sizing.
	MinConnections int

	// MaxConnections is the hard ceiling for adaptive sizing.
	MaxConnections int

	// AcquireTimeout bounds how long a call waits for a free slot.
	AcquireTimeout time.Duration

	// CallTimeout is the hard per-call budget once a slot is held.
	CallTimeout time.Duration

	// FailureThreshold is the consecutive-failure count that opens the breaker.
	FailureThreshold int

	// SuccessThreshold is the half-open success count that closes the breaker.
	SuccessThreshold int

	// RecoveryTimeout is how long the breaker stays open before probation.
	RecoveryTimeout time.Duration

	// HealthInterval is the probe period. Zero disables probing.
	HealthInterval time.Duration

	// ResizeInterval is the adaptive sizing period. Zero disables resizing.
	ResizeInterval time.Duration

	// ScaleUpUtilization is the utilization above which the pool grows.
	ScaleUpUtilization float64

	// ScaleDownUtilization is the utilization below which the pool shrinks
	// when no waiters are queued.
	ScaleDownUtilization float64
}

// DefaultConfig returns settings suitable for a vector store dependency.
func DefaultConfig() Config {
	return Config{
		InitialConnections:   4,
		MinConnections:       2,
		MaxConnections:       16,
		AcquireTimeout:       5 * time.Second,
		CallTimeout:          30 * time.Second,
		FailureThreshold:     5,
		SuccessThreshold:     2,
		RecoveryTimeout:      15 * time.Second,
		HealthInterval:       30 * time.Second,
		ResizeInterval:       10 * time.Second,
		ScaleUpUtilization:   0.8,
		ScaleDownUtilization: 0.3,
	}
}

func (c *Config) validate() error {
	if c.MinConnections < 1 || c.MaxConnections < c.MinConnections {
		return fmt.Errorf("%w: connection bounds [%d,%d]", core.ErrValidation, c.MinConnections, c.MaxConnections)
	}
	if c.InitialConnections < c.MinConnections || c.InitialConnections > c.MaxConnections {
		return fmt.Errorf("%w: initial connections %d outside [%d,%d]", core.ErrValidation, c.InitialConnections, c.MinConnections, c.MaxConnections)
	}
	if c.AcquireTimeout <= 0 || c.CallTimeout <= 0 {
		return fmt.Errorf("%w: acquire and call timeouts must be positive", core.ErrValidation)
	}
	if c.FailureThreshold < 1 || c.SuccessThreshold < 1 {
		return fmt.Errorf("%w: breaker thresholds must be positive", core.ErrValidation)
	}
	return nil
}

// Pool gates calls to the external vector store: a circuit breaker in front
// of a FIFO connection-slot pool with adaptive sizing and a periodic health
// probe. A single Pool instance guards one dependency process-wide.
type Pool struct {
	cfg    Config
	br     *breaker
	probe  HealthProbe
	logger *slog.Logger

	mu      sync.Mutex
	max     int
	active  int
	waiters []chan struct{} // FIFO
	closed  bool

	totalCalls atomic.Int64
	successes  atomic.Int64
	failures   atomic.Int64
	timeouts   atomic.Int64
	rejections atomic.Int64

	healthMu      sync.Mutex
	healthOK      bool
	lastHealthErr string

	done chan struct{}
	wg   sync.WaitGroup
}

// Metrics is a point-in-time snapshot of the pool and its breaker.
type Metrics struct {
	MaxConnections      int
	ActiveConnections   int
	WaitingAcquires     int
	TotalCalls          int64
	Successes           int64
	Failures            int64
	Timeouts            int64
	Rejections          int64
	BreakerState        string
	ConsecutiveFailures int
	LastFailure         time.Time
	StateTransitions    int64
	HealthOK            bool
	LastHealthError     string
}

// New creates a pool. probe may be nil when HealthInterval is zero.
func New(cfg Config, probe HealthProbe) (*Pool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.HealthInterval > 0 && probe == nil {
		return nil, fmt.Errorf("%w: health interval set without a probe", core.ErrValidation)
	}

	p := &Pool{
		cfg:      cfg,
		br:       newBreaker(cfg.FailureThreshold, cfg.SuccessThreshold, cfg.RecoveryTimeout),
		probe:    probe,
		logger:   slog.Default().With("component", "connpool"),
		max:      cfg.InitialConnections,
		healthOK: true,
		done:     make(chan struct{}),
	}

	if cfg.HealthInterval > 0 {
		p.wg.Add(1)
		go p.healthLoop()
	}
	if cfg.ResizeInterval > 0 {
		p.wg.Add(1)
		go p.resizeLoop()
	}
	return p, nil
}

// Execute runs op under the breaker, a connection slot, and the hard call
// timeout. The slot is released on every exit path. Breaker-open failures
// propagate immediately without invoking op.
func (p *Pool) Execute(ctx context.Context, op Operation) error {
	p.totalCalls.Add(1)

	if !p.br.allow() {
		p.rejections.Add(1)
		return ErrCircuitOpen
	}

	if err := p.acquire(ctx); err != nil {
		return err
	}
	defer p.release()

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	result := make(chan error, 1)
	go func() {
		result <- op(callCtx)
	}()

	var err error
	select {
	case err = <-result:
	case <-callCtx.Done():
		// The in-flight result, if any, is discarded.
		err = callCtx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		// The hard call timeout fired, not the caller's own deadline.
		p.timeouts.Add(1)
		err = fmt.Errorf("%w: call exceeded %s", core.ErrTimeout, p.cfg.CallTimeout)
	}

	if err != nil {
		p.failures.Add(1)
		// Caller cancellation says nothing about dependency health.
		if !errors.Is(err, context.Canceled) {
			p.br.recordFailure()
		}
		return err
	}

	p.successes.Add(1)
	p.br.recordSuccess()
	return nil
}

// acquire claims a connection slot, queueing FIFO behind current holders.
func (p *Pool) acquire(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	if p.active < p.max {
		p.active++
		p.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	timer := time.NewTimer(p.cfg.AcquireTimeout)
	defer timer.Stop()

	select {
	case <-w:
		return nil
	case <-timer.C:
		p.abandonWaiter(w)
		return ErrAcquireTimeout
	case <-ctx.Done():
		p.abandonWaiter(w)
		return ctx.Err()
	case <-p.done:
		p.abandonWaiter(w)
		return ErrPoolClosed
	}
}

// abandonWaiter removes w from the wait list. If the grant raced ahead of
// the timeout, the already-transferred slot is handed back.
func (p *Pool) abandonWaiter(w chan struct{}) {
	p.mu.Lock()
	for i, cand := range p.waiters {
		if cand == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			p.mu.Unlock()
			return
		}
	}
	p.mu.Unlock()

	// Not in the list: the slot was granted concurrently. Return it.
	p.release()
}

// release frees a slot, handing it to the oldest waiter when one exists
// and the ceiling has not shrunk below the active count.
func (p *Pool) release() {
	p.mu.Lock()
	if len(p.waiters) > 0 && p.active <= p.max {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		close(w) // slot transfers, active count unchanged
	} else {
		p.active--
	}
	p.mu.Unlock()
}

// setMax applies a new ceiling and admits waiters into freed headroom.
func (p *Pool) setMax(n int) {
	p.mu.Lock()
	p.max = n
	for p.active < p.max && len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.active++
		close(w)
	}
	p.mu.Unlock()
}

func (p *Pool) healthLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.HealthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.runProbe()
		case <-p.done:
			return
		}
	}
}

func (p *Pool) runProbe() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.CallTimeout)
	defer cancel()

	err := p.probe(ctx)
	p.healthMu.Lock()
	if err != nil {
		p.healthOK = false
		p.lastHealthErr = err.Error()
	} else {
		p.healthOK = true
		p.lastHealthErr = ""
	}
	p.healthMu.Unlock()

	if err != nil {
		p.logger.Warn("health probe failed", "err", err)
		p.br.recordFailure()
	}
}

func (p *Pool) resizeLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.ResizeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.resize()
		case <-p.done:
			return
		}
	}
}

// resize grows the ceiling under pressure and shrinks it when idle,
// bounded by [MinConnections, MaxConnections].
func (p *Pool) resize() {
	p.mu.Lock()
	active, max, waiting := p.active, p.max, len(p.waiters)
	p.mu.Unlock()

	util := float64(active) / float64(max)
	switch {
	case (util > p.cfg.ScaleUpUtilization || waiting > 0) && max < p.cfg.MaxConnections:
		p.setMax(max + 1)
		p.logger.Debug("scaled pool up", "max", max+1, "utilization", util, "waiting", waiting)
	case util < p.cfg.ScaleDownUtilization && waiting == 0 && max > p.cfg.MinConnections:
		p.setMax(max - 1)
		p.logger.Debug("scaled pool down", "max", max-1, "utilization", util)
	}
}

// Metrics returns a snapshot of pool and breaker state.
func (p *Pool) Metrics() Metrics {
	p.mu.Lock()
	max, active, waiting := p.max, p.active, len(p.waiters)
	p.mu.Unlock()

	state, consecutive, lastFailure, transitions := p.br.snapshot()

	p.healthMu.Lock()
	healthOK, lastHealthErr := p.healthOK, p.lastHealthErr
	p.healthMu.Unlock()

	return Metrics{
		MaxConnections:      max,
		ActiveConnections:   active,
		WaitingAcquires:     waiting,
		TotalCalls:          p.totalCalls.Load(),
		Successes:           p.successes.Load(),
		Failures:            p.failures.Load(),
		Timeouts:            p.timeouts.Load(),
		Rejections:          p.rejections.Load(),
		BreakerState:        state.String(),
		ConsecutiveFailures: consecutive,
		LastFailure:         lastFailure,
		StateTransitions:    transitions,
		HealthOK:            healthOK,
		LastHealthError:     lastHealthErr,
	}
}

// Close stops the background loops and rejects further calls.
// In-flight operations finish on their own.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.done)
	p.wg.Wait()
}
