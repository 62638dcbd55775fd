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


package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/conduit/core"
	"github.com/poiesic/conduit/slot"
)

// Config tunes a Scheduler.
type Config struct {
	// MaxConcurrent bounds jobs running at once.
	MaxConcurrent int

	// MaxQueued bounds jobs waiting to run. Submit fails with ErrQueueFull
	// beyond it.
	MaxQueued int

	// HistorySize bounds the ring of finished-job snapshots.
	HistorySize int

	// MemoryHighWater stops dequeuing while process heap allocation is at
	// or above this many bytes. 0 disables the check.
	MemoryHighWater uint64

	// PollInterval is how often the drain loop re-checks capacity and
	// memory on its own, independent of submit/finish signals.
	PollInterval time.Duration

	// Defaults applied to zero-valued JobConfig fields.
	DefaultMaxAttempts int
	DefaultRetryDelay  time.Duration
	DefaultTimeout     time.Duration
}

// DefaultConfig returns settings suitable for file-ingestion workloads.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:      4,
		MaxQueued:          256,
		HistorySize:        128,
		MemoryHighWater:    0,
		PollInterval:       250 * time.Millisecond,
		DefaultMaxAttempts: 3,
		DefaultRetryDelay:  5 * time.Second,
		DefaultTimeout:     10 * time.Minute,
	}
}

func (c *Config) validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("%w: max concurrent must be positive", core.ErrValidation)
	}
	if c.MaxQueued < 1 {
		return fmt.Errorf("%w: max queued must be positive", core.ErrValidation)
	}
	if c.HistorySize < 1 {
		return fmt.Errorf("%w: history size must be positive", core.ErrValidation)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive", core.ErrValidation)
	}
	if c.DefaultMaxAttempts < 1 {
		return fmt.Errorf("%w: default max attempts must be positive", core.ErrValidation)
	}
	return nil
}

// Stats is a rolling summary of scheduler activity.
type Stats struct {
	Queued      int
	Running     int
	Processed   int64
	Failed      int64
	Retried     int64
	Cancelled   int64
	AvgDuration time.Duration
	Paused      bool
}

// Scheduler runs submitted jobs in strict priority order, FIFO within a
// priority, through a bounded worker pool. Retryable failures are
// re-enqueued with linear backoff until the attempt budget runs out.
type Scheduler struct {
	cfg    Config
	slots  *slot.Set
	pool   *ants.Pool
	logger *slog.Logger

	mu          sync.Mutex
	queue       jobHeap
	jobs        map[string]*job // queued, processing, and retrying
	history     []Snapshot      // ring of finished jobs
	historyNext int
	running     int
	seq         uint64
	paused      bool
	closed      bool

	processed     int64
	failed        int64
	retried       int64
	cancelledJobs int64
	totalDuration time.Duration

	wake chan struct{}
	done chan struct{}
	wg   sync.WaitGroup

	readMem func() uint64
}

// New creates a scheduler. The slot set is handed to processors through
// their JobContext and may be nil.
func New(cfg Config, slots *slot.Set) (*Scheduler, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(cfg.MaxConcurrent)
	if err != nil {
		return nil, err
	}

	s := &Scheduler{
		cfg:     cfg,
		slots:   slots,
		pool:    pool,
		logger:  slog.Default().With("component", "scheduler"),
		jobs:    make(map[string]*job),
		history: make([]Snapshot, 0, cfg.HistorySize),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		readMem: processHeapBytes,
	}

	s.wg.Add(1)
	go s.loop()
	return s, nil
}

// Submit enqueues a job and returns its id. Zero-valued JobConfig fields
// take the scheduler defaults.
func (s *Scheduler) Submit(ownerID string, payload any, proc Processor, jcfg JobConfig) (string, error) {
	if proc == nil {
		return "", fmt.Errorf("%w: processor required", core.ErrValidation)
	}
	if ownerID == "" {
		return "", fmt.Errorf("%w: owner id required", core.ErrValidation)
	}
	if jcfg.MaxAttempts < 0 || jcfg.RetryDelay < 0 || jcfg.Timeout < 0 {
		return "", fmt.Errorf("%w: negative job config", core.ErrValidation)
	}
	if jcfg.MaxAttempts == 0 {
		jcfg.MaxAttempts = s.cfg.DefaultMaxAttempts
	}
	if jcfg.RetryDelay == 0 {
		jcfg.RetryDelay = s.cfg.DefaultRetryDelay
	}
	if jcfg.Timeout == 0 {
		jcfg.Timeout = s.cfg.DefaultTimeout
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrSchedulerClosed
	}
	if s.queue.Len() >= s.cfg.MaxQueued {
		s.mu.Unlock()
		return "", fmt.Errorf("%w: %d jobs queued", ErrQueueFull, s.cfg.MaxQueued)
	}

	s.seq++
	j := &job{
		id:         uuid.NewString(),
		ownerID:    ownerID,
		payload:    payload,
		proc:       proc,
		cfg:        jcfg,
		seq:        s.seq,
		index:      -1,
		state:      StateQueued,
		enqueuedAt: time.Now(),
	}
	heap.Push(&s.queue, j)
	s.jobs[j.id] = j
	s.mu.Unlock()

	s.signal()
	return j.id, nil
}

// Job returns a snapshot of a live or recently finished job.
func (s *Scheduler) Job(id string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, ok := s.jobs[id]; ok {
		return j.snapshot(), nil
	}
	for _, snap := range s.history {
		if snap.ID == id {
			return snap, nil
		}
	}
	return Snapshot{}, ErrJobNotFound
}

// Cancel stops a job. Queued jobs are removed immediately; processing
// jobs have their context cancelled and finish as cancelled. Jobs in any
// other state cannot be cancelled.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	j, ok := s.jobs[id]
	if !ok {
		for _, snap := range s.history {
			if snap.ID == id {
				s.mu.Unlock()
				return fmt.Errorf("%w: job %s is %s", ErrNotCancellable, id, snap.State)
			}
		}
		s.mu.Unlock()
		return ErrJobNotFound
	}

	switch j.state {
	case StateQueued:
		heap.Remove(&s.queue, j.index)
		j.cancelled = true
		j.state = StateCancelled
		s.cancelledJobs++
		s.recordLocked(j, time.Now())
		s.mu.Unlock()
		return nil
	case StateProcessing:
		j.cancelled = true
		cancel := j.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return nil
	default:
		state := j.state
		s.mu.Unlock()
		return fmt.Errorf("%w: job %s is %s", ErrNotCancellable, id, state)
	}
}

// Pause stops dequeuing. Running jobs are unaffected.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume restarts dequeuing.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.signal()
}

// Stats returns a rolling activity summary.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	avg := time.Duration(0)
	if s.processed > 0 {
		avg = s.totalDuration / time.Duration(s.processed)
	}
	return Stats{
		Queued:      s.queue.Len(),
		Running:     s.running,
		Processed:   s.processed,
		Failed:      s.failed,
		Retried:     s.retried,
		Cancelled:   s.cancelledJobs,
		AvgDuration: avg,
		Paused:      s.paused,
	}
}

// Close stops dequeuing and waits for running jobs to finish. Queued jobs
// are abandoned.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	if err := s.pool.ReleaseTimeout(10 * time.Second); err != nil {
		s.logger.Warn("worker pool did not drain in time", "err", err)
	}
}

func (s *Scheduler) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		s.dispatch()
		select {
		case <-s.wake:
		case <-ticker.C:
		case <-s.done:
			return
		}
	}
}

// dispatch pops jobs while capacity and the memory predicate allow, then
// hands them to the worker pool outside the lock.
func (s *Scheduler) dispatch() {
	var starting []*job

	s.mu.Lock()
	for !s.paused && !s.closed && s.running < s.cfg.MaxConcurrent && s.queue.Len() > 0 && s.memoryOK() {
		j := heap.Pop(&s.queue).(*job)
		j.state = StateProcessing
		j.startedAt = time.Now()
		s.running++
		starting = append(starting, j)
	}
	s.mu.Unlock()

	for _, j := range starting {
		j := j
		if err := s.pool.Submit(func() { s.run(j) }); err != nil {
			// A worker is mid-recycle; the concurrency bound still holds
			// because running was reserved under the lock.
			go s.run(j)
		}
	}
}

func (s *Scheduler) memoryOK() bool {
	if s.cfg.MemoryHighWater == 0 {
		return true
	}
	return s.readMem() < s.cfg.MemoryHighWater
}

func (s *Scheduler) run(j *job) {
	base, cancel := context.WithCancel(context.Background())
	ctx := base
	if j.cfg.Timeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(base, j.cfg.Timeout)
		defer tcancel()
	}
	defer cancel()

	s.mu.Lock()
	j.cancel = cancel
	s.mu.Unlock()

	jc := &JobContext{
		ctx:     ctx,
		jobID:   j.id,
		ownerID: j.ownerID,
		payload: j.payload,
		slots:   s.slots,
		progress: func(pct float64) {
			s.mu.Lock()
			j.progress = pct
			s.mu.Unlock()
		},
	}

	err := s.invoke(ctx, j, jc)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("%w: attempt exceeded %s", core.ErrTimeout, j.cfg.Timeout)
	}
	s.finish(j, err)
}

// invoke runs the processor and converts panics into attempt errors so a
// bad job can never take the process down.
func (s *Scheduler) invoke(ctx context.Context, j *job, jc *JobContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
			s.logger.Error("job processor panicked", "jobId", j.id, "panic", r)
		}
	}()
	return j.proc(ctx, jc)
}

func (s *Scheduler) finish(j *job, err error) {
	now := time.Now()

	s.mu.Lock()
	j.attempts++
	if err != nil {
		j.errs = append(j.errs, err.Error())
	}

	switch {
	case j.cancelled || (err != nil && errors.Is(err, context.Canceled)):
		j.state = StateCancelled
		s.cancelledJobs++
		s.recordLocked(j, now)

	case err == nil:
		j.state = StateCompleted
		j.progress = 100
		s.processed++
		s.totalDuration += now.Sub(j.startedAt)
		s.recordLocked(j, now)

	case j.attempts < j.cfg.MaxAttempts && core.IsRetryable(err):
		j.state = StateRetrying
		s.retried++
		delay := j.cfg.RetryDelay * time.Duration(j.attempts)
		s.logger.Info("job retry scheduled",
			"jobId", j.id, "attempt", j.attempts, "maxAttempts", j.cfg.MaxAttempts, "delay", delay)
		time.AfterFunc(delay, func() { s.requeue(j) })

	default:
		j.state = StateFailed
		s.failed++
		s.logger.Warn("job failed", "jobId", j.id, "attempts", j.attempts, "err", err)
		s.recordLocked(j, now)
	}

	s.running--
	s.mu.Unlock()
	s.signal()
}

// requeue puts a retrying job back on the queue when its backoff expires.
// Re-enqueued jobs go to the back of their priority band.
func (s *Scheduler) requeue(j *job) {
	s.mu.Lock()
	if s.closed || j.state != StateRetrying {
		s.mu.Unlock()
		return
	}
	s.seq++
	j.seq = s.seq
	j.state = StateQueued
	j.progress = 0
	heap.Push(&s.queue, j)
	s.mu.Unlock()
	s.signal()
}

// recordLocked moves a finished job into the history ring. Caller holds mu.
func (s *Scheduler) recordLocked(j *job, finished time.Time) {
	j.finishedAt = finished
	delete(s.jobs, j.id)

	snap := j.snapshot()
	if len(s.history) < s.cfg.HistorySize {
		s.history = append(s.history, snap)
		return
	}
	s.history[s.historyNext] = snap
	s.historyNext = (s.historyNext + 1) % s.cfg.HistorySize
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func processHeapBytes() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}
