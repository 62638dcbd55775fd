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
	"context"
	"time"
)

// JobState is the lifecycle state of a scheduled job.
type JobState int

const (
	StateQueued JobState = iota + 1
	StateProcessing
	StateRetrying
	StateCompleted
	StateFailed
	StateCancelled
)

func (s JobState) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateProcessing:
		return "processing"
	case StateRetrying:
		return "retrying"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Terminal reports whether the state admits no further transitions.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Processor is the unit of work a job runs. The context carries the
// per-job timeout and cancellation.
type Processor func(ctx context.Context, jc *JobContext) error

// JobConfig is the per-job submission config. Zero fields take the
// scheduler defaults.
type JobConfig struct {
	// Priority orders dequeue; higher runs first, FIFO within a priority.
	Priority int

	// MaxAttempts is the total number of tries, first run included.
	MaxAttempts int

	// RetryDelay is the linear backoff unit between attempts.
	RetryDelay time.Duration

	// Timeout is the hard wall-clock limit per attempt.
	Timeout time.Duration
}

type job struct {
	id       string
	ownerID  string
	payload  any
	proc     Processor
	cfg      JobConfig
	seq      uint64
	index    int // heap index, -1 when not queued

	state      JobState
	cancelled  bool
	attempts   int
	errs       []string
	progress   float64
	enqueuedAt time.Time
	startedAt  time.Time
	finishedAt time.Time
	cancel     context.CancelFunc
}

// Snapshot is a point-in-time copy of a job's observable state.
type Snapshot struct {
	ID         string
	OwnerID    string
	State      JobState
	Priority   int
	Attempts   int
	Progress   float64
	Errors     []string
	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time
}

func (j *job) snapshot() Snapshot {
	errs := make([]string, len(j.errs))
	copy(errs, j.errs)
	return Snapshot{
		ID:         j.id,
		OwnerID:    j.ownerID,
		State:      j.state,
		Priority:   j.cfg.Priority,
		Attempts:   j.attempts,
		Progress:   j.progress,
		Errors:     errs,
		EnqueuedAt: j.enqueuedAt,
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
	}
}
