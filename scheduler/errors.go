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

import "errors"

var (
	// ErrQueueFull is returned by Submit when the queue is at capacity.
	ErrQueueFull = errors.New("job queue full")

	// ErrSchedulerClosed is returned for operations after Close.
	ErrSchedulerClosed = errors.New("scheduler closed")

	// ErrJobNotFound is returned when no live or recorded job has the id.
	ErrJobNotFound = errors.New("job not found")

	// ErrNotCancellable is returned by Cancel for jobs that are no longer
	// queued or processing.
	ErrNotCancellable = errors.New("job not cancellable")
)
