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

	"github.com/poiesic/conduit/slot"
)

// JobContext is handed to processors. It exposes the job identity, its
// payload, the shared slot pools, and a progress callback.
type JobContext struct {
	ctx      context.Context
	jobID    string
	ownerID  string
	payload  any
	slots    *slot.Set
	progress func(pct float64)
}

// Context returns the attempt context, cancelled on job cancel or timeout.
func (jc *JobContext) Context() context.Context { return jc.ctx }

func (jc *JobContext) JobID() string   { return jc.jobID }
func (jc *JobContext) OwnerID() string { return jc.ownerID }
func (jc *JobContext) Payload() any    { return jc.payload }

// Slots returns the scheduler's slot-pool set. May be nil when the
// scheduler was built without one.
func (jc *JobContext) Slots() *slot.Set { return jc.slots }

// Cancelled reports whether the attempt has been cancelled or timed out.
// Long-running processors should check it between stages.
func (jc *JobContext) Cancelled() bool { return jc.ctx.Err() != nil }

// ReportProgress records attempt progress, clamped to [0, 100].
func (jc *JobContext) ReportProgress(pct float64) {
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}
	jc.progress(pct)
}
