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


package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/poiesic/conduit/core"
	"github.com/poiesic/conduit/uploadqueue"
)

// consumeLoop feeds the scheduler from the durable queues. Each tick it
// dequeues at most one item per unpaused queue, so queues share scheduler
// capacity fairly.
func (p *Pipeline) consumeLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.ConsumerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.consumeTick()
		}
	}
}

func (p *Pipeline) consumeTick() {
	stats := p.sched.Stats()
	if stats.Paused {
		return
	}
	headroom := p.cfg.Scheduler.MaxQueued - stats.Queued
	if headroom <= 0 {
		return
	}

	for _, record := range p.queues.All() {
		if headroom <= 0 {
			return
		}
		if record.Paused || record.PendingCount() == 0 {
			continue
		}

		item, err := p.queues.Dequeue(context.Background(), record.UserID, record.Name)
		if err != nil {
			if !errors.Is(err, uploadqueue.ErrNoPendingItems) && !errors.Is(err, uploadqueue.ErrQueuePaused) {
				p.logger.Error("dequeue failed", "queue", core.QueueKey(record.UserID, record.Name), "err", err)
			}
			continue
		}

		payload := fileJob{
			UserID: record.UserID,
			Queue:  record.Name,
			ItemID: item.Id,
			File:   item.File,
		}
		if _, err := p.submitJob(payload, 0); err != nil {
			p.logger.Error("job submit failed, failing queue item",
				"queue", core.QueueKey(record.UserID, record.Name), "item", item.Id, "err", err)
			if merr := p.queues.MarkFailed(context.Background(), record.UserID, record.Name, item.Id, err.Error()); merr != nil {
				p.logger.Error("marking item failed", "item", item.Id, "err", merr)
			}
			continue
		}
		headroom--
	}
}
