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
	"fmt"
	"log/slog"
	"sync"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/poiesic/conduit/ai"
	"github.com/poiesic/conduit/batcher"
	"github.com/poiesic/conduit/cache"
	"github.com/poiesic/conduit/connpool"
	"github.com/poiesic/conduit/core"
	"github.com/poiesic/conduit/progress"
	"github.com/poiesic/conduit/scheduler"
	"github.com/poiesic/conduit/slot"
	"github.com/poiesic/conduit/storage"
	"github.com/poiesic/conduit/uploadqueue"
)

// Deps are the external capabilities the pipeline orchestrates.
type Deps struct {
	Extractor  ai.Extractor
	Embedder   ai.Embedder
	Store      ai.VectorStore
	QueueStore storage.QueueStore
}

func (d *Deps) validate() error {
	if d.Extractor == nil || d.Embedder == nil || d.Store == nil || d.QueueStore == nil {
		return fmt.Errorf("%w: extractor, embedder, store, and queue store are all required", core.ErrValidation)
	}
	return nil
}

// Pipeline owns the full component graph of the ingestion system: slot
// pools, cache, batch collector, connection pool, scheduler, upload queue
// manager, and progress registry. Everything is wired explicitly here;
// no component reaches for globals.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger

	extractor  ai.Extractor
	store      ai.VectorStore
	queueStore storage.QueueStore
	splitter   textsplitter.RecursiveCharacter

	slots   *slot.Set
	cache   *cache.Cache
	batcher *batcher.Collector
	pool    *connpool.Pool
	sched   *scheduler.Scheduler
	queues  *uploadqueue.Manager
	tracker *progress.Registry

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// New constructs the pipeline in dependency order and starts the queue
// consumer. The context bounds startup work (queue restore).
func New(ctx context.Context, cfg Config, deps Deps) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}

	slots := slot.NewSet()
	for name, capacity := range map[string]int{
		SlotDocuments:  cfg.DocumentSlots,
		SlotChunks:     cfg.ChunkSlots,
		SlotEmbeddings: cfg.EmbeddingSlots,
	} {
		pool, err := slot.New(name, capacity)
		if err != nil {
			return nil, err
		}
		slots.Add(pool)
	}

	resultCache, err := cache.New(cfg.Cache)
	if err != nil {
		return nil, err
	}

	collector, err := batcher.New(deps.Embedder, resultCache, cfg.Batcher)
	if err != nil {
		return nil, err
	}

	connPool, err := connpool.New(cfg.ConnPool, deps.Store.Ping)
	if err != nil {
		collector.Close()
		return nil, err
	}

	sched, err := scheduler.New(cfg.Scheduler, slots)
	if err != nil {
		connPool.Close()
		collector.Close()
		return nil, err
	}

	queues, err := uploadqueue.New(ctx, deps.QueueStore, cfg.Queues)
	if err != nil {
		sched.Close()
		connPool.Close()
		collector.Close()
		return nil, err
	}

	p := &Pipeline{
		cfg:       cfg,
		logger:     slog.Default().With("component", "pipeline"),
		extractor:  deps.Extractor,
		store:      deps.Store,
		queueStore: deps.QueueStore,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		),
		slots:   slots,
		cache:   resultCache,
		batcher: collector,
		pool:    connPool,
		sched:   sched,
		queues:  queues,
		tracker: progress.NewRegistry(cfg.Progress),
		done:    make(chan struct{}),
	}

	if cfg.ConsumerInterval > 0 {
		p.wg.Add(1)
		go p.consumeLoop()
	}
	return p, nil
}

// SubmitFile schedules one file for ingestion outside any durable queue.
// Returns the job id, which doubles as the progress tracker id.
func (p *Pipeline) SubmitFile(userID string, file core.FileMeta, priority int) (string, error) {
	if err := core.ValidateFileMeta(file, 0); err != nil {
		return "", err
	}
	return p.submitJob(fileJob{UserID: userID, File: file}, priority)
}

// JobStatus returns a snapshot of a live or recently finished job.
func (p *Pipeline) JobStatus(jobID string) (scheduler.Snapshot, error) {
	return p.sched.Job(jobID)
}

// CancelJob cancels a queued or running job.
func (p *Pipeline) CancelJob(jobID string) error {
	return p.sched.Cancel(jobID)
}

// PauseProcessing stops the scheduler from starting new jobs.
func (p *Pipeline) PauseProcessing() { p.sched.Pause() }

// ResumeProcessing restarts job dequeuing.
func (p *Pipeline) ResumeProcessing() { p.sched.Resume() }

// CreateQueue creates a durable upload queue for the user.
func (p *Pipeline) CreateQueue(ctx context.Context, userID, name string) (*core.QueueRecord, error) {
	return p.queues.CreateQueue(ctx, userID, name)
}

// AddToQueue appends files to a durable queue; the consumer picks them up.
func (p *Pipeline) AddToQueue(ctx context.Context, userID, name string, files []core.FileMeta) ([]core.QueueItem, error) {
	return p.queues.AddItems(ctx, userID, name, files)
}

// ReorderQueue rearranges a queue's pending items.
func (p *Pipeline) ReorderQueue(ctx context.Context, userID, name string, itemIDs []string) error {
	return p.queues.Reorder(ctx, userID, name, itemIDs)
}

// MoveQueueItem moves one pending item to a new position.
func (p *Pipeline) MoveQueueItem(ctx context.Context, userID, name, itemID string, newPosition int) error {
	return p.queues.MoveItem(ctx, userID, name, itemID, newPosition)
}

// PauseQueue stops the consumer from dequeuing the queue.
func (p *Pipeline) PauseQueue(ctx context.Context, userID, name string) error {
	return p.queues.Pause(ctx, userID, name)
}

// ResumeQueue re-enables dequeuing.
func (p *Pipeline) ResumeQueue(ctx context.Context, userID, name string) error {
	return p.queues.Resume(ctx, userID, name)
}

// CleanupQueue purges terminal items from a queue.
func (p *Pipeline) CleanupQueue(ctx context.Context, userID, name string) (int, error) {
	return p.queues.Cleanup(ctx, userID, name)
}

// QueueStatus returns a snapshot of one queue.
func (p *Pipeline) QueueStatus(userID, name string) (*core.QueueRecord, error) {
	return p.queues.Queue(userID, name)
}

// UserQueues returns snapshots of all of a user's queues.
func (p *Pipeline) UserQueues(userID string) []*core.QueueRecord {
	return p.queues.Queues(userID)
}

// TrackerStatus returns ingestion progress for a job.
func (p *Pipeline) TrackerStatus(jobID string) (progress.Status, error) {
	return p.tracker.Status(jobID)
}

// SubscribeProgress registers a progress event listener.
func (p *Pipeline) SubscribeProgress(buffer int) (<-chan progress.Event, func()) {
	return p.tracker.Subscribe(buffer)
}

// PoolMetrics returns connection pool and breaker metrics.
func (p *Pipeline) PoolMetrics() connpool.Metrics { return p.pool.Metrics() }

// CacheStats returns resource cache statistics.
func (p *Pipeline) CacheStats() cache.Stats { return p.cache.Stats() }

// BatcherMetrics returns batch collector counters.
func (p *Pipeline) BatcherMetrics() batcher.Metrics { return p.batcher.Metrics() }

// SchedulerStats returns scheduler activity counters.
func (p *Pipeline) SchedulerStats() scheduler.Stats { return p.sched.Stats() }

// Close drains and stops every component: consumer and watchers first,
// then scheduler, batcher, connection pool, queue manager, and progress
// registry. The injected vector store and queue store are closed last.
func (p *Pipeline) Close() error {
	var firstErr error
	p.closeOnce.Do(func() {
		close(p.done)
		p.wg.Wait()

		p.sched.Close()
		p.batcher.Close()
		p.pool.Close()
		if err := p.queues.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.tracker.Close()
		if err := p.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := p.queueStore.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}
