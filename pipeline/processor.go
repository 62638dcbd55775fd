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
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/conduit/ai"
	"github.com/poiesic/conduit/core"
	"github.com/poiesic/conduit/progress"
	"github.com/poiesic/conduit/scheduler"
)

// Progress stage names and weights for one ingested file.
const (
	stageExtract = "extract"
	stageChunk   = "chunk"
	stageEmbed   = "embed"
	stageStore   = "store"
)

func ingestionStages() []progress.Stage {
	return []progress.Stage{
		{Name: stageExtract, Weight: 20},
		{Name: stageChunk, Weight: 10},
		{Name: stageEmbed, Weight: 40},
		{Name: stageStore, Weight: 30},
	}
}

// fileJob is the scheduler payload for one file. Queue and ItemID are
// empty for direct submissions.
type fileJob struct {
	UserID string
	Queue  string
	ItemID string
	File   core.FileMeta
}

// submitJob schedules a file job, creates its progress tracker under the
// job id, and spawns the watcher that settles tracker and queue item when
// the job reaches a terminal state.
func (p *Pipeline) submitJob(payload fileJob, priority int) (string, error) {
	jobID, err := p.sched.Submit(payload.UserID, payload, p.processFile, scheduler.JobConfig{Priority: priority})
	if err != nil {
		return "", err
	}
	if err := p.tracker.Create(jobID, ingestionStages()); err != nil {
		p.logger.Warn("progress tracker not created", "jobId", jobID, "err", err)
	}

	p.wg.Add(1)
	go p.watchJob(jobID, payload)
	return jobID, nil
}

// processFile is the document processor: extract, split, batch-embed,
// and gate the upsert through the connection pool. Stage transitions are
// reported to the progress tracker; cancellation is honored between
// stages.
func (p *Pipeline) processFile(ctx context.Context, jc *scheduler.JobContext) error {
	payload, ok := jc.Payload().(fileJob)
	if !ok {
		return fmt.Errorf("%w: unexpected payload %T", core.ErrValidation, jc.Payload())
	}
	trackerID := jc.JobID()

	releaseDoc, err := jc.Slots().Acquire(ctx, SlotDocuments)
	if err != nil {
		return err
	}
	defer releaseDoc()

	text, err := p.extractor.Extract(ctx, ai.SourceFile{
		Name:        payload.File.Name,
		Path:        payload.File.Path,
		ContentType: payload.File.ContentType,
	})
	if err != nil {
		return err
	}
	p.updateStage(trackerID, stageExtract, 100)
	jc.ReportProgress(20)
	if jc.Cancelled() {
		return ctx.Err()
	}

	if strings.TrimSpace(text) == "" {
		// Nothing to index; the job still completes.
		p.updateStage(trackerID, stageChunk, 100)
		p.updateStage(trackerID, stageEmbed, 100)
		p.updateStage(trackerID, stageStore, 100)
		return nil
	}

	releaseChunk, err := jc.Slots().Acquire(ctx, SlotChunks)
	if err != nil {
		return err
	}
	chunks, err := p.splitter.SplitText(text)
	releaseChunk()
	if err != nil {
		return fmt.Errorf("splitting %q: %w", payload.File.Name, err)
	}
	if len(chunks) == 0 {
		chunks = []string{text}
	}
	p.updateStage(trackerID, stageChunk, 100)
	jc.ReportProgress(30)
	if jc.Cancelled() {
		return ctx.Err()
	}

	releaseEmbed, err := jc.Slots().Acquire(ctx, SlotEmbeddings)
	if err != nil {
		return err
	}
	vectors, err := p.batcher.Process(ctx, chunks)
	releaseEmbed()
	if err != nil {
		return err
	}
	p.updateStage(trackerID, stageEmbed, 100)
	jc.ReportProgress(70)
	if jc.Cancelled() {
		return ctx.Err()
	}

	points := make([]ai.Point, len(chunks))
	for i, chunk := range chunks {
		points[i] = ai.Point{
			Id:     uuid.NewString(),
			Vector: vectors[i],
			Payload: map[string]any{
				"user":  payload.UserID,
				"file":  payload.File.Name,
				"path":  payload.File.Path,
				"chunk": i,
				"text":  chunk,
			},
		}
	}
	err = p.pool.Execute(ctx, func(ctx context.Context) error {
		return p.store.Upsert(ctx, points, p.cfg.Namespace)
	})
	if err != nil {
		return err
	}
	p.updateStage(trackerID, stageStore, 100)
	jc.ReportProgress(100)
	return nil
}

// updateStage reports stage progress, tolerating trackers already settled
// by the watcher.
func (p *Pipeline) updateStage(trackerID, stage string, pct float64) {
	err := p.tracker.UpdateStage(trackerID, stage, pct)
	if err != nil && !errors.Is(err, progress.ErrTrackerNotFound) && !errors.Is(err, progress.ErrTrackerFinished) {
		p.logger.Warn("stage update failed", "tracker", trackerID, "stage", stage, "err", err)
	}
}

// watchJob polls the job until it settles, then finishes the progress
// tracker and, for queue-fed jobs, the queue item.
func (p *Pipeline) watchJob(jobID string, payload fileJob) {
	defer p.wg.Done()
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
		}

		snap, err := p.sched.Job(jobID)
		if err != nil {
			// Evicted from history before we saw the terminal state.
			p.settle(jobID, payload, scheduler.StateFailed, "job history evicted")
			return
		}
		if !snap.State.Terminal() {
			continue
		}

		message := ""
		if len(snap.Errors) > 0 {
			message = snap.Errors[len(snap.Errors)-1]
		}
		if snap.State == scheduler.StateCancelled && message == "" {
			message = core.ErrCancelled.Error()
		}
		p.settle(jobID, payload, snap.State, message)
		return
	}
}

func (p *Pipeline) settle(jobID string, payload fileJob, state scheduler.JobState, message string) {
	var err error
	if state == scheduler.StateCompleted {
		err = p.tracker.Complete(jobID)
	} else {
		err = p.tracker.Fail(jobID, message)
	}
	if err != nil && !errors.Is(err, progress.ErrTrackerNotFound) {
		p.logger.Warn("tracker settle failed", "jobId", jobID, "err", err)
	}

	if payload.Queue == "" {
		return
	}
	ctx := context.Background()
	if state == scheduler.StateCompleted {
		err = p.queues.MarkCompleted(ctx, payload.UserID, payload.Queue, payload.ItemID)
	} else {
		err = p.queues.MarkFailed(ctx, payload.UserID, payload.Queue, payload.ItemID, message)
	}
	if err != nil {
		p.logger.Warn("queue item settle failed",
			"queue", core.QueueKey(payload.UserID, payload.Queue), "item", payload.ItemID, "err", err)
	}
}
