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


package progress

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/poiesic/conduit/core"
)

// Stage is one weighted phase of a tracked task. Weights across a
// tracker's stages must sum to 100.
type Stage struct {
	Name   string
	Weight float64
}

// State is the lifecycle state of a tracker.
type State int

const (
	StateActive State = iota + 1
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// EventType classifies tracker events.
type EventType string

const (
	EventCreated   EventType = "created"
	EventUpdated   EventType = "updated"
	EventCompleted EventType = "completed"
	EventFailed    EventType = "failed"
)

// Event is delivered to subscribers on every tracker transition.
type Event struct {
	Type   EventType
	Status Status
}

// Status is a point-in-time view of a tracker.
type Status struct {
	ID        string
	State     State
	Stages    map[string]float64
	Overall   float64
	ETA       time.Duration // 0 while unknown
	Error     string
	StartedAt time.Time
	UpdatedAt time.Time
}

// Config tunes a Registry.
type Config struct {
	// GracePeriod keeps finished trackers queryable before removal, so a
	// poller that raced the completion still gets a terminal status.
	GracePeriod time.Duration
}

// DefaultConfig keeps finished trackers around for 30 seconds.
func DefaultConfig() Config {
	return Config{GracePeriod: 30 * time.Second}
}

type tracker struct {
	id        string
	stages    []Stage
	pct       map[string]float64
	state     State
	errMsg    string
	startedAt time.Time
	updatedAt time.Time
	removal   *time.Timer
}

// Registry tracks weighted multi-stage progress for concurrent tasks and
// fans transition events out to subscribers.
type Registry struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	trackers map[string]*tracker
	subs     map[int]chan Event
	nextSub  int
	closed   bool

	now func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		cfg:      cfg,
		logger:   slog.Default().With("component", "progress"),
		trackers: make(map[string]*tracker),
		subs:     make(map[int]chan Event),
		now:      time.Now,
	}
}

// Create registers a tracker with the given weighted stages.
func (r *Registry) Create(id string, stages []Stage) error {
	if id == "" {
		return fmt.Errorf("%w: tracker id is empty", core.ErrValidation)
	}
	if len(stages) == 0 {
		return fmt.Errorf("%w: tracker needs at least one stage", core.ErrValidation)
	}
	total := 0.0
	seen := make(map[string]bool, len(stages))
	for _, stage := range stages {
		if stage.Name == "" || stage.Weight <= 0 {
			return fmt.Errorf("%w: stage needs a name and positive weight", core.ErrValidation)
		}
		if seen[stage.Name] {
			return fmt.Errorf("%w: duplicate stage %q", core.ErrValidation, stage.Name)
		}
		seen[stage.Name] = true
		total += stage.Weight
	}
	if math.Abs(total-100) > 1e-6 {
		return fmt.Errorf("%w: stage weights sum to %.2f, want 100", core.ErrValidation, total)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	if _, ok := r.trackers[id]; ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTrackerExists, id)
	}

	now := r.now()
	t := &tracker{
		id:        id,
		stages:    stages,
		pct:       make(map[string]float64, len(stages)),
		state:     StateActive,
		startedAt: now,
		updatedAt: now,
	}
	for _, stage := range stages {
		t.pct[stage.Name] = 0
	}
	r.trackers[id] = t
	status := r.statusLocked(t)
	r.emitLocked(Event{Type: EventCreated, Status: status})
	r.mu.Unlock()
	return nil
}

// UpdateStage records stage progress and recomputes the weighted overall
// figure and ETA. Percentages clamp to [0, 100].
func (r *Registry) UpdateStage(id, stage string, pct float64) error {
	if pct < 0 {
		pct = 0
	} else if pct > 100 {
		pct = 100
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trackers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTrackerNotFound, id)
	}
	if t.state != StateActive {
		return fmt.Errorf("%w: tracker %s is %s", ErrTrackerFinished, id, t.state)
	}
	if _, ok := t.pct[stage]; !ok {
		return fmt.Errorf("%w: tracker %s has no stage %q", core.ErrValidation, id, stage)
	}

	t.pct[stage] = pct
	t.updatedAt = r.now()
	r.emitLocked(Event{Type: EventUpdated, Status: r.statusLocked(t)})
	return nil
}

// Complete marks the tracker done, forces every stage to 100, and
// schedules removal after the grace period.
func (r *Registry) Complete(id string) error {
	return r.finish(id, StateCompleted, "")
}

// Fail marks the tracker failed and schedules removal after the grace
// period. Stage percentages keep their last values.
func (r *Registry) Fail(id, errMsg string) error {
	return r.finish(id, StateFailed, errMsg)
}

func (r *Registry) finish(id string, state State, errMsg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trackers[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTrackerNotFound, id)
	}
	if t.state != StateActive {
		return fmt.Errorf("%w: tracker %s is %s", ErrTrackerFinished, id, t.state)
	}

	t.state = state
	t.errMsg = errMsg
	t.updatedAt = r.now()
	if state == StateCompleted {
		for name := range t.pct {
			t.pct[name] = 100
		}
	}

	if r.cfg.GracePeriod > 0 {
		t.removal = time.AfterFunc(r.cfg.GracePeriod, func() { r.remove(id) })
	} else {
		delete(r.trackers, id)
	}

	eventType := EventCompleted
	if state == StateFailed {
		eventType = EventFailed
	}
	r.emitLocked(Event{Type: eventType, Status: r.statusLocked(t)})
	return nil
}

// Status returns a snapshot of a live or recently finished tracker.
func (r *Registry) Status(id string) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.trackers[id]
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrTrackerNotFound, id)
	}
	return r.statusLocked(t), nil
}

// Active returns the number of trackers still running.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, t := range r.trackers {
		if t.state == StateActive {
			n++
		}
	}
	return n
}

// Subscribe registers an event listener. Events that would block a slow
// listener are dropped. The returned function unsubscribes.
func (r *Registry) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)

	r.mu.Lock()
	id := r.nextSub
	r.nextSub++
	r.subs[id] = ch
	r.mu.Unlock()

	return ch, func() {
		r.mu.Lock()
		if sub, ok := r.subs[id]; ok {
			delete(r.subs, id)
			close(sub)
		}
		r.mu.Unlock()
	}
}

// Close stops removal timers and closes all subscriber channels.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true

	for _, t := range r.trackers {
		if t.removal != nil {
			t.removal.Stop()
		}
	}
	for id, ch := range r.subs {
		delete(r.subs, id)
		close(ch)
	}
}

func (r *Registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	delete(r.trackers, id)
}

// statusLocked builds a snapshot with the weighted overall figure and a
// linear-extrapolation ETA. Caller holds mu.
func (r *Registry) statusLocked(t *tracker) Status {
	stages := make(map[string]float64, len(t.pct))
	overall := 0.0
	for _, stage := range t.stages {
		pct := t.pct[stage.Name]
		stages[stage.Name] = pct
		overall += pct * stage.Weight / 100
	}

	var eta time.Duration
	if t.state == StateActive && overall > 0 && overall < 100 {
		elapsed := r.now().Sub(t.startedAt)
		projected := time.Duration(float64(elapsed) * 100 / overall)
		eta = projected - elapsed
	}

	return Status{
		ID:        t.id,
		State:     t.state,
		Stages:    stages,
		Overall:   overall,
		ETA:       eta,
		Error:     t.errMsg,
		StartedAt: t.startedAt,
		UpdatedAt: t.updatedAt,
	}
}

// emitLocked fans an event out to every subscriber without blocking.
// Caller holds mu.
func (r *Registry) emitLocked(ev Event) {
	for _, ch := range r.subs {
		select {
		case ch <- ev:
		default:
			r.logger.Debug("dropping progress event for slow subscriber", "tracker", ev.Status.ID, "type", ev.Type)
		}
	}
}
