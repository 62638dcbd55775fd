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


package slot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrInvalidCapacity is returned when a pool is created with capacity < 1.
var ErrInvalidCapacity = errors.New("slot pool capacity must be at least 1")

// Pool is a bounded-concurrency slot pool for one resource category.
// Waiters are served in FIFO order: releasing a slot always admits the
// oldest waiter first. Active count never exceeds capacity.
type Pool struct {
	name    string
	max     int64
	sem     *semaphore.Weighted
	active  atomic.Int64
	waiting atomic.Int64
}

// New creates a pool with the given capacity.
func New(name string, capacity int) (*Pool, error) {
	if capacity < 1 {
		return nil, ErrInvalidCapacity
	}
	return &Pool{
		name: name,
		max:  int64(capacity),
		sem:  semaphore.NewWeighted(int64(capacity)),
	}, nil
}

// Acquire blocks until a slot is free or ctx is done.
// The returned release function is idempotent.
func (p *Pool) Acquire(ctx context.Context) (func(), error) {
	p.waiting.Add(1)
	err := p.sem.Acquire(ctx, 1)
	p.waiting.Add(-1)
	if err != nil {
		return nil, err
	}
	p.active.Add(1)
	return p.releaseFunc(), nil
}

// TryAcquire grabs a slot without blocking.
// Returns false when the pool is full.
func (p *Pool) TryAcquire() (func(), bool) {
	if !p.sem.TryAcquire(1) {
		return nil, false
	}
	p.active.Add(1)
	return p.releaseFunc(), true
}

func (p *Pool) releaseFunc() func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			p.active.Add(-1)
			p.sem.Release(1)
		})
	}
}

// Name returns the resource category this pool guards.
func (p *Pool) Name() string { return p.name }

// Capacity returns the maximum number of concurrent holders.
func (p *Pool) Capacity() int { return int(p.max) }

// Active returns the number of currently held slots.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Waiting returns the number of goroutines blocked in Acquire.
func (p *Pool) Waiting() int { return int(p.waiting.Load()) }

// Set is a named collection of pools, one per pipeline stage, handed to
// running jobs so scheduler-level parallelism cannot overload a single
// downstream dependency class.
type Set struct {
	mu    sync.RWMutex
	pools map[string]*Pool
}

// NewSet creates an empty pool set.
func NewSet() *Set {
	return &Set{pools: make(map[string]*Pool)}
}

// Add registers a pool under its name, replacing any previous pool.
func (s *Set) Add(p *Pool) {
	s.mu.Lock()
	s.pools[p.Name()] = p
	s.mu.Unlock()
}

// Get returns the pool for a resource category, or nil.
func (s *Set) Get(name string) *Pool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pools[name]
}

// Acquire acquires a slot from the named pool. Unknown names acquire
// nothing and return a no-op release, so optional stages stay cheap.
func (s *Set) Acquire(ctx context.Context, name string) (func(), error) {
	p := s.Get(name)
	if p == nil {
		return func() {}, nil
	}
	return p.Acquire(ctx)
}
