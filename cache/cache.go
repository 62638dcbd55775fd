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


package cache

import (
	"errors"
	"sync"
	"time"

	"github.com/poiesic/conduit/core"
)

// ErrInvalidConfig is returned when a cache is created with non-positive bounds.
var ErrInvalidConfig = errors.New("cache capacity and memory budget must be positive")

// Config bounds a Cache.
type Config struct {
	// MaxEntries is the entry-count capacity. Inserting at capacity evicts
	// the entry with the lowest access count first.
	MaxEntries int

	// MaxMemoryBytes is the estimated-memory budget. After every insert,
	// eviction repeats until the estimate is back under budget.
	MaxMemoryBytes int64

	// DefaultTTL applies when Set is called with ttl <= 0.
	DefaultTTL time.Duration
}

// DefaultConfig returns bounds suitable for embedding results.
func DefaultConfig() Config {
	return Config{
		MaxEntries:     10_000,
		MaxMemoryBytes: 256 << 20, // 256 MiB
		DefaultTTL:     time.Hour,
	}
}

type entry struct {
	value       any
	insertedAt  time.Time
	accessedAt  time.Time
	accessCount int64
	ttl         time.Duration
	size        int64
}

// Cache is a capacity- and memory-bounded cache keyed by content hash.
// Expired entries are dropped on read; eviction removes the entry with the
// lowest access count (ties broken arbitrarily).
type Cache struct {
	mu      sync.Mutex
	cfg     Config
	entries map[core.ID]*entry
	memory  int64
	now     func() time.Time // swappable for tests

	hits        int64
	misses      int64
	evictions   int64
	expirations int64
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries     int
	MemoryBytes int64
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
}

// New creates a cache with the given bounds.
func New(cfg Config) (*Cache, error) {
	if cfg.MaxEntries <= 0 || cfg.MaxMemoryBytes <= 0 {
		return nil, ErrInvalidConfig
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultConfig().DefaultTTL
	}
	return &Cache{
		cfg:     cfg,
		entries: make(map[core.ID]*entry),
		now:     time.Now,
	}, nil
}

// Get returns the cached value for key. Entries past their TTL are removed
// and reported as misses.
func (c *Cache) Get(key core.ID) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if c.now().Sub(e.insertedAt) >= e.ttl {
		c.removeLocked(key, e)
		c.expirations++
		c.misses++
		return nil, false
	}

	e.accessedAt = c.now()
	e.accessCount++
	c.hits++
	return e.value, true
}

// Set inserts or replaces the value for key. A ttl <= 0 uses the default.
// At entry capacity the lowest-access-count entry is evicted before the
// insert; afterwards eviction repeats while the memory estimate exceeds
// the budget.
func (c *Cache) Set(key core.ID, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	size := EstimateSize(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.removeLocked(key, old)
	} else if len(c.entries) >= c.cfg.MaxEntries {
		c.evictLowestLocked()
	}

	now := c.now()
	c.entries[key] = &entry{
		value:       value,
		insertedAt:  now,
		accessedAt:  now,
		accessCount: 1,
		ttl:         ttl,
		size:        size,
	}
	c.memory += size

	for c.memory > c.cfg.MaxMemoryBytes && len(c.entries) > 0 {
		c.evictLowestLocked()
	}
}

// Delete removes the entry for key, if present.
func (c *Cache) Delete(key core.ID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(key, e)
	}
}

// Len returns the current number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:     len(c.entries),
		MemoryBytes: c.memory,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
}

func (c *Cache) removeLocked(key core.ID, e *entry) {
	delete(c.entries, key)
	c.memory -= e.size
}

// evictLowestLocked removes the entry with the lowest access count.
// Freshly inserted entries carry access count 1 and are therefore the
// likeliest victims; this matches the approximate-LFU policy on purpose.
func (c *Cache) evictLowestLocked() {
	var victim core.ID
	var victimEntry *entry
	for key, e := range c.entries {
		if victimEntry == nil || e.accessCount < victimEntry.accessCount {
			victim = key
			victimEntry = e
		}
	}
	if victimEntry != nil {
		c.removeLocked(victim, victimEntry)
		c.evictions++
	}
}
