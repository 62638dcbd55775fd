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


package batcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/conduit/ai"
	"github.com/poiesic/conduit/cache"
	"github.com/poiesic/conduit/core"
)

// Config tunes a Collector.
type Config struct {
	// BatchSize is the maximum number of texts per embedding call.
	BatchSize int

	// Window is the period of the drain ticker. Queued requests wait at
	// most one window before dispatch.
	Window time.Duration

	// MaxConcurrentBatches bounds embedding calls in flight.
	MaxConcurrentBatches int

	// MaxAttempts is the total number of tries per batch.
	MaxAttempts int

	// RetryDelay is the linear backoff unit: attempt n waits n*RetryDelay.
	RetryDelay time.Duration

	// MinTextLength pads shorter texts up to this length.
	MinTextLength int

	// MaxTextLength truncates longer texts down to this length.
	MaxTextLength int

	// CacheTTL is the lifetime of freshly computed embeddings in the cache.
	CacheTTL time.Duration
}

// DefaultConfig returns settings suitable for rate-limited embedding APIs.
func DefaultConfig() Config {
	return Config{
		BatchSize:            64,
		Window:               50 * time.Millisecond,
		MaxConcurrentBatches: 4,
		MaxAttempts:          3,
		RetryDelay:           time.Second,
		MinTextLength:        1,
		MaxTextLength:        8192,
		CacheTTL:             time.Hour,
	}
}

func (c *Config) validate() error {
	if c.BatchSize < 1 || c.MaxConcurrentBatches < 1 || c.MaxAttempts < 1 {
		return fmt.Errorf("%w: batch size, concurrency, and attempts must be positive", core.ErrValidation)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w: batch window must be positive", core.ErrValidation)
	}
	if c.MaxTextLength > 0 && c.MinTextLength > c.MaxTextLength {
		return fmt.Errorf("%w: min text length exceeds max", core.ErrValidation)
	}
	return nil
}

// Metrics is a point-in-time snapshot of collector counters.
type Metrics struct {
	CacheHits      int64
	CacheMisses    int64
	Deduped        int64
	Batches        int64
	TextsEmbedded  int64
	FailedBatches  int64
	AvgBatchSize   float64
	PendingTexts   int
}

// request is one unique text awaiting embedding. Multiple callers and
// result positions may wait on the same request.
type request struct {
	key  core.ID
	text string
	done chan struct{}
	vec  []float32
	err  error
}

// Collector accumulates embedding requests into time-windowed batches,
// deduplicates by content hash, consults the resource cache before any
// embedding call, and writes fresh results back.
type Collector struct {
	cfg      Config
	embedder ai.Embedder
	cache    *cache.Cache
	pool     *ants.Pool
	logger   *slog.Logger

	mu      sync.Mutex
	queue   []*request          // FIFO of unique pending requests
	pending map[core.ID]*request // coalescing index, keyed by content hash
	closed  bool

	hits          atomic.Int64
	misses        atomic.Int64
	deduped       atomic.Int64
	batches       atomic.Int64
	textsEmbedded atomic.Int64
	failedBatches atomic.Int64

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a collector draining into the embedder through a bounded
// worker pool.
func New(embedder ai.Embedder, resultCache *cache.Cache, cfg Config) (*Collector, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder required", core.ErrValidation)
	}
	if resultCache == nil {
		return nil, fmt.Errorf("%w: cache required", core.ErrValidation)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	pool, err := ants.NewPool(cfg.MaxConcurrentBatches)
	if err != nil {
		return nil, err
	}

	c := &Collector{
		cfg:      cfg,
		embedder: embedder,
		cache:    resultCache,
		pool:     pool,
		logger:   slog.Default().With("component", "batcher"),
		pending:  make(map[core.ID]*request),
		done:     make(chan struct{}),
	}

	c.wg.Add(1)
	go c.windowLoop()
	return c, nil
}

// Process embeds the given texts, returning vectors in input order.
// Cached texts never reach the embedder; identical texts within the call
// are computed once and fanned back out to every original position.
func (c *Collector) Process(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	waits := make(map[*request][]int)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrCollectorClosed
	}
	for i, raw := range texts {
		text := Normalize(raw, c.cfg.MinTextLength, c.cfg.MaxTextLength)
		key := core.IDFromContent(text)

		if v, ok := c.cache.Get(key); ok {
			results[i] = v.([]float32)
			c.hits.Add(1)
			continue
		}
		c.misses.Add(1)

		if req, ok := c.pending[key]; ok {
			c.deduped.Add(1)
			waits[req] = append(waits[req], i)
			continue
		}

		req := &request{key: key, text: text, done: make(chan struct{})}
		c.pending[key] = req
		c.queue = append(c.queue, req)
		waits[req] = append(waits[req], i)
	}
	c.mu.Unlock()

	for req, indices := range waits {
		select {
		case <-req.done:
			if req.err != nil {
				return nil, req.err
			}
			for _, i := range indices {
				results[i] = req.vec
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return results, nil
}

// Flush dispatches everything queued without waiting for the window tick.
func (c *Collector) Flush() {
	c.drain()
}

// Metrics returns a snapshot of collector counters.
func (c *Collector) Metrics() Metrics {
	c.mu.Lock()
	pending := len(c.pending)
	c.mu.Unlock()

	batches := c.batches.Load()
	embedded := c.textsEmbedded.Load()
	avg := 0.0
	if batches > 0 {
		avg = float64(embedded) / float64(batches)
	}
	return Metrics{
		CacheHits:     c.hits.Load(),
		CacheMisses:   c.misses.Load(),
		Deduped:       c.deduped.Load(),
		Batches:       batches,
		TextsEmbedded: embedded,
		FailedBatches: c.failedBatches.Load(),
		AvgBatchSize:  avg,
		PendingTexts:  pending,
	}
}

// Close drains outstanding work and stops the collector.
// Process calls made after Close fail with ErrCollectorClosed.
func (c *Collector) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	c.wg.Wait()
	c.drain()

	// Give in-flight batches a moment to resolve their waiters.
	if err := c.pool.ReleaseTimeout(5 * time.Second); err != nil {
		c.logger.Warn("batch pool did not drain in time", "err", err)
	}
}

func (c *Collector) windowLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.drain()
		case <-c.done:
			return
		}
	}
}

// drain slices the queue into fixed-size batches and hands them to the
// worker pool.
func (c *Collector) drain() {
	c.mu.Lock()
	queued := c.queue
	c.queue = nil
	c.mu.Unlock()

	for start := 0; start < len(queued); start += c.cfg.BatchSize {
		end := min(start+c.cfg.BatchSize, len(queued))
		batch := queued[start:end]
		if err := c.pool.Submit(func() { c.executeBatch(batch) }); err != nil {
			// Pool released mid-shutdown; run inline so waiters resolve.
			c.executeBatch(batch)
		}
	}
}

// executeBatch embeds one batch with linear-backoff retries and resolves
// every waiter, succeeding or not.
func (c *Collector) executeBatch(batch []*request) {
	texts := make([]string, len(batch))
	for i, req := range batch {
		texts[i] = req.text
	}

	vecs, err := c.embedWithRetry(texts)
	if err == nil && len(vecs) != len(batch) {
		err = fmt.Errorf("%w: expected %d vectors, got %d", ai.ErrEmbedding, len(batch), len(vecs))
	}

	if err != nil {
		c.failedBatches.Add(1)
		c.logger.Error("batch embedding failed", "texts", len(batch), "err", err)
	} else {
		c.batches.Add(1)
		c.textsEmbedded.Add(int64(len(batch)))
	}

	c.mu.Lock()
	for i, req := range batch {
		if err != nil {
			req.err = err
		} else {
			req.vec = vecs[i]
			c.cache.Set(req.key, vecs[i], c.cfg.CacheTTL)
		}
		delete(c.pending, req.key)
		close(req.done)
	}
	c.mu.Unlock()
}

func (c *Collector) embedWithRetry(texts []string) ([][]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		vecs, err := c.embedder.EmbedTexts(context.Background(), texts)
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		c.logger.Debug("embedding attempt failed", "attempt", attempt, "maxAttempts", c.cfg.MaxAttempts, "err", err)

		if attempt == c.cfg.MaxAttempts {
			break
		}
		timer := time.NewTimer(time.Duration(attempt) * c.cfg.RetryDelay)
		select {
		case <-timer.C:
		case <-c.done:
			timer.Stop()
			return nil, fmt.Errorf("%w: %w", ErrCollectorClosed, lastErr)
		}
	}
	return nil, fmt.Errorf("%w after %d attempts: %w", ai.ErrEmbedding, c.cfg.MaxAttempts, lastErr)
}
