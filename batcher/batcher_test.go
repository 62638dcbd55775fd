package batcher

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/conduit/ai"
	"github.com/poiesic/conduit/ai/mock"
	"github.com/poiesic/conduit/cache"
	"github.com/poiesic/conduit/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.New(cache.Config{
		MaxEntries:     128,
		MaxMemoryBytes: 1 << 20,
		DefaultTTL:     time.Minute,
	})
	require.NoError(t, err)
	return c
}

func testBatcherConfig() Config {
	cfg := DefaultConfig()
	cfg.Window = 5 * time.Millisecond
	cfg.BatchSize = 4
	cfg.MaxAttempts = 2
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func TestCollector_ProcessReturnsVectorsInOrder(t *testing.T) {
	emb := &mock.Embedder{}
	c, err := New(emb, testCache(t), testBatcherConfig())
	require.NoError(t, err)
	defer c.Close()

	texts := []string{"alpha", "beta", "gamma"}
	vecs, err := c.Process(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for i, text := range texts {
		assert.Equal(t, mock.DeterministicVector(text, 8), vecs[i], "position %d", i)
	}
}

func TestCollector_DeduplicatesWithinCall(t *testing.T) {
	var mu sync.Mutex
	var embedded []string
	emb := &mock.Embedder{
		EmbedTextsFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			mu.Lock()
			embedded = append(embedded, texts...)
			mu.Unlock()
			vecs := make([][]float32, len(texts))
			for i, text := range texts {
				vecs[i] = mock.DeterministicVector(text, 8)
			}
			return vecs, nil
		},
	}
	c, err := New(emb, testCache(t), testBatcherConfig())
	require.NoError(t, err)
	defer c.Close()

	vecs, err := c.Process(context.Background(), []string{"same", "same", "other", "same"})
	require.NoError(t, err)
	require.Len(t, vecs, 4)
	assert.Equal(t, vecs[0], vecs[1])
	assert.Equal(t, vecs[0], vecs[3])

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []string{"same", "other"}, embedded, "duplicates must be computed once")
	assert.Equal(t, int64(2), c.Metrics().Deduped)
}

func TestCollector_CacheHitSkipsEmbedder(t *testing.T) {
	emb := &mock.Embedder{}
	c, err := New(emb, testCache(t), testBatcherConfig())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Process(context.Background(), []string{"cached text"})
	require.NoError(t, err)
	firstCalls := emb.CallCount()

	vecs, err := c.Process(context.Background(), []string{"cached text"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)
	assert.Equal(t, mock.DeterministicVector("cached text", 8), vecs[0])
	assert.Equal(t, firstCalls, emb.CallCount(), "second call must be served from cache")

	m := c.Metrics()
	assert.Equal(t, int64(1), m.CacheHits)
}

func TestCollector_RetriesThenSucceeds(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	emb := &mock.Embedder{
		EmbedTextsFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			mu.Lock()
			attempts++
			n := attempts
			mu.Unlock()
			if n == 1 {
				return nil, errors.New("rate limited")
			}
			vecs := make([][]float32, len(texts))
			for i, text := range texts {
				vecs[i] = mock.DeterministicVector(text, 8)
			}
			return vecs, nil
		},
	}
	c, err := New(emb, testCache(t), testBatcherConfig())
	require.NoError(t, err)
	defer c.Close()

	vecs, err := c.Process(context.Background(), []string{"flaky"})
	require.NoError(t, err)
	require.Len(t, vecs, 1)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts)
}

func TestCollector_ExhaustedRetriesFailWaiters(t *testing.T) {
	emb := &mock.Embedder{
		EmbedTextsFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			return nil, errors.New("service unavailable")
		},
	}
	c, err := New(emb, testCache(t), testBatcherConfig())
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Process(context.Background(), []string{"doomed"})
	require.ErrorIs(t, err, ai.ErrEmbedding)
	assert.Equal(t, int64(1), c.Metrics().FailedBatches)
}

func TestCollector_SplitsIntoFixedSizeBatches(t *testing.T) {
	var mu sync.Mutex
	var sizes []int
	emb := &mock.Embedder{
		EmbedTextsFunc: func(ctx context.Context, texts []string) ([][]float32, error) {
			mu.Lock()
			sizes = append(sizes, len(texts))
			mu.Unlock()
			vecs := make([][]float32, len(texts))
			for i, text := range texts {
				vecs[i] = mock.DeterministicVector(text, 8)
			}
			return vecs, nil
		},
	}
	cfg := testBatcherConfig()
	cfg.BatchSize = 2
	cfg.Window = time.Minute // only Flush dispatches
	c, err := New(emb, testCache(t), cfg)
	require.NoError(t, err)
	defer c.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, perr := c.Process(context.Background(), []string{"a", "b", "c", "d", "e"})
		assert.NoError(t, perr)
	}()

	require.Eventually(t, func() bool { return c.Metrics().PendingTexts == 5 }, time.Second, time.Millisecond)
	c.Flush()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.ElementsMatch(t, []int{2, 2, 1}, sizes)
}

func TestCollector_ProcessAfterCloseFails(t *testing.T) {
	c, err := New(&mock.Embedder{}, testCache(t), testBatcherConfig())
	require.NoError(t, err)
	c.Close()

	_, err = c.Process(context.Background(), []string{"late"})
	assert.ErrorIs(t, err, ErrCollectorClosed)
}

func TestCollector_RejectsInvalidConfig(t *testing.T) {
	cfg := testBatcherConfig()
	cfg.BatchSize = 0
	_, err := New(&mock.Embedder{}, testCache(t), cfg)
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "hello", Normalize("  hello  ", 1, 100))
	assert.Equal(t, "hi   ", Normalize("hi", 5, 100), "short texts are padded")
	assert.Equal(t, "abc", Normalize("abcdef", 1, 3), "long texts are truncated")
	assert.Equal(t, strings.Repeat(" ", 3), Normalize("", 3, 0))
}
