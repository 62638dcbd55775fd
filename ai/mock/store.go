package mock

import (
	"context"
	"sync"

	"github.com/poiesic/conduit/ai"
)

// VectorStore is a test double for ai.VectorStore.
// By default it keeps upserted points in memory per namespace.
type VectorStore struct {
	// UpsertFunc is called by Upsert if set.
	UpsertFunc func(ctx context.Context, points []ai.Point, namespace string) error

	// QueryFunc is called by Query if set.
	QueryFunc func(ctx context.Context, vector []float32, namespace string, topK int, filter map[string]string) ([]ai.Match, error)

	// PingFunc is called by Ping if set. If nil, Ping succeeds.
	PingFunc func(ctx context.Context) error

	mu     sync.Mutex
	points map[string][]ai.Point
	closed bool
}

var _ ai.VectorStore = (*VectorStore)(nil)

// NewVectorStore creates an in-memory mock vector store.
func NewVectorStore() *VectorStore {
	return &VectorStore{points: make(map[string][]ai.Point)}
}

// Upsert stores the points in memory unless UpsertFunc overrides it.
func (m *VectorStore) Upsert(ctx context.Context, points []ai.Point, namespace string) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, points, namespace)
	}
	m.mu.Lock()
	m.points[namespace] = append(m.points[namespace], points...)
	m.mu.Unlock()
	return nil
}

// Query returns the first topK stored points unless QueryFunc overrides it.
// Good enough for orchestration tests, which assert routing, not ranking.
func (m *VectorStore) Query(ctx context.Context, vector []float32, namespace string, topK int, filter map[string]string) ([]ai.Match, error) {
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, vector, namespace, topK, filter)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.points[namespace]
	if len(stored) > topK {
		stored = stored[:topK]
	}
	matches := make([]ai.Match, len(stored))
	for i, p := range stored {
		matches[i] = ai.Match{Id: p.Id, Score: 1.0, Payload: p.Payload}
	}
	return matches, nil
}

// Ping succeeds unless PingFunc overrides it.
func (m *VectorStore) Ping(ctx context.Context) error {
	if m.PingFunc != nil {
		return m.PingFunc(ctx)
	}
	return nil
}

// Close marks the store closed.
func (m *VectorStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// Points returns the points upserted into a namespace, in arrival order.
func (m *VectorStore) Points(namespace string) []ai.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ai.Point, len(m.points[namespace]))
	copy(out, m.points[namespace])
	return out
}
