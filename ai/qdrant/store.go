package qdrant

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/poiesic/conduit/ai"
	qdrant "github.com/qdrant/go-client/qdrant"
)

// Store implements ai.VectorStore backed by a Qdrant instance.
// Namespaces map one-to-one onto Qdrant collections, created lazily on
// first upsert.
type Store struct {
	api    *qdrant.Client
	cfg    *Config
	logger *slog.Logger

	mu    sync.Mutex
	known map[string]bool // namespaces confirmed to exist
}

var _ ai.VectorStore = (*Store)(nil)

// NewStore connects to Qdrant and verifies reachability.
func NewStore(cfg *Config) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ai.ErrStore, err)
	}

	s := &Store{
		api:    client,
		cfg:    cfg,
		logger: slog.Default().With("component", "qdrant-store"),
		known:  make(map[string]bool),
	}

	if err := s.Ping(context.Background()); err != nil {
		client.Close()
		return nil, err
	}

	return s, nil
}

// Ping checks service availability through the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.api.HealthCheck(ctx); err != nil {
		return fmt.Errorf("%w: health check: %w", ai.ErrStore, err)
	}
	return nil
}

// Upsert writes points into the namespace, creating the collection if it
// does not exist yet. Blocks until Qdrant acknowledges persistence.
func (s *Store) Upsert(ctx context.Context, points []ai.Point, namespace string) error {
	if len(points) == 0 {
		return nil
	}
	if err := s.ensureNamespace(ctx, namespace); err != nil {
		return err
	}

	converted := make([]*qdrant.PointStruct, 0, len(points))
	for _, p := range points {
		converted = append(converted, &qdrant.PointStruct{
			Id:      qdrant.NewID(p.Id),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(p.Payload),
		})
	}

	wait := true
	_, err := s.api.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: namespace,
		Points:         converted,
		Wait:           &wait,
	})
	if err != nil {
		return fmt.Errorf("%w: upsert into %q: %w", ai.ErrStore, namespace, err)
	}

	s.logger.Debug("upserted points", "namespace", namespace, "count", len(points))
	return nil
}

// Query returns up to topK nearest matches for the vector.
func (s *Store) Query(ctx context.Context, vector []float32, namespace string, topK int, filter map[string]string) ([]ai.Match, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive", ai.ErrStore)
	}

	limit := uint64(topK)
	req := &qdrant.QueryPoints{
		CollectionName: namespace,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if len(filter) > 0 {
		req.Filter = buildFilter(filter)
	}

	resp, err := s.api.Query(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: query %q: %w", ai.ErrStore, namespace, err)
	}

	matches := make([]ai.Match, 0, len(resp))
	for _, sp := range resp {
		matches = append(matches, ai.Match{
			Id:      pointID(sp.Id),
			Score:   sp.Score,
			Payload: payloadMap(sp.Payload),
		})
	}
	return matches, nil
}

// Close releases the underlying gRPC connection.
func (s *Store) Close() error {
	return s.api.Close()
}

// ensureNamespace creates the collection on first use. Safe to call
// concurrently; creation races resolve through the existence check.
func (s *Store) ensureNamespace(ctx context.Context, namespace string) error {
	s.mu.Lock()
	if s.known[namespace] {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	collections, err := s.api.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("%w: list collections: %w", ai.ErrStore, err)
	}

	if !slices.Contains(collections, namespace) {
		err = s.api.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: namespace,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     s.cfg.VectorSize,
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return fmt.Errorf("%w: create collection %q: %w", ai.ErrStore, namespace, err)
		}
		s.logger.Info("created collection", "namespace", namespace, "size", s.cfg.VectorSize)
	}

	s.mu.Lock()
	s.known[namespace] = true
	s.mu.Unlock()
	return nil
}

func buildFilter(filter map[string]string) *qdrant.Filter {
	must := make([]*qdrant.Condition, 0, len(filter))
	for field, value := range filter {
		must = append(must, qdrant.NewMatch(field, value))
	}
	return &qdrant.Filter{Must: must}
}

func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func payloadMap(payload map[string]*qdrant.Value) map[string]any {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = valueToAny(v)
	}
	return out
}

// valueToAny converts the scalar payload kinds conduit writes. Nested
// structs and lists come back as their string form.
func valueToAny(v *qdrant.Value) any {
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_NullValue:
		return nil
	default:
		return v.String()
	}
}
