package ai

import "context"

// SourceFile identifies a file handed to an Extractor.
type SourceFile struct {
	// Name is the original file name, used for format detection and logging.
	Name string

	// Path is the location of the file on local disk.
	Path string

	// ContentType is an optional MIME hint. Empty means unknown.
	ContentType string
}

// Extractor turns a source file into plain text.
// Implementations must be thread-safe for concurrent use.
type Extractor interface {
	// Extract reads the file and returns its textual content.
	// Failures wrap ErrExtraction.
	Extract(ctx context.Context, file SourceFile) (string, error)
}

// Embedder generates vector embeddings from text.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a
	// batch. The returned slice contains embeddings in the same order as the
	// input texts. Failures wrap ErrEmbedding.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Point is a vector with its identifier and payload, ready for upsert.
type Point struct {
	Id      string
	Vector  []float32
	Payload map[string]any
}

// Match is a single similarity-search result.
type Match struct {
	Id      string
	Score   float32
	Payload map[string]any
}

// VectorStore is the external vector database boundary.
// Implementations must be thread-safe for concurrent use.
type VectorStore interface {
	// Upsert writes points into the given namespace, creating it if the
	// backend requires explicit namespaces. Failures wrap ErrStore.
	Upsert(ctx context.Context, points []Point, namespace string) error

	// Query returns up to topK matches for the vector in the namespace.
	// filter restricts matches by exact payload field equality; nil or empty
	// means unfiltered.
	Query(ctx context.Context, vector []float32, namespace string, topK int, filter map[string]string) ([]Match, error)

	// Ping checks that the store is reachable. Used by health probes.
	Ping(ctx context.Context) error

	// Close releases client resources.
	Close() error
}
