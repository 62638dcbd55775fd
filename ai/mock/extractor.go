package mock

import (
	"context"
	"sync"

	"github.com/poiesic/conduit/ai"
)

// Extractor is a test double for ai.Extractor.
type Extractor struct {
	// ExtractFunc is called by Extract if set.
	// If nil, returns Text for every file.
	ExtractFunc func(ctx context.Context, file ai.SourceFile) (string, error)

	// Text is the default extraction result when ExtractFunc is nil.
	Text string

	mu    sync.Mutex
	calls []ai.SourceFile
}

// NewExtractor creates a mock extractor that returns the given text.
func NewExtractor(text string) *Extractor {
	return &Extractor{Text: text}
}

// Extract records the call and returns the injected behavior or Text.
func (m *Extractor) Extract(ctx context.Context, file ai.SourceFile) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, file)
	m.mu.Unlock()

	if m.ExtractFunc != nil {
		return m.ExtractFunc(ctx, file)
	}
	return m.Text, nil
}

// Calls returns the files passed to Extract, in call order.
func (m *Extractor) Calls() []ai.SourceFile {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ai.SourceFile, len(m.calls))
	copy(out, m.calls)
	return out
}
