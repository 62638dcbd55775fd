package plaintext

import (
	"context"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/poiesic/conduit/ai"
)

const defaultMaxFileBytes = 32 << 20 // 32 MiB

// Extractor implements ai.Extractor for UTF-8 text files.
// Binary files are rejected rather than mangled.
type Extractor struct {
	maxBytes int64
}

var _ ai.Extractor = (*Extractor)(nil)

// Option configures an Extractor.
type Option func(*Extractor)

// WithMaxFileBytes caps the size of files the extractor will read.
func WithMaxFileBytes(n int64) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxBytes = n
		}
	}
}

// NewExtractor creates a plain-text extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{maxBytes: defaultMaxFileBytes}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract reads the file and returns its content as a string.
func (e *Extractor) Extract(ctx context.Context, file ai.SourceFile) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	info, err := os.Stat(file.Path)
	if err != nil {
		return "", fmt.Errorf("%w: stat %q: %w", ai.ErrExtraction, file.Path, err)
	}
	if info.Size() > e.maxBytes {
		return "", fmt.Errorf("%w: %q is %d bytes, limit is %d", ai.ErrExtraction, file.Name, info.Size(), e.maxBytes)
	}

	data, err := os.ReadFile(file.Path)
	if err != nil {
		return "", fmt.Errorf("%w: read %q: %w", ai.ErrExtraction, file.Path, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %q is not valid UTF-8 text", ai.ErrExtraction, file.Name)
	}

	return string(data), nil
}
