package qdrant

import (
	"fmt"
	"strings"

	"github.com/poiesic/conduit/ai"
)

// Config holds connection settings for a Qdrant instance.
type Config struct {
	// Host is the Qdrant gRPC endpoint host.
	Host string

	// Port is the Qdrant gRPC port. Defaults to 6334.
	Port int

	// APIKey authenticates against managed Qdrant deployments. Optional.
	APIKey string

	// UseTLS enables transport security. Required by most managed deployments.
	UseTLS bool

	// VectorSize is the embedding dimension used when a namespace has to be
	// created on first upsert.
	VectorSize uint64
}

// DefaultConfig returns a Config pointing at a local Qdrant instance.
func DefaultConfig() *Config {
	return &Config{
		Host:       "localhost",
		Port:       6334,
		VectorSize: 384,
	}
}

// Validate checks that required fields are present.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("%w: qdrant host is required", ai.ErrConfigInvalid)
	}
	if c.VectorSize == 0 {
		return fmt.Errorf("%w: vector size is required", ai.ErrConfigInvalid)
	}
	return nil
}
