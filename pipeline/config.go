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


package pipeline

import (
	"fmt"
	"time"

	"github.com/poiesic/conduit/batcher"
	"github.com/poiesic/conduit/cache"
	"github.com/poiesic/conduit/connpool"
	"github.com/poiesic/conduit/core"
	"github.com/poiesic/conduit/progress"
	"github.com/poiesic/conduit/scheduler"
	"github.com/poiesic/conduit/uploadqueue"
)

// Slot pool names handed to processors through their job context.
const (
	SlotDocuments  = "documents"
	SlotChunks     = "chunks"
	SlotEmbeddings = "embeddings"
)

// Config wires every component of the ingestion pipeline.
type Config struct {
	// DocumentSlots bounds documents processed concurrently.
	DocumentSlots int

	// ChunkSlots bounds concurrent text-splitting work.
	ChunkSlots int

	// EmbeddingSlots bounds concurrent embedding requests in flight from
	// processors, upstream of the batch collector's own pool.
	EmbeddingSlots int

	// ChunkSize and ChunkOverlap tune the recursive-character splitter.
	ChunkSize    int
	ChunkOverlap int

	// Namespace is the vector store collection all points land in.
	Namespace string

	// ConsumerInterval is the queue-consumer poll period. 0 disables the
	// consumer; queued items then only move when dequeued explicitly.
	ConsumerInterval time.Duration

	Cache     cache.Config
	Batcher   batcher.Config
	ConnPool  connpool.Config
	Scheduler scheduler.Config
	Queues    uploadqueue.Config
	Progress  progress.Config
}

// DefaultConfig returns a complete single-process pipeline configuration.
func DefaultConfig() Config {
	return Config{
		DocumentSlots:    4,
		ChunkSlots:       8,
		EmbeddingSlots:   8,
		ChunkSize:        1500,
		ChunkOverlap:     200,
		Namespace:        "conduit",
		ConsumerInterval: 500 * time.Millisecond,
		Cache:            cache.Config{MaxEntries: 4096, MaxMemoryBytes: 256 << 20, DefaultTTL: time.Hour},
		Batcher:          batcher.DefaultConfig(),
		ConnPool:         connpool.DefaultConfig(),
		Scheduler:        scheduler.DefaultConfig(),
		Queues:           uploadqueue.DefaultConfig(),
		Progress:         progress.DefaultConfig(),
	}
}

func (c *Config) validate() error {
	if c.DocumentSlots < 1 || c.ChunkSlots < 1 || c.EmbeddingSlots < 1 {
		return fmt.Errorf("%w: slot capacities must be positive", core.ErrValidation)
	}
	if c.ChunkSize < 1 || c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: chunk size %d with overlap %d", core.ErrValidation, c.ChunkSize, c.ChunkOverlap)
	}
	if c.Namespace == "" {
		return fmt.Errorf("%w: namespace is empty", core.ErrValidation)
	}
	return nil
}
