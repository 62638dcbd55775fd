package storage

import (
	"context"

	"github.com/poiesic/conduit/core"
)

// QueueStore persists upload queue records. Implementations must be
// thread-safe and support concurrent access.
type QueueStore interface {
	// ReadAll loads every persisted queue record. Called once at startup
	// to restore state before new work is accepted.
	ReadAll(ctx context.Context) ([]*core.QueueRecord, error)

	// Write persists the full queue record, replacing any previous
	// version under the same user/name key.
	Write(ctx context.Context, record *core.QueueRecord) error

	// Delete removes a queue record.
	// Returns ErrNotFound if no record exists under the key.
	Delete(ctx context.Context, userID, name string) error

	// Close closes the store and releases resources.
	Close() error
}
