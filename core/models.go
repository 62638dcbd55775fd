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


package core

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a content-derived identifier for cacheable values and file items.
// Identical content always produces the same ID.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// IDFromReader generates a deterministic ID from a stream, typically file
// contents. Reads the stream to EOF.
func IDFromReader(r io.Reader) (ID, error) {
	h, _ := blake2b.New(8, nil)
	if _, err := io.Copy(h, r); err != nil {
		return 0, err
	}
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum)), nil
}

// ItemStatus is the lifecycle state of a queued file item.
type ItemStatus int

const (
	// ItemPending means the item has not been picked up by a consumer yet.
	ItemPending ItemStatus = iota + 1
	// ItemProcessing means a consumer is working on the item.
	ItemProcessing
	// ItemCompleted means the item was processed successfully.
	ItemCompleted
	// ItemFailed means processing gave up on the item.
	ItemFailed
)

// String returns the lowercase name of the status.
func (s ItemStatus) String() string {
	switch s {
	case ItemPending:
		return "pending"
	case ItemProcessing:
		return "processing"
	case ItemCompleted:
		return "completed"
	case ItemFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is completed or failed.
func (s ItemStatus) Terminal() bool {
	return s == ItemCompleted || s == ItemFailed
}

// FileMeta describes a file handed to the upload queue.
type FileMeta struct {
	Name        string
	Path        string
	Size        int64
	ContentType string
}

// QueueItem is a single file entry inside an upload queue.
// Position determines consumption order among pending items.
type QueueItem struct {
	Id          string
	Position    int
	File        FileMeta
	ContentHash ID
	Status      ItemStatus
	Attempts    int
	Error       string
	AddedAt     time.Time
	StartedAt   time.Time // zero until a consumer picks the item up
	CompletedAt time.Time // zero until the item reaches a terminal status
}

// QueueRecord is the durable representation of one named, user-scoped
// upload queue. The whole record is rewritten on every mutation.
type QueueRecord struct {
	Id        string
	UserID    string
	Name      string
	Paused    bool
	Items     []QueueItem
	CreatedAt time.Time
	UpdatedAt time.Time
}

// QueueKey returns the in-memory lookup key for a user-scoped queue name.
func QueueKey(userID, name string) string {
	return userID + "/" + name
}

// Clone returns a deep copy of the record so callers can hold snapshots
// without racing the manager's working copy.
func (r *QueueRecord) Clone() *QueueRecord {
	c := *r
	c.Items = make([]QueueItem, len(r.Items))
	copy(c.Items, r.Items)
	return &c
}

// PendingCount returns the number of items still waiting for a consumer.
func (r *QueueRecord) PendingCount() int {
	n := 0
	for i := range r.Items {
		if r.Items[i].Status == ItemPending {
			n++
		}
	}
	return n
}
