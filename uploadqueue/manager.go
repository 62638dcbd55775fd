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


package uploadqueue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/conduit/core"
	"github.com/poiesic/conduit/storage"
)

// Config tunes a Manager.
type Config struct {
	// MaxItemBytes is the per-file size limit. 0 disables the check.
	MaxItemBytes int64

	// MaxQueueBytes is the aggregate size limit across all items in one
	// queue. 0 disables the check.
	MaxQueueBytes int64

	// MaxItemsPerQueue bounds items per queue. 0 disables the check.
	MaxItemsPerQueue int

	// AutoSaveInterval is the period of the dirty-queue re-persist ticker.
	// 0 disables auto-save; write-through persistence still applies.
	AutoSaveInterval time.Duration
}

// DefaultConfig returns limits suitable for document ingestion.
func DefaultConfig() Config {
	return Config{
		MaxItemBytes:     512 << 20, // 512 MiB
		MaxQueueBytes:    4 << 30,   // 4 GiB
		MaxItemsPerQueue: 1000,
		AutoSaveInterval: 5 * time.Second,
	}
}

// Manager owns every durable upload queue. All mutations are persisted
// write-through; records that fail to persist stay marked dirty until the
// auto-save ticker gets them through.
type Manager struct {
	cfg    Config
	store  storage.QueueStore
	logger *slog.Logger

	mu     sync.Mutex
	queues map[string]*core.QueueRecord // key: core.QueueKey(userID, name)
	dirty  map[string]bool
	closed bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New restores all persisted queues from the store and starts the
// auto-save ticker. The manager does not accept work until restore
// completes.
func New(ctx context.Context, store storage.QueueStore, cfg Config) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: queue store required", core.ErrValidation)
	}

	records, err := store.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("restoring queues: %w", err)
	}

	m := &Manager{
		cfg:    cfg,
		store:  store,
		logger: slog.Default().With("component", "uploadqueue"),
		queues: make(map[string]*core.QueueRecord, len(records)),
		dirty:  make(map[string]bool),
		done:   make(chan struct{}),
	}
	for _, record := range records {
		m.queues[core.QueueKey(record.UserID, record.Name)] = record
	}
	if len(records) > 0 {
		m.logger.Info("restored upload queues", "count", len(records))
	}

	if cfg.AutoSaveInterval > 0 {
		m.wg.Add(1)
		go m.autoSaveLoop()
	}
	return m, nil
}

// CreateQueue creates an empty named queue for the user.
func (m *Manager) CreateQueue(ctx context.Context, userID, name string) (*core.QueueRecord, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is empty", core.ErrValidation)
	}
	if err := core.ValidateQueueName(name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}

	key := core.QueueKey(userID, name)
	if _, ok := m.queues[key]; ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueExists, key)
	}

	now := time.Now().UTC()
	record := &core.QueueRecord{
		Id:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.queues[key] = record
	m.persistLocked(ctx, record)
	return record.Clone(), nil
}

// Queue returns a snapshot of one queue.
func (m *Manager) Queue(userID, name string) (*core.QueueRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, err := m.lookupLocked(userID, name)
	if err != nil {
		return nil, err
	}
	return record.Clone(), nil
}

// Queues returns snapshots of all of a user's queues, ordered by name.
func (m *Manager) Queues(userID string) []*core.QueueRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*core.QueueRecord
	for _, record := range m.queues {
		if record.UserID == userID {
			out = append(out, record.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// All returns snapshots of every queue across all users, ordered by key.
func (m *Manager) All() []*core.QueueRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*core.QueueRecord, 0, len(m.queues))
	for _, record := range m.queues {
		out = append(out, record.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		return core.QueueKey(out[i].UserID, out[i].Name) < core.QueueKey(out[j].UserID, out[j].Name)
	})
	return out
}

// AddItems validates and appends files to a queue. Each item gets a
// BLAKE2b content hash; items of an unreadable path fall back to a hash
// of the file metadata.
func (m *Manager) AddItems(ctx context.Context, userID, name string, files []core.FileMeta) ([]core.QueueItem, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no files given", core.ErrValidation)
	}
	for _, file := range files {
		if err := core.ValidateFileMeta(file, m.cfg.MaxItemBytes); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	record, err := m.lookupLocked(userID, name)
	if err != nil {
		return nil, err
	}

	if m.cfg.MaxItemsPerQueue > 0 && len(record.Items)+len(files) > m.cfg.MaxItemsPerQueue {
		return nil, fmt.Errorf("%w: queue %s would exceed %d items",
			core.ErrExhausted, core.QueueKey(userID, name), m.cfg.MaxItemsPerQueue)
	}
	if m.cfg.MaxQueueBytes > 0 {
		total := int64(0)
		for i := range record.Items {
			total += record.Items[i].File.Size
		}
		for _, file := range files {
			total += file.Size
		}
		if total > m.cfg.MaxQueueBytes {
			return nil, fmt.Errorf("%w: queue %s would exceed %d bytes",
				core.ErrExhausted, core.QueueKey(userID, name), m.cfg.MaxQueueBytes)
		}
	}

	now := time.Now().UTC()
	added := make([]core.QueueItem, 0, len(files))
	position := len(record.Items)
	for _, file := range files {
		item := core.QueueItem{
			Id:          uuid.NewString(),
			Position:    position,
			File:        file,
			ContentHash: hashFile(file),
			Status:      core.ItemPending,
			AddedAt:     now,
		}
		record.Items = append(record.Items, item)
		added = append(added, item)
		position++
	}
	record.UpdatedAt = now
	m.persistLocked(ctx, record)
	return added, nil
}

// Reorder rearranges the queue's pending items into the given id order.
// The id list must name exactly the pending items; in-flight and terminal
// items keep their relative order ahead of the pending block.
func (m *Manager) Reorder(ctx context.Context, userID, name string, itemIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	record, err := m.lookupLocked(userID, name)
	if err != nil {
		return err
	}
	return m.reorderLocked(ctx, record, itemIDs)
}

// MoveItem moves one pending item to a new position within the pending
// block; the other pending items keep their relative order.
func (m *Manager) MoveItem(ctx context.Context, userID, name, itemID string, newPosition int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	record, err := m.lookupLocked(userID, name)
	if err != nil {
		return err
	}

	var pendingIDs []string
	found := false
	for i := range record.Items {
		if record.Items[i].Status != core.ItemPending {
			continue
		}
		if record.Items[i].Id == itemID {
			found = true
			continue
		}
		pendingIDs = append(pendingIDs, record.Items[i].Id)
	}
	if !found {
		return fmt.Errorf("%w: item %s is not a pending item of the queue", core.ErrValidation, itemID)
	}

	if newPosition < 0 {
		newPosition = 0
	}
	if newPosition > len(pendingIDs) {
		newPosition = len(pendingIDs)
	}
	ordered := make([]string, 0, len(pendingIDs)+1)
	ordered = append(ordered, pendingIDs[:newPosition]...)
	ordered = append(ordered, itemID)
	ordered = append(ordered, pendingIDs[newPosition:]...)
	return m.reorderLocked(ctx, record, ordered)
}

func (m *Manager) reorderLocked(ctx context.Context, record *core.QueueRecord, itemIDs []string) error {
	pending := make(map[string]core.QueueItem)
	var rest []core.QueueItem
	for i := range record.Items {
		if record.Items[i].Status == core.ItemPending {
			pending[record.Items[i].Id] = record.Items[i]
		} else {
			rest = append(rest, record.Items[i])
		}
	}
	if len(itemIDs) != len(pending) {
		return fmt.Errorf("%w: reorder names %d items, queue has %d pending",
			core.ErrValidation, len(itemIDs), len(pending))
	}

	reordered := make([]core.QueueItem, 0, len(record.Items))
	reordered = append(reordered, rest...)
	seen := make(map[string]bool, len(itemIDs))
	for _, id := range itemIDs {
		item, ok := pending[id]
		if !ok || seen[id] {
			return fmt.Errorf("%w: item %s is not a pending item of the queue", core.ErrValidation, id)
		}
		seen[id] = true
		reordered = append(reordered, item)
	}

	for i := range reordered {
		reordered[i].Position = i
	}
	record.Items = reordered
	record.UpdatedAt = time.Now().UTC()
	m.persistLocked(ctx, record)
	return nil
}

// Pause stops consumers from dequeuing. In-flight items are unaffected.
func (m *Manager) Pause(ctx context.Context, userID, name string) error {
	return m.setPaused(ctx, userID, name, true)
}

// Resume re-enables dequeuing.
func (m *Manager) Resume(ctx context.Context, userID, name string) error {
	return m.setPaused(ctx, userID, name, false)
}

func (m *Manager) setPaused(ctx context.Context, userID, name string, paused bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	record, err := m.lookupLocked(userID, name)
	if err != nil {
		return err
	}
	if record.Paused == paused {
		return nil
	}
	record.Paused = paused
	record.UpdatedAt = time.Now().UTC()
	m.persistLocked(ctx, record)
	return nil
}

// Dequeue hands the lowest-position pending item to a consumer, marking
// it processing and counting the attempt.
func (m *Manager) Dequeue(ctx context.Context, userID, name string) (*core.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	record, err := m.lookupLocked(userID, name)
	if err != nil {
		return nil, err
	}
	if record.Paused {
		return nil, fmt.Errorf("%w: %s", ErrQueuePaused, core.QueueKey(userID, name))
	}

	next := -1
	for i := range record.Items {
		if record.Items[i].Status != core.ItemPending {
			continue
		}
		if next == -1 || record.Items[i].Position < record.Items[next].Position {
			next = i
		}
	}
	if next == -1 {
		return nil, ErrNoPendingItems
	}

	item := &record.Items[next]
	if err := core.ValidateStatusTransition(item.Status, core.ItemProcessing); err != nil {
		return nil, err
	}
	item.Status = core.ItemProcessing
	item.StartedAt = time.Now().UTC()
	item.Attempts++
	record.UpdatedAt = item.StartedAt
	m.persistLocked(ctx, record)

	out := *item
	return &out, nil
}

// MarkCompleted finishes an in-flight item successfully.
func (m *Manager) MarkCompleted(ctx context.Context, userID, name, itemID string) error {
	return m.finishItem(ctx, userID, name, itemID, core.ItemCompleted, "")
}

// MarkFailed finishes an in-flight item with an error message.
func (m *Manager) MarkFailed(ctx context.Context, userID, name, itemID, message string) error {
	return m.finishItem(ctx, userID, name, itemID, core.ItemFailed, message)
}

func (m *Manager) finishItem(ctx context.Context, userID, name, itemID string, status core.ItemStatus, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	record, err := m.lookupLocked(userID, name)
	if err != nil {
		return err
	}

	for i := range record.Items {
		if record.Items[i].Id != itemID {
			continue
		}
		item := &record.Items[i]
		if err := core.ValidateStatusTransition(item.Status, status); err != nil {
			return err
		}
		item.Status = status
		item.Error = message
		item.CompletedAt = time.Now().UTC()
		record.UpdatedAt = item.CompletedAt
		m.persistLocked(ctx, record)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
}

// Cleanup purges completed and failed items and compacts the positions of
// what remains. Returns the number of purged items.
func (m *Manager) Cleanup(ctx context.Context, userID, name string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrManagerClosed
	}
	record, err := m.lookupLocked(userID, name)
	if err != nil {
		return 0, err
	}

	kept := record.Items[:0]
	removed := 0
	for i := range record.Items {
		if record.Items[i].Status.Terminal() {
			removed++
			continue
		}
		kept = append(kept, record.Items[i])
	}
	if removed == 0 {
		return 0, nil
	}

	for i := range kept {
		kept[i].Position = i
	}
	record.Items = kept
	record.UpdatedAt = time.Now().UTC()
	m.persistLocked(ctx, record)
	return removed, nil
}

// DeleteQueue removes a queue and its durable record.
func (m *Manager) DeleteQueue(ctx context.Context, userID, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrManagerClosed
	}
	key := core.QueueKey(userID, name)
	if _, ok := m.queues[key]; !ok {
		return fmt.Errorf("%w: %s", ErrQueueNotFound, key)
	}
	delete(m.queues, key)
	delete(m.dirty, key)

	if err := m.store.Delete(ctx, userID, name); err != nil {
		return fmt.Errorf("deleting queue %s: %w", key, err)
	}
	return nil
}

// Close flushes dirty queues and stops the manager.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.done)
	m.wg.Wait()
	m.flushDirty(context.Background())
	return nil
}

// lookupLocked finds a queue record. Caller holds mu.
func (m *Manager) lookupLocked(userID, name string) (*core.QueueRecord, error) {
	record, ok := m.queues[core.QueueKey(userID, name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrQueueNotFound, core.QueueKey(userID, name))
	}
	return record, nil
}

// persistLocked writes the record through to the store. On failure the
// queue is marked dirty so the auto-save ticker retries. Caller holds mu.
func (m *Manager) persistLocked(ctx context.Context, record *core.QueueRecord) {
	key := core.QueueKey(record.UserID, record.Name)
	if err := m.store.Write(ctx, record.Clone()); err != nil {
		m.logger.Error("queue persist failed, marking dirty", "queue", key, "err", err)
		m.dirty[key] = true
		return
	}
	delete(m.dirty, key)
}

func (m *Manager) autoSaveLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.AutoSaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.flushDirty(context.Background())
		case <-m.done:
			return
		}
	}
}

// flushDirty retries the write-through for every dirty queue.
func (m *Manager) flushDirty(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.dirty {
		record, ok := m.queues[key]
		if !ok {
			delete(m.dirty, key)
			continue
		}
		if err := m.store.Write(ctx, record.Clone()); err != nil {
			m.logger.Warn("auto-save failed", "queue", key, "err", err)
			continue
		}
		delete(m.dirty, key)
	}
}

// hashFile derives the item content hash from the file bytes, falling
// back to the metadata when the path cannot be read.
func hashFile(file core.FileMeta) core.ID {
	if file.Path != "" {
		if f, err := os.Open(file.Path); err == nil {
			defer f.Close()
			if id, err := core.IDFromReader(f); err == nil {
				return id
			}
		}
	}
	return core.IDFromContent(fmt.Sprintf("%s:%d:%s", file.Name, file.Size, file.ContentType))
}
