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


package badger

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/conduit/core"
	"github.com/poiesic/conduit/storage"
)

// QueueStore implements storage.QueueStore for BadgerDB.
type QueueStore struct {
	backend *Backend
}

var _ storage.QueueStore = (*QueueStore)(nil)

// NewQueueStore creates a new QueueStore on the backend.
func NewQueueStore(backend *Backend) *QueueStore {
	return &QueueStore{backend: backend}
}

// ReadAll loads every persisted queue record.
func (s *QueueStore) ReadAll(ctx context.Context) ([]*core.QueueRecord, error) {
	if s.backend.IsClosed() {
		return nil, storage.ErrStorageClosed
	}

	var records []*core.QueueRecord
	err := s.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(queueRecordPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			err := iter.Item().Value(func(val []byte) error {
				record, err := storage.UnmarshalQueueRecord(val)
				if err != nil {
					return err
				}
				records = append(records, record)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Write persists the full queue record.
func (s *QueueStore) Write(ctx context.Context, record *core.QueueRecord) error {
	if s.backend.IsClosed() {
		return storage.ErrStorageClosed
	}

	key := makeQueueRecordKey(record.UserID, record.Name)
	value := storage.MarshalQueueRecord(record)
	return s.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(key, value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Delete removes a queue record.
func (s *QueueStore) Delete(ctx context.Context, userID, name string) error {
	if s.backend.IsClosed() {
		return storage.ErrStorageClosed
	}

	key := makeQueueRecordKey(userID, name)
	return s.backend.WithTx(func(tx *badger.Txn) error {
		if _, err := tx.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		if err := tx.Delete(key); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// Close closes the underlying backend.
func (s *QueueStore) Close() error {
	return s.backend.Close()
}
