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
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
)

// MUS serializers for the persisted queue types. The record surface is small
// enough that the serializers are written by hand against the mus-go
// primitive serializers instead of being generated.
//
// Timestamps are stored as Unix microseconds; the zero time is stored as 0.
var (
	IDMUS          = idMUS{}
	ItemStatusMUS  = itemStatusMUS{}
	FileMetaMUS    = fileMetaMUS{}
	QueueItemMUS   = queueItemMUS{}
	QueueRecordMUS = queueRecordMUS{}
)

type idMUS struct{}

func (idMUS) Marshal(id ID, bs []byte) int {
	return varint.Uint64.Marshal(uint64(id), bs)
}

func (idMUS) Unmarshal(bs []byte) (ID, int, error) {
	v, n, err := varint.Uint64.Unmarshal(bs)
	return ID(v), n, err
}

func (idMUS) Size(id ID) int {
	return varint.Uint64.Size(uint64(id))
}

type itemStatusMUS struct{}

func (itemStatusMUS) Marshal(s ItemStatus, bs []byte) int {
	return varint.Int.Marshal(int(s), bs)
}

func (itemStatusMUS) Unmarshal(bs []byte) (ItemStatus, int, error) {
	v, n, err := varint.Int.Unmarshal(bs)
	return ItemStatus(v), n, err
}

func (itemStatusMUS) Size(s ItemStatus) int {
	return varint.Int.Size(int(s))
}

func marshalTime(t time.Time, bs []byte) int {
	var micros int64
	if !t.IsZero() {
		micros = t.UnixMicro()
	}
	return varint.Int64.Marshal(micros, bs)
}

func unmarshalTime(bs []byte) (time.Time, int, error) {
	micros, n, err := varint.Int64.Unmarshal(bs)
	if err != nil || micros == 0 {
		return time.Time{}, n, err
	}
	return time.UnixMicro(micros).UTC(), n, nil
}

func sizeTime(t time.Time) int {
	var micros int64
	if !t.IsZero() {
		micros = t.UnixMicro()
	}
	return varint.Int64.Size(micros)
}

type fileMetaMUS struct{}

func (fileMetaMUS) Marshal(f FileMeta, bs []byte) (n int) {
	n = ord.String.Marshal(f.Name, bs)
	n += ord.String.Marshal(f.Path, bs[n:])
	n += varint.Int64.Marshal(f.Size, bs[n:])
	n += ord.String.Marshal(f.ContentType, bs[n:])
	return n
}

func (fileMetaMUS) Unmarshal(bs []byte) (f FileMeta, n int, err error) {
	var c int
	if f.Name, n, err = ord.String.Unmarshal(bs); err != nil {
		return
	}
	if f.Path, c, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += c
	if f.Size, c, err = varint.Int64.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += c
	if f.ContentType, c, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += c
	return
}

func (fileMetaMUS) Size(f FileMeta) int {
	return ord.String.Size(f.Name) +
		ord.String.Size(f.Path) +
		varint.Int64.Size(f.Size) +
		ord.String.Size(f.ContentType)
}

type queueItemMUS struct{}

func (queueItemMUS) Marshal(it QueueItem, bs []byte) (n int) {
	n = ord.String.Marshal(it.Id, bs)
	n += varint.Int.Marshal(it.Position, bs[n:])
	n += FileMetaMUS.Marshal(it.File, bs[n:])
	n += IDMUS.Marshal(it.ContentHash, bs[n:])
	n += ItemStatusMUS.Marshal(it.Status, bs[n:])
	n += varint.Int.Marshal(it.Attempts, bs[n:])
	n += ord.String.Marshal(it.Error, bs[n:])
	n += marshalTime(it.AddedAt, bs[n:])
	n += marshalTime(it.StartedAt, bs[n:])
	n += marshalTime(it.CompletedAt, bs[n:])
	return n
}

func (queueItemMUS) Unmarshal(bs []byte) (it QueueItem, n int, err error) {
	var c int
	if it.Id, n, err = ord.String.Unmarshal(bs); err != nil {
		return
	}
	if it.Position, c, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += c
	if it.File, c, err = FileMetaMUS.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += c
	if it.ContentHash, c, err = IDMUS.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += c
	if it.Status, c, err = ItemStatusMUS.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += c
	if it.Attempts, c, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += c
	if it.Error, c, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += c
	if it.AddedAt, c, err = unmarshalTime(bs[n:]); err != nil {
		return
	}
	n += c
	if it.StartedAt, c, err = unmarshalTime(bs[n:]); err != nil {
		return
	}
	n += c
	if it.CompletedAt, c, err = unmarshalTime(bs[n:]); err != nil {
		return
	}
	n += c
	return
}

func (queueItemMUS) Size(it QueueItem) int {
	return ord.String.Size(it.Id) +
		varint.Int.Size(it.Position) +
		FileMetaMUS.Size(it.File) +
		IDMUS.Size(it.ContentHash) +
		ItemStatusMUS.Size(it.Status) +
		varint.Int.Size(it.Attempts) +
		ord.String.Size(it.Error) +
		sizeTime(it.AddedAt) +
		sizeTime(it.StartedAt) +
		sizeTime(it.CompletedAt)
}

type queueRecordMUS struct{}

func (queueRecordMUS) Marshal(r QueueRecord, bs []byte) (n int) {
	n = ord.String.Marshal(r.Id, bs)
	n += ord.String.Marshal(r.UserID, bs[n:])
	n += ord.String.Marshal(r.Name, bs[n:])
	n += ord.Bool.Marshal(r.Paused, bs[n:])
	n += varint.Int.Marshal(len(r.Items), bs[n:])
	for i := range r.Items {
		n += QueueItemMUS.Marshal(r.Items[i], bs[n:])
	}
	n += marshalTime(r.CreatedAt, bs[n:])
	n += marshalTime(r.UpdatedAt, bs[n:])
	return n
}

func (queueRecordMUS) Unmarshal(bs []byte) (r QueueRecord, n int, err error) {
	var c int
	if r.Id, n, err = ord.String.Unmarshal(bs); err != nil {
		return
	}
	if r.UserID, c, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += c
	if r.Name, c, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += c
	if r.Paused, c, err = ord.Bool.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += c
	var count int
	if count, c, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += c
	if count < 0 {
		err = ErrValidation
		return
	}
	r.Items = make([]QueueItem, count)
	for i := 0; i < count; i++ {
		if r.Items[i], c, err = QueueItemMUS.Unmarshal(bs[n:]); err != nil {
			return
		}
		n += c
	}
	if r.CreatedAt, c, err = unmarshalTime(bs[n:]); err != nil {
		return
	}
	n += c
	if r.UpdatedAt, c, err = unmarshalTime(bs[n:]); err != nil {
		return
	}
	n += c
	return
}

func (queueRecordMUS) Size(r QueueRecord) int {
	n := ord.String.Size(r.Id) +
		ord.String.Size(r.UserID) +
		ord.String.Size(r.Name) +
		ord.Bool.Size(r.Paused) +
		varint.Int.Size(len(r.Items))
	for i := range r.Items {
		n += QueueItemMUS.Size(r.Items[i])
	}
	n += sizeTime(r.CreatedAt) + sizeTime(r.UpdatedAt)
	return n
}
