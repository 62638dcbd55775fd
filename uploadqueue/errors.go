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

import "errors"

var (
	// ErrQueueExists indicates the user already has a queue by that name.
	ErrQueueExists = errors.New("queue already exists")

	// ErrQueueNotFound indicates no queue exists under the user/name key.
	ErrQueueNotFound = errors.New("queue not found")

	// ErrQueuePaused indicates a dequeue was attempted on a paused queue.
	ErrQueuePaused = errors.New("queue is paused")

	// ErrItemNotFound indicates the queue holds no item with that id.
	ErrItemNotFound = errors.New("queue item not found")

	// ErrNoPendingItems indicates the queue has nothing left to dequeue.
	ErrNoPendingItems = errors.New("no pending items")

	// ErrManagerClosed is returned for operations after Close.
	ErrManagerClosed = errors.New("upload queue manager closed")
)
