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
	"fmt"
	"strings"
)

const maxQueueNameLength = 128

// ValidateQueueName checks that a queue name is usable as a durable key.
func ValidateQueueName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: queue name is empty", ErrValidation)
	}
	if len(name) > maxQueueNameLength {
		return fmt.Errorf("%w: queue name exceeds %d characters", ErrValidation, maxQueueNameLength)
	}
	if strings.ContainsRune(name, '/') {
		return fmt.Errorf("%w: queue name must not contain '/'", ErrValidation)
	}
	return nil
}

// ValidateFileMeta checks the fields callers must supply for a queued file.
// maxSize of 0 disables the per-item size limit.
func ValidateFileMeta(file FileMeta, maxSize int64) error {
	if strings.TrimSpace(file.Name) == "" {
		return fmt.Errorf("%w: file name is empty", ErrValidation)
	}
	if file.Size < 0 {
		return fmt.Errorf("%w: file %q has negative size", ErrValidation, file.Name)
	}
	if maxSize > 0 && file.Size > maxSize {
		return fmt.Errorf("%w: file %q exceeds size limit (%d > %d bytes)", ErrValidation, file.Name, file.Size, maxSize)
	}
	return nil
}

// ValidateStatusTransition checks a queue item status change.
// Terminal statuses never transition again.
func ValidateStatusTransition(from, to ItemStatus) error {
	if from.Terminal() {
		return fmt.Errorf("%w: item is already %s", ErrValidation, from)
	}
	switch to {
	case ItemPending, ItemProcessing, ItemCompleted, ItemFailed:
		return nil
	default:
		return fmt.Errorf("%w: unknown item status %d", ErrValidation, int(to))
	}
}
