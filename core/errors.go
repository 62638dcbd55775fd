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
	"context"
	"errors"
	"strings"
)

// Shared error taxonomy. Components wrap these sentinels so callers can
// classify failures with errors.Is regardless of where they originated.
var (
	// ErrValidation indicates bad input rejected before any work started.
	// Never retried.
	ErrValidation = errors.New("validation failed")

	// ErrExhausted indicates a queue, cache, or pool refused new work
	// because it is at capacity.
	ErrExhausted = errors.New("resource exhausted")

	// ErrCancelled indicates the owning job was cancelled mid-flight.
	// Never retried.
	ErrCancelled = errors.New("cancelled")

	// ErrTimeout indicates a job or call exceeded its time budget.
	// Consumes a retry attempt.
	ErrTimeout = errors.New("timed out")
)

// permanentMarkers are message fragments that mark an external failure as
// non-retryable even when it arrives as a plain error.
var permanentMarkers = []string{
	"validation",
	"invalid",
	"permission",
	"unauthorized",
	"forbidden",
	"not found",
}

// IsRetryable reports whether a failed attempt may be scheduled again.
// Validation problems, cancellations, and permission/not-found style
// failures are permanent; everything else (network, timeout, rate limit)
// is assumed transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return false
		}
	}
	return true
}
