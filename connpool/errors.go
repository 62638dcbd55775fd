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


package connpool

import "errors"

var (
	// ErrCircuitOpen is returned without touching the dependency while the
	// breaker is open. Callers may fall back to stale data.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrAcquireTimeout is returned when no connection slot frees up within
	// the acquire timeout.
	ErrAcquireTimeout = errors.New("timed out waiting for a connection slot")

	// ErrPoolClosed is returned after Close.
	ErrPoolClosed = errors.New("connection pool is closed")
)
