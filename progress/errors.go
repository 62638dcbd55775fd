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


package progress

import "errors"

var (
	// ErrTrackerExists indicates a tracker with the id is already live.
	ErrTrackerExists = errors.New("tracker already exists")

	// ErrTrackerNotFound indicates no live or grace-period tracker has
	// the id.
	ErrTrackerNotFound = errors.New("tracker not found")

	// ErrTrackerFinished indicates an update on a terminal tracker.
	ErrTrackerFinished = errors.New("tracker already finished")

	// ErrRegistryClosed is returned for operations after Close.
	ErrRegistryClosed = errors.New("progress registry closed")
)
