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


package batcher

import "strings"

// Normalize prepares a text for embedding: whitespace is trimmed, texts
// shorter than minLen are right-padded with spaces, and texts longer than
// maxLen are truncated at a rune boundary. A maxLen of 0 disables
// truncation.
func Normalize(text string, minLen, maxLen int) string {
	text = strings.TrimSpace(text)

	if maxLen > 0 {
		runes := []rune(text)
		if len(runes) > maxLen {
			text = string(runes[:maxLen])
		}
	}

	if pad := minLen - len([]rune(text)); pad > 0 {
		text += strings.Repeat(" ", pad)
	}
	return text
}
