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

package extract

import "errors"

var (
	// ErrUnsupportedFormat is returned when no extractor handles a document.
	ErrUnsupportedFormat = errors.New("unsupported format")

	// ErrEmptyDocument is returned for zero-length input.
	ErrEmptyDocument = errors.New("empty document")

	// ErrTooLarge is returned when a fetched document exceeds the size limit.
	ErrTooLarge = errors.New("document too large")
)
