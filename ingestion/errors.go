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

package ingestion

import "errors"

var (
	// ErrSessionManagerRequired is returned when a session manager is not provided.
	ErrSessionManagerRequired = errors.New("session manager required")

	// ErrCoordinatorRequired is returned when a storage coordinator is not provided.
	ErrCoordinatorRequired = errors.New("storage coordinator required")

	// ErrAIProviderRequired is returned when an AI provider is not provided.
	ErrAIProviderRequired = errors.New("AI provider required")

	// ErrExtractorRequired is returned when a text extractor is not provided.
	ErrExtractorRequired = errors.New("text extractor required")

	// ErrInvalidConfig is returned for pipeline settings that cannot work.
	ErrInvalidConfig = errors.New("invalid pipeline configuration")

	// ErrInvalidMaxAttempts is returned when maxAttempts is <= 0
	ErrInvalidMaxAttempts = errors.New("maxAttempts must be greater than 0")

	// ErrNoSource is returned when a source has neither a URL nor data.
	ErrNoSource = errors.New("source requires a url or data")

	// ErrSessionActive is returned when a session is already being processed.
	ErrSessionActive = errors.New("session is being processed")

	// ErrPipelineClosed is returned after Close.
	ErrPipelineClosed = errors.New("pipeline closed")
)
