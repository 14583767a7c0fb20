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
)

func ValidateSession(session *Session) error {
	if session == nil {
		return fmt.Errorf("%w: session is nil", ErrInvalidSession)
	}

	if session.ID == "" {
		return fmt.Errorf("%w: id is empty", ErrInvalidSession)
	}

	if session.Source == "" {
		return fmt.Errorf("%w: %w", ErrInvalidSession, ErrEmptySource)
	}

	if !session.Status.Valid() {
		return fmt.Errorf("%w: %w: %q", ErrInvalidSession, ErrInvalidStatus, session.Status)
	}

	if session.CompletedChunks < 0 || session.TotalChunks < 0 || session.CompletedChunks > session.TotalChunks {
		return fmt.Errorf("%w: %w: %d of %d", ErrInvalidSession, ErrCounterOutOfRange,
			session.CompletedChunks, session.TotalChunks)
	}

	return nil
}

func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}

	if chunk.Source == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptySource)
	}

	if chunk.Index < 0 {
		return fmt.Errorf("%w: negative index %d", ErrInvalidChunk, chunk.Index)
	}

	if chunk.ID != ChunkIDFor(chunk.Source, chunk.Index) {
		return fmt.Errorf("%w: id does not match source and index", ErrInvalidChunk)
	}

	if !chunk.EmbeddingStatus.Valid() || !chunk.AnalysisStatus.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrInvalidStatus)
	}

	return nil
}
