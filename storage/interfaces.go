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

package storage

import (
	"context"
	"time"

	"github.com/autollama/autollama/core"
)

// SessionRepository persists ingestion sessions.
type SessionRepository interface {
	// CreateSession stores a new session. Returns ErrDuplicateKey if the ID
	// is taken.
	CreateSession(ctx context.Context, session *core.Session) error

	// GetSession returns the session with id, or ErrNotFound.
	GetSession(ctx context.Context, id string) (*core.Session, error)

	// ListSessions returns sessions in any of the given statuses, or all
	// sessions when none are given, oldest first.
	ListSessions(ctx context.Context, statuses ...core.SessionStatus) ([]*core.Session, error)

	// UpdateSession applies fn to the stored session and persists the result
	// atomically. Concurrent updates of the same session are serialized, so
	// fn always sees the latest committed state. If fn returns an error
	// nothing is written and the error is returned.
	UpdateSession(ctx context.Context, id string, fn func(*core.Session) error) (*core.Session, error)

	// DeleteSession removes a session. Deleting a missing session is not an error.
	DeleteSession(ctx context.Context, id string) error
}

// ChunkRepository persists chunk records keyed by chunk ID.
type ChunkRepository interface {
	// UpsertChunks writes chunks, merging each with any stored record of
	// the same ID via core.MergeChunk. Returns the records as stored.
	UpsertChunks(ctx context.Context, chunks ...*core.Chunk) ([]*core.Chunk, error)

	// GetChunk returns the chunk with id, or ErrNotFound.
	GetChunk(ctx context.Context, id string) (*core.Chunk, error)

	// GetChunksBySource returns the chunks of a source ordered by index.
	GetChunksBySource(ctx context.Context, source string) ([]*core.Chunk, error)

	// DeleteChunks removes the chunks of source whose index is at least
	// fromIndex and returns their IDs.
	DeleteChunks(ctx context.Context, source string, fromIndex int) ([]string, error)

	// DeleteSessionChunks removes the chunks of source last written by
	// sessionID and returns their IDs.
	DeleteSessionChunks(ctx context.Context, source, sessionID string) ([]string, error)
}

// VectorRecord is one entry of the vector index.
type VectorRecord struct {
	ChunkID   string
	Vector    []float32
	Payload   map[string]string
	UpdatedAt time.Time
}

// VectorIndex stores chunk embeddings with a small metadata payload.
type VectorIndex interface {
	// UpsertVector writes or replaces the vector of a chunk.
	UpsertVector(ctx context.Context, record *VectorRecord) error

	// GetVector returns the vector of a chunk, or ErrNotFound.
	GetVector(ctx context.Context, chunkID string) (*VectorRecord, error)

	// DeleteVectors removes vectors. Missing IDs are ignored.
	DeleteVectors(ctx context.Context, chunkIDs ...string) error
}
