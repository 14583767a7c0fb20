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
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/autollama/autollama/core"
)

// upsertBatchSize bounds the number of chunks written per transaction.
const upsertBatchSize = 256

// Coordinator is the single write path for ingestion results. It keeps the
// relational records (sessions, chunks) and the vector index consistent
// enough that a later resume can tell exactly which work is missing.
type Coordinator struct {
	sessions SessionRepository
	chunks   ChunkRepository
	vectors  VectorIndex
	now      func() time.Time
	logger   *slog.Logger
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) CoordinatorOption {
	return func(c *Coordinator) {
		c.now = now
	}
}

// WithCoordinatorLogger sets the logger.
func WithCoordinatorLogger(logger *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// NewCoordinator creates a Coordinator over the given repositories.
func NewCoordinator(sessions SessionRepository, chunks ChunkRepository, vectors VectorIndex, opts ...CoordinatorOption) (*Coordinator, error) {
	if sessions == nil || chunks == nil || vectors == nil {
		return nil, errors.New("coordinator: session, chunk and vector stores are required")
	}
	c := &Coordinator{
		sessions: sessions,
		chunks:   chunks,
		vectors:  vectors,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "storage-coordinator")
	return c, nil
}

// Sessions exposes the session repository.
func (c *Coordinator) Sessions() SessionRepository {
	return c.sessions
}

// UpsertChunk writes one chunk outcome and returns the merged record.
func (c *Coordinator) UpsertChunk(ctx context.Context, chunk *core.Chunk) (*core.Chunk, error) {
	stored, err := c.UpsertChunks(ctx, chunk)
	if err != nil {
		return nil, err
	}
	return stored[0], nil
}

// UpsertChunks writes chunks idempotently. Status fields never regress.
func (c *Coordinator) UpsertChunks(ctx context.Context, chunks ...*core.Chunk) ([]*core.Chunk, error) {
	for _, chunk := range chunks {
		if err := core.ValidateChunk(chunk); err != nil {
			return nil, err
		}
	}
	stored := make([]*core.Chunk, 0, len(chunks))
	for start := 0; start < len(chunks); start += upsertBatchSize {
		batch, err := c.chunks.UpsertChunks(ctx, chunks[start:min(start+upsertBatchSize, len(chunks))]...)
		if err != nil {
			return nil, fmt.Errorf("upsert chunks: %w", err)
		}
		stored = append(stored, batch...)
	}
	return stored, nil
}

// UpsertVector writes the embedding of chunk to the vector index with a
// payload identifying its session, source and position.
func (c *Coordinator) UpsertVector(ctx context.Context, chunk *core.Chunk, vector []float32) error {
	if len(vector) == 0 {
		return errors.New("upsert vector: empty vector")
	}
	record := &VectorRecord{
		ChunkID: chunk.ID,
		Vector:  vector,
		Payload: map[string]string{
			"session_id":  chunk.SessionID,
			"source":      chunk.Source,
			"chunk_index": strconv.Itoa(chunk.Index),
		},
		UpdatedAt: c.now().UTC(),
	}
	if err := c.vectors.UpsertVector(ctx, record); err != nil {
		return fmt.Errorf("upsert vector %s: %w", chunk.ID, err)
	}
	return nil
}

// AdvanceSession atomically adds delta to the session's completed counter,
// clamped to the total, and refreshes its activity time. A processing
// session whose counter reaches the total becomes completed.
func (c *Coordinator) AdvanceSession(ctx context.Context, sessionID string, delta int) (*core.Session, error) {
	if delta < 0 {
		return nil, ErrInvalidDelta
	}
	now := c.now().UTC()
	return c.sessions.UpdateSession(ctx, sessionID, func(s *core.Session) error {
		s.CompletedChunks = min(s.CompletedChunks+delta, s.TotalChunks)
		touch(s, now)
		completeIfDone(s, now)
		return nil
	})
}

// ReconcileSession raises the session counter to the number of stored
// chunks that fully succeeded and returns the session with its chunks. The
// counter never decreases.
func (c *Coordinator) ReconcileSession(ctx context.Context, sessionID string) (*core.Session, []*core.Chunk, error) {
	session, err := c.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	chunks, err := c.Chunks(ctx, session)
	if err != nil {
		return nil, nil, err
	}

	succeeded := 0
	for _, chunk := range chunks {
		if chunk.Succeeded() {
			succeeded++
		}
	}

	now := c.now().UTC()
	session, err = c.sessions.UpdateSession(ctx, sessionID, func(s *core.Session) error {
		if succeeded > s.CompletedChunks {
			s.CompletedChunks = min(succeeded, s.TotalChunks)
		}
		completeIfDone(s, now)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return session, chunks, nil
}

// Chunks returns the chunks belonging to the session's current chunking,
// ordered by index.
func (c *Coordinator) Chunks(ctx context.Context, session *core.Session) ([]*core.Chunk, error) {
	all, err := c.chunks.GetChunksBySource(ctx, session.Source)
	if err != nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	chunks := all[:0]
	for _, chunk := range all {
		if chunk.Index < session.TotalChunks {
			chunks = append(chunks, chunk)
		}
	}
	return chunks, nil
}

// PruneChunks removes chunks of source at or beyond keep, left behind when
// a source shrinks between runs, together with their vectors.
func (c *Coordinator) PruneChunks(ctx context.Context, source string, keep int) (int, error) {
	ids, err := c.chunks.DeleteChunks(ctx, source, keep)
	if err != nil {
		return 0, fmt.Errorf("prune chunks: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := c.vectors.DeleteVectors(ctx, ids...); err != nil {
		return 0, fmt.Errorf("prune vectors: %w", err)
	}
	c.logger.Info("pruned stale chunks", "source", source, "count", len(ids))
	return len(ids), nil
}

// PurgeSession deletes a session together with the chunks and vectors it
// owns. A chunk is owned by the last session that wrote it. Only the
// session record is removed while a newer session of the same source exists.
func (c *Coordinator) PurgeSession(ctx context.Context, sessionID string) error {
	session, err := c.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	newer, err := c.newerSession(ctx, session)
	if err != nil {
		return err
	}
	if newer != nil {
		c.logger.Info("keeping chunks of superseded session", "session", sessionID, "newer", newer.ID)
	} else {
		ids, err := c.chunks.DeleteSessionChunks(ctx, session.Source, sessionID)
		if err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		if len(ids) > 0 {
			if err := c.vectors.DeleteVectors(ctx, ids...); err != nil {
				return fmt.Errorf("delete vectors: %w", err)
			}
		}
	}
	if err := c.sessions.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	c.logger.Info("purged session", "session", sessionID, "source", session.Source)
	return nil
}

// newerSession returns the most recently created session of the same source
// created after session, or nil.
func (c *Coordinator) newerSession(ctx context.Context, session *core.Session) (*core.Session, error) {
	all, err := c.sessions.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var newer *core.Session
	for _, s := range all {
		if s.ID == session.ID || s.Source != session.Source || !s.CreatedAt.After(session.CreatedAt) {
			continue
		}
		if newer == nil || s.CreatedAt.After(newer.CreatedAt) {
			newer = s
		}
	}
	return newer, nil
}

func touch(s *core.Session, now time.Time) {
	s.UpdatedAt = now
	s.LastActivityAt = now
}

func completeIfDone(s *core.Session, now time.Time) {
	if s.Status != core.SessionStatusProcessing || s.CompletedChunks < s.TotalChunks {
		return
	}
	s.Status = core.SessionStatusCompleted
	s.ErrorMessage = ""
	s.Resumable = false
	s.CompletedAt = &now
	touch(s, now)
}
