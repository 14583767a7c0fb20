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

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/autollama/autollama/core"
	"github.com/autollama/autollama/storage"
	"github.com/jackc/pgx/v5"
)

// Verify interface compliance
var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// ChunkRepository implements storage.ChunkRepository using PostgreSQL.
type ChunkRepository struct {
	db *DB
}

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(db *DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

const chunkColumns = `chunk_id, session_id, source, chunk_index, text, embedding_status,
	analysis_status, analysis, uses_contextual_embedding, created_at, processed_at`

type chunkRow struct {
	ChunkID                 string     `db:"chunk_id"`
	SessionID               string     `db:"session_id"`
	Source                  string     `db:"source"`
	ChunkIndex              int        `db:"chunk_index"`
	Text                    string     `db:"text"`
	EmbeddingStatus         string     `db:"embedding_status"`
	AnalysisStatus          string     `db:"analysis_status"`
	Analysis                []byte     `db:"analysis"`
	UsesContextualEmbedding bool       `db:"uses_contextual_embedding"`
	CreatedAt               time.Time  `db:"created_at"`
	ProcessedAt             *time.Time `db:"processed_at"`
}

func (r chunkRow) toChunk() (*core.Chunk, error) {
	c := &core.Chunk{
		ID:                      r.ChunkID,
		SessionID:               r.SessionID,
		Source:                  r.Source,
		Index:                   r.ChunkIndex,
		Text:                    r.Text,
		EmbeddingStatus:         core.ChunkStatus(r.EmbeddingStatus),
		AnalysisStatus:          core.ChunkStatus(r.AnalysisStatus),
		UsesContextualEmbedding: r.UsesContextualEmbedding,
		CreatedAt:               r.CreatedAt,
		ProcessedAt:             r.ProcessedAt,
	}
	if len(r.Analysis) > 0 {
		if err := json.Unmarshal(r.Analysis, &c.Analysis); err != nil {
			return nil, fmt.Errorf("%w: analysis: %w", storage.ErrSerializationFailed, err)
		}
	}
	return c, nil
}

func queryChunks(ctx context.Context, q querier, sql string, args ...any) ([]*core.Chunk, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[chunkRow])
	if err != nil {
		return nil, err
	}
	chunks := make([]*core.Chunk, 0, len(collected))
	for _, row := range collected {
		c, err := row.toChunk()
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, c)
	}
	return chunks, nil
}

// UpsertChunks merges each chunk with its stored record inside one
// transaction. Rows are locked in ID order so concurrent batches cannot
// deadlock.
func (r *ChunkRepository) UpsertChunks(ctx context.Context, chunks ...*core.Chunk) ([]*core.Chunk, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		if err := core.ValidateChunk(c); err != nil {
			return nil, err
		}
		ids[i] = c.ID
	}

	stored := make([]*core.Chunk, len(chunks))
	err := r.db.Transaction(ctx, func(tx pgx.Tx) error {
		existing, err := queryChunks(ctx, tx,
			`SELECT `+chunkColumns+` FROM chunks WHERE chunk_id = ANY($1) ORDER BY chunk_id FOR UPDATE`, ids)
		if err != nil {
			return err
		}
		byID := make(map[string]*core.Chunk, len(existing))
		for _, c := range existing {
			byID[c.ID] = c
		}

		for i, incoming := range chunks {
			merged := core.MergeChunk(byID[incoming.ID], incoming)
			analysis, err := jsonOrNil(merged.Analysis)
			if err != nil {
				return err
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO chunks (`+chunkColumns+`)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
				ON CONFLICT (chunk_id) DO UPDATE SET
					session_id = EXCLUDED.session_id,
					source = EXCLUDED.source,
					chunk_index = EXCLUDED.chunk_index,
					text = EXCLUDED.text,
					embedding_status = EXCLUDED.embedding_status,
					analysis_status = EXCLUDED.analysis_status,
					analysis = EXCLUDED.analysis,
					uses_contextual_embedding = EXCLUDED.uses_contextual_embedding,
					created_at = EXCLUDED.created_at,
					processed_at = EXCLUDED.processed_at`,
				merged.ID, merged.SessionID, merged.Source, merged.Index, merged.Text,
				string(merged.EmbeddingStatus), string(merged.AnalysisStatus), analysis,
				merged.UsesContextualEmbedding, merged.CreatedAt, merged.ProcessedAt)
			if err != nil {
				return fmt.Errorf("failed to upsert chunk %s: %w", merged.ID, err)
			}
			// Later duplicates in the same batch merge onto this result.
			byID[merged.ID] = merged
			stored[i] = merged
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// GetChunk retrieves a chunk by ID.
func (r *ChunkRepository) GetChunk(ctx context.Context, id string) (*core.Chunk, error) {
	rows, err := r.db.pool.Query(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE chunk_id = $1`, id)
	if err != nil {
		return nil, err
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[chunkRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toChunk()
}

// GetChunksBySource returns the chunks of source ordered by index.
func (r *ChunkRepository) GetChunksBySource(ctx context.Context, source string) ([]*core.Chunk, error) {
	return queryChunks(ctx, r.db.pool,
		`SELECT `+chunkColumns+` FROM chunks WHERE source = $1 ORDER BY chunk_index ASC`, source)
}

// DeleteChunks removes chunks of source at or above fromIndex.
func (r *ChunkRepository) DeleteChunks(ctx context.Context, source string, fromIndex int) ([]string, error) {
	rows, err := r.db.pool.Query(ctx,
		`DELETE FROM chunks WHERE source = $1 AND chunk_index >= $2 RETURNING chunk_id`, source, fromIndex)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// DeleteSessionChunks removes chunks of source last written by sessionID.
func (r *ChunkRepository) DeleteSessionChunks(ctx context.Context, source, sessionID string) ([]string, error) {
	rows, err := r.db.pool.Query(ctx,
		`DELETE FROM chunks WHERE source = $1 AND session_id = $2 RETURNING chunk_id`, source, sessionID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
