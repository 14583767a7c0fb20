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

	"github.com/autollama/autollama/storage"
	"github.com/jackc/pgx/v5"
)

// Verify interface compliance
var _ storage.VectorIndex = (*VectorIndex)(nil)

// VectorIndex implements storage.VectorIndex using a REAL[] column.
type VectorIndex struct {
	db *DB
}

// NewVectorIndex creates a new VectorIndex.
func NewVectorIndex(db *DB) *VectorIndex {
	return &VectorIndex{db: db}
}

type vectorRow struct {
	ChunkID   string    `db:"chunk_id"`
	Embedding []float32 `db:"embedding"`
	Payload   []byte    `db:"payload"`
	UpdatedAt time.Time `db:"updated_at"`
}

// UpsertVector writes or replaces a chunk vector.
func (v *VectorIndex) UpsertVector(ctx context.Context, record *storage.VectorRecord) error {
	if record == nil || record.ChunkID == "" {
		return fmt.Errorf("vector record requires a chunk id")
	}
	var payload []byte
	if record.Payload != nil {
		var err error
		if payload, err = json.Marshal(record.Payload); err != nil {
			return fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
		}
	}
	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := v.db.pool.Exec(ctx, `
		INSERT INTO chunk_vectors (chunk_id, embedding, payload, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (chunk_id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at`,
		record.ChunkID, record.Vector, payload, updatedAt)
	return err
}

// GetVector returns the vector of a chunk.
func (v *VectorIndex) GetVector(ctx context.Context, chunkID string) (*storage.VectorRecord, error) {
	rows, err := v.db.pool.Query(ctx,
		`SELECT chunk_id, embedding, payload, updated_at FROM chunk_vectors WHERE chunk_id = $1`, chunkID)
	if err != nil {
		return nil, err
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[vectorRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	record := &storage.VectorRecord{
		ChunkID:   row.ChunkID,
		Vector:    row.Embedding,
		UpdatedAt: row.UpdatedAt,
	}
	if len(row.Payload) > 0 {
		if err := json.Unmarshal(row.Payload, &record.Payload); err != nil {
			return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
		}
	}
	return record, nil
}

// DeleteVectors removes the vectors of the given chunks.
func (v *VectorIndex) DeleteVectors(ctx context.Context, chunkIDs ...string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	_, err := v.db.pool.Exec(ctx, `DELETE FROM chunk_vectors WHERE chunk_id = ANY($1)`, chunkIDs)
	return err
}
