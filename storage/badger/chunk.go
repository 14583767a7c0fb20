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

package badger

import (
	"context"
	"errors"

	"github.com/autollama/autollama/core"
	"github.com/autollama/autollama/storage"
	"github.com/dgraph-io/badger/v4"
)

// ChunkRepository implements storage.ChunkRepository for BadgerDB.
// Chunks are stored under their ID with a secondary index ordered by
// (source, index).
type ChunkRepository struct {
	backend *Backend
}

var _ storage.ChunkRepository = (*ChunkRepository)(nil)

// NewChunkRepository creates a new ChunkRepository.
func NewChunkRepository(backend *Backend) *ChunkRepository {
	return &ChunkRepository{backend: backend}
}

// UpsertChunks merges and writes chunks in one transaction.
func (r *ChunkRepository) UpsertChunks(ctx context.Context, chunks ...*core.Chunk) ([]*core.Chunk, error) {
	var stored []*core.Chunk
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		stored = make([]*core.Chunk, 0, len(chunks))
		for _, chunk := range chunks {
			existing, err := get(tx, makeChunkKey(chunk.ID), storage.UnmarshalChunk)
			if err != nil && !errors.Is(err, storage.ErrNotFound) {
				return err
			}

			merged := core.MergeChunk(existing, chunk)
			if err := tx.Set(makeChunkKey(merged.ID), storage.MarshalChunk(merged)); err != nil {
				return err
			}
			if err := tx.Set(makeChunkSourceKey(merged.Source, merged.Index), []byte(merged.ID)); err != nil {
				return err
			}
			stored = append(stored, merged)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// GetChunk returns the chunk with id.
func (r *ChunkRepository) GetChunk(ctx context.Context, id string) (*core.Chunk, error) {
	var chunk *core.Chunk
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		var err error
		chunk, err = get(tx, makeChunkKey(id), storage.UnmarshalChunk)
		return err
	})
	return chunk, err
}

// GetChunksBySource returns the chunks of source ordered by index.
func (r *ChunkRepository) GetChunksBySource(ctx context.Context, source string) ([]*core.Chunk, error) {
	var chunks []*core.Chunk
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		return scan(tx, makePartialChunkSourceKey(source), func(item *badger.Item) error {
			id, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			chunk, err := get(tx, makeChunkKey(string(id)), storage.UnmarshalChunk)
			if err != nil {
				return err
			}
			chunks = append(chunks, chunk)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// DeleteSessionChunks removes chunks of source owned by sessionID.
func (r *ChunkRepository) DeleteSessionChunks(ctx context.Context, source, sessionID string) ([]string, error) {
	var ids []string
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		ids = ids[:0]
		var keys [][]byte
		err := scan(tx, makePartialChunkSourceKey(source), func(item *badger.Item) error {
			id, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			chunk, err := get(tx, makeChunkKey(string(id)), storage.UnmarshalChunk)
			if err != nil {
				return err
			}
			if chunk.SessionID != sessionID {
				return nil
			}
			ids = append(ids, chunk.ID)
			keys = append(keys, item.KeyCopy(nil))
			return nil
		})
		if err != nil {
			return err
		}
		for i, key := range keys {
			if err := tx.Delete(key); err != nil {
				return err
			}
			if err := tx.Delete(makeChunkKey(ids[i])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// DeleteChunks removes chunks of source with index >= fromIndex.
func (r *ChunkRepository) DeleteChunks(ctx context.Context, source string, fromIndex int) ([]string, error) {
	var ids []string
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		ids = ids[:0]
		var keys [][]byte
		err := scan(tx, makePartialChunkSourceKey(source), func(item *badger.Item) error {
			if chunkIndexFromSourceKey(item.Key()) < fromIndex {
				return nil
			}
			id, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			ids = append(ids, string(id))
			keys = append(keys, item.KeyCopy(nil))
			return nil
		})
		if err != nil {
			return err
		}
		for i, key := range keys {
			if err := tx.Delete(key); err != nil {
				return err
			}
			if err := tx.Delete(makeChunkKey(ids[i])); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}
