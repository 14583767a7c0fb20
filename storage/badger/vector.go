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

	"github.com/autollama/autollama/storage"
	"github.com/dgraph-io/badger/v4"
)

// VectorIndex implements storage.VectorIndex for BadgerDB.
type VectorIndex struct {
	backend *Backend
}

var _ storage.VectorIndex = (*VectorIndex)(nil)

// NewVectorIndex creates a new VectorIndex.
func NewVectorIndex(backend *Backend) *VectorIndex {
	return &VectorIndex{backend: backend}
}

// UpsertVector writes or replaces a chunk vector.
func (v *VectorIndex) UpsertVector(ctx context.Context, record *storage.VectorRecord) error {
	value := storage.MarshalVector(record)
	return v.backend.Update(ctx, func(tx *badger.Txn) error {
		return tx.Set(makeVectorKey(record.ChunkID), value)
	})
}

// GetVector returns the vector of a chunk.
func (v *VectorIndex) GetVector(ctx context.Context, chunkID string) (*storage.VectorRecord, error) {
	var record *storage.VectorRecord
	err := v.backend.View(ctx, func(tx *badger.Txn) error {
		var err error
		record, err = get(tx, makeVectorKey(chunkID), storage.UnmarshalVector)
		return err
	})
	return record, err
}

// DeleteVectors removes chunk vectors.
func (v *VectorIndex) DeleteVectors(ctx context.Context, chunkIDs ...string) error {
	return v.backend.Update(ctx, func(tx *badger.Txn) error {
		for _, id := range chunkIDs {
			if err := tx.Delete(makeVectorKey(id)); err != nil {
				return err
			}
		}
		return nil
	})
}
