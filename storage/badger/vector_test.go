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
	"testing"

	"github.com/autollama/autollama/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorIndex(t *testing.T) {
	_, _, vectors, backend, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	rec := &storage.VectorRecord{ChunkID: "c1", Vector: []float32{0.5, 0.25}, Payload: map[string]string{"source": "doc"}}
	require.NoError(t, vectors.UpsertVector(ctx, rec))

	rec.Vector = []float32{1, 0}
	require.NoError(t, vectors.UpsertVector(ctx, rec))

	got, err := vectors.GetVector(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, got.Vector)
	assert.Equal(t, "doc", got.Payload["source"])

	require.NoError(t, vectors.DeleteVectors(ctx, "c1", "missing"))
	_, err = vectors.GetVector(ctx, "c1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
