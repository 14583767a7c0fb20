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
	"fmt"
	"testing"

	"github.com/autollama/autollama/core"
	"github.com/autollama/autollama/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkRepository_UpsertIsIdempotent(t *testing.T) {
	_, chunks, _, backend, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	c := core.NewChunk("s1", "doc.txt", 0, "hello")

	_, err = chunks.UpsertChunks(ctx, c)
	require.NoError(t, err)
	_, err = chunks.UpsertChunks(ctx, c)
	require.NoError(t, err)

	all, err := chunks.GetChunksBySource(ctx, "doc.txt")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestChunkRepository_StatusIsMonotonic(t *testing.T) {
	_, chunks, _, backend, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	done := core.NewChunk("s1", "doc.txt", 0, "hello")
	done.AnalysisStatus = core.ChunkStatusCompleted
	done.EmbeddingStatus = core.ChunkStatusCompleted
	done.Analysis = &core.AnalysisResult{Sentiment: "positive"}
	_, err = chunks.UpsertChunks(ctx, done)
	require.NoError(t, err)

	// A later pending write of the same chunk must not regress it.
	stored, err := chunks.UpsertChunks(ctx, core.NewChunk("s2", "doc.txt", 0, "hello"))
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.True(t, stored[0].Succeeded())
	assert.Equal(t, "s2", stored[0].SessionID)

	got, err := chunks.GetChunk(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, core.ChunkStatusCompleted, got.AnalysisStatus)
	assert.Equal(t, "positive", got.Analysis.Sentiment)
}

func TestChunkRepository_GetChunksBySourceOrdered(t *testing.T) {
	_, chunks, _, backend, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	var batch []*core.Chunk
	for _, i := range []int{12, 3, 0, 7, 1} {
		batch = append(batch, core.NewChunk("s1", "doc.txt", i, fmt.Sprintf("chunk %d", i)))
	}
	batch = append(batch, core.NewChunk("s9", "other.txt", 0, "other"))
	_, err = chunks.UpsertChunks(ctx, batch...)
	require.NoError(t, err)

	all, err := chunks.GetChunksBySource(ctx, "doc.txt")
	require.NoError(t, err)
	var indexes []int
	for _, c := range all {
		indexes = append(indexes, c.Index)
	}
	assert.Equal(t, []int{0, 1, 3, 7, 12}, indexes)
}

func TestChunkRepository_DeleteChunks(t *testing.T) {
	_, chunks, _, backend, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := chunks.UpsertChunks(ctx, core.NewChunk("s1", "doc.txt", i, fmt.Sprintf("c%d", i)))
		require.NoError(t, err)
	}

	ids, err := chunks.DeleteChunks(ctx, "doc.txt", 3)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{core.ChunkIDFor("doc.txt", 3), core.ChunkIDFor("doc.txt", 4)}, ids)

	remaining, err := chunks.GetChunksBySource(ctx, "doc.txt")
	require.NoError(t, err)
	assert.Len(t, remaining, 3)

	_, err = chunks.GetChunk(ctx, core.ChunkIDFor("doc.txt", 4))
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestChunkRepository_DeleteSessionChunks(t *testing.T) {
	_, chunks, _, backend, err := NewMemoryRepositories()
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		owner := "s1"
		if i%2 == 1 {
			owner = "s2"
		}
		_, err := chunks.UpsertChunks(ctx, core.NewChunk(owner, "doc.txt", i, fmt.Sprintf("c%d", i)))
		require.NoError(t, err)
	}

	ids, err := chunks.DeleteSessionChunks(ctx, "doc.txt", "s2")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{core.ChunkIDFor("doc.txt", 1), core.ChunkIDFor("doc.txt", 3)}, ids)

	remaining, err := chunks.GetChunksBySource(ctx, "doc.txt")
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	for _, c := range remaining {
		assert.Equal(t, "s1", c.SessionID)
	}
}
