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
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/autollama/autollama/core"
	"github.com/autollama/autollama/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDB connects to the database named by AUTOLLAMA_TEST_POSTGRES_URL,
// skipping the test when it is unset.
func testDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("AUTOLLAMA_TEST_POSTGRES_URL")
	if url == "" {
		t.Skip("AUTOLLAMA_TEST_POSTGRES_URL not set")
	}
	ctx := context.Background()
	db, err := Connect(ctx, DefaultConfig(url))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema(ctx))
	t.Cleanup(db.Close)
	return db
}

func newSession(source string, total int) *core.Session {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &core.Session{
		ID:             uuid.NewString(),
		Source:         source,
		TotalChunks:    total,
		Status:         core.SessionStatusProcessing,
		Metadata:       map[string]string{"kind": "test"},
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}
}

func TestSessionRepository(t *testing.T) {
	db := testDB(t)
	repo := NewSessionRepository(db)
	ctx := context.Background()

	s := newSession("pg-"+uuid.NewString(), 4)
	s.Context = &core.DocumentContext{Title: "T", Topics: []string{"x"}}
	require.NoError(t, repo.CreateSession(ctx, s))
	t.Cleanup(func() { _ = repo.DeleteSession(ctx, s.ID) })

	assert.ErrorIs(t, repo.CreateSession(ctx, s), storage.ErrDuplicateKey)

	got, err := repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "T", got.Context.Title)
	assert.Equal(t, "test", got.Metadata["kind"])
	assert.Nil(t, got.CompletedAt)

	_, err = repo.GetSession(ctx, uuid.NewString())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.UpdateSession(ctx, s.ID, func(cur *core.Session) error {
				cur.CompletedChunks++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err = repo.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.CompletedChunks)

	_, err = repo.UpdateSession(ctx, s.ID, func(cur *core.Session) error {
		cur.CompletedChunks = 10
		return nil
	})
	assert.ErrorIs(t, err, core.ErrCounterOutOfRange)

	listed, err := repo.ListSessions(ctx, core.SessionStatusProcessing)
	require.NoError(t, err)
	found := false
	for _, l := range listed {
		found = found || l.ID == s.ID
	}
	assert.True(t, found)
}

func TestChunkRepository(t *testing.T) {
	db := testDB(t)
	repo := NewChunkRepository(db)
	vectors := NewVectorIndex(db)
	ctx := context.Background()
	source := "pg-chunks-" + uuid.NewString()
	t.Cleanup(func() { _, _ = repo.DeleteChunks(ctx, source, 0) })

	var chunks []*core.Chunk
	for i := range 3 {
		chunks = append(chunks, core.NewChunk("s1", source, i, fmt.Sprintf("text %d", i)))
	}
	_, err := repo.UpsertChunks(ctx, chunks...)
	require.NoError(t, err)

	done := chunks[1].Clone()
	done.AnalysisStatus = core.ChunkStatusCompleted
	done.EmbeddingStatus = core.ChunkStatusCompleted
	done.Analysis = &core.AnalysisResult{Sentiment: "positive"}
	_, err = repo.UpsertChunks(ctx, done)
	require.NoError(t, err)

	// A stale pending write must not regress the stored statuses.
	stored, err := repo.UpsertChunks(ctx, core.NewChunk("s2", source, 1, "text 1"))
	require.NoError(t, err)
	assert.True(t, stored[0].Succeeded())
	assert.Equal(t, "positive", stored[0].Analysis.Sentiment)

	all, err := repo.GetChunksBySource(ctx, source)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, c := range all {
		assert.Equal(t, i, c.Index)
	}

	require.NoError(t, vectors.UpsertVector(ctx, &storage.VectorRecord{
		ChunkID: chunks[2].ID,
		Vector:  []float32{0.5, 0.25},
		Payload: map[string]string{"source": source},
	}))
	rec, err := vectors.GetVector(ctx, chunks[2].ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.25}, rec.Vector)
	assert.Equal(t, source, rec.Payload["source"])

	deleted, err := repo.DeleteChunks(ctx, source, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{chunks[2].ID}, deleted)
	require.NoError(t, vectors.DeleteVectors(ctx, deleted...))

	_, err = vectors.GetVector(ctx, chunks[2].ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = repo.GetChunk(ctx, chunks[2].ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Chunk 1 was last written by s2.
	deleted, err = repo.DeleteSessionChunks(ctx, source, "s2")
	require.NoError(t, err)
	assert.Equal(t, []string{chunks[1].ID}, deleted)
	_, err = repo.GetChunk(ctx, chunks[0].ID)
	assert.NoError(t, err)
}
