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

package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/autollama/autollama/core"
	"github.com/autollama/autollama/storage"
	"github.com/autollama/autollama/storage/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T) (*Manager, *storage.Coordinator, *fakeClock) {
	t.Helper()
	sessions, chunks, vectors, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	coord, err := storage.NewCoordinator(sessions, chunks, vectors, storage.WithClock(clock.Now))
	require.NoError(t, err)
	return NewManager(coord, WithClock(clock.Now)), coord, clock
}

func storeChunks(t *testing.T, coord *storage.Coordinator, s *core.Session, outcomes ...core.ChunkStatus) {
	t.Helper()
	var chunks []*core.Chunk
	for i, status := range outcomes {
		c := core.NewChunk(s.ID, s.Source, i, fmt.Sprintf("chunk %d", i))
		c.AnalysisStatus = core.ChunkStatusCompleted
		c.EmbeddingStatus = status
		chunks = append(chunks, c)
	}
	_, err := coord.UpsertChunks(context.Background(), chunks...)
	require.NoError(t, err)
}

func TestManager_Lifecycle(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "report.pdf", map[string]string{"kind": "upload"})
	require.NoError(t, err)
	assert.Equal(t, core.SessionStatusPending, s.Status)
	assert.NotEmpty(t, s.ID)

	clock.Advance(time.Second)
	s, err = m.StartProcessing(ctx, s.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, core.SessionStatusProcessing, s.Status)
	assert.Equal(t, 3, s.TotalChunks)
	assert.Equal(t, clock.Now(), s.LastActivityAt)

	s, err = m.Cancel(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionStatusCancelled, s.Status)
	assert.True(t, s.Resumable)
	require.NotNil(t, s.CompletedAt)

	s, err = m.BeginRetry(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionStatusRetrying, s.Status)
	assert.Nil(t, s.CompletedAt)
	assert.False(t, s.Resumable)

	s, err = m.StartProcessing(ctx, s.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, core.SessionStatusProcessing, s.Status)
}

func TestManager_CreateRequiresSource(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.Create(context.Background(), "", nil)
	assert.ErrorIs(t, err, core.ErrEmptySource)
}

func TestManager_InvalidTransitions(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "a.txt", nil)
	require.NoError(t, err)

	_, err = m.BeginRetry(ctx, s.ID)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	_, err = m.Transition(ctx, s.ID, core.SessionStatusCompleted, nil)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)

	_, err = m.Transition(ctx, "missing", core.SessionStatusProcessing, nil)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	got, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionStatusPending, got.Status)
}

func TestManager_Finish(t *testing.T) {
	tests := []struct {
		name          string
		outcomes      []core.ChunkStatus
		wantStatus    core.SessionStatus
		wantResumable bool
		wantTally     Tally
		wantMessage   string
	}{
		{
			name:       "all succeed",
			outcomes:   []core.ChunkStatus{core.ChunkStatusCompleted, core.ChunkStatusCompleted},
			wantStatus: core.SessionStatusCompleted,
			wantTally:  Tally{Total: 2, Succeeded: 2},
		},
		{
			name:          "partial failure completes",
			outcomes:      []core.ChunkStatus{core.ChunkStatusCompleted, core.ChunkStatusFailed, core.ChunkStatusCompleted},
			wantStatus:    core.SessionStatusCompleted,
			wantResumable: true,
			wantTally:     Tally{Total: 3, Succeeded: 2, Failed: 1},
		},
		{
			name:          "all fail",
			outcomes:      []core.ChunkStatus{core.ChunkStatusFailed, core.ChunkStatusFailed},
			wantStatus:    core.SessionStatusFailed,
			wantResumable: true,
			wantTally:     Tally{Total: 2, Failed: 2},
			wantMessage:   "all 2 chunks failed",
		},
		{
			name:          "unprocessed chunk fails",
			outcomes:      []core.ChunkStatus{core.ChunkStatusCompleted, core.ChunkStatusPending, core.ChunkStatusCompleted},
			wantStatus:    core.SessionStatusFailed,
			wantResumable: true,
			wantTally:     Tally{Total: 3, Succeeded: 2, Pending: 1},
			wantMessage:   "1 of 3 chunks were not processed",
		},
		{
			name:          "failed and unprocessed chunks",
			outcomes:      []core.ChunkStatus{core.ChunkStatusFailed, core.ChunkStatusPending},
			wantStatus:    core.SessionStatusFailed,
			wantResumable: true,
			wantTally:     Tally{Total: 2, Failed: 1, Pending: 1},
			wantMessage:   "1 of 2 chunks were not processed",
		},
		{
			name:       "empty document",
			wantStatus: core.SessionStatusCompleted,
			wantTally:  Tally{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, coord, _ := newTestManager(t)
			ctx := context.Background()

			s, err := m.Create(ctx, "doc.txt", nil)
			require.NoError(t, err)
			s, err = m.StartProcessing(ctx, s.ID, len(tt.outcomes))
			require.NoError(t, err)
			storeChunks(t, coord, s, tt.outcomes...)

			got, tally, err := m.Finish(ctx, s.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, got.Status)
			assert.Equal(t, tt.wantResumable, got.Resumable)
			assert.Equal(t, tt.wantTally, tally)
			assert.Equal(t, tt.wantTally.Succeeded, got.CompletedChunks)
			assert.Equal(t, tt.wantMessage, got.ErrorMessage)
			assert.NotNil(t, got.CompletedAt)
		})
	}
}

func TestManager_Advance(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "doc.txt", nil)
	require.NoError(t, err)
	_, err = m.StartProcessing(ctx, s.ID, 2)
	require.NoError(t, err)

	s, err = m.Advance(ctx, s.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, s.CompletedChunks)
	assert.Equal(t, core.SessionStatusProcessing, s.Status)

	s, err = m.Advance(ctx, s.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, s.CompletedChunks)
	assert.Equal(t, core.SessionStatusCompleted, s.Status)
}

func TestManager_ListResumable(t *testing.T) {
	m, _, clock := newTestManager(t)
	ctx := context.Background()

	create := func(source string) *core.Session {
		s, err := m.Create(ctx, source, nil)
		require.NoError(t, err)
		return s
	}

	stale := create("stale.txt")
	_, err := m.StartProcessing(ctx, stale.ID, 4)
	require.NoError(t, err)

	clock.Advance(time.Hour)

	cancelled := create("cancelled.txt")
	_, err = m.StartProcessing(ctx, cancelled.ID, 2)
	require.NoError(t, err)
	_, err = m.Cancel(ctx, cancelled.ID)
	require.NoError(t, err)

	fatal := create("fatal.bin")
	_, err = m.Fail(ctx, fatal.ID, "unsupported format", false)
	require.NoError(t, err)

	active := create("active.txt")
	_, err = m.StartProcessing(ctx, active.ID, 1)
	require.NoError(t, err)

	list, err := m.ListResumable(ctx, 30*time.Minute)
	require.NoError(t, err)
	var ids []string
	for _, s := range list {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{stale.ID, cancelled.ID}, ids)

	_, err = m.ListResumable(ctx, -time.Second)
	assert.ErrorIs(t, err, ErrInvalidThreshold)
}

func TestManager_SetDocumentContextAndDelete(t *testing.T) {
	m, coord, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "doc.txt", nil)
	require.NoError(t, err)
	_, err = m.StartProcessing(ctx, s.ID, 1)
	require.NoError(t, err)
	storeChunks(t, coord, s, core.ChunkStatusPending)

	doc := &core.DocumentContext{Title: "Doc", Summary: "about things", Topics: []string{"things"}}
	got, err := m.SetDocumentContext(ctx, s.ID, doc)
	require.NoError(t, err)
	assert.Equal(t, doc, got.Context)

	require.NoError(t, m.Delete(ctx, s.ID))
	_, err = m.Get(ctx, s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.ErrorIs(t, m.Delete(ctx, s.ID), ErrSessionNotFound)
}

func TestOutcome(t *testing.T) {
	assert.Equal(t, core.SessionStatusCompleted, Outcome(0, 0))
	assert.Equal(t, core.SessionStatusCompleted, Outcome(5, 1))
	assert.Equal(t, core.SessionStatusFailed, Outcome(5, 0))
}

func TestCount(t *testing.T) {
	done := core.NewChunk("s", "src", 0, "a")
	done.AnalysisStatus, done.EmbeddingStatus = core.ChunkStatusCompleted, core.ChunkStatusCompleted
	mixed := core.NewChunk("s", "src", 1, "b")
	mixed.AnalysisStatus, mixed.EmbeddingStatus = core.ChunkStatusCompleted, core.ChunkStatusFailed
	pending := core.NewChunk("s", "src", 2, "c")

	assert.Equal(t, Tally{Total: 4, Succeeded: 1, Failed: 1, Pending: 2, Missing: 1}, Count(4, []*core.Chunk{done, mixed, pending}))
}
