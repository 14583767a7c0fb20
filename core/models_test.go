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

package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkIDFor(t *testing.T) {
	t.Run("deterministic", func(t *testing.T) {
		assert.Equal(t, ChunkIDFor("doc.pdf", 3), ChunkIDFor("doc.pdf", 3))
	})

	t.Run("distinct per index and source", func(t *testing.T) {
		seen := map[string]bool{}
		for _, src := range []string{"a.txt", "b.txt", "https://example.com/a.txt"} {
			for i := 0; i < 50; i++ {
				id := ChunkIDFor(src, i)
				assert.False(t, seen[id], "collision for %s/%d", src, i)
				seen[id] = true
			}
		}
	})

	t.Run("source boundary is unambiguous", func(t *testing.T) {
		assert.NotEqual(t, ChunkIDFor("a", 1), ChunkIDFor("a\x00", 1))
	})

	t.Run("hex encoded 128 bits", func(t *testing.T) {
		assert.Len(t, ChunkIDFor("doc", 0), 32)
	})
}

func TestChunkStatusMerge(t *testing.T) {
	tests := []struct {
		from, next, want ChunkStatus
	}{
		{ChunkStatusPending, ChunkStatusProcessing, ChunkStatusProcessing},
		{ChunkStatusPending, ChunkStatusCompleted, ChunkStatusCompleted},
		{ChunkStatusFailed, ChunkStatusCompleted, ChunkStatusCompleted},
		{ChunkStatusCompleted, ChunkStatusPending, ChunkStatusCompleted},
		{ChunkStatusCompleted, ChunkStatusFailed, ChunkStatusCompleted},
		{ChunkStatusFailed, ChunkStatusPending, ChunkStatusFailed},
		{ChunkStatusProcessing, ChunkStatusFailed, ChunkStatusFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.Merge(tt.next), "%s -> %s", tt.from, tt.next)
	}
}

func TestChunkDoneAndSucceeded(t *testing.T) {
	c := NewChunk("s1", "doc.txt", 0, "hello")
	assert.False(t, c.Done())
	assert.False(t, c.Succeeded())

	c.AnalysisStatus = ChunkStatusCompleted
	c.EmbeddingStatus = ChunkStatusFailed
	assert.True(t, c.Done())
	assert.False(t, c.Succeeded(), "mixed-terminal chunk is done but not succeeded")

	c.EmbeddingStatus = ChunkStatusCompleted
	assert.True(t, c.Succeeded())
}

func TestMergeChunk(t *testing.T) {
	base := NewChunk("s1", "doc.txt", 2, "text")

	t.Run("new chunk is stored as is", func(t *testing.T) {
		merged := MergeChunk(nil, base)
		assert.Equal(t, base.ID, merged.ID)
		assert.Equal(t, ChunkStatusPending, merged.AnalysisStatus)
	})

	t.Run("completed never regresses", func(t *testing.T) {
		stored := base.Clone()
		stored.AnalysisStatus = ChunkStatusCompleted
		stored.Analysis = &AnalysisResult{Sentiment: "positive"}
		stored.EmbeddingStatus = ChunkStatusCompleted

		merged := MergeChunk(stored, base)
		assert.Equal(t, ChunkStatusCompleted, merged.AnalysisStatus)
		assert.Equal(t, ChunkStatusCompleted, merged.EmbeddingStatus)
		require.NotNil(t, merged.Analysis)
		assert.Equal(t, "positive", merged.Analysis.Sentiment)
	})

	t.Run("mixed terminal is repaired by later write", func(t *testing.T) {
		stored := base.Clone()
		stored.AnalysisStatus = ChunkStatusCompleted
		stored.Analysis = &AnalysisResult{Sentiment: "neutral"}
		stored.EmbeddingStatus = ChunkStatusFailed

		incoming := stored.Clone()
		incoming.EmbeddingStatus = ChunkStatusCompleted
		incoming.UsesContextualEmbedding = true

		merged := MergeChunk(stored, incoming)
		assert.True(t, merged.Succeeded())
		assert.True(t, merged.UsesContextualEmbedding)
	})

	t.Run("analysis is last write wins when completed", func(t *testing.T) {
		stored := base.Clone()
		stored.AnalysisStatus = ChunkStatusCompleted
		stored.Analysis = &AnalysisResult{Sentiment: "neutral"}

		incoming := base.Clone()
		incoming.AnalysisStatus = ChunkStatusCompleted
		incoming.Analysis = &AnalysisResult{Sentiment: "negative"}

		merged := MergeChunk(stored, incoming)
		assert.Equal(t, "negative", merged.Analysis.Sentiment)
	})

	t.Run("changed text replaces record", func(t *testing.T) {
		stored := base.Clone()
		stored.AnalysisStatus = ChunkStatusCompleted
		stored.EmbeddingStatus = ChunkStatusCompleted

		incoming := NewChunk("s2", "doc.txt", 2, "different text")
		merged := MergeChunk(stored, incoming)
		assert.Equal(t, ChunkStatusPending, merged.AnalysisStatus)
		assert.Equal(t, "different text", merged.Text)
		assert.Equal(t, "s2", merged.SessionID)
	})

	t.Run("merge does not alias inputs", func(t *testing.T) {
		stored := base.Clone()
		stored.Analysis = &AnalysisResult{Topics: []string{"a"}}
		merged := MergeChunk(stored, base)
		merged.Analysis.Topics[0] = "changed"
		assert.Equal(t, "a", stored.Analysis.Topics[0])
	})
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]SessionStatus{
		{SessionStatusPending, SessionStatusProcessing},
		{SessionStatusPending, SessionStatusFailed},
		{SessionStatusProcessing, SessionStatusCompleted},
		{SessionStatusProcessing, SessionStatusFailed},
		{SessionStatusProcessing, SessionStatusCancelled},
		{SessionStatusFailed, SessionStatusRetrying},
		{SessionStatusCancelled, SessionStatusRetrying},
		{SessionStatusRetrying, SessionStatusProcessing},
	}
	for _, tr := range allowed {
		assert.True(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}

	forbidden := [][2]SessionStatus{
		{SessionStatusPending, SessionStatusCompleted},
		{SessionStatusCompleted, SessionStatusProcessing},
		{SessionStatusFailed, SessionStatusCompleted},
		{SessionStatusCancelled, SessionStatusProcessing},
		{SessionStatusRetrying, SessionStatusCompleted},
	}
	for _, tr := range forbidden {
		assert.False(t, CanTransition(tr[0], tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestSessionStatusTerminal(t *testing.T) {
	assert.True(t, SessionStatusCompleted.Terminal())
	assert.True(t, SessionStatusFailed.Terminal())
	assert.True(t, SessionStatusCancelled.Terminal())
	assert.False(t, SessionStatusRetrying.Terminal())
	assert.False(t, SessionStatusPending.Terminal())
}

func TestSessionClone(t *testing.T) {
	s := &Session{
		ID:       "s1",
		Source:   "doc.txt",
		Context:  &DocumentContext{Title: "T", Topics: []string{"x"}},
		Metadata: map[string]string{"pages": "2"},
	}
	c := s.Clone()
	c.Context.Topics[0] = "y"
	c.Metadata["pages"] = "3"
	assert.Equal(t, "x", s.Context.Topics[0])
	assert.Equal(t, "2", s.Metadata["pages"])
}
