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
	"encoding/binary"
	"encoding/hex"
	"time"

	"golang.org/x/crypto/blake2b"
)

// ChunkIDFor derives the identifier of the chunk at index within source.
// The same source and index always produce the same ID, so re-chunking a
// source addresses the records written by an earlier run.
func ChunkIDFor(source string, index int) string {
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(source))
	h.Write([]byte{0})
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(index))
	h.Write(buf[:])
	return hex.EncodeToString(h.Sum(nil))
}

// SourceKey returns a fixed-width digest of a source descriptor, suitable for
// use inside storage keys.
func SourceKey(source string) string {
	sum := blake2b.Sum256([]byte(source))
	return hex.EncodeToString(sum[:16])
}

// Session tracks one ingestion run of a single source.
type Session struct {
	ID              string
	Source          string // URL or original filename
	TotalChunks     int
	CompletedChunks int // chunks whose analysis and embedding both completed
	Status          SessionStatus
	ErrorMessage    string
	Resumable       bool
	Context         *DocumentContext  // document-level context used for contextual embeddings
	Metadata        map[string]string // extractor metadata (page count, content type, ...)
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastActivityAt  time.Time
	CompletedAt     *time.Time
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Context != nil {
		dc := *s.Context
		dc.Topics = append([]string(nil), s.Context.Topics...)
		c.Context = &dc
	}
	if s.Metadata != nil {
		c.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// Remaining returns how many chunks have not fully succeeded yet.
func (s *Session) Remaining() int {
	if n := s.TotalChunks - s.CompletedChunks; n > 0 {
		return n
	}
	return 0
}

// DocumentContext is the document-level summary fed into contextual embeddings.
type DocumentContext struct {
	Title   string
	Summary string
	Topics  []string
}

// Chunk is one enriched slice of a source document.
type Chunk struct {
	ID                      string
	SessionID               string // session that last wrote the chunk
	Source                  string
	Index                   int
	Text                    string
	EmbeddingStatus         ChunkStatus
	AnalysisStatus          ChunkStatus
	Analysis                *AnalysisResult
	UsesContextualEmbedding bool
	CreatedAt               time.Time
	ProcessedAt             *time.Time
}

// NewChunk builds a pending chunk for the window at index of source.
func NewChunk(sessionID, source string, index int, text string) *Chunk {
	return &Chunk{
		ID:              ChunkIDFor(source, index),
		SessionID:       sessionID,
		Source:          source,
		Index:           index,
		Text:            text,
		EmbeddingStatus: ChunkStatusPending,
		AnalysisStatus:  ChunkStatusPending,
		CreatedAt:       time.Now(),
	}
}

// Done reports whether both enrichment halves reached a terminal status.
func (c *Chunk) Done() bool {
	return c.EmbeddingStatus.Terminal() && c.AnalysisStatus.Terminal()
}

// Succeeded reports whether both enrichment halves completed.
func (c *Chunk) Succeeded() bool {
	return c.EmbeddingStatus == ChunkStatusCompleted && c.AnalysisStatus == ChunkStatusCompleted
}

// Clone returns a deep copy of the chunk.
func (c *Chunk) Clone() *Chunk {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Analysis = c.Analysis.Clone()
	if c.ProcessedAt != nil {
		t := *c.ProcessedAt
		cp.ProcessedAt = &t
	}
	return &cp
}

// MergeChunk combines a stored chunk with an incoming write of the same ID.
// Status fields only move forward and the analysis payload is replaced only
// by a completed analysis. A change of text means the source content at that
// index changed, and the incoming record replaces the stored one outright.
func MergeChunk(existing, incoming *Chunk) *Chunk {
	if existing == nil || existing.Text != incoming.Text {
		merged := incoming.Clone()
		if merged.CreatedAt.IsZero() {
			merged.CreatedAt = time.Now()
		}
		return merged
	}

	merged := existing.Clone()
	if incoming.SessionID != "" {
		merged.SessionID = incoming.SessionID
	}

	merged.AnalysisStatus = existing.AnalysisStatus.Merge(incoming.AnalysisStatus)
	if incoming.AnalysisStatus == ChunkStatusCompleted && incoming.Analysis != nil {
		merged.Analysis = incoming.Analysis.Clone()
	}

	merged.EmbeddingStatus = existing.EmbeddingStatus.Merge(incoming.EmbeddingStatus)
	if incoming.EmbeddingStatus == ChunkStatusCompleted {
		merged.UsesContextualEmbedding = incoming.UsesContextualEmbedding
	}

	if incoming.ProcessedAt != nil {
		t := *incoming.ProcessedAt
		merged.ProcessedAt = &t
	}
	return merged
}

// Concept is a named entity or idea extracted from a chunk.
type Concept struct {
	Name       string
	Type       string
	Importance int // 1-10
}

// AnalysisResult is the structured output of chunk analysis.
type AnalysisResult struct {
	Sentiment string
	Emotions  []string
	Category  string
	Topics    []string
	Concepts  []Concept
	Summary   string
}

// Clone returns a deep copy of the analysis.
func (a *AnalysisResult) Clone() *AnalysisResult {
	if a == nil {
		return nil
	}
	c := *a
	c.Emotions = append([]string(nil), a.Emotions...)
	c.Topics = append([]string(nil), a.Topics...)
	c.Concepts = append([]Concept(nil), a.Concepts...)
	return &c
}
