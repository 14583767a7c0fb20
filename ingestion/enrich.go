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

package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/autollama/autollama/core"
	"github.com/autollama/autollama/progress"
)

// incomplete returns the chunks that have not fully succeeded, in index
// order.
func incomplete(chunks []*core.Chunk) []*core.Chunk {
	var out []*core.Chunk
	for _, c := range chunks {
		if !c.Succeeded() {
			out = append(out, c)
		}
	}
	return out
}

// enrich processes chunks with at most BatchSize in flight. Chunks are
// dispatched in index order; a stop request or an ended ctx prevents
// further dispatch. enrich returns once every dispatched chunk settled.
func (p *Pipeline) enrich(ctx context.Context, run *Run, s *core.Session, chunks []*core.Chunk, docCtx *core.DocumentContext) {
	if len(chunks) == 0 {
		return
	}
	run.emit(progress.NewEvent(progress.StepAnalyze, "Enriching %d of %d chunks", len(chunks), s.TotalChunks).
		WithProgress(s.CompletedChunks, s.TotalChunks))

	slots := make(chan struct{}, p.config.BatchSize)
	var wg sync.WaitGroup

dispatch:
	for _, chunk := range chunks {
		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			break dispatch
		}
		if run.Cancelled() || ctx.Err() != nil {
			<-slots
			break
		}

		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			defer func() { <-slots }()
			p.processChunk(ctx, run, s, chunk, docCtx)
		})
		if err != nil {
			wg.Done()
			<-slots
			p.logger.Error("failed to dispatch chunk", "session", s.ID, "chunk", chunk.Index, "err", err)
			run.emit(progress.NewEvent(progress.StepWarning, "Chunk %d not dispatched: %v", chunk.Index, err))
			break
		}
	}

	wg.Wait()
}

// processChunk analyzes and embeds one chunk, skipping halves that already
// completed, and stores the outcome. Exhausted retries mark the half
// failed. Storage writes outlive ctx so an interrupted chunk is never left
// half written.
func (p *Pipeline) processChunk(ctx context.Context, run *Run, s *core.Session, chunk *core.Chunk, docCtx *core.DocumentContext) {
	writeCtx := context.WithoutCancel(ctx)
	logger := p.logger.With("session", s.ID, "chunk", chunk.Index)

	c := chunk.Clone()
	c.SessionID = s.ID
	p.markProcessing(writeCtx, logger, c)
	var problems []string

	if c.AnalysisStatus != core.ChunkStatusCompleted {
		var analysis *core.AnalysisResult
		err := p.call(ctx, func() error {
			var err error
			analysis, err = p.analyzer.AnalyzeChunk(ctx, c.Text, docCtx)
			return err
		})
		if err != nil {
			logger.Warn("analysis failed", "err", err)
			c.AnalysisStatus = core.ChunkStatusFailed
			problems = append(problems, fmt.Sprintf("analysis: %v", err))
		} else {
			c.Analysis = analysis
			c.AnalysisStatus = core.ChunkStatusCompleted
		}
	}

	if c.EmbeddingStatus != core.ChunkStatusCompleted {
		input := c.Text
		if docCtx != nil {
			input = contextualInput(docCtx, c.Text)
		}
		var vector []float32
		err := p.call(ctx, func() error {
			var err error
			vector, err = p.embedder.EmbedText(ctx, input)
			return err
		})
		if err == nil {
			err = p.coord.UpsertVector(writeCtx, c, vector)
		}
		if err != nil {
			logger.Warn("embedding failed", "err", err)
			c.EmbeddingStatus = core.ChunkStatusFailed
			problems = append(problems, fmt.Sprintf("embedding: %v", err))
		} else {
			c.EmbeddingStatus = core.ChunkStatusCompleted
			c.UsesContextualEmbedding = docCtx != nil
			run.report(progress.NewEvent(progress.StepEmbed, "Embedded chunk %d", c.Index), 0)
		}
	}

	now := p.now().UTC()
	c.ProcessedAt = &now

	var stored *core.Chunk
	err := RetryWithBackoff(writeCtx, func() error {
		var err error
		stored, err = p.coord.UpsertChunk(writeCtx, c)
		return err
	}, p.config.MaxRetries, p.config.RetryBaseDelay)
	if err != nil {
		logger.Error("failed to store chunk", "err", err)
		run.report(progress.NewEvent(progress.StepWarning, "Chunk %d could not be stored: %v", c.Index, err), 0)
		return
	}

	if !stored.Succeeded() {
		if err := p.sessions.Touch(writeCtx, s.ID); err != nil {
			logger.Warn("failed to record session activity", "err", err)
		}
		run.report(progress.NewEvent(progress.StepWarning, "Chunk %d incomplete (%s)", c.Index, strings.Join(problems, "; ")), 0)
		return
	}

	updated, err := p.coord.AdvanceSession(writeCtx, s.ID, 1)
	if err != nil {
		logger.Error("failed to advance session", "err", err)
		run.report(progress.NewEvent(progress.StepWarning, "Chunk %d stored, progress not recorded: %v", c.Index, err), 0)
		return
	}
	run.report(progress.NewEvent(progress.StepStore, "Stored chunk %d", c.Index), updated.CompletedChunks)
}

// markProcessing records that the pending halves of c are being worked on.
// A failed mark only loses the intermediate status.
func (p *Pipeline) markProcessing(ctx context.Context, logger *slog.Logger, c *core.Chunk) {
	marked := c.Clone()
	changed := false
	if marked.AnalysisStatus == core.ChunkStatusPending {
		marked.AnalysisStatus = core.ChunkStatusProcessing
		changed = true
	}
	if marked.EmbeddingStatus == core.ChunkStatusPending {
		marked.EmbeddingStatus = core.ChunkStatusProcessing
		changed = true
	}
	if !changed {
		return
	}
	if _, err := p.coord.UpsertChunk(ctx, marked); err != nil {
		logger.Warn("failed to mark chunk processing", "err", err)
	}
}

// call runs op under the rate limiter with retry and backoff.
func (p *Pipeline) call(ctx context.Context, op func() error) error {
	return RetryWithBackoff(ctx, func() error {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		return op()
	}, p.config.MaxRetries, p.config.RetryBaseDelay)
}

// contextualInput prefixes chunk text with the document context so the
// embedding reflects where the passage sits in the document.
func contextualInput(doc *core.DocumentContext, text string) string {
	var b strings.Builder
	if doc.Title != "" {
		b.WriteString("Document: ")
		b.WriteString(doc.Title)
		b.WriteString("\n")
	}
	if doc.Summary != "" {
		b.WriteString("Summary: ")
		b.WriteString(doc.Summary)
		b.WriteString("\n")
	}
	if len(doc.Topics) > 0 {
		b.WriteString("Topics: ")
		b.WriteString(strings.Join(doc.Topics, ", "))
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return text
	}
	b.WriteString("\n")
	b.WriteString(text)
	return b.String()
}

// documentContext returns the session's document context, summarizing
// sample when none is stored. Failure degrades to plain embeddings.
func (p *Pipeline) documentContext(ctx context.Context, run *Run, s *core.Session, title, sample string) *core.DocumentContext {
	if !p.config.ContextualEmbeddings {
		return nil
	}
	if s.Context != nil {
		run.emit(progress.NewEvent(progress.StepContext, "Using stored document context: %s", s.Context.Title))
		return s.Context
	}

	if runes := []rune(sample); len(runes) > p.config.ContextSampleSize {
		sample = string(runes[:p.config.ContextSampleSize])
	}

	run.emit(progress.NewEvent(progress.StepContext, "Summarizing document"))
	var doc *core.DocumentContext
	err := p.call(ctx, func() error {
		var err error
		doc, err = p.analyzer.SummarizeDocument(ctx, title, sample)
		return err
	})
	if err != nil {
		p.logger.Warn("document summary failed", "session", s.ID, "err", err)
		run.emit(progress.NewEvent(progress.StepWarning, "Document context unavailable, using plain embeddings: %v", err))
		return nil
	}

	if _, err := p.sessions.SetDocumentContext(context.WithoutCancel(ctx), s.ID, doc); err != nil {
		p.logger.Warn("failed to store document context", "session", s.ID, "err", err)
	}
	run.emit(progress.NewEvent(progress.StepContext, "Document context: %s", doc.Title))
	return doc
}
