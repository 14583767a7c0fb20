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
	"errors"
	"fmt"
	"strings"

	"github.com/autollama/autollama/core"
	"github.com/autollama/autollama/progress"
	"github.com/autollama/autollama/session"
)

// Resume re-drives the chunks of a session that did not fully succeed.
// Completed chunks are left untouched. A missing session, or one with
// nothing left to do, yields a run whose only event reports completion.
func (p *Pipeline) Resume(ctx context.Context, sessionID string) (*Run, error) {
	s, err := p.sessions.Get(ctx, sessionID)
	if err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		return nil, err
	}
	run, err := p.startRun(sessionID)
	if err != nil {
		return nil, err
	}
	go p.resume(ctx, run, s)
	return run, nil
}

func (p *Pipeline) resume(ctx context.Context, run *Run, s *core.Session) {
	defer p.endRun(ctx, run)

	if s == nil {
		run.emit(progress.NewEvent(progress.StepComplete, "Nothing to resume: session %s not found", run.SessionID))
		return
	}

	// Chunking never finished, so there is no chunk set to resume from.
	if s.Status == core.SessionStatusPending {
		p.abort(ctx, run, "session never finished chunking; resubmit the source", false)
		return
	}

	s, chunks, err := p.coord.ReconcileSession(ctx, s.ID)
	if err != nil {
		run.emit(progress.ErrorEvent(fmt.Sprintf("could not load session: %v", err), true))
		run.err = err
		return
	}
	todo := incomplete(chunks)

	if len(todo) == 0 && len(chunks) >= s.TotalChunks {
		if s.Status != core.SessionStatusCompleted {
			// Stopped after its last chunk landed; settle it quietly.
			if err := p.settle(ctx, s.ID, s.TotalChunks); err != nil {
				run.emit(progress.ErrorEvent(fmt.Sprintf("could not settle session: %v", err), true))
				run.err = err
				return
			}
		}
		run.emit(progress.NewEvent(progress.StepComplete, "Nothing to resume: all %d chunks complete",
			s.TotalChunks).WithProgress(s.TotalChunks, s.TotalChunks))
		return
	}

	run.emit(progress.NewEvent(progress.StepStart, "Resuming %s", s.Source))
	if _, err := p.sessions.BeginRetry(ctx, s.ID); err != nil {
		run.emit(progress.ErrorEvent(fmt.Sprintf("could not resume session: %v", err), true))
		run.err = err
		return
	}
	run.emit(progress.NewEvent(progress.StepSession, "Session %s retrying %d incomplete chunks", s.ID, len(todo)))

	s, err = p.sessions.StartProcessing(ctx, s.ID, s.TotalChunks)
	if err != nil {
		p.abort(ctx, run, fmt.Sprintf("could not restart processing: %v", err), true)
		return
	}
	run.setPosition(s.CompletedChunks, s.TotalChunks)
	if missing := s.TotalChunks - len(chunks); missing > 0 {
		run.emit(progress.NewEvent(progress.StepWarning, "%d chunks are missing from storage and cannot be resumed", missing))
	}

	var docCtx *core.DocumentContext
	if len(todo) > 0 {
		docCtx = p.documentContext(ctx, run, s, s.Source, sampleText(chunks, p.config.ContextSampleSize))
	}
	p.enrich(ctx, run, s, todo, docCtx)
	p.finalize(ctx, run)
}

// settle moves a stopped session whose chunks all succeeded to completed.
func (p *Pipeline) settle(ctx context.Context, sessionID string, total int) error {
	if _, err := p.sessions.BeginRetry(ctx, sessionID); err != nil {
		return err
	}
	if _, err := p.sessions.StartProcessing(ctx, sessionID, total); err != nil {
		return err
	}
	_, _, err := p.sessions.Finish(ctx, sessionID)
	return err
}

// sampleText rebuilds a leading sample of the document from its chunks in
// index order. Overlapping text is repeated, which is harmless for a
// summary.
func sampleText(chunks []*core.Chunk, limit int) string {
	var b strings.Builder
	written := 0
	for _, c := range chunks {
		if written >= limit {
			break
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		runes := []rune(c.Text)
		if n := limit - written; len(runes) > n {
			runes = runes[:n]
		}
		b.WriteString(string(runes))
		written += len(runes)
	}
	return b.String()
}
