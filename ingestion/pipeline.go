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
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/autollama/autollama/ai"
	"github.com/autollama/autollama/chunker"
	"github.com/autollama/autollama/core"
	"github.com/autollama/autollama/extract"
	"github.com/autollama/autollama/progress"
	"github.com/autollama/autollama/session"
	"github.com/autollama/autollama/storage"
	"github.com/panjf2000/ants/v2"
	"golang.org/x/time/rate"
)

// Pipeline orchestrates ingestion runs. It is safe for concurrent use; runs
// of different sessions share one worker pool.
type Pipeline struct {
	sessions    *session.Manager
	coord       *storage.Coordinator
	embedder    ai.Embedder
	analyzer    ai.Analyzer
	extractor   TextExtractor
	fetcher     Fetcher
	broadcaster *progress.Broadcaster
	pool        *ants.Pool
	limiter     *rate.Limiter
	config      *Config
	now         func() time.Time
	logger      *slog.Logger

	mu     sync.Mutex
	runs   map[string]*Run
	closed bool
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithConfig replaces the default configuration.
func WithConfig(config *Config) Option {
	return func(p *Pipeline) error {
		if config == nil {
			return fmt.Errorf("%w: nil config", ErrInvalidConfig)
		}
		p.config = config
		return nil
	}
}

// WithPoolSize sets the worker pool size shared by all runs.
// Default is runtime.NumCPU() * 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.pool != nil {
			p.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithBroadcaster sets the progress broadcaster.
func WithBroadcaster(b *progress.Broadcaster) Option {
	return func(p *Pipeline) error {
		p.broadcaster = b
		return nil
	}
}

// WithFetcher sets the URL fetcher.
func WithFetcher(f Fetcher) Option {
	return func(p *Pipeline) error {
		p.fetcher = f
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) error {
		p.now = now
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	sessions *session.Manager,
	coord *storage.Coordinator,
	provider ai.Provider,
	extractor TextExtractor,
	opts ...Option,
) (*Pipeline, error) {
	if sessions == nil {
		return nil, ErrSessionManagerRequired
	}
	if coord == nil {
		return nil, ErrCoordinatorRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}
	if extractor == nil {
		return nil, ErrExtractorRequired
	}

	p := &Pipeline{
		sessions:  sessions,
		coord:     coord,
		embedder:  provider.Embedder(),
		analyzer:  provider.Analyzer(),
		extractor: extractor,
		config:    DefaultConfig(),
		now:       time.Now,
		logger:    slog.Default(),
		runs:      make(map[string]*Run),
	}

	for _, opt := range opts {
		if err := opt(p); err != nil {
			p.release()
			return nil, err
		}
	}

	if err := p.config.Validate(); err != nil {
		p.release()
		return nil, err
	}

	if p.pool == nil {
		pool, err := ants.NewPool(max(runtime.NumCPU()*2, 1))
		if err != nil {
			return nil, err
		}
		p.pool = pool
	}
	if p.broadcaster == nil {
		p.broadcaster = progress.NewBroadcaster(progress.WithLogger(p.logger))
	}
	if p.fetcher == nil {
		p.fetcher = extract.NewFetcher()
	}
	if p.config.RateLimit > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(p.config.RateLimit), p.config.RateBurst)
	}
	p.logger = p.logger.With("component", "ingestion")

	return p, nil
}

// Run is one in-flight ingestion or resume of a session.
type Run struct {
	SessionID string

	stream    *progress.Stream
	cancelled atomic.Bool
	done      chan struct{}

	// progress reporting, serialized so positions never go backwards
	reportMu  sync.Mutex
	completed int
	total     int

	result *core.Session
	err    error
}

// Events returns the run's progress events. The channel must be drained;
// it closes after the final complete or error event.
func (r *Run) Events() <-chan progress.Event {
	return r.stream.Events()
}

// Cancelled reports whether a stop was requested.
func (r *Run) Cancelled() bool {
	return r.cancelled.Load()
}

// Wait blocks until the run settles and returns the final session state.
// Wait does not drain Events.
func (r *Run) Wait(ctx context.Context) (*core.Session, error) {
	select {
	case <-r.done:
		return r.result, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed when the run has settled.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

func (r *Run) emit(ev progress.Event) {
	_ = r.stream.Emit(ev)
}

// report emits ev positioned at the highest completed count seen so far.
func (r *Run) report(ev progress.Event, completed int) {
	r.reportMu.Lock()
	defer r.reportMu.Unlock()
	r.completed = max(r.completed, completed)
	r.emit(ev.WithProgress(r.completed, r.total))
}

func (r *Run) setPosition(completed, total int) {
	r.reportMu.Lock()
	defer r.reportMu.Unlock()
	r.completed = completed
	r.total = total
}

// startRun registers a run for sessionID and opens its stream.
func (p *Pipeline) startRun(sessionID string) (*Run, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPipelineClosed
	}
	if _, ok := p.runs[sessionID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionActive, sessionID)
	}
	stream, err := p.broadcaster.Open(sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionActive, err)
	}
	run := &Run{
		SessionID: sessionID,
		stream:    stream,
		done:      make(chan struct{}),
	}
	p.runs[sessionID] = run
	return run, nil
}

// endRun records the final state, closes the stream and unregisters.
func (p *Pipeline) endRun(ctx context.Context, run *Run) {
	if s, err := p.sessions.Get(context.WithoutCancel(ctx), run.SessionID); err == nil {
		run.result = s
	} else if !errors.Is(err, session.ErrSessionNotFound) && run.err == nil {
		run.err = err
	}
	run.stream.Close()

	p.mu.Lock()
	delete(p.runs, run.SessionID)
	p.mu.Unlock()
	close(run.done)
}

func (p *Pipeline) activeRun(sessionID string) *Run {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs[sessionID]
}

// Ingest creates a session for src and processes it in the background.
// Events of the run are read from the returned Run. ctx bounds the whole
// run; cancelling it interrupts the session, which stays resumable.
func (p *Pipeline) Ingest(ctx context.Context, src Source) (*Run, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}
	s, err := p.sessions.Create(ctx, src.Descriptor(), src.Metadata)
	if err != nil {
		return nil, err
	}
	run, err := p.startRun(s.ID)
	if err != nil {
		if _, ferr := p.sessions.Fail(ctx, s.ID, err.Error(), false); ferr != nil {
			p.logger.Warn("failed to record session failure", "session", s.ID, "err", ferr)
		}
		return nil, err
	}
	go p.ingest(ctx, run, s, src)
	return run, nil
}

func (p *Pipeline) ingest(ctx context.Context, run *Run, s *core.Session, src Source) {
	defer p.endRun(ctx, run)
	logger := p.logger.With("session", s.ID)

	run.emit(progress.NewEvent(progress.StepStart, "Processing %s", s.Source))
	run.emit(progress.NewEvent(progress.StepSession, "Session %s created", s.ID))

	raw, hint, err := p.acquire(ctx, run, src)
	if err != nil {
		p.abort(ctx, run, fmt.Sprintf("could not read source: %v", err), false)
		return
	}

	doc, err := p.extractor.Extract(ctx, raw, hint)
	if err != nil {
		p.abort(ctx, run, fmt.Sprintf("could not extract text: %v", err), false)
		return
	}
	run.emit(progress.NewEvent(progress.StepParse, "Extracted %d characters", len([]rune(doc.Text))))

	windows, err := chunker.Split(doc.Text, p.config.ChunkOptions())
	if err != nil {
		p.abort(ctx, run, fmt.Sprintf("could not chunk source: %v", err), false)
		return
	}
	total := len(windows)
	run.setPosition(0, total)
	run.emit(progress.NewEvent(progress.StepChunk, "Split into %d chunks", total).WithProgress(0, total))

	chunks := make([]*core.Chunk, total)
	for i, w := range windows {
		chunks[i] = core.NewChunk(s.ID, s.Source, w.Index, w.Text)
	}

	// A source ingested before keeps its completed chunks.
	if _, err := p.coord.UpsertChunks(ctx, chunks...); err != nil {
		p.abort(ctx, run, fmt.Sprintf("could not store chunks: %v", err), false)
		return
	}
	if _, err := p.coord.PruneChunks(ctx, s.Source, total); err != nil {
		p.abort(ctx, run, fmt.Sprintf("could not prune chunks: %v", err), false)
		return
	}
	if _, err := p.sessions.StartProcessing(ctx, s.ID, total); err != nil {
		p.abort(ctx, run, fmt.Sprintf("could not start processing: %v", err), false)
		return
	}
	s, stored, err := p.coord.ReconcileSession(ctx, s.ID)
	if err != nil {
		p.abort(ctx, run, fmt.Sprintf("could not load chunks: %v", err), true)
		return
	}
	run.setPosition(s.CompletedChunks, total)

	pending := incomplete(stored)
	if len(pending) < total {
		logger.Info("reusing completed chunks", "reused", total-len(pending), "total", total)
	}

	var docCtx *core.DocumentContext
	if len(pending) > 0 {
		docCtx = p.documentContext(ctx, run, s, titleFor(doc, s.Source), doc.Text)
	}

	p.enrich(ctx, run, s, pending, docCtx)
	p.finalize(ctx, run)
}

// acquire returns the raw bytes of src and a type hint for extraction.
func (p *Pipeline) acquire(ctx context.Context, run *Run, src Source) ([]byte, string, error) {
	if src.URL == "" {
		run.emit(progress.NewEvent(progress.StepUpload, "Received %s (%d bytes)", src.Filename, len(src.Data)))
		if src.ContentType != "" {
			return src.Data, src.ContentType, nil
		}
		return src.Data, src.Filename, nil
	}

	run.emit(progress.NewEvent(progress.StepFetch, "Fetching %s", src.URL))
	fetched, err := p.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		return nil, "", err
	}
	hint := fetched.ContentType
	if hint == "" || hint == "application/octet-stream" {
		hint = fetched.Filename
	}
	return fetched.Data, hint, nil
}

// abort fails the session after a session-fatal error.
func (p *Pipeline) abort(ctx context.Context, run *Run, msg string, resumable bool) {
	if _, err := p.sessions.Fail(context.WithoutCancel(ctx), run.SessionID, msg, resumable); err != nil {
		p.logger.Error("failed to record session failure", "session", run.SessionID, "err", err)
		run.err = err
	}
	run.emit(progress.ErrorEvent(msg, resumable))
}

// finalize settles a run after all dispatched work has finished.
func (p *Pipeline) finalize(ctx context.Context, run *Run) {
	writeCtx := context.WithoutCancel(ctx)

	var (
		s   *core.Session
		err error
	)
	switch {
	case run.Cancelled():
		s, err = p.sessions.Cancel(writeCtx, run.SessionID)
		if err == nil {
			run.emit(progress.ErrorEvent(
				fmt.Sprintf("Processing cancelled with %d of %d chunks complete", s.CompletedChunks, s.TotalChunks), true))
			return
		}
	case ctx.Err() != nil:
		msg := fmt.Sprintf("processing interrupted: %v", ctx.Err())
		s, err = p.sessions.Fail(writeCtx, run.SessionID, msg, true)
		if err == nil {
			run.emit(progress.ErrorEvent(msg, true))
			return
		}
	}
	// A session whose last chunk landed before the stop was observed is
	// already complete; settle it normally.
	if err != nil && !errors.Is(err, core.ErrInvalidTransition) {
		p.logger.Error("failed to settle session", "session", run.SessionID, "err", err)
		run.err = err
		run.emit(progress.ErrorEvent(fmt.Sprintf("could not settle session: %v", err), true))
		return
	}

	s, tally, err := p.sessions.Finish(writeCtx, run.SessionID)
	if err != nil {
		p.logger.Error("failed to finish session", "session", run.SessionID, "err", err)
		run.err = err
		run.emit(progress.ErrorEvent(fmt.Sprintf("could not finish session: %v", err), true))
		return
	}

	run.emit(progress.NewEvent(progress.StepSummary, "%d succeeded, %d failed, %d pending",
		tally.Succeeded, tally.Failed, tally.Pending).WithProgress(s.CompletedChunks, s.TotalChunks))
	if s.Status == core.SessionStatusCompleted {
		run.emit(progress.NewEvent(progress.StepComplete, "Processed %d of %d chunks",
			s.CompletedChunks, s.TotalChunks).WithProgress(s.CompletedChunks, s.TotalChunks))
		return
	}
	run.emit(progress.ErrorEvent(s.ErrorMessage, s.Resumable))
}

// Cancel requests a stop. For a session running in this process the stop
// is cooperative: chunks already dispatched finish and the session becomes
// cancelled once they settle. A stopped session is acknowledged unchanged.
func (p *Pipeline) Cancel(ctx context.Context, sessionID string) (*core.Session, error) {
	if run := p.activeRun(sessionID); run != nil {
		run.cancelled.Store(true)
		p.logger.Info("cancel requested", "session", sessionID)
		return p.sessions.Get(ctx, sessionID)
	}
	s, err := p.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s.Status.Terminal() {
		return s, nil
	}
	// Active status with no run here: the process driving it is gone.
	return p.sessions.Cancel(ctx, sessionID)
}

// ListResumable returns sessions that can be resumed, excluding those
// running in this process.
func (p *Pipeline) ListResumable(ctx context.Context) ([]*core.Session, error) {
	all, err := p.sessions.ListResumable(ctx, p.config.StaleAfter)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, s := range all {
		if p.activeRun(s.ID) == nil {
			out = append(out, s)
		}
	}
	return out, nil
}

// Purge deletes a session with its chunks and vectors.
func (p *Pipeline) Purge(ctx context.Context, sessionID string) error {
	if p.activeRun(sessionID) != nil {
		return fmt.Errorf("%w: %s", ErrSessionActive, sessionID)
	}
	return p.sessions.Delete(ctx, sessionID)
}

// Session returns the stored state of a session.
func (p *Pipeline) Session(ctx context.Context, sessionID string) (*core.Session, error) {
	return p.sessions.Get(ctx, sessionID)
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() Config {
	return *p.config
}

// Close cancels active runs, waits for them to settle or ctx to end, and
// releases the worker pool.
func (p *Pipeline) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	runs := make([]*Run, 0, len(p.runs))
	for _, run := range p.runs {
		run.cancelled.Store(true)
		runs = append(runs, run)
	}
	p.mu.Unlock()

	var err error
	for _, run := range runs {
		select {
		case <-run.done:
		case <-ctx.Done():
			err = ctx.Err()
		}
		if err != nil {
			break
		}
	}
	p.release()
	return err
}

func (p *Pipeline) release() {
	if p.pool != nil {
		p.pool.Release()
	}
}
