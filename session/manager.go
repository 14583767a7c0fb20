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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/autollama/autollama/core"
	"github.com/autollama/autollama/storage"
	"github.com/google/uuid"
)

// Manager owns session status. All transitions go through the session
// repository's atomic update so concurrent writers never interleave.
type Manager struct {
	coord  *storage.Coordinator
	repo   storage.SessionRepository
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager writing through coord.
func NewManager(coord *storage.Coordinator, opts ...Option) *Manager {
	m := &Manager{
		coord:  coord,
		repo:   coord.Sessions(),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "session-manager")
	return m
}

// Create stores a new pending session for source.
func (m *Manager) Create(ctx context.Context, source string, metadata map[string]string) (*core.Session, error) {
	if source == "" {
		return nil, core.ErrEmptySource
	}
	now := m.now().UTC()
	s := &core.Session{
		ID:             uuid.NewString(),
		Source:         source,
		Status:         core.SessionStatusPending,
		Metadata:       metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}
	if err := m.repo.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	m.logger.Info("session created", "session", s.ID, "source", source)
	return s, nil
}

// Get returns the session with id.
func (m *Manager) Get(ctx context.Context, id string) (*core.Session, error) {
	s, err := m.repo.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, err
}

// Transition moves a session to status to, applying mutate to the session
// inside the same atomic update. Moving to the current status is allowed and
// only applies mutate. Every transition refreshes LastActivityAt.
func (m *Manager) Transition(ctx context.Context, id string, to core.SessionStatus, mutate func(*core.Session)) (*core.Session, error) {
	now := m.now().UTC()
	var from core.SessionStatus
	s, err := m.repo.UpdateSession(ctx, id, func(s *core.Session) error {
		from = s.Status
		if s.Status != to {
			if !core.CanTransition(s.Status, to) {
				return fmt.Errorf("%w: %s -> %s", core.ErrInvalidTransition, s.Status, to)
			}
			s.Status = to
			if to.Terminal() {
				s.CompletedAt = &now
			} else {
				s.CompletedAt = nil
			}
		}
		if mutate != nil {
			mutate(s)
		}
		s.UpdatedAt = now
		s.LastActivityAt = now
		return nil
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if from != to {
		m.logger.Debug("session transition", "session", id, "from", from, "to", to)
	}
	return s, nil
}

// StartProcessing records the chunk total and moves the session into
// processing.
func (m *Manager) StartProcessing(ctx context.Context, id string, total int) (*core.Session, error) {
	if total < 0 {
		return nil, fmt.Errorf("%w: negative chunk total %d", core.ErrCounterOutOfRange, total)
	}
	return m.Transition(ctx, id, core.SessionStatusProcessing, func(s *core.Session) {
		s.TotalChunks = total
		s.CompletedChunks = min(s.CompletedChunks, total)
		s.ErrorMessage = ""
		s.Resumable = false
	})
}

// BeginRetry moves a stopped session into retrying ahead of a resume.
func (m *Manager) BeginRetry(ctx context.Context, id string) (*core.Session, error) {
	return m.Transition(ctx, id, core.SessionStatusRetrying, func(s *core.Session) {
		s.ErrorMessage = ""
		s.Resumable = false
	})
}

// Advance adds delta to the completed counter. The counter is clamped to
// the total and never decreases.
func (m *Manager) Advance(ctx context.Context, id string, delta int) (*core.Session, error) {
	return m.coord.AdvanceSession(ctx, id, delta)
}

// Finish settles a session whose dispatched work is complete. The counter
// is reconciled against stored chunks. A session with chunks that never
// reached a terminal outcome fails; otherwise it completes if at least one
// chunk succeeded (or it has none) and fails when all of them failed.
func (m *Manager) Finish(ctx context.Context, id string) (*core.Session, Tally, error) {
	s, chunks, err := m.coord.ReconcileSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, Tally{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, Tally{}, err
	}
	tally := Count(s.TotalChunks, chunks)

	switch {
	case tally.Pending > 0:
		// Stored pending chunks can be resumed; missing ones cannot.
		resumable := tally.Pending > tally.Missing
		msg := fmt.Sprintf("%d of %d chunks were not processed", tally.Pending, tally.Total)
		if !resumable {
			msg += "; resubmit the source"
		}
		s, err = m.Transition(ctx, id, core.SessionStatusFailed, func(s *core.Session) {
			s.ErrorMessage = msg
			s.Resumable = resumable
		})
	case Outcome(tally.Total, tally.Succeeded) == core.SessionStatusCompleted:
		s, err = m.Transition(ctx, id, core.SessionStatusCompleted, func(s *core.Session) {
			s.ErrorMessage = ""
			s.Resumable = tally.Succeeded < tally.Total
		})
	default:
		msg := fmt.Sprintf("all %d chunks failed", tally.Total)
		s, err = m.Transition(ctx, id, core.SessionStatusFailed, func(s *core.Session) {
			s.ErrorMessage = msg
			s.Resumable = true
		})
	}
	if err != nil {
		return nil, tally, err
	}
	m.logger.Info("session finished", "session", id, "status", s.Status,
		"succeeded", tally.Succeeded, "failed", tally.Failed, "pending", tally.Pending)
	return s, tally, nil
}

// Fail marks a session failed with msg. A resumable failure stays listed
// by ListResumable.
func (m *Manager) Fail(ctx context.Context, id, msg string, resumable bool) (*core.Session, error) {
	s, err := m.Transition(ctx, id, core.SessionStatusFailed, func(s *core.Session) {
		s.ErrorMessage = msg
		s.Resumable = resumable
	})
	if err == nil {
		m.logger.Warn("session failed", "session", id, "error", msg, "resumable", resumable)
	}
	return s, err
}

// Cancel marks a session cancelled. Cancelled sessions are resumable.
func (m *Manager) Cancel(ctx context.Context, id string) (*core.Session, error) {
	return m.Transition(ctx, id, core.SessionStatusCancelled, func(s *core.Session) {
		s.ErrorMessage = "cancelled"
		s.Resumable = true
	})
}

// SetDocumentContext stores the document summary used for contextual
// embeddings.
func (m *Manager) SetDocumentContext(ctx context.Context, id string, doc *core.DocumentContext) (*core.Session, error) {
	now := m.now().UTC()
	return m.repo.UpdateSession(ctx, id, func(s *core.Session) error {
		s.Context = doc
		s.UpdatedAt = now
		s.LastActivityAt = now
		return nil
	})
}

// Touch refreshes the activity time of a session.
func (m *Manager) Touch(ctx context.Context, id string) error {
	now := m.now().UTC()
	_, err := m.repo.UpdateSession(ctx, id, func(s *core.Session) error {
		s.LastActivityAt = now
		return nil
	})
	return err
}

// ListResumable returns sessions a caller may resume, oldest first.
// Stopped sessions are listed while flagged resumable; active sessions are
// listed once idle for longer than staleAfter, which covers runs abandoned
// by a crashed process.
func (m *Manager) ListResumable(ctx context.Context, staleAfter time.Duration) ([]*core.Session, error) {
	if staleAfter < 0 {
		return nil, ErrInvalidThreshold
	}
	all, err := m.repo.ListSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	cutoff := m.now().UTC().Add(-staleAfter)
	var out []*core.Session
	for _, s := range all {
		if Resumable(s, cutoff) {
			out = append(out, s)
		}
	}
	return out, nil
}

// Delete removes a session with its chunks and vectors.
func (m *Manager) Delete(ctx context.Context, id string) error {
	err := m.coord.PurgeSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return err
}
