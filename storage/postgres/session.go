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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/autollama/autollama/core"
	"github.com/autollama/autollama/storage"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Verify interface compliance
var _ storage.SessionRepository = (*SessionRepository)(nil)

// SessionRepository implements storage.SessionRepository using PostgreSQL.
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

const sessionColumns = `session_id, source, total_chunks, completed_chunks, status, error_message,
	resumable, document_context, metadata, created_at, updated_at, last_activity_at, completed_at`

type sessionRow struct {
	SessionID       string     `db:"session_id"`
	Source          string     `db:"source"`
	TotalChunks     int        `db:"total_chunks"`
	CompletedChunks int        `db:"completed_chunks"`
	Status          string     `db:"status"`
	ErrorMessage    string     `db:"error_message"`
	Resumable       bool       `db:"resumable"`
	DocumentContext []byte     `db:"document_context"`
	Metadata        []byte     `db:"metadata"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at"`
	LastActivityAt  time.Time  `db:"last_activity_at"`
	CompletedAt     *time.Time `db:"completed_at"`
}

func (r sessionRow) toSession() (*core.Session, error) {
	s := &core.Session{
		ID:              r.SessionID,
		Source:          r.Source,
		TotalChunks:     r.TotalChunks,
		CompletedChunks: r.CompletedChunks,
		Status:          core.SessionStatus(r.Status),
		ErrorMessage:    r.ErrorMessage,
		Resumable:       r.Resumable,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		LastActivityAt:  r.LastActivityAt,
		CompletedAt:     r.CompletedAt,
	}
	if len(r.DocumentContext) > 0 {
		if err := json.Unmarshal(r.DocumentContext, &s.Context); err != nil {
			return nil, fmt.Errorf("%w: document context: %w", storage.ErrSerializationFailed, err)
		}
	}
	if len(r.Metadata) > 0 {
		if err := json.Unmarshal(r.Metadata, &s.Metadata); err != nil {
			return nil, fmt.Errorf("%w: metadata: %w", storage.ErrSerializationFailed, err)
		}
	}
	return s, nil
}

// jsonOrNil marshals v, returning nil (SQL NULL) for nil values.
func jsonOrNil[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrSerializationFailed, err)
	}
	return data, nil
}

func sessionArgs(s *core.Session) ([]any, error) {
	docCtx, err := jsonOrNil(s.Context)
	if err != nil {
		return nil, err
	}
	var metadata []byte
	if s.Metadata != nil {
		if metadata, err = jsonOrNil(&s.Metadata); err != nil {
			return nil, err
		}
	}
	return []any{
		s.ID, s.Source, s.TotalChunks, s.CompletedChunks, string(s.Status), s.ErrorMessage,
		s.Resumable, docCtx, metadata, s.CreatedAt, s.UpdatedAt, s.LastActivityAt, s.CompletedAt,
	}, nil
}

func querySessions(ctx context.Context, q querier, sql string, args ...any) ([]*core.Session, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	collected, err := pgx.CollectRows(rows, pgx.RowToStructByName[sessionRow])
	if err != nil {
		return nil, err
	}
	sessions := make([]*core.Session, 0, len(collected))
	for _, row := range collected {
		s, err := row.toSession()
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, nil
}

func getSession(ctx context.Context, q querier, id string, forUpdate bool) (*core.Session, error) {
	sql := `SELECT ` + sessionColumns + ` FROM processing_sessions WHERE session_id = $1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, id)
	if err != nil {
		return nil, err
	}
	row, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByName[sessionRow])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toSession()
}

// CreateSession inserts a new session.
func (r *SessionRepository) CreateSession(ctx context.Context, session *core.Session) error {
	if err := core.ValidateSession(session); err != nil {
		return err
	}
	args, err := sessionArgs(session)
	if err != nil {
		return err
	}
	_, err = r.db.pool.Exec(ctx, `
		INSERT INTO processing_sessions (`+sessionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`, args...)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return storage.ErrDuplicateKey
	}
	return err
}

// GetSession retrieves a session by ID.
func (r *SessionRepository) GetSession(ctx context.Context, id string) (*core.Session, error) {
	return getSession(ctx, r.db.pool, id, false)
}

// ListSessions returns sessions in the given statuses, oldest first.
func (r *SessionRepository) ListSessions(ctx context.Context, statuses ...core.SessionStatus) ([]*core.Session, error) {
	if len(statuses) == 0 {
		return querySessions(ctx, r.db.pool,
			`SELECT `+sessionColumns+` FROM processing_sessions ORDER BY created_at ASC`)
	}
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	return querySessions(ctx, r.db.pool,
		`SELECT `+sessionColumns+` FROM processing_sessions WHERE status = ANY($1) ORDER BY created_at ASC`, names)
}

// UpdateSession locks the session row, applies fn and writes the result in
// the same transaction.
func (r *SessionRepository) UpdateSession(ctx context.Context, id string, fn func(*core.Session) error) (*core.Session, error) {
	var updated *core.Session
	err := r.db.Transaction(ctx, func(tx pgx.Tx) error {
		session, err := getSession(ctx, tx, id, true)
		if err != nil {
			return err
		}
		if err := fn(session); err != nil {
			return err
		}
		if err := core.ValidateSession(session); err != nil {
			return err
		}
		args, err := sessionArgs(session)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
			UPDATE processing_sessions SET
				source = $2, total_chunks = $3, completed_chunks = $4, status = $5, error_message = $6,
				resumable = $7, document_context = $8, metadata = $9, created_at = $10, updated_at = $11,
				last_activity_at = $12, completed_at = $13
			WHERE session_id = $1`, args...)
		if err != nil {
			return err
		}
		updated = session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteSession removes a session.
func (r *SessionRepository) DeleteSession(ctx context.Context, id string) error {
	_, err := r.db.pool.Exec(ctx, `DELETE FROM processing_sessions WHERE session_id = $1`, id)
	return err
}
