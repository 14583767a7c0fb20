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
	"errors"
	"slices"

	"github.com/autollama/autollama/core"
	"github.com/autollama/autollama/storage"
	"github.com/dgraph-io/badger/v4"
)

// SessionRepository implements storage.SessionRepository for BadgerDB.
type SessionRepository struct {
	backend *Backend
}

var _ storage.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(backend *Backend) *SessionRepository {
	return &SessionRepository{backend: backend}
}

// CreateSession stores a new session.
func (r *SessionRepository) CreateSession(ctx context.Context, session *core.Session) error {
	if err := core.ValidateSession(session); err != nil {
		return err
	}
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		key := makeSessionKey(session.ID)
		_, err := tx.Get(key)
		if err == nil {
			return storage.ErrDuplicateKey
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return putSession(tx, session)
	})
}

// GetSession returns the session with id.
func (r *SessionRepository) GetSession(ctx context.Context, id string) (*core.Session, error) {
	var session *core.Session
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		var err error
		session, err = get(tx, makeSessionKey(id), storage.UnmarshalSession)
		return err
	})
	return session, err
}

// ListSessions returns sessions in the given statuses, oldest first.
func (r *SessionRepository) ListSessions(ctx context.Context, statuses ...core.SessionStatus) ([]*core.Session, error) {
	var sessions []*core.Session
	err := r.backend.View(ctx, func(tx *badger.Txn) error {
		return scan(tx, []byte(sessionPrefix), func(item *badger.Item) error {
			return item.Value(func(val []byte) error {
				session, err := storage.UnmarshalSession(val)
				if err != nil {
					return err
				}
				if len(statuses) == 0 || slices.Contains(statuses, session.Status) {
					sessions = append(sessions, session)
				}
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(sessions, func(a, b *core.Session) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return sessions, nil
}

// UpdateSession applies fn to the stored session inside a serializable
// transaction. A conflicting concurrent update causes a replay, so fn may
// run more than once and must only mutate the session it is given.
func (r *SessionRepository) UpdateSession(ctx context.Context, id string, fn func(*core.Session) error) (*core.Session, error) {
	var updated *core.Session
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		session, err := get(tx, makeSessionKey(id), storage.UnmarshalSession)
		if err != nil {
			return err
		}
		if err := fn(session); err != nil {
			return err
		}
		if err := core.ValidateSession(session); err != nil {
			return err
		}
		updated = session
		return putSession(tx, session)
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// DeleteSession removes a session.
func (r *SessionRepository) DeleteSession(ctx context.Context, id string) error {
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		return tx.Delete(makeSessionKey(id))
	})
}

func putSession(tx *badger.Txn, session *core.Session) error {
	return tx.Set(makeSessionKey(session.ID), storage.MarshalSession(session))
}
