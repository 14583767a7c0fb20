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

// ChunkStatus is the state of one enrichment half of a chunk.
type ChunkStatus string

const (
	ChunkStatusPending    ChunkStatus = "pending"
	ChunkStatusProcessing ChunkStatus = "processing"
	ChunkStatusCompleted  ChunkStatus = "completed"
	ChunkStatusFailed     ChunkStatus = "failed"
)

func (s ChunkStatus) rank() int {
	switch s {
	case ChunkStatusProcessing:
		return 1
	case ChunkStatusFailed:
		return 2
	case ChunkStatusCompleted:
		return 3
	default:
		return 0
	}
}

// Terminal reports whether no further work is expected for this half in the
// current run.
func (s ChunkStatus) Terminal() bool {
	return s == ChunkStatusCompleted || s == ChunkStatusFailed
}

// Valid reports whether s is a known status.
func (s ChunkStatus) Valid() bool {
	switch s {
	case ChunkStatusPending, ChunkStatusProcessing, ChunkStatusCompleted, ChunkStatusFailed:
		return true
	}
	return false
}

// Merge returns the more advanced of s and next. A completed half never
// regresses.
func (s ChunkStatus) Merge(next ChunkStatus) ChunkStatus {
	if next.rank() >= s.rank() {
		return next
	}
	return s
}

// SessionStatus is the lifecycle state of a session.
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusProcessing SessionStatus = "processing"
	SessionStatusRetrying   SessionStatus = "retrying"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
	SessionStatusCancelled  SessionStatus = "cancelled"
)

// Terminal reports whether the session reached an outcome.
func (s SessionStatus) Terminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed || s == SessionStatusCancelled
}

// Valid reports whether s is a known status.
func (s SessionStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

var transitions = map[SessionStatus][]SessionStatus{
	SessionStatusPending:    {SessionStatusProcessing, SessionStatusFailed, SessionStatusCancelled},
	SessionStatusProcessing: {SessionStatusCompleted, SessionStatusFailed, SessionStatusCancelled, SessionStatusRetrying},
	SessionStatusRetrying:   {SessionStatusProcessing, SessionStatusFailed, SessionStatusCancelled},
	SessionStatusFailed:     {SessionStatusRetrying},
	SessionStatusCancelled:  {SessionStatusRetrying},
	// A completed session re-enters only to retry its failed chunks.
	SessionStatusCompleted: {SessionStatusRetrying},
}

// CanTransition reports whether a session may move from one status to another.
func CanTransition(from, to SessionStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
