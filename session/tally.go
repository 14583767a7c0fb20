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
	"time"

	"github.com/autollama/autollama/core"
)

// Tally counts the chunk outcomes of a session.
type Tally struct {
	Total     int
	Succeeded int
	Failed    int // terminal with at least one failed half
	Pending   int // not yet terminal, including chunks never stored
	Missing   int // never stored
}

// Count tallies chunks against a session total.
func Count(total int, chunks []*core.Chunk) Tally {
	t := Tally{Total: total}
	for _, c := range chunks {
		switch {
		case c.Succeeded():
			t.Succeeded++
		case c.Done():
			t.Failed++
		}
	}
	t.Pending = max(total-t.Succeeded-t.Failed, 0)
	t.Missing = max(total-len(chunks), 0)
	return t
}

// Outcome returns the terminal status of a run over total chunks of which
// succeeded completed both halves.
func Outcome(total, succeeded int) core.SessionStatus {
	if total == 0 || succeeded > 0 {
		return core.SessionStatusCompleted
	}
	return core.SessionStatusFailed
}

// Resumable reports whether s may be resumed. Stopped sessions qualify
// while flagged resumable; active ones once idle since before cutoff.
func Resumable(s *core.Session, cutoff time.Time) bool {
	switch s.Status {
	case core.SessionStatusFailed, core.SessionStatusCancelled, core.SessionStatusCompleted:
		return s.Resumable
	default:
		return s.LastActivityAt.Before(cutoff)
	}
}

// Summary is the listing view of a session.
type Summary struct {
	SessionID       string             `json:"sessionId"`
	Filename        string             `json:"filename"`
	Status          core.SessionStatus `json:"status"`
	TotalChunks     int                `json:"totalChunks"`
	CompletedChunks int                `json:"completedChunks"`
	ErrorMessage    string             `json:"errorMessage,omitempty"`
	LastActivityAt  time.Time          `json:"lastActivityAt"`
}

// Summarize converts a session to its listing view.
func Summarize(s *core.Session) Summary {
	return Summary{
		SessionID:       s.ID,
		Filename:        s.Source,
		Status:          s.Status,
		TotalChunks:     s.TotalChunks,
		CompletedChunks: s.CompletedChunks,
		ErrorMessage:    s.ErrorMessage,
		LastActivityAt:  s.LastActivityAt,
	}
}
