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
)

func TestValidateSession(t *testing.T) {
	valid := func() *Session {
		return &Session{ID: "s1", Source: "doc.txt", Status: SessionStatusPending, TotalChunks: 3, CompletedChunks: 1}
	}

	assert.NoError(t, ValidateSession(valid()))
	assert.ErrorIs(t, ValidateSession(nil), ErrInvalidSession)

	s := valid()
	s.Source = ""
	assert.ErrorIs(t, ValidateSession(s), ErrEmptySource)

	s = valid()
	s.Status = "bogus"
	assert.ErrorIs(t, ValidateSession(s), ErrInvalidStatus)

	s = valid()
	s.CompletedChunks = 4
	assert.ErrorIs(t, ValidateSession(s), ErrCounterOutOfRange)
}

func TestValidateChunk(t *testing.T) {
	assert.NoError(t, ValidateChunk(NewChunk("s1", "doc.txt", 0, "x")))
	assert.ErrorIs(t, ValidateChunk(nil), ErrInvalidChunk)

	c := NewChunk("s1", "doc.txt", 0, "x")
	c.ID = "forged"
	assert.ErrorIs(t, ValidateChunk(c), ErrInvalidChunk)

	c = NewChunk("s1", "", 0, "x")
	assert.ErrorIs(t, ValidateChunk(c), ErrEmptySource)

	c = NewChunk("s1", "doc.txt", 0, "x")
	c.AnalysisStatus = "weird"
	assert.ErrorIs(t, ValidateChunk(c), ErrInvalidStatus)
}
