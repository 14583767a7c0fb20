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

// NewRepositories builds the three repositories over one backend.
func NewRepositories(backend *Backend) (*SessionRepository, *ChunkRepository, *VectorIndex) {
	return NewSessionRepository(backend), NewChunkRepository(backend), NewVectorIndex(backend)
}

// NewMemoryRepositories creates in-memory repositories for testing.
// Caller must close the backend when done.
func NewMemoryRepositories() (*SessionRepository, *ChunkRepository, *VectorIndex, *Backend, error) {
	backend, err := OpenBackend("", true)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	sessions, chunks, vectors := NewRepositories(backend)
	return sessions, chunks, vectors, backend, nil
}
