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
	"encoding/binary"

	"github.com/autollama/autollama/core"
)

// Key prefixes for different data types
const (
	sessionPrefix     = "sess:"
	chunkPrefix       = "chunk:"
	chunkSourcePrefix = "chunksrc:"
	vectorPrefix      = "vec:"
)

// makeSessionKey generates a key for a session by ID.
func makeSessionKey(id string) []byte {
	return []byte(sessionPrefix + id)
}

// makeChunkKey generates a key for a chunk record by ID.
func makeChunkKey(id string) []byte {
	return []byte(chunkPrefix + id)
}

// makePartialChunkSourceKey generates the prefix shared by all index
// entries of one source.
// Format: prefix:sourceKey:
func makePartialChunkSourceKey(source string) []byte {
	return []byte(chunkSourcePrefix + core.SourceKey(source) + ":")
}

// makeChunkSourceKey generates a composite key for the source index.
// Format: prefix:sourceKey:index
func makeChunkSourceKey(source string, index int) []byte {
	prefix := makePartialChunkSourceKey(source)
	buf := make([]byte, len(prefix)+8)
	offset := copy(buf, prefix)
	// Write in BigEndian order so lexicographic sort follows chunk order
	binary.BigEndian.PutUint64(buf[offset:], uint64(index))
	return buf
}

// chunkIndexFromSourceKey extracts the chunk index from a source index key.
func chunkIndexFromSourceKey(key []byte) int {
	return int(binary.BigEndian.Uint64(key[len(key)-8:]))
}

// makeVectorKey generates a key for a chunk vector.
func makeVectorKey(chunkID string) []byte {
	return []byte(vectorPrefix + chunkID)
}
