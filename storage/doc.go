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

// Package storage provides the persistence layer for ingestion sessions,
// chunks and chunk vectors.
//
// This package defines repository interfaces that decouple storage
// implementation from the pipeline, plus the Coordinator, the single write
// path the pipeline uses. Two backends implement the interfaces:
//
//   - storage/badger: embedded BadgerDB, the default for the CLI and tests
//   - storage/postgres: PostgreSQL via pgx, for shared deployments
//
// # Write Semantics
//
// Chunk writes are idempotent upserts keyed by chunk ID. A stored chunk's
// status fields only move forward (pending < processing < failed <
// completed), and its analysis payload is replaced only by a completed
// analysis. Session counters change only through UpdateSession, which
// serializes concurrent updates, so completedChunks is never lost to a
// read-modify-write race.
//
// # Usage
//
//	backend, err := badger.OpenBackend("/path/to/db", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	sessions, chunks, vectors := badger.NewRepositories(backend)
//	coord, err := storage.NewCoordinator(sessions, chunks, vectors)
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
