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

// Package ingestion runs documents through the enrichment pipeline.
//
// Ingest acquires a source, extracts its text, splits it into chunks and
// enriches every chunk with an analysis and an embedding. Chunks are
// processed on a shared worker pool with at most BatchSize chunks in
// flight per run. Capability calls are rate limited and retried with
// exponential backoff on transient errors. A chunk whose retries are
// exhausted is stored as failed and never aborts its siblings.
//
// Resume re-drives only the chunks of a session that did not fully
// succeed. Cancel is cooperative: work already dispatched finishes, and
// nothing new is dispatched.
//
// Every run reports through a progress stream that ends with a complete
// or an error event.
package ingestion
