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

// Package ai provides abstractions for the AI services used by Autollama.
//
// This package defines interfaces for the two enrichment capabilities applied
// to every chunk: vector embeddings and structured analysis. The ingestion
// pipeline depends only on these interfaces, never on a concrete client.
//
// # Interfaces
//
//   - Embedder: Generates vector embeddings from text
//   - Analyzer: Produces sentiment, topics, concepts and a summary for a chunk,
//     and a document-level context used for contextual embeddings
//   - Provider: Aggregates AI services for convenient initialization
//
// # Implementation Packages
//
//   - ai/openai: Production implementation using OpenAI-compatible APIs
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// # Error Classification
//
// Capability errors are either transient (timeouts, rate limits, unavailable
// providers) or permanent (bad credentials, malformed requests). IsTransient
// makes that decision; the ingestion pipeline retries only transient errors.
// Implementations may wrap errors with ErrTransient or ErrPermanent to force
// a classification.
//
// # Usage Example
//
//	config := ai.DefaultConfig()
//	provider, err := openai.NewProvider(config)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vector, err := provider.Embedder().EmbedText(ctx, "Hello world")
//	analysis, err := provider.Analyzer().AnalyzeChunk(ctx, "The Eiffel Tower is in Paris", nil)
package ai
