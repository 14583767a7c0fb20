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

package ai

import (
	"context"

	"github.com/autollama/autollama/core"
)

type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// The returned vector represents the semantic meaning of the text.
	// Returns an error if the embedding generation fails.
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

type Analyzer interface {
	// AnalyzeChunk extracts sentiment, emotions, category, topics, concepts
	// and a short summary from one chunk of text. When doc is non-nil the
	// document context is supplied to the model as background.
	AnalyzeChunk(ctx context.Context, text string, doc *core.DocumentContext) (*core.AnalysisResult, error)

	// SummarizeDocument derives a title, summary and topic list for a
	// document from a leading sample of its text.
	SummarizeDocument(ctx context.Context, title string, sample string) (*core.DocumentContext, error)
}

type Provider interface {
	// Embedder returns the text embedding service.
	// The returned Embedder is safe for concurrent use.
	Embedder() Embedder

	// Analyzer returns the chunk analysis service.
	// The returned Analyzer is safe for concurrent use.
	Analyzer() Analyzer

	// Close releases resources held by the provider and its services.
	Close() error
}
