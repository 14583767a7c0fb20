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

package mock

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/autollama/autollama/core"
)

// MockAnalyzer is a test double for ai.Analyzer.
type MockAnalyzer struct {
	// AnalyzeChunkFunc is called by AnalyzeChunk if set.
	AnalyzeChunkFunc func(ctx context.Context, text string, doc *core.DocumentContext) (*core.AnalysisResult, error)

	// SummarizeDocumentFunc is called by SummarizeDocument if set.
	SummarizeDocumentFunc func(ctx context.Context, title, sample string) (*core.DocumentContext, error)

	analyzeCount   atomic.Int64
	summarizeCount atomic.Int64
}

// NewMockAnalyzer creates a mock analyzer with default behavior.
func NewMockAnalyzer() *MockAnalyzer {
	return &MockAnalyzer{}
}

// WithAnalyzeChunkFunc replaces the default chunk analysis and returns the mock.
func (m *MockAnalyzer) WithAnalyzeChunkFunc(fn func(ctx context.Context, text string, doc *core.DocumentContext) (*core.AnalysisResult, error)) *MockAnalyzer {
	m.AnalyzeChunkFunc = fn
	return m
}

// WithSummarizeDocumentFunc replaces the default summary and returns the mock.
func (m *MockAnalyzer) WithSummarizeDocumentFunc(fn func(ctx context.Context, title, sample string) (*core.DocumentContext, error)) *MockAnalyzer {
	m.SummarizeDocumentFunc = fn
	return m
}

// AnalyzeChunk returns a neutral analysis whose topics and concepts are the
// first words of the text.
func (m *MockAnalyzer) AnalyzeChunk(ctx context.Context, text string, doc *core.DocumentContext) (*core.AnalysisResult, error) {
	m.analyzeCount.Add(1)

	if m.AnalyzeChunkFunc != nil {
		return m.AnalyzeChunkFunc(ctx, text, doc)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	words := keywords(text, 5)
	result := &core.AnalysisResult{
		Sentiment: "neutral",
		Emotions:  []string{},
		Category:  "other",
		Topics:    words,
		Summary:   firstWords(text, 12),
	}
	importance := 10
	for _, w := range words {
		result.Concepts = append(result.Concepts, core.Concept{Name: w, Type: "abstract_concept", Importance: importance})
		importance--
	}
	return result, nil
}

// SummarizeDocument returns a context built from the title and the sample's
// leading words.
func (m *MockAnalyzer) SummarizeDocument(ctx context.Context, title, sample string) (*core.DocumentContext, error) {
	m.summarizeCount.Add(1)

	if m.SummarizeDocumentFunc != nil {
		return m.SummarizeDocumentFunc(ctx, title, sample)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &core.DocumentContext{
		Title:   title,
		Summary: firstWords(sample, 20),
		Topics:  keywords(sample, 3),
	}, nil
}

// CallCount returns the number of AnalyzeChunk calls.
func (m *MockAnalyzer) CallCount() int {
	return int(m.analyzeCount.Load())
}

// SummarizeCount returns the number of SummarizeDocument calls.
func (m *MockAnalyzer) SummarizeCount() int {
	return int(m.summarizeCount.Load())
}

// Reset clears the call counts and custom functions.
func (m *MockAnalyzer) Reset() {
	m.analyzeCount.Store(0)
	m.summarizeCount.Store(0)
	m.AnalyzeChunkFunc = nil
	m.SummarizeDocumentFunc = nil
}

func keywords(text string, limit int) []string {
	out := make([]string, 0, limit)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()[]{}")
		if len(word) < 3 {
			continue
		}
		out = append(out, word)
		if len(out) == limit {
			break
		}
	}
	return out
}

func firstWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
