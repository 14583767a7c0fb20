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

package openai

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/autollama/autollama/ai"
	"github.com/autollama/autollama/core"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// parseAttempts bounds re-prompting when the model returns malformed JSON.
const parseAttempts = 3

// Analyzer implements ai.Analyzer using OpenAI-compatible chat APIs.
type Analyzer struct {
	client        llms.Model
	minImportance int
	timeout       func(context.Context) (context.Context, context.CancelFunc)
	logger        *slog.Logger
}

// newAnalyzer is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newAnalyzer(config *ai.Config, httpClient *http.Client) (*Analyzer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.AnalysisHost),
		openai.WithToken(config.APIKey),
		openai.WithModel(config.AnalysisModel),
		openai.WithHTTPClient(httpClient),
	)
	if err != nil {
		return nil, err
	}

	return &Analyzer{
		client:        client,
		minImportance: config.MinImportance,
		timeout:       callTimeout(config.RequestTimeout),
		logger:        slog.Default().With("component", "openai-analyzer"),
	}, nil
}

// NewAnalyzer creates a new chunk analyzer using the provided configuration.
//
// Returns ai.Analyzer interface to enforce abstraction.
func NewAnalyzer(config *ai.Config) (ai.Analyzer, error) {
	return newAnalyzer(config, http.DefaultClient)
}

// AnalyzeChunk asks the model for a structured analysis of one chunk.
func (a *Analyzer) AnalyzeChunk(ctx context.Context, text string, doc *core.DocumentContext) (*core.AnalysisResult, error) {
	input := buildAnalysisInput(scrubText(text), doc)

	var result *core.AnalysisResult
	err := a.generate(ctx, buildAnalysisPrompt(), input, func(raw string) error {
		var err error
		result, err = parseAnalysis(raw, a.minImportance)
		return err
	})
	if err != nil {
		return nil, err
	}

	a.logger.Debug("analyzed chunk",
		"length", len(text),
		"sentiment", result.Sentiment,
		"concepts", len(result.Concepts))
	return result, nil
}

// SummarizeDocument asks the model for a document-level title, summary and topics.
func (a *Analyzer) SummarizeDocument(ctx context.Context, title string, sample string) (*core.DocumentContext, error) {
	input := buildSummaryInput(title, scrubText(sample))

	var result *core.DocumentContext
	err := a.generate(ctx, buildSummaryPrompt(), input, func(raw string) error {
		var err error
		result, err = parseDocumentSummary(raw)
		return err
	})
	if err != nil {
		return nil, err
	}
	if result.Title == "" {
		result.Title = title
	}
	return result, nil
}

// generate sends a system and user prompt in JSON mode and hands the reply
// to parse, re-prompting when parse rejects it. Transport errors are
// returned immediately; the caller owns retry policy for those.
func (a *Analyzer) generate(ctx context.Context, system, user string, parse func(string) error) error {
	ctx, cancel := a.timeout(ctx)
	defer cancel()

	content := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(system)},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(user)},
		},
	}

	var lastErr error
	for attempt := 1; attempt <= parseAttempts; attempt++ {
		response, err := a.client.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithJSONMode())
		if err != nil {
			err = mapError(ctx, err)
			a.logger.Warn("failed to generate content", "attempt", attempt, "err", err)
			return err
		}

		if len(response.Choices) < 1 {
			lastErr = fmt.Errorf("model returned no choices: %w", ai.ErrTransient)
			continue
		}

		if err := parse(response.Choices[0].Content); err != nil {
			lastErr = err
			a.logger.Warn("error parsing model response", "attempt", attempt, "err", err)
			continue
		}
		return nil
	}

	return fmt.Errorf("%w: %w", lastErr, ai.ErrTransient)
}
