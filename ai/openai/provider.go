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
	"log/slog"
	"net/http"

	"github.com/autollama/autollama/ai"
)

// Provider implements ai.Provider using OpenAI-compatible services.
// It manages embedder and analyzer instances that share one HTTP client.
type Provider struct {
	config   *ai.Config
	client   *http.Client
	embedder *Embedder
	analyzer *Analyzer
	logger   *slog.Logger
}

// NewProvider creates a new AI provider with OpenAI-compatible services.
// The config is validated and normalized before use.
//
// Returns ai.Provider interface (not *Provider) to enforce abstraction
// and prevent coupling to OpenAI-specific implementation details.
func NewProvider(config *ai.Config) (ai.Provider, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client := &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}

	embedder, err := newEmbedder(config, client)
	if err != nil {
		return nil, err
	}

	analyzer, err := newAnalyzer(config, client)
	if err != nil {
		return nil, err
	}

	return &Provider{
		config:   config,
		client:   client,
		embedder: embedder,
		analyzer: analyzer,
		logger:   slog.Default().With("component", "openai-provider"),
	}, nil
}

// Embedder returns the text embedding service.
func (p *Provider) Embedder() ai.Embedder {
	return p.embedder
}

// Analyzer returns the chunk analysis service.
func (p *Provider) Analyzer() ai.Analyzer {
	return p.analyzer
}

// Close releases idle connections held by the shared HTTP client.
func (p *Provider) Close() error {
	p.logger.Debug("closing OpenAI provider")
	p.client.CloseIdleConnections()
	return nil
}
