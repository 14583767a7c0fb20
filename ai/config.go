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
	"errors"
	"strings"
	"time"
)

type Config struct {
	// EmbeddingHost is the base URL for the embedding service API.
	// Example: "http://localhost:11434/v1" for local OpenAI-compatible server
	EmbeddingHost string

	// AnalysisHost is the base URL for the chunk analysis service API.
	AnalysisHost string

	// EmbeddingModel is the model identifier to use for text embeddings.
	// Example: "embeddinggemma", "text-embedding-3-small"
	EmbeddingModel string

	// AnalysisModel is the model identifier to use for chunk analysis.
	// Example: "qwen2.5:3b", "gpt-4o-mini"
	AnalysisModel string

	// APIKey is sent as the bearer token. Local OpenAI-compatible servers
	// accept any value.
	APIKey string

	// MinImportance is the minimum importance score (1-10) for extracted concepts.
	// Default: 6
	MinImportance int

	// RequestTimeout bounds a single capability call. Zero disables the limit.
	RequestTimeout time.Duration
}

type ConfigOption func(*Config)

func WithEmbeddingHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
	}
}

func WithAnalysisHost(host string) ConfigOption {
	return func(c *Config) {
		c.AnalysisHost = host
	}
}

func WithHost(host string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingHost = host
		c.AnalysisHost = host
	}
}

func WithEmbeddingModel(model string) ConfigOption {
	return func(c *Config) {
		c.EmbeddingModel = model
	}
}

func WithAnalysisModel(model string) ConfigOption {
	return func(c *Config) {
		c.AnalysisModel = model
	}
}

func WithAPIKey(key string) ConfigOption {
	return func(c *Config) {
		c.APIKey = key
	}
}

func WithMinImportance(min int) ConfigOption {
	return func(c *Config) {
		c.MinImportance = min
	}
}

func WithRequestTimeout(d time.Duration) ConfigOption {
	return func(c *Config) {
		c.RequestTimeout = d
	}
}

func DefaultConfig() *Config {
	defaultHost := "http://localhost:11434/v1"
	return &Config{
		EmbeddingHost:  defaultHost,
		AnalysisHost:   defaultHost,
		EmbeddingModel: "embeddinggemma",
		AnalysisModel:  "qwen2.5:3b",
		APIKey:         "none",
		MinImportance:  6,
		RequestTimeout: 2 * time.Minute,
	}
}

func NewConfig(opts ...ConfigOption) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func (c *Config) Normalize() {
	c.EmbeddingHost = normalizeHost(c.EmbeddingHost)
	c.AnalysisHost = normalizeHost(c.AnalysisHost)
	if c.APIKey == "" {
		c.APIKey = "none"
	}
}

// normalizeHost ensures an OpenAI-compatible base URL ends with /v1.
func normalizeHost(host string) string {
	if host == "" || strings.HasSuffix(host, "/v1") {
		return host
	}
	return strings.TrimSuffix(host, "/") + "/v1"
}

func (c *Config) Validate() error {
	c.Normalize()

	if c.EmbeddingHost == "" {
		return errors.New("ai config: EmbeddingHost is required")
	}
	if c.AnalysisHost == "" {
		return errors.New("ai config: AnalysisHost is required")
	}
	if c.EmbeddingModel == "" {
		return errors.New("ai config: EmbeddingModel is required")
	}
	if c.AnalysisModel == "" {
		return errors.New("ai config: AnalysisModel is required")
	}
	if c.MinImportance < 1 || c.MinImportance > 10 {
		return errors.New("ai config: MinImportance must be between 1 and 10")
	}
	if c.RequestTimeout < 0 {
		return errors.New("ai config: RequestTimeout cannot be negative")
	}
	return nil
}
