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

package ingestion

import (
	"fmt"
	"time"

	"github.com/autollama/autollama/chunker"
)

// Config holds the tunables of the pipeline.
type Config struct {
	// ChunkSize is the number of characters per chunk
	ChunkSize int

	// ChunkOverlap is the number of characters shared by adjacent chunks
	ChunkOverlap int

	// BatchSize is the maximum number of chunks enriched concurrently per run
	BatchSize int

	// MaxRetries is the maximum number of attempts for one capability call
	MaxRetries int

	// RetryBaseDelay is the base delay for exponential backoff
	RetryBaseDelay time.Duration

	// ContextualEmbeddings prefixes chunk text with the document context
	// before embedding
	ContextualEmbeddings bool

	// ContextSampleSize is the number of leading characters summarized into
	// the document context
	ContextSampleSize int

	// StaleAfter is the idle time after which an active session is listed
	// as resumable
	StaleAfter time.Duration

	// RateLimit caps capability calls per second; 0 disables the limit
	RateLimit float64

	// RateBurst is the token bucket size when RateLimit is set
	RateBurst int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ChunkSize:            chunker.DefaultSize,
		ChunkOverlap:         chunker.DefaultOverlap,
		BatchSize:            5,
		MaxRetries:           3,
		RetryBaseDelay:       1 * time.Second,
		ContextualEmbeddings: true,
		ContextSampleSize:    4000,
		StaleAfter:           30 * time.Minute,
		RateBurst:            1,
	}
}

// ChunkOptions returns the chunker settings.
func (c *Config) ChunkOptions() chunker.Options {
	return chunker.Options{Size: c.ChunkSize, Overlap: c.ChunkOverlap}
}

// Validate checks the configuration before any work starts.
func (c *Config) Validate() error {
	if err := c.ChunkOptions().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	switch {
	case c.BatchSize < 1:
		return fmt.Errorf("%w: batch size must be at least 1", ErrInvalidConfig)
	case c.MaxRetries < 1:
		return fmt.Errorf("%w: max retries must be at least 1", ErrInvalidConfig)
	case c.RetryBaseDelay < 0:
		return fmt.Errorf("%w: retry delay cannot be negative", ErrInvalidConfig)
	case c.ContextSampleSize < 0:
		return fmt.Errorf("%w: context sample size cannot be negative", ErrInvalidConfig)
	case c.StaleAfter < 0:
		return fmt.Errorf("%w: stale threshold cannot be negative", ErrInvalidConfig)
	case c.RateLimit < 0:
		return fmt.Errorf("%w: rate limit cannot be negative", ErrInvalidConfig)
	case c.RateLimit > 0 && c.RateBurst < 1:
		return fmt.Errorf("%w: rate burst must be at least 1", ErrInvalidConfig)
	}
	return nil
}
