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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/autollama/autollama/ai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer emulates the two OpenAI-compatible endpoints the provider uses.
type fakeServer struct {
	chatReply     string
	chatStatus    int
	embedStatus   int
	embedMessage  string
	chatCalls     atomic.Int32
	embeddingCall atomic.Int32
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.HasSuffix(r.URL.Path, "/chat/completions"):
		f.chatCalls.Add(1)
		if f.chatStatus != 0 {
			w.WriteHeader(f.chatStatus)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": "service unavailable"}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "test",
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": f.chatReply},
			}},
		})
	case strings.HasSuffix(r.URL.Path, "/embeddings"):
		f.embeddingCall.Add(1)
		if f.embedStatus != 0 {
			w.WriteHeader(f.embedStatus)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"message": f.embedMessage}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "test",
			"data": []map[string]any{{
				"object":    "embedding",
				"index":     0,
				"embedding": []float32{0.1, 0.2, 0.3},
			}},
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestProvider(t *testing.T, f *fakeServer) ai.Provider {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	provider, err := NewProvider(ai.NewConfig(ai.WithHost(srv.URL)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = provider.Close() })
	return provider
}

func TestProviderEmbedText(t *testing.T) {
	f := &fakeServer{}
	provider := newTestProvider(t, f)

	vector, err := provider.Embedder().EmbedText(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vector)
	assert.Equal(t, int32(1), f.embeddingCall.Load())
}

func TestProviderEmbedTextAuthFailureIsPermanent(t *testing.T) {
	f := &fakeServer{embedStatus: http.StatusUnauthorized, embedMessage: "Incorrect API key provided"}
	provider := newTestProvider(t, f)

	_, err := provider.Embedder().EmbedText(context.Background(), "hello")
	require.Error(t, err)
	assert.False(t, ai.IsTransient(err))
}

func TestProviderAnalyzeChunk(t *testing.T) {
	f := &fakeServer{chatReply: `{"sentiment":"neutral","emotions":[],"category":"technical","topics":["go"],"concepts":[{"concept":"go","type":"software","importance":8}],"summary":"About Go."}`}
	provider := newTestProvider(t, f)

	result, err := provider.Analyzer().AnalyzeChunk(context.Background(), "Go is a language.", nil)
	require.NoError(t, err)
	assert.Equal(t, "technical", result.Category)
	require.Len(t, result.Concepts, 1)
	assert.Equal(t, "go", result.Concepts[0].Name)
}

func TestProviderAnalyzeChunkMalformedReplies(t *testing.T) {
	f := &fakeServer{chatReply: "I cannot answer in JSON"}
	provider := newTestProvider(t, f)

	_, err := provider.Analyzer().AnalyzeChunk(context.Background(), "text", nil)
	require.Error(t, err)
	assert.True(t, ai.IsTransient(err))
	assert.Equal(t, int32(parseAttempts), f.chatCalls.Load())
}

func TestProviderAnalyzeChunkUnavailableIsTransient(t *testing.T) {
	f := &fakeServer{chatStatus: http.StatusServiceUnavailable}
	provider := newTestProvider(t, f)

	_, err := provider.Analyzer().AnalyzeChunk(context.Background(), "text", nil)
	require.Error(t, err)
	assert.True(t, ai.IsTransient(err))
}

func TestProviderSummarizeDocument(t *testing.T) {
	f := &fakeServer{chatReply: `{"title":"","summary":"A manual.","topics":["install"]}`}
	provider := newTestProvider(t, f)

	dc, err := provider.Analyzer().SummarizeDocument(context.Background(), "manual.pdf", "Chapter 1")
	require.NoError(t, err)
	assert.Equal(t, "manual.pdf", dc.Title, "falls back to the source title")
	assert.Equal(t, "A manual.", dc.Summary)
}

func TestNewProviderInvalidConfig(t *testing.T) {
	_, err := NewProvider(&ai.Config{})
	assert.Error(t, err)
}
