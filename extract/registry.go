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

package extract

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Document is extracted text with format metadata.
type Document struct {
	Text     string
	Metadata map[string]string
}

// Extractor converts raw bytes of the types it supports into text.
type Extractor interface {
	// SupportedTypes returns MIME types, optionally with a "type/*" wildcard.
	SupportedTypes() []string

	// Priority breaks ties between extractors matching the same type;
	// higher wins.
	Priority() int

	Extract(ctx context.Context, raw []byte) (*Document, error)
}

// Registry selects extractors by MIME type.
type Registry struct {
	mu         sync.RWMutex
	extractors []Extractor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// DefaultRegistry returns a registry with the plaintext, markdown and PDF
// extractors.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewPlaintext())
	r.Register(NewMarkdown())
	r.Register(NewPDF())
	return r
}

// Register adds an extractor.
func (r *Registry) Register(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors = append(r.extractors, e)
}

// Get returns the best extractor for mimeType, or nil.
func (r *Registry) Get(mimeType string) Extractor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matches []Extractor
	for _, e := range r.extractors {
		if matchesMIMEType(e.SupportedTypes(), mimeType) {
			matches = append(matches, e)
		}
	}
	if len(matches) == 0 {
		return nil
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Priority() > matches[j].Priority()
	})
	return matches[0]
}

// Extract converts raw to text. hint is a MIME type, a filename or empty.
func (r *Registry) Extract(ctx context.Context, raw []byte, hint string) (*Document, error) {
	if len(raw) == 0 {
		return nil, ErrEmptyDocument
	}
	mimeType := DetectType(raw, hint)
	e := r.Get(mimeType)
	if e == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mimeType)
	}
	doc, err := e.Extract(ctx, raw)
	if err != nil {
		return nil, err
	}
	if doc.Metadata == nil {
		doc.Metadata = make(map[string]string)
	}
	doc.Metadata["mime_type"] = mimeType
	return doc, nil
}

var extensionTypes = map[string]string{
	".txt":      "text/plain",
	".text":     "text/plain",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".pdf":      "application/pdf",
}

// DetectType resolves the MIME type of raw from hint, falling back to
// content sniffing when the hint is missing or generic.
func DetectType(raw []byte, hint string) string {
	hint = strings.TrimSpace(hint)
	if strings.Contains(hint, "/") && !strings.Contains(hint, "://") {
		if mt, _, err := mime.ParseMediaType(hint); err == nil && mt != "application/octet-stream" {
			return mt
		}
	} else if ext := strings.ToLower(filepath.Ext(hint)); ext != "" {
		if mt, ok := extensionTypes[ext]; ok {
			return mt
		}
		if mt, _, err := mime.ParseMediaType(mime.TypeByExtension(ext)); err == nil {
			return mt
		}
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(raw))
	return mt
}

// matchesMIMEType reports whether mimeType is one of supported, allowing
// "type/*" wildcards.
func matchesMIMEType(supported []string, mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if idx := strings.Index(mimeType, ";"); idx != -1 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	for _, s := range supported {
		s = strings.ToLower(s)
		if s == mimeType || s == "*/*" {
			return true
		}
		if strings.HasSuffix(s, "/*") && strings.HasPrefix(mimeType, s[:len(s)-1]) {
			return true
		}
	}
	return false
}
