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
	"regexp"
	"strings"
	"unicode/utf8"
)

// Plaintext handles text/* documents.
type Plaintext struct{}

// NewPlaintext creates a plaintext extractor.
func NewPlaintext() *Plaintext {
	return &Plaintext{}
}

func (p *Plaintext) SupportedTypes() []string {
	return []string{"text/plain", "text/*"}
}

func (p *Plaintext) Priority() int {
	return 10
}

// Extract validates the encoding and normalizes line endings.
func (p *Plaintext) Extract(_ context.Context, raw []byte) (*Document, error) {
	text, err := decodeText(raw)
	if err != nil {
		return nil, err
	}
	return &Document{
		Text:     text,
		Metadata: map[string]string{"format": "plaintext"},
	}, nil
}

// Markdown handles markdown documents, reducing them to plain text.
type Markdown struct{}

// NewMarkdown creates a markdown extractor.
func NewMarkdown() *Markdown {
	return &Markdown{}
}

func (m *Markdown) SupportedTypes() []string {
	return []string{"text/markdown", "text/x-markdown"}
}

func (m *Markdown) Priority() int {
	return 50
}

// Extract strips markdown syntax and records the first heading as the title.
func (m *Markdown) Extract(_ context.Context, raw []byte) (*Document, error) {
	text, err := decodeText(raw)
	if err != nil {
		return nil, err
	}
	meta := map[string]string{"format": "markdown"}
	if title := markdownTitle(text); title != "" {
		meta["title"] = title
	}
	return &Document{Text: stripMarkdown(text), Metadata: meta}, nil
}

func decodeText(raw []byte) (string, error) {
	if !utf8.Valid(raw) {
		return "", fmt.Errorf("%w: text is not valid UTF-8", ErrUnsupportedFormat)
	}
	text := strings.TrimPrefix(string(raw), "\ufeff")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return text, nil
}

func markdownTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "#"))
		}
	}
	return ""
}

var (
	mdCodeFence  = regexp.MustCompile("(?m)^```.*$")
	mdImage      = regexp.MustCompile(`!\[[^\]]*\]\([^)]+\)`)
	mdLink       = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	mdHeading    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdBlockquote = regexp.MustCompile(`(?m)^>\s?`)
	mdRule       = regexp.MustCompile(`(?m)^[-*_]{3,}\s*$`)
	mdList       = regexp.MustCompile(`(?m)^(\s*)[-*+]\s+`)
	mdEmphasis   = regexp.MustCompile(`(\*\*|__|\*|\b_)([^*_\n]+)(\*\*|__|\*|_\b)`)
	mdBlankRuns  = regexp.MustCompile(`\n{3,}`)
)

// stripMarkdown removes common markdown formatting. Code block contents
// are kept since they are part of the document's text.
func stripMarkdown(content string) string {
	content = mdCodeFence.ReplaceAllString(content, "")
	content = mdImage.ReplaceAllString(content, "")
	content = mdLink.ReplaceAllString(content, "$1")
	content = mdHeading.ReplaceAllString(content, "")
	content = mdBlockquote.ReplaceAllString(content, "")
	content = mdRule.ReplaceAllString(content, "")
	content = mdList.ReplaceAllString(content, "$1")
	content = mdEmphasis.ReplaceAllString(content, "$2")
	content = strings.ReplaceAll(content, "`", "")
	content = mdBlankRuns.ReplaceAllString(content, "\n\n")
	return strings.TrimSpace(content)
}
