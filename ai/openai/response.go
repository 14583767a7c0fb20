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
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/autollama/autollama/ai"
	"github.com/autollama/autollama/core"
)

// unquotedKey matches a key whose opening quote the model dropped, as in
// `, type":`.
var unquotedKey = regexp.MustCompile(`([{,]\s*)([A-Za-z_][A-Za-z_ ]*?)":`)

// repairJSON fixes the common formatting slips of small local models.
func repairJSON(s string) string {
	return unquotedKey.ReplaceAllString(s, `$1"$2":`)
}

// extractJSON strips code fences and any text around the outermost object.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if start, end := strings.Index(s, "{"), strings.LastIndex(s, "}"); start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

// scrubText drops control characters that confuse tokenizers while keeping
// punctuation, which analysis needs.
func scrubText(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}

type concept struct {
	Concept    string `json:"concept"`
	Type       string `json:"type"`
	Importance int    `json:"importance"`
}

type analysis struct {
	Sentiment string    `json:"sentiment"`
	Emotions  []string  `json:"emotions"`
	Category  string    `json:"category"`
	Topics    []string  `json:"topics"`
	Concepts  []concept `json:"concepts"`
	Summary   string    `json:"summary"`
}

type documentSummary struct {
	Title   string   `json:"title"`
	Summary string   `json:"summary"`
	Topics  []string `json:"topics"`
}

func decode(raw string, v any) error {
	text := repairJSON(extractJSON(raw))
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return fmt.Errorf("malformed model response: %w", err)
	}
	return nil
}

// parseAnalysis converts a model response into an AnalysisResult, dropping
// concepts below minImportance and normalizing labels.
func parseAnalysis(raw string, minImportance int) (*core.AnalysisResult, error) {
	var a analysis
	if err := decode(raw, &a); err != nil {
		return nil, err
	}

	result := &core.AnalysisResult{
		Sentiment: normalizeLabel(a.Sentiment, ai.Sentiments, "neutral"),
		Emotions:  lowerAll(a.Emotions),
		Category:  normalizeLabel(a.Category, ai.Categories, "other"),
		Topics:    lowerAll(a.Topics),
		Summary:   strings.TrimSpace(a.Summary),
	}

	for _, c := range a.Concepts {
		name := strings.ToLower(strings.TrimSpace(c.Concept))
		if name == "" || c.Importance < minImportance {
			continue
		}
		result.Concepts = append(result.Concepts, core.Concept{
			Name:       name,
			Type:       strings.ReplaceAll(strings.TrimSpace(c.Type), " ", "_"),
			Importance: min(c.Importance, 10),
		})
	}

	// Most important first
	slices.SortStableFunc(result.Concepts, func(a, b core.Concept) int {
		return b.Importance - a.Importance
	})

	return result, nil
}

func parseDocumentSummary(raw string) (*core.DocumentContext, error) {
	var s documentSummary
	if err := decode(raw, &s); err != nil {
		return nil, err
	}
	return &core.DocumentContext{
		Title:   strings.TrimSpace(s.Title),
		Summary: strings.TrimSpace(s.Summary),
		Topics:  lowerAll(s.Topics),
	}, nil
}

func normalizeLabel(label string, allowed []string, fallback string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	if slices.Contains(allowed, label) {
		return label
	}
	return fallback
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
