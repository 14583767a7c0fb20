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
	"testing"

	"github.com/autollama/autollama/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"valid json untouched", `{"a": 1, "b": "x"}`, `{"a": 1, "b": "x"}`},
		{"missing opening quote", `{"concept":"dog", type":"animal"}`, `{"concept":"dog", "type":"animal"}`},
		{"missing quote after brace", `{sentiment":"positive"}`, `{"sentiment":"positive"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, repairJSON(tt.in))
		})
	}
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, extractJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, extractJSON("Sure! Here you go: {\"a\":1} Hope it helps."))
}

func TestParseAnalysis(t *testing.T) {
	raw := "```json\n" + `{
  "sentiment": "Positive",
  "emotions": ["Joy", " "],
  "category": "narrative",
  "topics": ["Paris"],
  "concepts": [
    {"concept":"paris","type":"place","importance":7},
    {"concept":"eiffel tower","type":"man made object","importance":9},
    {"concept":"crowd","type":"abstract_concept","importance":3}
  ],
  "summary": " A tower. "
}` + "\n```"

	result, err := parseAnalysis(raw, 6)
	require.NoError(t, err)

	assert.Equal(t, "positive", result.Sentiment)
	assert.Equal(t, []string{"joy"}, result.Emotions)
	assert.Equal(t, "narrative", result.Category)
	assert.Equal(t, []string{"paris"}, result.Topics)
	assert.Equal(t, "A tower.", result.Summary)
	assert.Equal(t, []core.Concept{
		{Name: "eiffel tower", Type: "man_made_object", Importance: 9},
		{Name: "paris", Type: "place", Importance: 7},
	}, result.Concepts)
}

func TestParseAnalysisUnknownLabels(t *testing.T) {
	result, err := parseAnalysis(`{"sentiment":"ecstatic","category":"poetry","emotions":[],"topics":[],"concepts":[],"summary":""}`, 6)
	require.NoError(t, err)
	assert.Equal(t, "neutral", result.Sentiment)
	assert.Equal(t, "other", result.Category)
}

func TestParseAnalysisMalformed(t *testing.T) {
	_, err := parseAnalysis("not json at all", 6)
	assert.Error(t, err)
}

func TestParseDocumentSummary(t *testing.T) {
	dc, err := parseDocumentSummary(`{"title":"Guide","summary":"How to.","topics":["Setup","Usage"]}`)
	require.NoError(t, err)
	assert.Equal(t, "Guide", dc.Title)
	assert.Equal(t, []string{"setup", "usage"}, dc.Topics)
}

func TestBuildAnalysisInput(t *testing.T) {
	assert.Equal(t, "passage", buildAnalysisInput("passage", nil))

	in := buildAnalysisInput("passage", &core.DocumentContext{Title: "T", Summary: "S", Topics: []string{"a", "b"}})
	assert.Contains(t, in, "Title: T")
	assert.Contains(t, in, "Topics: a, b")
	assert.Contains(t, in, "Passage\npassage")
}
