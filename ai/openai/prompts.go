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
	"fmt"
	"strings"

	"github.com/autollama/autollama/ai"
	"github.com/autollama/autollama/core"
)

const analysisResponseSchema = `{
  "type": "object",
  "properties": {
    "sentiment": {"type": "string"},
    "emotions": {"type": "array", "items": {"type": "string"}},
    "category": {"type": "string"},
    "topics": {"type": "array", "items": {"type": "string"}},
    "concepts": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "concept": {"type": "string", "pattern": "^[a-z]+( [a-z]+)*$"},
          "type": {"type": "string"},
          "importance": {"type": "integer", "minimum": 1, "maximum": 10}
        },
        "required": ["concept", "type", "importance"],
        "additionalProperties": false
      }
    },
    "summary": {"type": "string"}
  },
  "required": ["sentiment", "emotions", "category", "topics", "concepts", "summary"],
  "additionalProperties": false
}`

const analysisPromptTemplate = `Analyze the given passage from a larger document and return the result as JSON.

Output ONLY valid JSON which complies with the schema given below. Do not include any preamble, explanation,
greeting, or acknowledgment. Start your response directly with the opening brace { and end with the closing
brace }. Your output must exactly follow this schema:

%s

Rules:
- sentiment must be exactly one of: %s.
- emotions lists at most 3 lowercase emotion words conveyed by the passage, or [] if none.
- category must be exactly one of: %s.
- topics lists 1-5 short lowercase topic phrases.
- Concept names must be lowercase, 1-3 words, singular form only.
- Concept type must match exactly one of the listed values: %s.
- Importance is an integer from 1 (least relevant) to 10 (most central).
- Include only concepts that are explicitly mentioned or clearly implied by the passage. Do not hallucinate.
- summary is one or two sentences describing the passage itself.
- The JSON must parse without errors; no trailing commas, no extra keys, and no extraneous text outside the object.

Example:
Input: "The Eiffel Tower, completed in 1889, drew crowds of delighted visitors to Paris."
Output:
{
  "sentiment": "positive",
  "emotions": ["delight"],
  "category": "narrative",
  "topics": ["eiffel tower", "paris history"],
  "concepts": [
    {"concept":"eiffel tower","type":"building","importance":9},
    {"concept":"paris","type":"place","importance":7}
  ],
  "summary": "Describes the completion of the Eiffel Tower and its popularity with visitors."
}`

const summaryResponseSchema = `{
  "type": "object",
  "properties": {
    "title": {"type": "string"},
    "summary": {"type": "string"},
    "topics": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["title", "summary", "topics"],
  "additionalProperties": false
}`

const summaryPromptTemplate = `You are given the opening of a document. Describe the whole document as JSON.

Output ONLY valid JSON which complies with this schema:

%s

Rules:
- title is the document's title, or a short descriptive title if none is apparent.
- summary is at most three sentences describing what the document covers.
- topics lists 3-8 short lowercase topic phrases.
- No text outside the JSON object.`

// buildAnalysisPrompt creates the system prompt with label vocabularies embedded.
func buildAnalysisPrompt() string {
	return fmt.Sprintf(analysisPromptTemplate,
		analysisResponseSchema,
		strings.Join(ai.Sentiments, ", "),
		strings.Join(ai.Categories, ", "),
		strings.Join(ai.ConceptTypes, ", "))
}

func buildSummaryPrompt() string {
	return fmt.Sprintf(summaryPromptTemplate, summaryResponseSchema)
}

// buildAnalysisInput prefixes the passage with document context when present.
func buildAnalysisInput(text string, doc *core.DocumentContext) string {
	if doc == nil {
		return text
	}
	var b strings.Builder
	b.WriteString("Document context\n")
	if doc.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", doc.Title)
	}
	if doc.Summary != "" {
		fmt.Fprintf(&b, "Summary: %s\n", doc.Summary)
	}
	if len(doc.Topics) > 0 {
		fmt.Fprintf(&b, "Topics: %s\n", strings.Join(doc.Topics, ", "))
	}
	b.WriteString("\nPassage\n")
	b.WriteString(text)
	return b.String()
}

func buildSummaryInput(title, sample string) string {
	if title == "" {
		return sample
	}
	return "Source: " + title + "\n\n" + sample
}
