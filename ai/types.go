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

// Sentiments lists the sentiment labels the analyzer may assign.
var Sentiments = []string{"positive", "negative", "neutral", "mixed"}

// Categories lists the content categories the analyzer may assign.
var Categories = []string{
	"technical",
	"narrative",
	"academic",
	"legal",
	"business",
	"news",
	"reference",
	"conversational",
	"other",
}

// ConceptTypes defines the valid categories for extracted concepts.
// These types are used by concept extractors to classify semantic entities.
var ConceptTypes = []string{
	"abstract_concept",
	"activity",
	"animal",
	"art",
	"building",
	"color",
	"drink",
	"emotion",
	"event",
	"food",
	"insect",
	"man_made_object",
	"meal",
	"measurement",
	"natural_object",
	"occupation",
	"organization",
	"person",
	"place",
	"plant",
	"software",
	"technology",
	"time",
	"tool",
	"vehicle",
}
