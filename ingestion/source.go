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
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/autollama/autollama/extract"
)

// Source is a document to ingest: either a URL to fetch or uploaded bytes.
type Source struct {
	URL         string
	Filename    string
	Data        []byte
	ContentType string
	Metadata    map[string]string
}

// Descriptor identifies the source: its URL, or the uploaded filename.
func (s Source) Descriptor() string {
	if s.URL != "" {
		return s.URL
	}
	return s.Filename
}

// Validate checks that the source can be acquired.
func (s Source) Validate() error {
	switch {
	case s.URL == "" && len(s.Data) == 0:
		return ErrNoSource
	case s.URL == "" && s.Filename == "":
		return fmt.Errorf("%w: uploaded data requires a filename", ErrNoSource)
	}
	return nil
}

// TextExtractor converts raw document bytes into text. hint is a MIME type
// or a filename.
type TextExtractor interface {
	Extract(ctx context.Context, raw []byte, hint string) (*extract.Document, error)
}

// Fetcher downloads documents by URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*extract.Fetched, error)
}

// titleFor picks a document title: extracted metadata first, then the
// descriptor's base name.
func titleFor(doc *extract.Document, descriptor string) string {
	if t := doc.Metadata["title"]; t != "" {
		return t
	}
	base := path.Base(descriptor)
	if ext := path.Ext(base); ext != "" {
		base = strings.TrimSuffix(base, ext)
	}
	base = strings.NewReplacer("_", " ", "-", " ").Replace(base)
	return strings.TrimSpace(base)
}
