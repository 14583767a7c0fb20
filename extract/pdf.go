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
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDF extracts the text layer of PDF documents.
type PDF struct{}

// NewPDF creates a PDF extractor.
func NewPDF() *PDF {
	return &PDF{}
}

func (p *PDF) SupportedTypes() []string {
	return []string{"application/pdf"}
}

func (p *PDF) Priority() int {
	return 50
}

// Extract reads the plain text of every page. Scanned PDFs without a text
// layer yield empty text, not an error.
func (p *PDF) Extract(_ context.Context, raw []byte) (doc *Document, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			doc, err = nil, fmt.Errorf("%w: malformed pdf: %v", ErrUnsupportedFormat, r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedFormat, err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return nil, fmt.Errorf("read pdf text: %w", err)
	}
	text, err := io.ReadAll(plain)
	if err != nil {
		return nil, fmt.Errorf("read pdf text: %w", err)
	}
	return &Document{
		Text: strings.TrimSpace(string(text)),
		Metadata: map[string]string{
			"format": "pdf",
			"pages":  strconv.Itoa(r.NumPage()),
		},
	}, nil
}
