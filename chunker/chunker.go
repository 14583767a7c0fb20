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

package chunker

import (
	"errors"
	"fmt"
)

const (
	// DefaultSize is the default number of characters per chunk.
	DefaultSize = 1000

	// DefaultOverlap is the default number of characters shared by adjacent chunks.
	DefaultOverlap = 100
)

// ErrInvalidOptions indicates chunking parameters that cannot produce windows.
var ErrInvalidOptions = errors.New("invalid chunking options")

// Options controls window size and overlap.
type Options struct {
	Size    int
	Overlap int
}

// DefaultOptions returns the default chunking parameters.
func DefaultOptions() Options {
	return Options{Size: DefaultSize, Overlap: DefaultOverlap}
}

// Validate checks that Size is positive and Overlap is in [0, Size).
func (o Options) Validate() error {
	if o.Size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %d", ErrInvalidOptions, o.Size)
	}
	if o.Overlap < 0 {
		return fmt.Errorf("%w: overlap cannot be negative, got %d", ErrInvalidOptions, o.Overlap)
	}
	if o.Overlap >= o.Size {
		return fmt.Errorf("%w: overlap %d must be less than size %d", ErrInvalidOptions, o.Overlap, o.Size)
	}
	return nil
}

// Window is one chunk of text. Start and End are rune offsets into the
// source text, End exclusive.
type Window struct {
	Index int
	Start int
	End   int
	Text  string
}

// Split cuts text into windows of at most opts.Size runes, each starting
// opts.Size-opts.Overlap runes after the previous one. The final window ends
// at the end of the text. Empty text yields no windows.
func Split(text string, opts Options) ([]Window, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}

	runes := []rune(text)
	n := len(runes)
	step := opts.Size - opts.Overlap

	windows := make([]Window, 0, n/step+1)
	for start := 0; ; start += step {
		end := min(start+opts.Size, n)
		windows = append(windows, Window{
			Index: len(windows),
			Start: start,
			End:   end,
			Text:  string(runes[start:end]),
		})
		if end == n {
			break
		}
	}
	return windows, nil
}

// Texts returns the text of each window in order.
func Texts(windows []Window) []string {
	out := make([]string, len(windows))
	for i, w := range windows {
		out[i] = w.Text
	}
	return out
}
