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

package progress

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Tracker renders events as a single updating progress line, for
// terminals. It implements Sink.
type Tracker struct {
	writer    io.Writer
	mu        sync.Mutex
	startTime time.Time
	started   bool
	current   int
	total     int
	inLine    bool
}

// NewTracker creates a tracker writing to writer (typically os.Stderr).
func NewTracker(writer io.Writer) *Tracker {
	return &Tracker{writer: writer}
}

// Publish renders ev.
func (t *Tracker) Publish(_ context.Context, ev Event) error {
	t.Observe(ev)
	return nil
}

// Observe renders ev. Positioned events update the progress line; other
// events are printed on their own line.
func (t *Tracker) Observe(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.started {
		t.startTime = time.Now()
		t.started = true
	}

	if ev.Progress != nil && !ev.Step.Terminal() && ev.Step != StepWarning {
		t.current = min(ev.Progress.Current, ev.Progress.Total)
		t.total = ev.Progress.Total
		t.report(ev.Step)
		return
	}

	t.endLine()
	fmt.Fprintf(t.writer, "%s: %s\n", ev.Step, ev.Message)
}

// Elapsed returns the time since the first event.
func (t *Tracker) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.started {
		return 0
	}
	return time.Since(t.startTime)
}

// report prints the current position. Must be called with lock held.
func (t *Tracker) report(step Step) {
	elapsed := time.Since(t.startTime)
	rate := 0.0
	if elapsed > 0 {
		rate = float64(t.current) / elapsed.Seconds()
	}

	percentage := 0.0
	if t.total > 0 {
		percentage = float64(t.current) / float64(t.total) * 100.0
	}

	fmt.Fprintf(t.writer, "\r%s: %d/%d (%.1f%%) - %.1f chunks/s",
		step, t.current, t.total, percentage, rate)
	t.inLine = true
}

func (t *Tracker) endLine() {
	if t.inLine {
		fmt.Fprintln(t.writer)
		t.inLine = false
	}
}
