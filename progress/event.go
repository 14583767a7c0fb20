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
	"fmt"
	"time"
)

// Step identifies the pipeline stage an event reports on.
type Step string

const (
	StepStart    Step = "start"
	StepSession  Step = "session"
	StepUpload   Step = "upload"
	StepFetch    Step = "fetch"
	StepParse    Step = "parse"
	StepChunk    Step = "chunk"
	StepContext  Step = "context"
	StepAnalyze  Step = "analyze"
	StepEmbed    Step = "embed"
	StepStore    Step = "store"
	StepWarning  Step = "warning"
	StepSummary  Step = "summary"
	StepComplete Step = "complete"
	StepError    Step = "error"
)

// Terminal reports whether step ends a stream.
func (s Step) Terminal() bool {
	return s == StepComplete || s == StepError
}

// Progress is a position within a run.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Event is one progress notification.
type Event struct {
	SessionID string    `json:"sessionId"`
	Step      Step      `json:"step"`
	Message   string    `json:"message"`
	Progress  *Progress `json:"progress,omitempty"`
	Resumable *bool     `json:"resumable,omitempty"` // error events only
	Time      time.Time `json:"time"`
}

// NewEvent builds an event without a position.
func NewEvent(step Step, format string, args ...any) Event {
	return Event{Step: step, Message: fmt.Sprintf(format, args...)}
}

// WithProgress returns e positioned at current of total.
func (e Event) WithProgress(current, total int) Event {
	e.Progress = &Progress{Current: current, Total: total}
	return e
}

// ErrorEvent builds an error event.
func ErrorEvent(message string, resumable bool) Event {
	return Event{Step: StepError, Message: message, Resumable: &resumable}
}

func (e Event) String() string {
	if e.Progress != nil {
		return fmt.Sprintf("[%s] %s (%d/%d)", e.Step, e.Message, e.Progress.Current, e.Progress.Total)
	}
	return fmt.Sprintf("[%s] %s", e.Step, e.Message)
}
