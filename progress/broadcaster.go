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
	"log/slog"
	"sync"
	"time"
)

// Sink receives a copy of every event. Publish is called from the stream's
// delivery goroutine, one event at a time and in order.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Broadcaster registers at most one open stream per session.
type Broadcaster struct {
	mu      sync.Mutex
	streams map[string]*Stream
	sinks   []Sink
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithSink adds a sink that receives every event of every stream.
func WithSink(sink Sink) Option {
	return func(b *Broadcaster) {
		b.sinks = append(b.sinks, sink)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broadcaster) {
		b.logger = logger
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(b *Broadcaster) {
		b.now = now
	}
}

// NewBroadcaster creates a Broadcaster.
func NewBroadcaster(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		streams: make(map[string]*Stream),
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "progress")
	return b
}

// Open starts the stream of a session.
func (b *Broadcaster) Open(sessionID string) (*Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.streams[sessionID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamActive, sessionID)
	}
	s := &Stream{
		sessionID: sessionID,
		owner:     b,
		out:       make(chan Event),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	b.streams[sessionID] = s
	go s.pump()
	return s, nil
}

// Active reports whether a session has an open stream.
func (b *Broadcaster) Active(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.streams[sessionID]
	return ok
}

func (b *Broadcaster) release(s *Stream) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.streams[s.sessionID] == s {
		delete(b.streams, s.sessionID)
	}
}

// Stream is the ordered event stream of one session. Emit never blocks:
// events queue until the consumer reads them from Events, which the
// consumer must drain until it is closed.
type Stream struct {
	sessionID string
	owner     *Broadcaster

	mu     sync.Mutex
	queue  []Event
	closed bool

	out  chan Event
	wake chan struct{}
	done chan struct{}
}

// SessionID returns the session the stream reports on.
func (s *Stream) SessionID() string {
	return s.sessionID
}

// Events returns the channel of delivered events. It is closed after Close
// once every queued event has been delivered.
func (s *Stream) Events() <-chan Event {
	return s.out
}

// Done is closed when the last event has been delivered.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Emit queues an event, stamping it with the session and time.
func (s *Stream) Emit(ev Event) error {
	ev.SessionID = s.sessionID
	if ev.Time.IsZero() {
		ev.Time = s.owner.now().UTC()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrStreamClosed
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	s.signal()
	return nil
}

// Close ends the stream. Queued events are still delivered. Close is
// idempotent and does not wait for delivery; use Done for that.
func (s *Stream) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.owner.release(s)
	s.signal()
}

func (s *Stream) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pump delivers queued events to the sinks and the consumer in order.
func (s *Stream) pump() {
	defer close(s.done)
	defer close(s.out)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		closed := s.closed
		s.mu.Unlock()

		for _, ev := range batch {
			for _, sink := range s.owner.sinks {
				if err := sink.Publish(context.Background(), ev); err != nil {
					s.owner.logger.Warn("sink publish failed", "session", s.sessionID, "step", ev.Step, "error", err)
				}
			}
			s.out <- ev
		}

		if len(batch) == 0 {
			if closed {
				return
			}
			<-s.wake
		}
	}
}
