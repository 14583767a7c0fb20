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

package server

import (
	"sync"

	"github.com/autollama/autollama/progress"
	"github.com/gorilla/websocket"
)

// relay drains one run's events and fans them out to WebSocket clients.
// History is kept so late subscribers see the whole run.
type relay struct {
	mu      sync.Mutex
	history []progress.Event
	subs    map[*subscriber]struct{}
	done    bool
}

// subscriber receives a run's events. events is closed when the run ends
// or when the subscriber falls too far behind; dropped tells them apart.
type subscriber struct {
	events  chan progress.Event
	dropped bool
}

func newRelay() *relay {
	return &relay{subs: make(map[*subscriber]struct{})}
}

// drain copies events until the channel closes.
func (r *relay) drain(events <-chan progress.Event) {
	for ev := range events {
		r.publish(ev)
	}
	r.finish()
}

func (r *relay) publish(ev progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history = append(r.history, ev)
	for sub := range r.subs {
		select {
		case sub.events <- ev:
		default:
			// Slow client; it is dropped rather than stalling the run.
			sub.dropped = true
			delete(r.subs, sub)
			close(sub.events)
		}
	}
}

func (r *relay) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.done = true
	for sub := range r.subs {
		close(sub.events)
	}
	clear(r.subs)
}

// subscribe returns the events so far and a subscriber for the rest. The
// subscriber is nil when the run has already ended.
func (r *relay) subscribe(buffer int) ([]progress.Event, *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	past := append([]progress.Event(nil), r.history...)
	if r.done {
		return past, nil
	}
	sub := &subscriber{events: make(chan progress.Event, buffer)}
	r.subs[sub] = struct{}{}
	return past, sub
}

func (r *relay) unsubscribe(sub *subscriber) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.subs[sub]; ok {
		delete(r.subs, sub)
		close(sub.events)
	}
}

// closeCode returns the WebSocket close code and reason for a subscriber
// whose events channel was closed.
func (r *relay) closeCode(sub *subscriber) (int, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub.dropped {
		return websocket.CloseTryAgainLater, "client too slow, reconnect to replay"
	}
	return websocket.CloseNormalClosure, ""
}
