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
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// ChannelPrefix is the prefix of the Redis channels events are relayed on.
const ChannelPrefix = "autollama:progress:"

// Channel returns the Redis channel of a session.
func Channel(sessionID string) string {
	return ChannelPrefix + sessionID
}

// RedisSink relays events over Redis pub/sub so processes other than the
// one running the pipeline can follow a session.
type RedisSink struct {
	client redis.UniversalClient
}

// NewRedisSink creates a sink publishing through client.
func NewRedisSink(client redis.UniversalClient) *RedisSink {
	return &RedisSink{client: client}
}

// Publish sends ev on the session's channel.
func (r *RedisSink) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return r.client.Publish(ctx, Channel(ev.SessionID), data).Err()
}

// Subscription is a live feed of relayed events.
type Subscription struct {
	pubsub *redis.PubSub
	events chan Event
}

// Subscribe follows the events of sessionID, or of every session when
// sessionID is empty. The subscription is confirmed before Subscribe
// returns, so no event published afterwards is missed.
func Subscribe(ctx context.Context, client redis.UniversalClient, sessionID string) (*Subscription, error) {
	var pubsub *redis.PubSub
	if sessionID == "" {
		pubsub = client.PSubscribe(ctx, ChannelPrefix+"*")
	} else {
		pubsub = client.Subscribe(ctx, Channel(sessionID))
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	sub := &Subscription{pubsub: pubsub, events: make(chan Event)}
	go sub.run(ctx)
	return sub, nil
}

// Events returns the decoded events. The channel closes when the
// subscription is closed or ctx ends.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close ends the subscription.
func (s *Subscription) Close() error {
	return s.pubsub.Close()
}

func (s *Subscription) run(ctx context.Context) {
	defer close(s.events)
	messages := s.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				slog.Warn("discarding malformed progress message", "channel", msg.Channel, "error", err)
				continue
			}
			select {
			case s.events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}
}
