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

// Package progress carries the step-level progress protocol of an
// ingestion run.
//
// A Broadcaster hands out one Stream per session. Events emitted on a
// stream are delivered in order to the stream's single consumer and to
// any registered Sinks, such as the Redis relay or the terminal Tracker.
// Events are ephemeral: once a stream closes nothing is replayed, and a
// late subscriber has to read the persisted session instead.
package progress
