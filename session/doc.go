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

// Package session implements the lifecycle of an ingestion run.
//
// A session moves pending -> processing once its source is chunked and
// reaches exactly one terminal status (completed, failed or cancelled). A
// resume re-enters a session through retrying back into processing. The
// Manager is the only writer of session status; other components request
// counter increments through Advance.
//
// Outcome is partial-success tolerant: a run in which at least one chunk
// succeeded completes, and the failed chunks stay visible for a later
// resume.
package session
