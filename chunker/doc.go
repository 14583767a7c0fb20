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

// Package chunker splits extracted document text into ordered, overlapping
// windows.
//
// Sizes are measured in runes, so multi-byte text is never split inside a
// character. Splitting is deterministic: the same text and options always
// produce the same windows, which lets a re-run address the chunk records
// written by an earlier one.
package chunker
