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

package ai

import (
	"context"
	"errors"

	"github.com/tmc/langchaingo/llms"
)

var (
	// ErrTransient marks a failure that is expected to succeed on retry.
	ErrTransient = errors.New("transient ai error")

	// ErrPermanent marks a failure that will not succeed on retry.
	ErrPermanent = errors.New("permanent ai error")
)

// IsTransient reports whether err is worth retrying.
//
// Explicit ErrTransient/ErrPermanent marks win. Caller cancellation is never
// transient; deadline expiry is. Standardized langchaingo errors are
// classified by code. Anything unrecognized is treated as transient, so an
// unexpected provider failure costs a bounded number of retries rather than
// a chunk.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrPermanent) {
		return false
	}
	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var llmErr *llms.Error
	if errors.As(err, &llmErr) {
		switch llmErr.Code {
		case llms.ErrCodeRateLimit, llms.ErrCodeTimeout, llms.ErrCodeProviderUnavailable, llms.ErrCodeUnknown:
			return true
		default:
			return false
		}
	}

	return true
}
