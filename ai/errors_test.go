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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tmc/langchaingo/llms"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"marked transient", fmt.Errorf("upstream: %w", ErrTransient), true},
		{"marked permanent", fmt.Errorf("bad input: %w", ErrPermanent), false},
		{"permanent wins over transient", errors.Join(ErrTransient, ErrPermanent), false},
		{"cancelled", context.Canceled, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true},
		{"rate limit", llms.NewError(llms.ErrCodeRateLimit, "openai", "slow down"), true},
		{"timeout code", llms.NewError(llms.ErrCodeTimeout, "openai", "timeout"), true},
		{"unavailable", llms.NewError(llms.ErrCodeProviderUnavailable, "openai", "503"), true},
		{"authentication", llms.NewError(llms.ErrCodeAuthentication, "openai", "bad key"), false},
		{"invalid request", llms.NewError(llms.ErrCodeInvalidRequest, "openai", "bad"), false},
		{"quota", llms.NewError(llms.ErrCodeQuotaExceeded, "openai", "quota"), false},
		{"wrapped llm error", fmt.Errorf("analyze: %w", llms.NewError(llms.ErrCodeAuthentication, "openai", "bad key")), false},
		{"unknown", errors.New("something odd"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}
