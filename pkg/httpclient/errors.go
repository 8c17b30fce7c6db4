// Copyright 2025 Kadir Pekel
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

package httpclient

import (
	"fmt"
	"time"
)

// FailedAfterRetriesError is what Do returns once a request's retry
// budget is exhausted. Provider bindings unwrap StatusCode and Message
// out of this to classify the failure into the llm package's
// AdapterError taxonomy (KindRateLimited, KindTransient, ...).
type FailedAfterRetriesError struct {
	StatusCode int
	Attempts   int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *FailedAfterRetriesError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("httpclient: HTTP %d: %s (retry after %v)", e.StatusCode, e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("httpclient: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *FailedAfterRetriesError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is the kind a higher-level
// policy (the agent loop's CRITIC_EVALUATE_TOOLS turn, or the adapter's
// own classify step) might reasonably retry at a coarser granularity
// than this package's own attempt loop already did.
func (e *FailedAfterRetriesError) Retryable() bool {
	return true
}
