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

package llm

import (
	"fmt"
	"time"
)

// ErrorKind classifies an AdapterError so callers (retry logic, the
// controller, the triage gate) can decide how to react without parsing
// provider-specific error strings.
type ErrorKind string

const (
	// KindAuth indicates invalid or missing credentials. Never retried.
	KindAuth ErrorKind = "auth"

	// KindRateLimited indicates the provider asked the caller to slow
	// down. Retryable, honoring RetryAfter when present.
	KindRateLimited ErrorKind = "rate_limited"

	// KindContextWindowExceeded indicates the request's token count
	// exceeded the model's context window. Never retried as-is; the
	// caller must truncate history first.
	KindContextWindowExceeded ErrorKind = "context_window_exceeded"

	// KindTransient indicates a network or 5xx failure likely to
	// succeed on retry.
	KindTransient ErrorKind = "transient"

	// KindPermanent indicates a request the provider will never accept
	// (e.g. malformed schema, unsupported model).
	KindPermanent ErrorKind = "permanent"
)

// AdapterError is the error type every provider binding returns for a
// failed call. Keeping provider-specific errors behind this type is what
// lets the agent loop apply one retry/backoff/triage policy across
// providers.
type AdapterError struct {
	Kind       ErrorKind
	Provider   Provider
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *AdapterError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the agent loop should attempt this call
// again, distinct from httpclient's transport-level retry: this governs
// whether it is worth re-entering GenerateContent at all.
func (e *AdapterError) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindTransient
}
