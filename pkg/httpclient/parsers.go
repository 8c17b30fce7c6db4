// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package httpclient

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ParseAnthropicRateLimitHeaders decodes Anthropic's
// anthropic-ratelimit-* response headers into RateLimitHints.
func ParseAnthropicRateLimitHeaders(headers http.Header) RateLimitHints {
	var hints RateLimitHints

	if v := headers.Get("retry-after"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			hints.RetryAfter = time.Duration(seconds) * time.Second
		}
	}

	for _, name := range []string{
		"anthropic-ratelimit-input-tokens-reset",
		"anthropic-ratelimit-output-tokens-reset",
		"anthropic-ratelimit-requests-reset",
	} {
		if v := headers.Get(name); v != "" {
			if resetAt, err := time.Parse(time.RFC3339, v); err == nil {
				hints.ResetAt = resetAt.Unix()
				break
			}
		}
	}

	if v := headers.Get("anthropic-ratelimit-requests-remaining"); v != "" {
		_, _ = fmt.Sscanf(v, "%d", &hints.RequestsRemaining)
	}
	if v := headers.Get("anthropic-ratelimit-input-tokens-remaining"); v != "" {
		_, _ = fmt.Sscanf(v, "%d", &hints.InputTokensRemaining)
	}
	if v := headers.Get("anthropic-ratelimit-output-tokens-remaining"); v != "" {
		_, _ = fmt.Sscanf(v, "%d", &hints.OutputTokensRemaining)
	}

	return hints
}

// ParseOpenAIRateLimitHeaders decodes OpenAI's x-ratelimit-* response
// headers into RateLimitHints.
func ParseOpenAIRateLimitHeaders(headers http.Header) RateLimitHints {
	var hints RateLimitHints

	if v := headers.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			hints.RetryAfter = time.Duration(seconds) * time.Second
		}
	}

	for _, name := range []string{"x-ratelimit-reset-tokens", "x-ratelimit-reset-requests"} {
		if v := headers.Get(name); v != "" {
			if resetAt, err := strconv.ParseInt(v, 10, 64); err == nil {
				hints.ResetAt = resetAt
				break
			}
		}
	}

	if v := headers.Get("x-ratelimit-remaining-requests"); v != "" {
		_, _ = fmt.Sscanf(v, "%d", &hints.RequestsRemaining)
	}
	if v := headers.Get("x-ratelimit-remaining-tokens"); v != "" {
		_, _ = fmt.Sscanf(v, "%d", &hints.TokensRemaining)
	}

	return hints
}

// ParseGeminiRateLimitHeaders decodes Google Gemini's Retry-After header
// into RateLimitHints. Gemini does not expose remaining-quota headers the
// way Anthropic and OpenAI do, so only RetryAfter is ever populated.
func ParseGeminiRateLimitHeaders(headers http.Header) RateLimitHints {
	var hints RateLimitHints
	if v := headers.Get("Retry-After"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil {
			hints.RetryAfter = time.Duration(seconds) * time.Second
		}
	}
	return hints
}
