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
	"iter"
	"strings"

	"github.com/kpekel-labs/eventic/pkg/tool"
)

// StreamingAggregator accumulates the partial deltas a provider binding
// decodes off its SSE stream into the one final, non-partial Response
// every GenerateContent(stream=true) call yields at the end, so session
// persistence always works from one complete record rather than
// replaying chunks.
type StreamingAggregator struct {
	text         strings.Builder
	toolCalls    []tool.Call
	thinking     *ThinkingBlock
	usage        *Usage
	finishReason FinishReason
}

// NewStreamingAggregator creates an empty aggregator.
func NewStreamingAggregator() *StreamingAggregator {
	return &StreamingAggregator{finishReason: FinishReasonStop}
}

// ProcessTextDelta records a text delta and yields it immediately as a
// partial Response for real-time display.
func (a *StreamingAggregator) ProcessTextDelta(delta string) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		if delta == "" {
			return
		}
		a.text.WriteString(delta)
		yield(&Response{Content: delta, Partial: true}, nil)
	}
}

// ProcessThinkingDelta records a thinking delta and yields it as a
// partial Response carrying a ThinkingBlock.
func (a *StreamingAggregator) ProcessThinkingDelta(delta string) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		if delta == "" {
			return
		}
		if a.thinking == nil {
			a.thinking = &ThinkingBlock{}
		}
		a.thinking.Content += delta
		yield(&Response{Partial: true, Thinking: &ThinkingBlock{Content: delta}}, nil)
	}
}

// ProcessThinkingComplete finalizes the thinking block, recording its
// signature for providers (Anthropic) that require one on the next turn.
func (a *StreamingAggregator) ProcessThinkingComplete(content, signature string) {
	if a.thinking == nil {
		a.thinking = &ThinkingBlock{}
	}
	if content != "" {
		a.thinking.Content = content
	}
	a.thinking.Signature = signature
}

// ProcessToolCall records a completed tool call and yields it as a
// partial Response so the caller can start rendering the pending call
// before the turn finishes.
func (a *StreamingAggregator) ProcessToolCall(call tool.Call) iter.Seq2[*Response, error] {
	return func(yield func(*Response, error) bool) {
		a.toolCalls = append(a.toolCalls, call)
		yield(&Response{Partial: true, ToolCalls: []tool.Call{call}}, nil)
	}
}

// SetUsage records token usage for the final aggregated response.
func (a *StreamingAggregator) SetUsage(u *Usage) {
	a.usage = u
}

// SetFinishReason records why generation stopped.
func (a *StreamingAggregator) SetFinishReason(r FinishReason) {
	a.finishReason = r
}

// Close produces the final, non-partial aggregated Response.
func (a *StreamingAggregator) Close() *Response {
	resp := &Response{
		Content:      a.text.String(),
		Partial:      false,
		TurnComplete: true,
		ToolCalls:    a.toolCalls,
		Usage:        a.usage,
		Thinking:     a.thinking,
		FinishReason: a.finishReason,
	}
	if len(a.toolCalls) > 0 && resp.FinishReason == FinishReasonStop {
		resp.FinishReason = FinishReasonToolCalls
	}
	return resp
}
