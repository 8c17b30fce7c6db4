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

// Package anthropic binds the Messages API to the llm.LLM interface:
// wire-level request/response types, SSE stream decoding through
// llm.StreamingAggregator, and extended-thinking block passthrough.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"
	"time"

	"github.com/kpekel-labs/eventic/pkg/conversation"
	"github.com/kpekel-labs/eventic/pkg/httpclient"
	"github.com/kpekel-labs/eventic/pkg/llm"
	"github.com/kpekel-labs/eventic/pkg/tool"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	apiVersion       = "2023-06-01"
	betaThinking     = "interleaved-thinking-2025-05-14"
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second

	// thinkingTemperature is the value Anthropic requires whenever
	// extended thinking is enabled.
	thinkingTemperature = 1.0
)

// Config configures the Anthropic client.
type Config struct {
	APIKey         string
	Model          string
	MaxTokens      int
	Temperature    *float64
	BaseURL        string
	Timeout        time.Duration
	MaxRetries     int
	EnableThinking bool
	ThinkingBudget int
}

// Client implements llm.LLM against the Anthropic Messages API.
type Client struct {
	httpClient     *httpclient.Client
	apiKey         string
	baseURL        string
	model          string
	maxTokens      int
	temperature    *float64
	enableThinking bool
	thinkingBudget int
}

// New creates an Anthropic client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic: API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	thinkingBudget := cfg.ThinkingBudget
	if thinkingBudget == 0 {
		thinkingBudget = 10000
	}

	httpClient := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithMaxAttempts(maxRetries),
		httpclient.WithRateLimitParser(httpclient.ParseAnthropicRateLimitHeaders),
	)

	return &Client{
		httpClient:     httpClient,
		apiKey:         cfg.APIKey,
		baseURL:        baseURL,
		model:          modelName,
		maxTokens:      maxTokens,
		temperature:    cfg.Temperature,
		enableThinking: cfg.EnableThinking,
		thinkingBudget: thinkingBudget,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string { return c.model }

// Provider returns ProviderAnthropic.
func (c *Client) Provider() llm.Provider { return llm.ProviderAnthropic }

// Close releases resources. The underlying http.Client owns no resources
// that need explicit release.
func (c *Client) Close() error { return nil }

// GenerateContent produces responses for req, streamed or not.
func (c *Client) GenerateContent(ctx context.Context, req *llm.Request, stream bool) iter.Seq2[*llm.Response, error] {
	if stream {
		return c.generateStream(ctx, req)
	}
	return func(yield func(*llm.Response, error) bool) {
		resp, err := c.generate(ctx, req)
		yield(resp, err)
	}
}

func (c *Client) generate(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	apiReq := c.buildRequest(req, false)

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: build request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, c.classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, c.classifyStatus(resp.StatusCode, string(raw), 0)
	}

	var apiResp apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &llm.AdapterError{Kind: llm.KindPermanent, Provider: llm.ProviderAnthropic, Message: "decode response", Err: err}
	}

	return c.parseResponse(&apiResp), nil
}

type streamState struct {
	toolJSONBuffers    map[int]string
	toolCalls          map[int]*tool.Call
	thinkingBuffers    map[int]string
	thinkingSignatures map[int]string
	usage              *llm.Usage
	finishReason       llm.FinishReason
}

func newStreamState() *streamState {
	return &streamState{
		toolJSONBuffers:    make(map[int]string),
		toolCalls:          make(map[int]*tool.Call),
		thinkingBuffers:    make(map[int]string),
		thinkingSignatures: make(map[int]string),
		finishReason:       llm.FinishReasonStop,
	}
}

func (c *Client) generateStream(ctx context.Context, req *llm.Request) iter.Seq2[*llm.Response, error] {
	aggregator := llm.NewStreamingAggregator()

	return func(yield func(*llm.Response, error) bool) {
		apiReq := c.buildRequest(req, true)

		body, err := json.Marshal(apiReq)
		if err != nil {
			yield(nil, fmt.Errorf("anthropic: marshal request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
		if err != nil {
			yield(nil, fmt.Errorf("anthropic: build request: %w", err))
			return
		}
		c.setHeaders(httpReq)

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			yield(nil, c.classifyError(err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(resp.Body)
			yield(nil, c.classifyStatus(resp.StatusCode, string(raw), 0))
			return
		}

		reader := bufio.NewReader(resp.Body)
		state := newStreamState()

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					break
				}
				yield(nil, fmt.Errorf("anthropic: stream read: %w", err))
				return
			}

			line = strings.TrimSpace(line)
			if line == "" || !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}

			var event streamEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue
			}

			for resp, err := range c.processStreamEvent(&event, state, aggregator) {
				if !yield(resp, err) {
					return
				}
			}
		}

		if state.usage != nil {
			aggregator.SetUsage(state.usage)
		}
		aggregator.SetFinishReason(state.finishReason)

		if final := aggregator.Close(); final != nil {
			yield(final, nil)
		}
	}
}

func (c *Client) processStreamEvent(event *streamEvent, state *streamState, agg *llm.StreamingAggregator) iter.Seq2[*llm.Response, error] {
	return func(yield func(*llm.Response, error) bool) {
		switch event.Type {
		case "content_block_start":
			if event.ContentBlock != nil {
				switch event.ContentBlock.Type {
				case "tool_use":
					state.toolCalls[event.Index] = &tool.Call{ID: event.ContentBlock.ID, Name: event.ContentBlock.Name}
					state.toolJSONBuffers[event.Index] = ""
				case "thinking":
					state.thinkingBuffers[event.Index] = ""
					state.thinkingSignatures[event.Index] = ""
				}
			}

		case "content_block_delta":
			if event.Delta != nil {
				switch event.Delta.Type {
				case "text_delta":
					for resp, err := range agg.ProcessTextDelta(event.Delta.Text) {
						if !yield(resp, err) {
							return
						}
					}
				case "thinking_delta":
					state.thinkingBuffers[event.Index] += event.Delta.Thinking
					for resp, err := range agg.ProcessThinkingDelta(event.Delta.Thinking) {
						if !yield(resp, err) {
							return
						}
					}
				case "input_json_delta":
					state.toolJSONBuffers[event.Index] += event.Delta.PartialJSON
				case "signature_delta":
					state.thinkingSignatures[event.Index] += event.Delta.Signature
				}
			}

		case "content_block_stop":
			if tc, ok := state.toolCalls[event.Index]; ok {
				if jsonStr, ok := state.toolJSONBuffers[event.Index]; ok && jsonStr != "" {
					var args map[string]any
					_ = json.Unmarshal([]byte(jsonStr), &args)
					tc.Args = args
				}
				for resp, err := range agg.ProcessToolCall(*tc) {
					if !yield(resp, err) {
						return
					}
				}
			}
			if thinkingContent, ok := state.thinkingBuffers[event.Index]; ok && thinkingContent != "" {
				agg.ProcessThinkingComplete(thinkingContent, state.thinkingSignatures[event.Index])
			}

		case "message_delta":
			if event.Delta != nil && event.Delta.StopReason != "" {
				switch event.Delta.StopReason {
				case "tool_use":
					state.finishReason = llm.FinishReasonToolCalls
				case "max_tokens":
					state.finishReason = llm.FinishReasonLength
				default:
					state.finishReason = llm.FinishReasonStop
				}
			}
			if event.Usage != nil {
				state.usage = &llm.Usage{
					PromptTokens:     event.Usage.InputTokens,
					CompletionTokens: event.Usage.OutputTokens,
					TotalTokens:      event.Usage.InputTokens + event.Usage.OutputTokens,
				}
			}
		}
	}
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)
	if c.enableThinking {
		req.Header.Set("anthropic-beta", betaThinking)
	}
}

func (c *Client) buildRequest(req *llm.Request, stream bool) *apiRequest {
	thinkingEnabled := c.enableThinking || (req.Config != nil && req.Config.EnableThinking)

	apiReq := &apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Stream:    stream,
	}

	if thinkingEnabled {
		apiReq.Temperature = thinkingTemperature
		budget := c.thinkingBudget
		if req.Config != nil && req.Config.ThinkingBudget > 0 {
			budget = req.Config.ThinkingBudget
		}
		apiReq.Thinking = &thinkingSettings{Type: "enabled", BudgetTokens: budget}
	} else if c.temperature != nil {
		apiReq.Temperature = *c.temperature
	}

	if req.SystemInstruction != "" {
		apiReq.System = req.SystemInstruction
	}

	for _, msg := range req.Messages {
		if built, ok := c.buildMessage(msg); ok {
			apiReq.Messages = append(apiReq.Messages, built)
		}
	}

	for _, t := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, apiTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	// Anthropic requires structured output to be requested via a forced
	// tool-choice rather than a response_format field; callers that set
	// ResponseSchemaName get a single synthetic tool they are forced to
	// call, and the resulting tool_use input becomes the reply content.
	if req.Config != nil && req.Config.ResponseMIMEType == "application/json" && req.Config.ResponseSchema != nil {
		name := req.Config.ResponseSchemaName
		if name == "" {
			name = "response"
		}
		apiReq.Tools = append(apiReq.Tools, apiTool{
			Name:        name,
			Description: "Emit the structured response.",
			InputSchema: req.Config.ResponseSchema,
		})
		apiReq.ToolChoice = &apiToolChoice{Type: "tool", Name: name}
	}

	return apiReq
}

// buildMessage converts one conversation.Message into Anthropic's wire
// shape. A tool-result message becomes a user-role message carrying a
// tool_result block; an assistant message with ToolCalls becomes an
// assistant-role message carrying tool_use blocks alongside any text.
// Empty system messages (e.g. a truncation marker with no content) are
// dropped - they carry no information the model needs.
func (c *Client) buildMessage(msg conversation.Message) (apiMessage, bool) {
	switch msg.Role {
	case conversation.RoleTool:
		contentStr := msg.Content
		if contentStr == "" {
			contentStr = "(no output)"
		}
		if msg.ToolCallID == "" {
			return apiMessage{}, false
		}
		return apiMessage{
			Role: "user",
			Content: []apiContent{{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   contentStr,
			}},
		}, true

	case conversation.RoleAssistant:
		var content []apiContent
		if msg.Content != "" {
			content = append(content, apiContent{Type: "text", Text: msg.Content})
		}
		for _, call := range msg.ToolCalls {
			content = append(content, apiContent{Type: "tool_use", ID: call.ID, Name: call.Name, Input: call.Args})
		}
		if len(content) == 0 {
			return apiMessage{}, false
		}
		return apiMessage{Role: "assistant", Content: content}, true

	case conversation.RoleSystem:
		if msg.Content == "" {
			return apiMessage{}, false
		}
		return apiMessage{Role: "user", Content: []apiContent{{Type: "text", Text: msg.Content}}}, true

	default: // RoleUser
		if msg.Content == "" {
			return apiMessage{}, false
		}
		return apiMessage{Role: "user", Content: []apiContent{{Type: "text", Text: msg.Content}}}, true
	}
}

func (c *Client) parseResponse(resp *apiResponse) *llm.Response {
	result := &llm.Response{
		Partial:      false,
		TurnComplete: true,
		Usage: &llm.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
		FinishReason: llm.FinishReasonStop,
	}

	switch resp.StopReason {
	case "tool_use":
		result.FinishReason = llm.FinishReasonToolCalls
	case "max_tokens":
		result.FinishReason = llm.FinishReasonLength
	}

	var text strings.Builder
	for _, content := range resp.Content {
		switch content.Type {
		case "text":
			text.WriteString(content.Text)
		case "thinking":
			result.Thinking = &llm.ThinkingBlock{Content: content.Thinking, Signature: content.Signature}
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, tool.Call{ID: content.ID, Name: content.Name, Args: content.Input})
		}
	}
	result.Content = text.String()

	return result
}

// classifyError maps a transport-level failure (including httpclient's own
// FailedAfterRetriesError, when the retry budget is exhausted) into the
// discrete AdapterError taxonomy the agent loop's retry policy switches on.
func (c *Client) classifyError(err error) error {
	if retryErr, ok := err.(*httpclient.FailedAfterRetriesError); ok {
		return c.classifyStatus(retryErr.StatusCode, retryErr.Message, retryErr.RetryAfter)
	}
	return &llm.AdapterError{Kind: llm.KindTransient, Provider: llm.ProviderAnthropic, Message: "request failed", Err: err}
}

// classifyStatus maps an HTTP status code and response body into the
// discrete AdapterError taxonomy.
func (c *Client) classifyStatus(status int, body string, retryAfter time.Duration) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &llm.AdapterError{Kind: llm.KindAuth, Provider: llm.ProviderAnthropic, Message: body}
	case status == http.StatusTooManyRequests:
		return &llm.AdapterError{Kind: llm.KindRateLimited, Provider: llm.ProviderAnthropic, Message: body, RetryAfter: retryAfter}
	case status == http.StatusBadRequest && strings.Contains(strings.ToLower(body), "context"):
		return &llm.AdapterError{Kind: llm.KindContextWindowExceeded, Provider: llm.ProviderAnthropic, Message: body}
	case status >= 500:
		return &llm.AdapterError{Kind: llm.KindTransient, Provider: llm.ProviderAnthropic, Message: fmt.Sprintf("status %d: %s", status, body)}
	default:
		return &llm.AdapterError{Kind: llm.KindPermanent, Provider: llm.ProviderAnthropic, Message: fmt.Sprintf("status %d: %s", status, body)}
	}
}

var _ llm.LLM = (*Client)(nil)
