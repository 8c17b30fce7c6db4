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

// Package openai binds OpenAI's Responses API (/v1/responses) to the
// llm.LLM interface: wire-level request/response types (wire.go), SSE
// stream decoding through llm.StreamingAggregator, and mapping between
// tool.Call and the API's function_call / function_call_output items.
package openai

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
	defaultBaseURL   = "https://api.openai.com"
	defaultModel     = "gpt-4o"
	defaultMaxTokens = 4096
	defaultTimeout   = 120 * time.Second
)

// Config configures the OpenAI client.
type Config struct {
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature *float64
	BaseURL     string
	Timeout     time.Duration
	MaxRetries  int
}

// Client implements llm.LLM against OpenAI's Responses API.
type Client struct {
	httpClient  *httpclient.Client
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	temperature *float64
}

// New creates an OpenAI client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai: API key is required")
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

	httpClient := httpclient.New(
		httpclient.WithHTTPClient(&http.Client{Timeout: timeout}),
		httpclient.WithMaxAttempts(maxRetries),
		httpclient.WithRateLimitParser(httpclient.ParseOpenAIRateLimitHeaders),
	)

	return &Client{
		httpClient:  httpClient,
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       modelName,
		maxTokens:   maxTokens,
		temperature: cfg.Temperature,
	}, nil
}

// Name returns the model identifier.
func (c *Client) Name() string { return c.model }

// Provider returns ProviderOpenAI.
func (c *Client) Provider() llm.Provider { return llm.ProviderOpenAI }

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
		return nil, fmt.Errorf("openai: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/responses", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
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

	var apiResp responsesResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &llm.AdapterError{Kind: llm.KindPermanent, Provider: llm.ProviderOpenAI, Message: "decode response", Err: err}
	}
	if apiResp.Error != nil {
		return nil, c.classifyStatus(http.StatusOK, apiResp.Error.Message, 0)
	}

	return c.parseResponse(&apiResp), nil
}

// generateStream runs a streaming call and decodes the Responses API's SSE
// event vocabulary into the shared StreamingAggregator, yielding partial
// text deltas as they arrive and one final aggregated Response at the end.
func (c *Client) generateStream(ctx context.Context, req *llm.Request) iter.Seq2[*llm.Response, error] {
	aggregator := llm.NewStreamingAggregator()

	return func(yield func(*llm.Response, error) bool) {
		apiReq := c.buildRequest(req, true)

		body, err := json.Marshal(apiReq)
		if err != nil {
			yield(nil, fmt.Errorf("openai: marshal request: %w", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/responses", bytes.NewReader(body))
		if err != nil {
			yield(nil, fmt.Errorf("openai: build request: %w", err))
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
		toolArgs := make(map[string]string)
		toolNames := make(map[string]string)
		finishReason := llm.FinishReasonStop

		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err == io.EOF {
					break
				}
				yield(nil, fmt.Errorf("openai: stream read: %w", err))
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

			var event sseEvent
			if err := json.Unmarshal([]byte(data), &event); err != nil {
				continue
			}

			switch event.Type {
			case "response.output_text.delta":
				for r, err := range aggregator.ProcessTextDelta(event.Delta) {
					if !yield(r, err) {
						return
					}
				}
			case "response.function_call_arguments.delta":
				toolArgs[event.ItemID] += event.Delta
			case "response.output_item.added":
				if event.Item != nil && event.Item.Type == "function_call" {
					toolNames[event.Item.ID] = event.Item.Name
					if _, ok := toolArgs[event.Item.ID]; !ok {
						toolArgs[event.Item.ID] = ""
					}
				}
			case "response.output_item.done":
				if event.Item != nil && event.Item.Type == "function_call" {
					var args map[string]any
					_ = json.Unmarshal([]byte(toolArgs[event.Item.ID]), &args)
					call := tool.Call{ID: event.Item.CallID, Name: event.Item.Name, Args: args}
					finishReason = llm.FinishReasonToolCalls
					for r, err := range aggregator.ProcessToolCall(call) {
						if !yield(r, err) {
							return
						}
					}
				}
			case "response.completed":
				if event.Response != nil {
					aggregator.SetUsage(&llm.Usage{
						PromptTokens:     event.Response.Usage.InputTokens,
						CompletionTokens: event.Response.Usage.OutputTokens,
						TotalTokens:      event.Response.Usage.TotalTokens,
					})
				}
			case "error":
				yield(nil, c.classifyStatus(http.StatusOK, event.Message, 0))
				return
			}
		}

		aggregator.SetFinishReason(finishReason)
		if final := aggregator.Close(); final != nil {
			yield(final, nil)
		}
	}
}

// sseEvent is the union of Responses API streaming event shapes this
// adapter consumes; fields irrelevant to a given event.Type are left zero.
type sseEvent struct {
	Type     string             `json:"type"`
	Delta    string             `json:"delta"`
	ItemID   string             `json:"item_id"`
	Item     *outputItem        `json:"item"`
	Response *responsesResponse `json:"response"`
	Message  string             `json:"message"`
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

func (c *Client) buildRequest(req *llm.Request, stream bool) *responsesRequest {
	apiReq := &responsesRequest{
		Model:           c.model,
		MaxOutputTokens: c.maxTokens,
		Stream:          stream,
	}

	if req.Config != nil && req.Config.Temperature != nil {
		apiReq.Temperature = req.Config.Temperature
	} else if c.temperature != nil {
		apiReq.Temperature = c.temperature
	}

	if req.SystemInstruction != "" {
		apiReq.Instructions = req.SystemInstruction
	}

	for _, msg := range req.Messages {
		if msg.Role == conversation.RoleAssistant && len(msg.ToolCalls) > 1 {
			for _, call := range msg.ToolCalls {
				args, _ := json.Marshal(call.Args)
				apiReq.Input = append(apiReq.Input, inputItem{Type: "function_call", CallID: call.ID, Name: call.Name, Arguments: string(args)})
			}
			continue
		}
		if item, ok := c.buildInputItem(msg); ok {
			apiReq.Input = append(apiReq.Input, item)
		}
	}

	for _, t := range req.Tools {
		apiReq.Tools = append(apiReq.Tools, apiTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}

	if req.Config != nil && req.Config.ResponseMIMEType == "application/json" && req.Config.ResponseSchema != nil {
		name := req.Config.ResponseSchemaName
		if name == "" {
			name = "response"
		}
		strict := req.Config.ResponseSchemaStrict == nil || *req.Config.ResponseSchemaStrict
		apiReq.Text = &textFormat{Format: &jsonSchemaFormat{
			Type:   "json_schema",
			Name:   name,
			Strict: strict,
			Schema: req.Config.ResponseSchema,
		}}
	}

	return apiReq
}

// buildInputItem converts one conversation.Message into the Responses
// API's input-item shape. A tool-result message becomes a
// function_call_output item keyed by CallID; an assistant message with
// ToolCalls is replayed as the function_call items the model itself
// emitted, since the Responses API input array is the full prior turn,
// not just user content.
func (c *Client) buildInputItem(msg conversation.Message) (inputItem, bool) {
	switch msg.Role {
	case conversation.RoleTool:
		if msg.ToolCallID == "" {
			return inputItem{}, false
		}
		output := msg.Content
		if output == "" {
			output = "(no output)"
		}
		return inputItem{Type: "function_call_output", CallID: msg.ToolCallID, Output: output}, true

	case conversation.RoleAssistant:
		if msg.Content == "" && len(msg.ToolCalls) == 0 {
			return inputItem{}, false
		}
		if len(msg.ToolCalls) > 0 {
			call := msg.ToolCalls[0]
			args, _ := json.Marshal(call.Args)
			return inputItem{Type: "function_call", CallID: call.ID, Name: call.Name, Arguments: string(args)}, true
		}
		return inputItem{Type: "message", Role: "assistant", Content: []map[string]any{{"type": "output_text", "text": msg.Content}}}, true

	case conversation.RoleSystem:
		if msg.Content == "" {
			return inputItem{}, false
		}
		return inputItem{Type: "message", Role: "user", Content: []map[string]any{{"type": "input_text", "text": msg.Content}}}, true

	default: // RoleUser
		if msg.Content == "" {
			return inputItem{}, false
		}
		return inputItem{Type: "message", Role: "user", Content: []map[string]any{{"type": "input_text", "text": msg.Content}}}, true
	}
}

func (c *Client) parseResponse(resp *responsesResponse) *llm.Response {
	result := &llm.Response{
		Partial:      false,
		TurnComplete: true,
		Usage: &llm.Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
		FinishReason: llm.FinishReasonStop,
	}

	var text strings.Builder
	for _, item := range resp.Output {
		switch item.Type {
		case "message":
			if blocks, ok := item.Content.([]any); ok {
				for _, b := range blocks {
					if block, ok := b.(map[string]any); ok {
						if t, ok := block["text"].(string); ok {
							text.WriteString(t)
						}
					}
				}
			}
		case "function_call":
			var args map[string]any
			_ = json.Unmarshal([]byte(item.Arguments), &args)
			result.ToolCalls = append(result.ToolCalls, tool.Call{ID: item.CallID, Name: item.Name, Args: args})
		}
	}
	result.Content = text.String()
	if len(result.ToolCalls) > 0 {
		result.FinishReason = llm.FinishReasonToolCalls
	}
	if resp.IncompleteDetails != nil && resp.IncompleteDetails.Reason == "max_output_tokens" {
		result.FinishReason = llm.FinishReasonLength
	}

	return result
}

// classifyError maps a transport-level failure (including httpclient's own
// FailedAfterRetriesError, when the retry budget is exhausted) into the
// discrete AdapterError taxonomy the agent loop's retry policy switches on.
func (c *Client) classifyError(err error) error {
	if retryErr, ok := err.(*httpclient.FailedAfterRetriesError); ok {
		return c.classifyStatus(retryErr.StatusCode, retryErr.Message, retryErr.RetryAfter)
	}
	return &llm.AdapterError{Kind: llm.KindTransient, Provider: llm.ProviderOpenAI, Message: "request failed", Err: err}
}

// classifyStatus maps an HTTP status code and response body into the
// discrete AdapterError taxonomy.
func (c *Client) classifyStatus(status int, body string, retryAfter time.Duration) error {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &llm.AdapterError{Kind: llm.KindAuth, Provider: llm.ProviderOpenAI, Message: body}
	case status == http.StatusTooManyRequests:
		return &llm.AdapterError{Kind: llm.KindRateLimited, Provider: llm.ProviderOpenAI, Message: body, RetryAfter: retryAfter}
	case status == http.StatusBadRequest && strings.Contains(strings.ToLower(body), "context"):
		return &llm.AdapterError{Kind: llm.KindContextWindowExceeded, Provider: llm.ProviderOpenAI, Message: body}
	case status >= 500:
		return &llm.AdapterError{Kind: llm.KindTransient, Provider: llm.ProviderOpenAI, Message: fmt.Sprintf("status %d: %s", status, body)}
	default:
		return &llm.AdapterError{Kind: llm.KindPermanent, Provider: llm.ProviderOpenAI, Message: fmt.Sprintf("status %d: %s", status, body)}
	}
}

var _ llm.LLM = (*Client)(nil)
