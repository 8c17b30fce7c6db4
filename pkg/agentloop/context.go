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

// Package agentloop implements the actor-critic request pipeline: triage,
// prompt assembly, tool dispatch, and critic re-evaluation, wired together
// as an eventic.Plugin over a RequestContext. It consumes the tool
// registry, LLM adapter, and conversation history but owns none of them -
// all three are handed in per request via Services.
package agentloop

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kpekel-labs/eventic/pkg/conversation"
	"github.com/kpekel-labs/eventic/pkg/llm"
	"github.com/kpekel-labs/eventic/pkg/observability"
	"github.com/kpekel-labs/eventic/pkg/stream"
	"github.com/kpekel-labs/eventic/pkg/tool"
)

// Config tunes the agent loop's turn limits, triage, concurrency, and
// timeouts. Field names mirror the configuration surface an embedding
// application loads from its own config layer.
type Config struct {
	MaxTurns            int
	TriageEnabled       bool
	ParallelToolWorkers int
	ToolCallTimeout     time.Duration
	LLMCallTimeout      time.Duration
	HistoryTokenBudget  int

	// MaxRetries bounds how many times the critic may send a turn back to
	// ACTOR_CRITIC_LOOP for remediation (failed tool calls or a malformed
	// final response) before giving up.
	MaxRetries int

	SystemInstruction string
}

// DefaultConfig returns the documented defaults for every tunable.
func DefaultConfig() Config {
	return Config{
		MaxTurns:            20,
		TriageEnabled:       true,
		ParallelToolWorkers: 8,
		ToolCallTimeout:     120 * time.Second,
		LLMCallTimeout:      300 * time.Second,
		HistoryTokenBudget:  0,
		MaxRetries:          2,
	}
}

// Services is the capability bundle every handler is given alongside a
// RequestContext: the tool registry, the LLM adapter, the active
// conversation's history, and the progress sink events are published to.
// All four are shared across concurrent requests and must be safe for
// concurrent use; History in particular is only safe because the caller
// holds the conversation's lock for the lifetime of the request.
//
// Observability may be nil, in which case the loop runs unobserved - every
// call site goes through the package-level helpers in instrumentation.go,
// which treat a nil *observability.Provider as a no-op.
type Services struct {
	Tools         *tool.Registry
	LLM           llm.LLM
	History       *conversation.History
	Progress      *stream.Sink
	Config        Config
	Observability *observability.Provider

	// HistoryPath, when non-empty, is the file the conversation's history
	// is atomically persisted to as part of FINALIZE. An empty path keeps
	// the conversation in-memory only (background one-shot tasks).
	HistoryPath string
}

// Options configures a single RequestContext at construction.
type Options struct {
	Stream         bool
	ChunkSink      func(*llm.Response)
	ModelOverride  string
	ResponseFormat *llm.GenerateConfig
	MaxTurns       int // 0 means Services.Config.MaxTurns
	DryRun         bool

	// SkipTriage lets a caller that already knows a request needs the full
	// loop bypass the triage gate, per the "explicit loop request" clause
	// of the triage policy.
	SkipTriage bool
}

// NewID generates a fresh request identifier.
func NewID() string {
	return uuid.NewString()
}

// RequestContext is the ephemeral, per-request state carrier the Eventic
// engine dispatches through. It is exclusively owned by the goroutine
// driving its pipeline and must never be shared between concurrent
// requests; handlers coordinate solely through the fields and scratch map
// of the one instance threaded through their dispatch chain.
type RequestContext struct {
	ID               string
	ConversationName string
	UserInput        string

	// Cancel is the handle the caller uses to interrupt this request. It
	// is expected to be derived from (and so subsumed by) the conversation
	// lock's context, the process's shutdown context, and any explicit
	// user-initiated interrupt - cancellation is a tree, not a single flag.
	Cancel context.CancelFunc

	Stream    bool
	ChunkSink func(*llm.Response)

	ModelOverride  string
	ResponseFormat *llm.GenerateConfig

	IsRetry    bool
	RetryCount int
	MaxTurns   int
	DryRun     bool
	StartedAt  time.Time

	// FinalResponse is set exactly once, by whichever handler decides the
	// request is done, before FINALIZE is dispatched.
	FinalResponse *conversation.Message

	TurnNumber    int
	ToolCallCount int
	Errors        []error

	skipTriage bool

	scratchMu sync.Mutex
	scratchM  map[string]any

	Services *Services
}

// New creates a RequestContext for one submission to conversationName.
func New(id, conversationName, userInput string, cancel context.CancelFunc, svc *Services, opts Options) *RequestContext {
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = svc.Config.MaxTurns
	}
	return &RequestContext{
		ID:               id,
		ConversationName: conversationName,
		UserInput:        userInput,
		Cancel:           cancel,
		Stream:           opts.Stream,
		ChunkSink:        opts.ChunkSink,
		ModelOverride:    opts.ModelOverride,
		ResponseFormat:   opts.ResponseFormat,
		MaxTurns:         maxTurns,
		DryRun:           opts.DryRun,
		StartedAt:        time.Now(),
		skipTriage:       opts.SkipTriage,
		scratchM:         make(map[string]any),
		Services:         svc,
	}
}

func (rc *RequestContext) scratch(key string) any {
	rc.scratchMu.Lock()
	defer rc.scratchMu.Unlock()
	return rc.scratchM[key]
}

func (rc *RequestContext) setScratch(key string, v any) {
	rc.scratchMu.Lock()
	defer rc.scratchMu.Unlock()
	rc.scratchM[key] = v
}

// Scratch returns the value a handler stored under key, for callers (tests,
// observability hooks) that need to inspect pipeline state after the fact.
func (rc *RequestContext) Scratch(key string) (any, bool) {
	rc.scratchMu.Lock()
	defer rc.scratchMu.Unlock()
	v, ok := rc.scratchM[key]
	return v, ok
}

func (rc *RequestContext) responseConfig() *llm.GenerateConfig {
	if rc.ResponseFormat == nil {
		return nil
	}
	return rc.ResponseFormat.Clone()
}

// scratch keys written and read by the handlers in plugin.go.
const (
	scratchPendingToolCalls  = "pending_tool_calls"
	scratchToolResults       = "tool_results"
	scratchCandidateResponse = "candidate_response"
	scratchTurnLimitExceeded = "turn_limit_exceeded"
	scratchCancelled         = "cancelled"
	scratchLLMResponse       = "llm_response"
)
