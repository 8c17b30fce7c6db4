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

package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kpekel-labs/eventic/pkg/conversation"
	"github.com/kpekel-labs/eventic/pkg/eventic"
	"github.com/kpekel-labs/eventic/pkg/llm"
	"github.com/kpekel-labs/eventic/pkg/stream"
	"github.com/kpekel-labs/eventic/pkg/tool"
)

// Event names the Plugin registers. These are the complete vocabulary of
// the actor-critic pipeline; nothing outside this package dispatches them.
const (
	EventAgentStart           eventic.Name = "AGENT_START"
	EventTriageDecide         eventic.Name = "TRIAGE_DECIDE"
	EventActorCriticLoop      eventic.Name = "ACTOR_CRITIC_LOOP"
	EventExecuteTools         eventic.Name = "EXECUTE_TOOLS"
	EventCriticEvaluateTools  eventic.Name = "CRITIC_EVALUATE_TOOLS"
	EventEvaluateTextResponse eventic.Name = "EVALUATE_TEXT_RESPONSE"
	EventFinalize             eventic.Name = "FINALIZE"
)

// Plugin installs the actor-critic handler chain into an Eventic engine.
// It carries no state of its own: every handler reads and writes only the
// RequestContext it is dispatched with.
type Plugin struct{}

// NewPlugin creates the agent loop plugin.
func NewPlugin() *Plugin {
	return &Plugin{}
}

// Install registers AGENT_START through FINALIZE. Handlers are installed
// as closures over e so they can dispatch the next stage themselves,
// forming the call tree the Eventic engine's dispatch model is built on.
func (p *Plugin) Install(e *eventic.Engine[*RequestContext]) error {
	e.On(EventAgentStart, func(ctx context.Context, rc *RequestContext) error {
		return handleAgentStart(ctx, e, rc)
	})
	e.On(EventTriageDecide, func(ctx context.Context, rc *RequestContext) error {
		return handleTriageDecide(ctx, e, rc)
	})
	e.On(EventActorCriticLoop, func(ctx context.Context, rc *RequestContext) error {
		return handleActorCriticLoop(ctx, e, rc)
	})
	e.On(EventExecuteTools, func(ctx context.Context, rc *RequestContext) error {
		return handleExecuteTools(ctx, e, rc)
	})
	e.On(EventCriticEvaluateTools, func(ctx context.Context, rc *RequestContext) error {
		return handleCriticEvaluateTools(ctx, e, rc)
	})
	e.On(EventEvaluateTextResponse, func(ctx context.Context, rc *RequestContext) error {
		return handleEvaluateTextResponse(ctx, e, rc)
	})
	e.On(EventFinalize, func(ctx context.Context, rc *RequestContext) error {
		return handleFinalize(ctx, e, rc)
	})
	return nil
}

// Submit is the entry point an orchestrator calls once per request: it
// kicks off AGENT_START. A context cancelled before the pipeline ever
// starts still runs FINALIZE (on a fresh context) so the caller always
// gets a terminal stream event, matching every other cancellation
// checkpoint in the pipeline.
func Submit(ctx context.Context, e *eventic.Engine[*RequestContext], rc *RequestContext) error {
	if ctx.Err() != nil {
		return finalizeCancelled(e, rc)
	}
	return e.Dispatch(ctx, EventAgentStart, rc)
}

func handleAgentStart(ctx context.Context, e *eventic.Engine[*RequestContext], rc *RequestContext) error {
	if ctx.Err() != nil {
		return finalizeCancelled(e, rc)
	}
	svc := rc.Services

	svc.History.Append(conversation.Message{
		Role:    conversation.RoleUser,
		Content: rc.UserInput,
	})
	svc.Progress.Publish(stream.Event{
		Kind:             stream.KindRequestStarted,
		ConversationName: rc.ConversationName,
		RequestID:        rc.ID,
	})

	if svc.Config.TriageEnabled && !rc.IsRetry && !rc.skipTriage {
		return e.Dispatch(ctx, EventTriageDecide, rc)
	}
	return e.Dispatch(ctx, EventActorCriticLoop, rc)
}

func handleTriageDecide(ctx context.Context, e *eventic.Engine[*RequestContext], rc *RequestContext) error {
	if ctx.Err() != nil {
		return finalizeCancelled(e, rc)
	}

	decision, err := runTriage(ctx, rc)
	if err != nil {
		// Triage is a cheap fast path, not a required step; a failure to
		// classify just means the full loop runs instead.
		rc.Errors = append(rc.Errors, err)
		return e.Dispatch(ctx, EventActorCriticLoop, rc)
	}

	switch decision.Outcome {
	case triageCompleted, triageMissingInfo:
		rc.FinalResponse = &conversation.Message{
			Role:    conversation.RoleAssistant,
			Content: decision.Content,
		}
		return e.Dispatch(ctx, EventFinalize, rc)
	default:
		return e.Dispatch(ctx, EventActorCriticLoop, rc)
	}
}

func handleActorCriticLoop(ctx context.Context, e *eventic.Engine[*RequestContext], rc *RequestContext) error {
	if ctx.Err() != nil {
		return finalizeCancelled(e, rc)
	}

	rc.TurnNumber++
	svc := rc.Services

	spanCtx, finishSpan := startTurnSpan(ctx, rc)
	turnErr := runActorCriticTurn(spanCtx, rc)
	finishSpan(turnErr)
	if turnErr != nil {
		return handleLLMCallError(ctx, e, rc, turnErr)
	}

	resp, _ := rc.scratch(scratchLLMResponse).(*llm.Response)
	rc.IsRetry = false
	msg := resp.ToMessage()
	svc.History.Append(msg)

	if resp.HasToolCalls() {
		rc.setScratch(scratchPendingToolCalls, resp.ToolCalls)
		return e.Dispatch(ctx, EventExecuteTools, rc)
	}

	rc.setScratch(scratchCandidateResponse, msg)
	return e.Dispatch(ctx, EventEvaluateTextResponse, rc)
}

// runActorCriticTurn issues the single LLM call a turn is built around,
// stashing the response on rc's scratch space for the caller to pick up.
// It is split out from handleActorCriticLoop so the turn span opened by
// startTurnSpan covers exactly the LLM round trip, not the dispatch that
// follows it.
func runActorCriticTurn(ctx context.Context, rc *RequestContext) error {
	svc := rc.Services

	messages := svc.History.Messages(svc.Config.HistoryTokenBudget)
	if rc.IsRetry {
		messages = append([]conversation.Message{retryPreamble()}, messages...)
	}

	req := &llm.Request{
		Messages:          messages,
		Tools:             svc.Tools.Available(),
		SystemInstruction: svc.Config.SystemInstruction,
		Config:            rc.responseConfig(),
	}

	cctx, cancel := context.WithTimeout(ctx, svc.Config.LLMCallTimeout)
	defer cancel()

	var resp *llm.Response
	var err error
	if rc.Stream {
		resp, err = callStream(cctx, rc, req)
	} else {
		resp, err = callOnce(cctx, svc.LLM, req)
	}
	if err != nil {
		return err
	}

	rc.setScratch(scratchLLMResponse, resp)
	return nil
}

// callStream drains a streaming GenerateContent call, forwarding partial
// deltas to rc.ChunkSink and the progress sink, and returns the final
// aggregated response.
func callStream(ctx context.Context, rc *RequestContext, req *llm.Request) (*llm.Response, error) {
	svc := rc.Services
	var final *llm.Response
	for resp, err := range svc.LLM.GenerateContent(ctx, req, true) {
		if err != nil {
			return nil, err
		}
		if resp.Partial {
			if rc.ChunkSink != nil {
				rc.ChunkSink(resp)
			}
			// A partial carrying tool calls is the stream surfacing a
			// pending call's arguments, not display text.
			kind := stream.KindRequestStreamChunk
			if len(resp.ToolCalls) > 0 {
				kind = stream.KindRequestToolCallArg
			}
			svc.Progress.Publish(stream.Event{
				Kind:             kind,
				ConversationName: rc.ConversationName,
				RequestID:        rc.ID,
				Payload:          resp,
			})
			continue
		}
		final = resp
	}
	if final == nil {
		return nil, fmt.Errorf("agentloop: stream produced no final response")
	}
	return final, nil
}

func handleLLMCallError(ctx context.Context, e *eventic.Engine[*RequestContext], rc *RequestContext, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		rc.Errors = append(rc.Errors, fmt.Errorf("agentloop: llm call: %w", err))
		return finalizeCancelled(e, rc)
	}

	var adapterErr *llm.AdapterError
	if errors.As(err, &adapterErr) && adapterErr.Kind == llm.KindContextWindowExceeded {
		rc.FinalResponse = &conversation.Message{
			Role:    conversation.RoleAssistant,
			Content: "[context window exceeded]",
		}
		rc.Errors = append(rc.Errors, err)
		return e.Dispatch(ctx, EventFinalize, rc)
	}

	rc.Errors = append(rc.Errors, fmt.Errorf("agentloop: llm call: %w", err))
	return e.Dispatch(ctx, EventFinalize, rc)
}

func handleExecuteTools(ctx context.Context, e *eventic.Engine[*RequestContext], rc *RequestContext) error {
	svc := rc.Services

	calls, _ := rc.scratch(scratchPendingToolCalls).([]tool.Call)

	results, cancelled := executeToolCalls(ctx, rc, calls)
	for _, res := range results {
		svc.History.Append(conversation.Message{
			Role:       conversation.RoleTool,
			Content:    resultContent(res),
			ToolCallID: res.CallID,
		})
		rc.ToolCallCount++
	}

	if cancelled {
		return finalizeCancelled(e, rc)
	}

	rc.setScratch(scratchToolResults, results)
	return e.Dispatch(ctx, EventCriticEvaluateTools, rc)
}

func resultContent(res tool.Result) string {
	if res.Status == tool.StatusOK {
		return res.Content
	}
	if res.Error != "" {
		return res.Error
	}
	return res.Content
}

func handleCriticEvaluateTools(ctx context.Context, e *eventic.Engine[*RequestContext], rc *RequestContext) error {
	if ctx.Err() != nil {
		return finalizeCancelled(e, rc)
	}

	svc := rc.Services
	results, _ := rc.scratch(scratchToolResults).([]tool.Result)

	failed := 0
	for _, r := range results {
		if r.Status == tool.StatusError {
			failed++
		}
	}

	if rc.TurnNumber >= rc.MaxTurns {
		rc.FinalResponse = &conversation.Message{Role: conversation.RoleAssistant, Content: "[turn limit reached]"}
		rc.setScratch(scratchTurnLimitExceeded, true)
		return e.Dispatch(ctx, EventFinalize, rc)
	}

	if failed > 0 {
		if rc.RetryCount >= svc.Config.MaxRetries {
			rc.FinalResponse = &conversation.Message{
				Role:    conversation.RoleAssistant,
				Content: "[unable to complete request after tool failures]",
			}
			rc.Errors = append(rc.Errors, fmt.Errorf("agentloop: %d tool call(s) failed after %d retries", failed, rc.RetryCount))
			return e.Dispatch(ctx, EventFinalize, rc)
		}
		rc.IsRetry = true
		rc.RetryCount++
	}

	return e.Dispatch(ctx, EventActorCriticLoop, rc)
}

func handleEvaluateTextResponse(ctx context.Context, e *eventic.Engine[*RequestContext], rc *RequestContext) error {
	if ctx.Err() != nil {
		return finalizeCancelled(e, rc)
	}

	svc := rc.Services
	candidate, _ := rc.scratch(scratchCandidateResponse).(conversation.Message)

	if !validResponse(candidate.Content, rc.ResponseFormat) {
		if rc.TurnNumber < rc.MaxTurns && rc.RetryCount < svc.Config.MaxRetries {
			rc.IsRetry = true
			rc.RetryCount++
			return e.Dispatch(ctx, EventActorCriticLoop, rc)
		}
		rc.FinalResponse = &conversation.Message{Role: conversation.RoleAssistant, Content: "[turn limit reached]"}
		return e.Dispatch(ctx, EventFinalize, rc)
	}

	rc.FinalResponse = &candidate
	return e.Dispatch(ctx, EventFinalize, rc)
}

func validResponse(content string, format *llm.GenerateConfig) bool {
	if strings.TrimSpace(content) == "" {
		return false
	}
	if format != nil && format.ResponseMIMEType == "application/json" {
		return json.Valid([]byte(content))
	}
	return true
}

func handleFinalize(ctx context.Context, e *eventic.Engine[*RequestContext], rc *RequestContext) error {
	svc := rc.Services

	cancelled, _ := rc.scratch(scratchCancelled).(bool)
	if cancelled && rc.FinalResponse == nil {
		rc.FinalResponse = &conversation.Message{Role: conversation.RoleAssistant, Content: "[cancelled]"}
	}

	if rc.FinalResponse != nil {
		svc.History.Append(*rc.FinalResponse)
	}

	kind := stream.KindRequestCompleted
	switch {
	case cancelled:
		kind = stream.KindRequestCancelled
	case len(rc.Errors) > 0 && rc.FinalResponse == nil:
		kind = stream.KindRequestFailed
	}

	// History is persisted even for a cancelled request, so the partial
	// results (cancelled tool messages included) survive the process.
	if svc.HistoryPath != "" {
		if err := svc.History.Persist(svc.HistoryPath); err != nil {
			rc.Errors = append(rc.Errors, fmt.Errorf("agentloop: persist history: %w", err))
			if kind == stream.KindRequestCompleted {
				kind = stream.KindRequestFailed
			}
		}
	}

	svc.Progress.Publish(stream.Event{
		Kind:             kind,
		ConversationName: rc.ConversationName,
		RequestID:        rc.ID,
		Payload: FinalizeSummary{
			TurnNumber:    rc.TurnNumber,
			ToolCallCount: rc.ToolCallCount,
			Errors:        rc.Errors,
		},
	})
	return nil
}

// FinalizeSummary is the payload published alongside a request's terminal
// stream event.
type FinalizeSummary struct {
	TurnNumber    int
	ToolCallCount int
	Errors        []error
}

// finalizeCancelled routes to FINALIZE on a fresh context: the pipeline
// must still persist partial results and emit a terminal event even
// though the request's own context has been cancelled, so cleanup cannot
// run under the same context that is already done.
func finalizeCancelled(e *eventic.Engine[*RequestContext], rc *RequestContext) error {
	rc.setScratch(scratchCancelled, true)
	return e.Dispatch(context.Background(), EventFinalize, rc)
}

func retryPreamble() conversation.Message {
	return conversation.Message{
		Role:    conversation.RoleSystem,
		Content: "Your previous attempt needs correction: review the preceding tool results or response and adjust before continuing.",
	}
}
