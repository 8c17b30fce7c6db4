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
	"iter"
	"path/filepath"
	"sync"
	"testing"

	"github.com/kpekel-labs/eventic/pkg/conversation"
	"github.com/kpekel-labs/eventic/pkg/eventic"
	"github.com/kpekel-labs/eventic/pkg/llm"
	"github.com/kpekel-labs/eventic/pkg/stream"
	"github.com/kpekel-labs/eventic/pkg/tool"
)

// scriptedLLM answers ACTOR_CRITIC_LOOP calls from a fixed response
// script (repeating the last entry once exhausted) and triage calls from
// a separate canned response, distinguishing the two by the presence of
// the triage schema name on the request config.
type scriptedLLM struct {
	mu          sync.Mutex
	loopCalls   int
	responses   []*llm.Response
	triageResp  *llm.Response
	triageCalls int
}

func (m *scriptedLLM) Name() string           { return "scripted" }
func (m *scriptedLLM) Provider() llm.Provider { return llm.ProviderUnknown }
func (m *scriptedLLM) Close() error           { return nil }
func (m *scriptedLLM) GenerateContent(ctx context.Context, req *llm.Request, streamed bool) iter.Seq2[*llm.Response, error] {
	return func(yield func(*llm.Response, error) bool) {
		m.mu.Lock()
		defer m.mu.Unlock()

		if req.Config != nil && req.Config.ResponseSchemaName == "triage_decision" {
			m.triageCalls++
			yield(m.triageResp, nil)
			return
		}

		idx := m.loopCalls
		if idx >= len(m.responses) {
			idx = len(m.responses) - 1
		}
		resp := m.responses[idx]
		m.loopCalls++
		yield(resp, nil)
	}
}

func newTestServices(t *testing.T, model llm.LLM) *Services {
	t.Helper()
	hist, err := conversation.NewHistory("", "gpt-4o")
	if err != nil {
		t.Fatalf("NewHistory() error = %v", err)
	}
	reg := tool.NewRegistry()
	cfg := DefaultConfig()
	cfg.TriageEnabled = false
	return &Services{
		Tools:    reg,
		LLM:      model,
		History:  hist,
		Progress: stream.NewSink(),
		Config:   cfg,
	}
}

func newEngine(t *testing.T) *eventic.Engine[*RequestContext] {
	t.Helper()
	e := eventic.New[*RequestContext]()
	if err := e.Use(NewPlugin()); err != nil {
		t.Fatalf("Use() error = %v", err)
	}
	e.Freeze()
	return e
}

func TestTextResponseFinalizesWithoutTools(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{
		{Content: "final answer", FinishReason: llm.FinishReasonStop},
	}}
	svc := newTestServices(t, model)
	e := newEngine(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rc := New(NewID(), "default", "hello", cancel, svc, Options{})

	if err := Submit(ctx, e, rc); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if rc.FinalResponse == nil || rc.FinalResponse.Content != "final answer" {
		t.Fatalf("FinalResponse = %+v", rc.FinalResponse)
	}
	if rc.TurnNumber != 1 {
		t.Fatalf("TurnNumber = %d, want 1", rc.TurnNumber)
	}
}

func TestToolCallThenTextResponse(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{
		{ToolCalls: []tool.Call{{ID: "call-1", Name: "echo", Args: map[string]any{"msg": "hi"}}}, FinishReason: llm.FinishReasonToolCalls},
		{Content: "done", FinishReason: llm.FinishReasonStop},
	}}
	svc := newTestServices(t, model)
	if err := svc.Tools.Register(tool.Schema{
		Name:         "echo",
		Capabilities: tool.Capabilities{ParallelSafe: true},
	}, tool.HandlerFunc(func(ctx context.Context, call tool.Call) (tool.Result, error) {
		return tool.Result{CallID: call.ID, Status: tool.StatusOK, Content: "echoed"}, nil
	})); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	e := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rc := New(NewID(), "default", "please echo", cancel, svc, Options{})

	if err := Submit(ctx, e, rc); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if rc.FinalResponse == nil || rc.FinalResponse.Content != "done" {
		t.Fatalf("FinalResponse = %+v", rc.FinalResponse)
	}
	if rc.TurnNumber != 2 {
		t.Fatalf("TurnNumber = %d, want 2", rc.TurnNumber)
	}
	if rc.ToolCallCount != 1 {
		t.Fatalf("ToolCallCount = %d, want 1", rc.ToolCallCount)
	}
}

func TestTurnLimitProducesMarker(t *testing.T) {
	loopingResponse := &llm.Response{
		ToolCalls:    []tool.Call{{ID: "call-1", Name: "loop", Args: nil}},
		FinishReason: llm.FinishReasonToolCalls,
	}
	model := &scriptedLLM{responses: []*llm.Response{loopingResponse}}
	svc := newTestServices(t, model)
	if err := svc.Tools.Register(tool.Schema{
		Name:         "loop",
		Capabilities: tool.Capabilities{ParallelSafe: true},
	}, tool.HandlerFunc(func(ctx context.Context, call tool.Call) (tool.Result, error) {
		return tool.Result{CallID: call.ID, Status: tool.StatusOK, Content: "again"}, nil
	})); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	e := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rc := New(NewID(), "default", "loop forever", cancel, svc, Options{MaxTurns: 3})

	if err := Submit(ctx, e, rc); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if rc.TurnNumber != 3 {
		t.Fatalf("TurnNumber = %d, want exactly 3", rc.TurnNumber)
	}
	if rc.FinalResponse == nil || rc.FinalResponse.Content != "[turn limit reached]" {
		t.Fatalf("FinalResponse = %+v, want turn limit marker", rc.FinalResponse)
	}
}

func TestTriageCompletedSkipsLoop(t *testing.T) {
	model := &scriptedLLM{
		triageResp: &llm.Response{Content: `{"decision":"COMPLETED","rationale":"already answered"}`},
	}
	svc := newTestServices(t, model)
	svc.Config.TriageEnabled = true

	e := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rc := New(NewID(), "default", "2+2?", cancel, svc, Options{})

	if err := Submit(ctx, e, rc); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if rc.TurnNumber != 0 {
		t.Fatalf("TurnNumber = %d, want 0 (triage should short-circuit the loop)", rc.TurnNumber)
	}
	if rc.FinalResponse == nil || rc.FinalResponse.Content != "already answered" {
		t.Fatalf("FinalResponse = %+v", rc.FinalResponse)
	}
	if model.triageCalls != 1 {
		t.Fatalf("triageCalls = %d, want 1", model.triageCalls)
	}
}

func TestFinalizePersistsHistory(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{
		{Content: "saved", FinishReason: llm.FinishReasonStop},
	}}
	svc := newTestServices(t, model)
	path := filepath.Join(t.TempDir(), "default.json")
	svc.HistoryPath = path

	e := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rc := New(NewID(), "default", "hello", cancel, svc, Options{})

	if err := Submit(ctx, e, rc); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	reloaded, err := conversation.NewHistory("", "gpt-4o")
	if err != nil {
		t.Fatalf("NewHistory() error = %v", err)
	}
	if err := reloaded.Load(path); err != nil {
		t.Fatalf("Load() error = %v; finalize did not persist history", err)
	}
	msgs := reloaded.Messages(0)
	if len(msgs) == 0 {
		t.Fatal("persisted history is empty")
	}
	last := msgs[len(msgs)-1]
	if last.Role != conversation.RoleAssistant || last.Content != "saved" {
		t.Fatalf("persisted history ends with %+v, want the final assistant message", last)
	}
}

func TestCancellationBeforeDispatchStillFinalizes(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{{Content: "unreachable"}}}
	svc := newTestServices(t, model)

	e := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rc := New(NewID(), "default", "hello", cancel, svc, Options{})
	if err := Submit(ctx, e, rc); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if rc.FinalResponse == nil || rc.FinalResponse.Content != "[cancelled]" {
		t.Fatalf("FinalResponse = %+v, want cancellation marker", rc.FinalResponse)
	}
}

func TestToolResultsAppendedInCallIDOrder(t *testing.T) {
	model := &scriptedLLM{responses: []*llm.Response{
		{ToolCalls: []tool.Call{
			{ID: "a", Name: "slow", Args: nil},
			{ID: "b", Name: "fast", Args: nil},
		}, FinishReason: llm.FinishReasonToolCalls},
		{Content: "ok", FinishReason: llm.FinishReasonStop},
	}}
	svc := newTestServices(t, model)
	register := func(name string) {
		if err := svc.Tools.Register(tool.Schema{
			Name:         name,
			Capabilities: tool.Capabilities{ParallelSafe: true},
		}, tool.HandlerFunc(func(ctx context.Context, call tool.Call) (tool.Result, error) {
			return tool.Result{CallID: call.ID, Status: tool.StatusOK, Content: call.Name}, nil
		})); err != nil {
			t.Fatalf("Register(%q) error = %v", name, err)
		}
	}
	register("slow")
	register("fast")

	e := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rc := New(NewID(), "default", "do both", cancel, svc, Options{})

	if err := Submit(ctx, e, rc); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	msgs := svc.History.Messages(0)
	var toolMsgs []conversation.Message
	for _, m := range msgs {
		if m.Role == conversation.RoleTool {
			toolMsgs = append(toolMsgs, m)
		}
	}
	if len(toolMsgs) != 2 || toolMsgs[0].ToolCallID != "a" || toolMsgs[1].ToolCallID != "b" {
		t.Fatalf("tool messages out of callId order: %+v", toolMsgs)
	}
}
