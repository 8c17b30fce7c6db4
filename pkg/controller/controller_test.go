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

package controller

import (
	"context"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/kpekel-labs/eventic/pkg/agentloop"
	"github.com/kpekel-labs/eventic/pkg/conversation"
	"github.com/kpekel-labs/eventic/pkg/eventic"
	"github.com/kpekel-labs/eventic/pkg/llm"
	"github.com/kpekel-labs/eventic/pkg/stream"
	"github.com/kpekel-labs/eventic/pkg/tool"
)

// scriptedLLM answers every call with the next entry in responses,
// repeating the last once exhausted.
type scriptedLLM struct {
	mu        sync.Mutex
	calls     int
	responses []*llm.Response
}

func (m *scriptedLLM) Name() string           { return "scripted" }
func (m *scriptedLLM) Provider() llm.Provider { return llm.ProviderUnknown }
func (m *scriptedLLM) Close() error           { return nil }
func (m *scriptedLLM) GenerateContent(ctx context.Context, req *llm.Request, streamed bool) iter.Seq2[*llm.Response, error] {
	return func(yield func(*llm.Response, error) bool) {
		m.mu.Lock()
		defer m.mu.Unlock()
		idx := m.calls
		if idx >= len(m.responses) {
			idx = len(m.responses) - 1
		}
		resp := m.responses[idx]
		m.calls++
		yield(resp, nil)
	}
}

func newTestSetup(t *testing.T, responses []*llm.Response) (*agentloop.Services, *eventic.Engine[*agentloop.RequestContext]) {
	t.Helper()
	hist, err := conversation.NewHistory("", "gpt-4o")
	if err != nil {
		t.Fatalf("NewHistory() error = %v", err)
	}
	cfg := agentloop.DefaultConfig()
	cfg.TriageEnabled = false
	svc := &agentloop.Services{
		Tools:    tool.NewRegistry(),
		LLM:      &scriptedLLM{responses: responses},
		History:  hist,
		Progress: stream.NewSink(),
		Config:   cfg,
	}

	e := eventic.New[*agentloop.RequestContext]()
	if err := e.Use(agentloop.NewPlugin()); err != nil {
		t.Fatalf("Use() error = %v", err)
	}
	e.Freeze()

	return svc, e
}

func TestPlayRunsTicksUntilStopped(t *testing.T) {
	svc, e := newTestSetup(t, []*llm.Response{
		{Content: "checked in, nothing to do", FinishReason: llm.FinishReasonStop},
	})

	c := New(svc, e, nil, stream.NewSink(), "default")
	if err := c.Play(5 * time.Millisecond); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if got := c.State(); got != StateRunning {
		t.Fatalf("State() = %q, want running", got)
	}

	time.Sleep(30 * time.Millisecond)
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if got := c.State(); got != StateStopped {
		t.Fatalf("State() = %q, want stopped", got)
	}
}

func TestPauseStopsNewTicksAndPlayResumes(t *testing.T) {
	svc, e := newTestSetup(t, []*llm.Response{
		{Content: "idle", FinishReason: llm.FinishReasonStop},
	})

	c := New(svc, e, nil, stream.NewSink(), "default")
	if err := c.Play(5 * time.Millisecond); err != nil {
		t.Fatalf("Play() error = %v", err)
	}
	if err := c.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if got := c.State(); got != StatePaused {
		t.Fatalf("State() = %q, want paused", got)
	}

	if err := c.Play(5 * time.Millisecond); err != nil {
		t.Fatalf("Play() (resume) error = %v", err)
	}
	if got := c.State(); got != StateRunning {
		t.Fatalf("State() = %q, want running", got)
	}
	_ = c.Stop()
}

func TestBlockingQuestionSuspendsUntilAnswered(t *testing.T) {
	svc, e := newTestSetup(t, []*llm.Response{
		{Content: "BLOCKING_QUESTION: should I proceed?", FinishReason: llm.FinishReasonStop},
	})

	c := New(svc, e, nil, stream.NewSink(), "default")
	if err := c.Play(5 * time.Millisecond); err != nil {
		t.Fatalf("Play() error = %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for c.State() != StateBlocked && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := c.State(); got != StateBlocked {
		t.Fatalf("State() = %q, want blocked", got)
	}
	q, ok := c.Question()
	if !ok || q != "should I proceed?" {
		t.Fatalf("Question() = (%q, %v), want (\"should I proceed?\", true)", q, ok)
	}

	if err := c.Answer("yes, proceed"); err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	deadline = time.Now().Add(time.Second)
	for c.State() == StateBlocked && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if got := c.State(); got != StateRunning {
		t.Fatalf("State() = %q, want running after answer", got)
	}
	_ = c.Stop()
}

func TestAnswerWithoutBlockFails(t *testing.T) {
	svc, e := newTestSetup(t, []*llm.Response{{Content: "fine", FinishReason: llm.FinishReasonStop}})
	c := New(svc, e, nil, stream.NewSink(), "default")
	if err := c.Answer("hello"); err == nil {
		t.Fatal("Answer() error = nil, want error when not blocked")
	}
}
