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

// Package controller implements autonomous mode: a thin state machine
// wrapping the agent loop that periodically assembles a briefing packet
// from workspace and task state and submits it to the engine on its own
// schedule, instead of waiting on a human to type the next message.
//
// It borrows its wait/resume shape from a human-in-the-loop pattern: a
// turn that asks a blocking question parks the controller in the blocked
// state with a channel any caller's Answer can deliver to, the same way a
// paused task awaits externally-supplied input before it can continue.
package controller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kpekel-labs/eventic/pkg/agentloop"
	"github.com/kpekel-labs/eventic/pkg/eventic"
	"github.com/kpekel-labs/eventic/pkg/stream"
	"github.com/kpekel-labs/eventic/pkg/task"
)

// State is one of the four autonomous-mode states.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateBlocked State = "blocked"
)

// blockingQuestionPrefix marks the line a final assistant message must
// start with for a turn to be treated as a blocking question rather than
// a completed briefing response.
const blockingQuestionPrefix = "BLOCKING_QUESTION:"

// blockingQuestion extracts the question text from a final assistant
// message, if the message opens with the blocking-question marker.
func blockingQuestion(content string) (string, bool) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, blockingQuestionPrefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(trimmed, blockingQuestionPrefix)), true
}

// Controller drives one conversation's agent loop on an autonomous tick
// instead of per human message. Exactly one tick is ever in flight; play,
// pause, stop and answer serialize against each other and against the
// ticking goroutine through mu.
type Controller struct {
	svc      *agentloop.Services
	engine   *eventic.Engine[*agentloop.RequestContext]
	tasks    *task.Manager
	sink     *stream.Sink
	convName string

	mu           sync.Mutex
	state        State
	cancel       context.CancelFunc
	question     string
	answerCh     chan string
	stopCh       chan struct{}
	done         chan struct{}
	lastInterval time.Duration
}

// New constructs a stopped Controller for one conversation. svc, engine
// and tasks are shared with the interactive request path; tasks may be
// nil if the briefing packet should not report outstanding tasks.
func New(svc *agentloop.Services, engine *eventic.Engine[*agentloop.RequestContext], tasks *task.Manager, sink *stream.Sink, conversationName string) *Controller {
	return &Controller{
		svc:      svc,
		engine:   engine,
		tasks:    tasks,
		sink:     sink,
		convName: conversationName,
		state:    StateStopped,
	}
}

// State returns the controller's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Play transitions stopped -> running and starts the autonomous tick
// loop at the given interval. Calling Play while already running or
// blocked is a no-op; calling it while paused resumes ticking.
func (c *Controller) Play(interval time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateRunning, StateBlocked:
		return nil
	case StatePaused:
		return c.resumeLocked(interval)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.stopCh = make(chan struct{})
	c.done = make(chan struct{})
	c.lastInterval = interval
	c.setStateLocked(StateRunning)

	go c.tickLoop(ctx, interval, c.stopCh, c.done)
	return nil
}

func (c *Controller) resumeLocked(interval time.Duration) error {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.stopCh = make(chan struct{})
	c.done = make(chan struct{})
	c.lastInterval = interval
	c.setStateLocked(StateRunning)
	go c.tickLoop(ctx, interval, c.stopCh, c.done)
	return nil
}

// Pause transitions running -> paused. The in-flight briefing, if any,
// completes naturally; no new briefing is assembled after it.
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRunning {
		return fmt.Errorf("controller: cannot pause from state %q", c.state)
	}
	close(c.stopCh)
	c.setStateLocked(StatePaused)
	return nil
}

// Stop transitions any state -> stopped, cancelling any in-flight
// request and discarding a pending blocking question.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateStopped {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.stopCh != nil {
		select {
		case <-c.stopCh:
		default:
			close(c.stopCh)
		}
	}
	if c.answerCh != nil {
		close(c.answerCh)
		c.answerCh = nil
	}
	c.question = ""
	c.setStateLocked(StateStopped)
	return nil
}

// Answer delivers a reply to a pending blocking question, resuming the
// loop with the reply injected as the next briefing's user input. It
// returns an error if the controller is not currently blocked.
func (c *Controller) Answer(text string) error {
	c.mu.Lock()
	ch := c.answerCh
	if c.state != StateBlocked || ch == nil {
		c.mu.Unlock()
		return fmt.Errorf("controller: not awaiting an answer")
	}
	c.mu.Unlock()

	select {
	case ch <- text:
		c.publish(stream.KindControllerAnswerAccepted, nil)
		return nil
	default:
		return fmt.Errorf("controller: answer already delivered")
	}
}

// Question returns the pending blocking question and whether one exists.
func (c *Controller) Question() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.question, c.state == StateBlocked
}

func (c *Controller) setStateLocked(s State) {
	c.state = s
	c.publish(stream.KindControllerStateChanged, map[string]any{"state": string(s)})
}

func (c *Controller) publish(kind stream.Kind, payload any) {
	if c.sink == nil {
		return
	}
	c.sink.Publish(stream.Event{
		Kind:             kind,
		ConversationName: c.convName,
		Time:             time.Now(),
		Payload:          payload,
	})
}

// tickLoop assembles and submits one briefing packet per interval until
// stopCh closes or the turn blocks on a question.
func (c *Controller) tickLoop(ctx context.Context, interval time.Duration, stopCh chan struct{}, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			if blocked := c.runTick(ctx); blocked {
				return
			}
		}
	}
}

// runTick submits exactly one briefing as a request and reports whether
// the resulting turn blocked on a question (in which case the tick loop
// must stop ticking until answered).
func (c *Controller) runTick(ctx context.Context) bool {
	briefing := c.assembleBriefing()

	rc := agentloop.New(agentloop.NewID(), c.convName, briefing, func() {}, c.svc, agentloop.Options{})
	if err := agentloop.Submit(ctx, c.engine, rc); err != nil {
		if ctx.Err() == nil {
			slog.Warn("autonomous briefing failed", "conversation", c.convName, "error", err)
		}
		return false
	}

	if rc.FinalResponse == nil {
		return false
	}
	question, ok := blockingQuestion(rc.FinalResponse.Content)
	if !ok {
		return false
	}

	c.mu.Lock()
	c.question = question
	c.answerCh = make(chan string, 1)
	answerCh := c.answerCh
	c.setStateLocked(StateBlocked)
	c.publish(stream.KindControllerBlocked, map[string]any{"question": question})
	c.mu.Unlock()

	go c.awaitAnswer(answerCh)
	return true
}

// awaitAnswer blocks off the tick loop until Answer delivers a reply or
// Stop tears the controller down, then resumes ticking with the answer
// injected as the next briefing's lead line.
func (c *Controller) awaitAnswer(answerCh chan string) {
	answer, ok := <-answerCh
	if !ok {
		return
	}

	c.mu.Lock()
	if c.state != StateBlocked {
		c.mu.Unlock()
		return
	}
	c.question = ""
	c.answerCh = nil
	interval := c.lastInterval
	c.mu.Unlock()

	rc := agentloop.New(agentloop.NewID(), c.convName, answer, func() {}, c.svc, agentloop.Options{})
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.cancel = cancel
	c.stopCh = make(chan struct{})
	c.done = make(chan struct{})
	c.setStateLocked(StateRunning)
	stopCh, done := c.stopCh, c.done
	c.mu.Unlock()

	if err := agentloop.Submit(ctx, c.engine, rc); err != nil {
		slog.Warn("autonomous resume-after-answer failed", "conversation", c.convName, "error", err)
	}

	go c.tickLoop(ctx, interval, stopCh, done)
}

// assembleBriefing summarizes outstanding background tasks for this
// conversation into a single user-turn input. Workspace-change summaries
// are left to the caller's own tools (e.g. a git-status tool call) since
// the controller has no filesystem access of its own.
func (c *Controller) assembleBriefing() string {
	if c.tasks == nil {
		return "Autonomous check-in: no outstanding background tasks tracked."
	}

	running := c.tasks.List(&task.Filter{Status: task.StateRunning})
	queued := c.tasks.List(&task.Filter{Status: task.StateQueued})

	var b strings.Builder
	b.WriteString("Autonomous check-in.\n")
	fmt.Fprintf(&b, "Background tasks: %d running, %d queued.\n", len(running), len(queued))
	for _, t := range running {
		fmt.Fprintf(&b, "- running: %s (%s)\n", t.ID, t.Description)
	}
	for _, t := range queued {
		fmt.Fprintf(&b, "- queued: %s (%s)\n", t.ID, t.Description)
	}
	b.WriteString("Decide the next useful action, or ask a question prefixed with \"" + blockingQuestionPrefix + "\" if you need input before continuing.")
	return b.String()
}
