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

// Package stream implements the multi-producer, multi-consumer event
// fan-out sink external observers attach to: one structured event kind
// per request/task/controller transition, delivered in order per-request
// and per-task but unordered across streams, with a documented drop
// policy for non-critical events under backpressure.
package stream

import (
	"sync"
	"time"
)

// Kind identifies the shape of an Event's Payload. These are the exact
// event kinds named in the external streaming protocol: request:*,
// task:*, workspace-task:*, and controller:*.
type Kind string

const (
	KindRequestStarted       Kind = "request:started"
	KindRequestStreamChunk   Kind = "request:stream-chunk"
	KindRequestToolCallOpen  Kind = "request:tool-call-open"
	KindRequestToolCallArg   Kind = "request:tool-call-arg-delta"
	KindRequestToolCallClose Kind = "request:tool-call-close"
	KindRequestToolResult    Kind = "request:tool-result"
	KindRequestCompleted     Kind = "request:completed"
	KindRequestFailed        Kind = "request:failed"
	KindRequestCancelled     Kind = "request:cancelled"

	KindTaskSpawned   Kind = "task:spawned"
	KindTaskProgress  Kind = "task:progress"
	KindTaskOutput    Kind = "task:output"
	KindTaskCompleted Kind = "task:completed"
	KindTaskFailed    Kind = "task:failed"
	KindTaskCancelled Kind = "task:cancelled"

	KindWorkspaceTaskSpawned   Kind = "workspace-task:spawned"
	KindWorkspaceTaskProgress  Kind = "workspace-task:progress"
	KindWorkspaceTaskOutput    Kind = "workspace-task:output"
	KindWorkspaceTaskCompleted Kind = "workspace-task:completed"
	KindWorkspaceTaskFailed    Kind = "workspace-task:failed"
	KindWorkspaceTaskCancelled Kind = "workspace-task:cancelled"

	KindControllerStateChanged   Kind = "controller:state-changed"
	KindControllerBlocked        Kind = "controller:blocked"
	KindControllerAnswerAccepted Kind = "controller:answer-accepted"
)

// lifecycle reports whether a Kind is a terminal/lifecycle event, which
// the drop policy never discards under backpressure.
func (k Kind) lifecycle() bool {
	switch k {
	case KindRequestCompleted, KindRequestFailed, KindRequestCancelled,
		KindTaskCompleted, KindTaskFailed, KindTaskCancelled,
		KindWorkspaceTaskCompleted, KindWorkspaceTaskFailed, KindWorkspaceTaskCancelled,
		KindControllerStateChanged, KindControllerBlocked, KindControllerAnswerAccepted:
		return true
	}
	return false
}

// Event is one structured notification published to every connected
// observer. Payload's shape depends on Kind; callers type-assert it
// against the concrete payload types declared alongside the producer
// (agentloop.ToolCallOpenPayload, task.ProgressPayload, and so on).
type Event struct {
	Kind               Kind
	ConversationName   string
	RequestID          string
	TaskID             string
	OriginConversation string // set on workspace-task:* mirrors
	WorkingDir         string // set on workspace-task:* mirrors
	Payload            any
	Time               time.Time
}

// subscriberBufferSize is the default per-subscriber bounded buffer
// capacity. A slow subscriber whose buffer fills never blocks the
// producer: non-critical events are dropped for that subscriber, and
// lifecycle events evict the oldest buffered entry to make room rather
// than ever being silently lost.
const subscriberBufferSize = 256

// Sink is a multi-producer, multi-consumer event fan-out: any number of
// goroutines may Publish concurrently, and any number of observers may
// Subscribe concurrently. Each subscriber gets its own bounded channel so
// one slow consumer cannot starve another.
type Sink struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
}

// NewSink creates an empty event fan-out sink.
func NewSink() *Sink {
	return &Sink{subscribers: make(map[int]chan Event)}
}

// Subscribe registers a new observer and returns a receive channel for
// its events plus an Unsubscribe function. The channel is closed once
// Unsubscribe is called; callers must keep draining it until then.
func (s *Sink) Subscribe() (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan Event, subscriberBufferSize)
	s.subscribers[id] = ch

	return ch, func() { s.unsubscribe(id) }
}

func (s *Sink) unsubscribe(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		delete(s.subscribers, id)
		close(ch)
	}
}

// Publish fans an event out to every current subscriber. Non-lifecycle
// events (progress, output, stream chunks) are dropped for a subscriber
// whose buffer is full rather than blocking the producer. Lifecycle
// events (completed/failed/cancelled/state-changed) are never dropped:
// if the buffer is full, the oldest buffered events for that subscriber,
// of whatever kind, are evicted until the lifecycle event fits.
func (s *Sink) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
			if !ev.Kind.lifecycle() {
				continue
			}
			// Evict the oldest buffered event and retry until this one
			// fits; a concurrent publisher may refill the buffer between
			// the eviction and the send.
			for sent := false; !sent; {
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- ev:
					sent = true
				default:
				}
			}
		}
	}
}

// SubscriberCount reports how many observers are currently attached.
func (s *Sink) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}
