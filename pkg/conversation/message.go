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

// Package conversation implements the bounded, named, multi-conversation
// message history the agent loop reads and writes every turn: per-message
// token estimation, budget-aware truncation that never splits a tool-call
// pair, named snapshot/restore, and a fair per-conversation lock so
// concurrent turns on the same conversation serialize while turns on
// different conversations run in parallel.
package conversation

import (
	"fmt"
	"time"

	"github.com/kpekel-labs/eventic/pkg/tool"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn's worth of content in a conversation. A single
// assistant Message may carry ToolCalls; the ToolResults for those calls
// are appended as their own subsequent tool-role Messages, and the pairing
// is never broken apart by truncation.
type Message struct {
	Role       Role           `json:"role"`
	Content    string         `json:"content,omitempty"`
	ToolCalls  []tool.Call    `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"` // set on RoleTool messages
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// IsToolCallMessage reports whether this message carries outstanding tool
// calls that must be paired with following tool-result messages.
func (m Message) IsToolCallMessage() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// truncationMarker is the synthetic system message inserted at the head of
// history whenever older turns are dropped for budget reasons.
func truncationMarker(droppedTurns int) Message {
	return Message{
		Role:      RoleSystem,
		Content:   truncationMarkerText(droppedTurns),
		Timestamp: time.Now(),
	}
}

func truncationMarkerText(droppedTurns int) string {
	if droppedTurns <= 0 {
		return ""
	}
	return fmt.Sprintf("[truncated %d earlier turns]", droppedTurns)
}
