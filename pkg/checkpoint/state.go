// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package checkpoint implements durable capture and recovery of
// background-task execution state.
//
// # Architecture
//
// Checkpoints are appended to an on-disk write-ahead log, one file per
// entry under ".checkpoints/wal/", with a pointer file under
// ".checkpoints/latest/<taskId>.ptr" always naming the most recent valid
// entry for that task. Both the entry write and the pointer update go
// through fsync-then-rename, so a crash mid-write never exposes a
// half-written entry or leaves the pointer referencing one: recovery
// either sees the old, fully-committed state or the new one, never a
// torn mix of both.
//
// # Recovery
//
// On startup, Recover scans the WAL, validates each entry's checksum, and
// builds a RecoveryManifest of the latest valid checkpoint per task.
// Entries that fail their checksum (a partial write caught mid-flight by a
// crash) are treated as absent, not as an error - recovery falls back to
// that task's previous valid entry.
package checkpoint

import (
	"encoding/json"
	"fmt"
	"time"
)

// Phase identifies what stage of task execution a checkpoint was taken at.
type Phase string

const (
	PhaseInitialized   Phase = "initialized"
	PhaseRunning       Phase = "running"
	PhaseToolExecution Phase = "tool_execution"
	PhasePostTool      Phase = "post_tool"
	PhaseIterationEnd  Phase = "iteration_end"
	PhasePaused        Phase = "paused"
	PhaseError         Phase = "error"
)

// Type records why a checkpoint was created.
type Type string

const (
	TypeEvent    Type = "event"
	TypeInterval Type = "interval"
	TypeManual   Type = "manual"
	TypeError    Type = "error"
)

// State is one checkpoint: enough to resume a BackgroundTask's execution
// from the point it was captured.
type State struct {
	TaskID             string    `json:"task_id"`
	SequenceNumber     uint64    `json:"sequence_number"`
	Phase              Phase     `json:"phase"`
	CheckpointType     Type      `json:"checkpoint_type"`
	CreatedAt          time.Time `json:"created_at"`
	ParentCheckpointID string    `json:"parent_checkpoint_id,omitempty"`

	// Data is the task-type-specific serialized state (loop iteration
	// count, accumulated output, pending tool call, and so on). It is
	// opaque to the checkpoint package, which only moves bytes.
	Data json.RawMessage `json:"data,omitempty"`

	// Error holds the failure message when Phase == PhaseError.
	Error string `json:"error,omitempty"`
}

// NewState creates a checkpoint State with required identifying fields.
func NewState(taskID string, data json.RawMessage) *State {
	return &State{
		TaskID:         taskID,
		Phase:          PhaseInitialized,
		CheckpointType: TypeEvent,
		CreatedAt:      time.Now(),
		Data:           data,
	}
}

// WithPhase sets the checkpoint phase and refreshes the timestamp.
func (s *State) WithPhase(phase Phase) *State {
	s.Phase = phase
	s.CreatedAt = time.Now()
	return s
}

// WithType sets the checkpoint type.
func (s *State) WithType(t Type) *State {
	s.CheckpointType = t
	return s
}

// WithError marks the checkpoint as an error checkpoint.
func (s *State) WithError(err error) *State {
	if err != nil {
		s.Error = err.Error()
		s.Phase = PhaseError
		s.CheckpointType = TypeError
	}
	return s
}

// WithParent sets the parent checkpoint ID for chain tracking.
func (s *State) WithParent(parentID string) *State {
	s.ParentCheckpointID = parentID
	return s
}

// IsExpired reports whether the checkpoint is older than timeout.
func (s *State) IsExpired(timeout time.Duration) bool {
	if s.CreatedAt.IsZero() || timeout <= 0 {
		return false
	}
	return time.Since(s.CreatedAt) > timeout
}

// IsRecoverable reports whether this checkpoint can seed a resumed task.
func (s *State) IsRecoverable() bool {
	return s != nil && s.Phase != ""
}

// Serialize converts the State to JSON bytes.
func (s *State) Serialize() ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("checkpoint: cannot serialize nil state")
	}
	return json.Marshal(s)
}

// Deserialize reconstructs a State from JSON bytes.
func Deserialize(data []byte) (*State, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("checkpoint: cannot deserialize empty data")
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("checkpoint: unmarshal state: %w", err)
	}
	return &state, nil
}
