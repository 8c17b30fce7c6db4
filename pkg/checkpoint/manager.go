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

package checkpoint

import (
	"context"
	"log/slog"
	"time"
)

// ResumeCallback is invoked for each checkpoint recovered on startup that
// the caller has chosen to auto-resume.
type ResumeCallback func(ctx context.Context, state *State) error

// Stats summarizes the checkpoint store's contents.
type Stats struct {
	TotalTasks       int
	TotalCheckpoints int
}

// Manager orchestrates checkpointing and recovery on top of a WAL: it
// applies the configured strategy (when to checkpoint) while the WAL
// handles durability (how a checkpoint is written and recovered).
type Manager struct {
	config *Config
	wal    *WAL
	resume ResumeCallback
}

// NewManager creates a checkpoint Manager backed by a WAL rooted at dir.
func NewManager(cfg *Config, dir string) (*Manager, error) {
	if cfg == nil {
		cfg = &Config{}
		cfg.SetDefaults()
	}

	wal, err := NewWAL(dir)
	if err != nil {
		return nil, err
	}

	return &Manager{config: cfg, wal: wal}, nil
}

// IsEnabled returns whether checkpointing is enabled.
func (m *Manager) IsEnabled() bool {
	return m.config.IsEnabled()
}

// SetResumeCallback sets the callback invoked for each checkpoint that
// RecoverOnStartup chooses to auto-resume.
func (m *Manager) SetResumeCallback(cb ResumeCallback) {
	m.resume = cb
}

// SaveCheckpoint persists a checkpoint, a no-op if checkpointing is
// disabled.
func (m *Manager) SaveCheckpoint(_ context.Context, state *State) error {
	if !m.IsEnabled() {
		return nil
	}
	if err := m.wal.Append(state); err != nil {
		return err
	}
	return m.wal.Compact(state.TaskID, m.config.Retention())
}

// LoadCheckpoint retrieves the latest checkpoint for a task.
func (m *Manager) LoadCheckpoint(_ context.Context, taskID string) (*State, error) {
	state, ok := m.wal.LatestForTask(taskID)
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	return state, nil
}

// ClearCheckpoint removes all checkpoints for a task, typically on
// successful completion.
func (m *Manager) ClearCheckpoint(_ context.Context, taskID string) error {
	return m.wal.PurgeTask(taskID)
}

// CaptureFunc produces the current serializable state of a running task
// each time a scheduled checkpoint fires. Returning nil skips the tick.
type CaptureFunc func() *State

// Snapshot takes an immediate checkpoint regardless of strategy and
// returns the sequence number the entry was written at. A disabled
// manager reports sequence 0 without error.
func (m *Manager) Snapshot(ctx context.Context, state *State) (uint64, error) {
	if !m.IsEnabled() {
		return 0, nil
	}
	state.WithType(TypeManual)
	if err := m.SaveCheckpoint(ctx, state); err != nil {
		return 0, err
	}
	return state.SequenceNumber, nil
}

// EnablePeriodic auto-checkpoints a running task every interval (the
// configured Period when interval <= 0) until ctx is cancelled. A write
// failure downgrades durability for that tick only: it is logged and the
// schedule keeps ticking, so the next successful write restores the
// guarantee.
func (m *Manager) EnablePeriodic(ctx context.Context, taskID string, interval time.Duration, capture CaptureFunc) {
	if !m.IsEnabled() || capture == nil {
		return
	}
	if interval <= 0 {
		interval = m.config.Period()
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				state := capture()
				if state == nil {
					continue
				}
				state.TaskID = taskID
				state.WithType(TypeInterval)
				if err := m.SaveCheckpoint(ctx, state); err != nil {
					slog.Warn("periodic checkpoint failed", "task_id", taskID, "error", err)
				}
			}
		}
	}()
}

// RecoverOnStartup scans the WAL and, for each recovered checkpoint that
// is still within the recovery timeout, invokes the resume callback if
// auto-resume is configured.
func (m *Manager) RecoverOnStartup(ctx context.Context) (*RecoveryManifest, error) {
	manifest, err := m.wal.Recover()
	if err != nil {
		return nil, err
	}

	if !m.config.ShouldAutoResume() || m.resume == nil {
		return manifest, nil
	}

	timeout := m.config.GetRecoveryTimeout()
	for taskID, state := range manifest.Checkpoints {
		if state.IsExpired(timeout) {
			slog.Warn("checkpoint expired, skipping auto-resume", "task_id", taskID)
			continue
		}
		if err := m.resume(ctx, state); err != nil {
			slog.Warn("failed to resume task from checkpoint", "task_id", taskID, "error", err)
		}
	}
	return manifest, nil
}

// Stats returns aggregate statistics about the checkpoint store.
func (m *Manager) Stats() Stats {
	manifest, _ := m.wal.Recover()
	total := 0
	for _, seqs := range m.wal.manifest.Sequences {
		total += len(seqs)
	}
	return Stats{TotalTasks: len(manifest.Checkpoints), TotalCheckpoints: total}
}

// Config returns the checkpoint configuration.
func (m *Manager) Config() *Config {
	return m.config
}

// ShouldCheckpointAtIteration returns whether to checkpoint at the given
// loop iteration.
func (m *Manager) ShouldCheckpointAtIteration(iteration int) bool {
	return m.config.ShouldCheckpointAtIteration(iteration)
}

// ShouldCheckpointAfterTools returns whether to checkpoint after tool
// execution.
func (m *Manager) ShouldCheckpointAfterTools() bool {
	return m.config.ShouldCheckpointAfterTools()
}

// ShouldCheckpointBeforeLLM returns whether to checkpoint before LLM
// calls.
func (m *Manager) ShouldCheckpointBeforeLLM() bool {
	return m.config.ShouldCheckpointBeforeLLM()
}

// Hooks provides integration points for the agent loop to checkpoint at
// well-known points in its execution without knowing the checkpoint
// strategy itself.
type Hooks struct {
	manager *Manager
}

// NewHooks creates hooks bound to a Manager.
func NewHooks(manager *Manager) *Hooks {
	if manager == nil {
		return nil
	}
	return &Hooks{manager: manager}
}

// BeforeLLMCall checkpoints before an LLM call, if configured to.
func (h *Hooks) BeforeLLMCall(ctx context.Context, state *State) {
	if h == nil || !h.manager.ShouldCheckpointBeforeLLM() {
		return
	}
	state.WithPhase(PhaseRunning)
	h.save(ctx, state, "pre-llm")
}

// AfterToolExecution checkpoints after tool execution, if configured to.
func (h *Hooks) AfterToolExecution(ctx context.Context, state *State, toolName string) {
	if h == nil || !h.manager.ShouldCheckpointAfterTools() {
		return
	}
	state.WithPhase(PhasePostTool)
	h.save(ctx, state, "post-tool")
}

// OnIterationEnd checkpoints at the end of a loop iteration, if the
// configured interval says to.
func (h *Hooks) OnIterationEnd(ctx context.Context, state *State, iteration int) {
	if h == nil || !h.manager.ShouldCheckpointAtIteration(iteration) {
		return
	}
	state.WithPhase(PhaseIterationEnd).WithType(TypeInterval)
	h.save(ctx, state, "iteration-end")
}

// OnError always checkpoints, regardless of strategy, so a failure is
// never silently unrecoverable.
func (h *Hooks) OnError(ctx context.Context, state *State, err error) {
	if h == nil || !h.manager.IsEnabled() {
		return
	}
	state.WithError(err)
	h.save(ctx, state, "error")
}

// OnComplete clears the task's checkpoints on successful completion.
func (h *Hooks) OnComplete(ctx context.Context, taskID string) {
	if h == nil || !h.manager.IsEnabled() {
		return
	}
	if err := h.manager.ClearCheckpoint(ctx, taskID); err != nil {
		slog.Warn("failed to clear checkpoint on completion", "task_id", taskID, "error", err)
	}
}

func (h *Hooks) save(ctx context.Context, state *State, point string) {
	if err := h.manager.SaveCheckpoint(ctx, state); err != nil {
		slog.Warn("failed to save checkpoint", "task_id", state.TaskID, "point", point, "error", err)
	}
}
