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

package task

import (
	"context"
	"os"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/kpekel-labs/eventic/pkg/observability"
	"github.com/kpekel-labs/eventic/pkg/stream"
)

// Runner executes a task's work. It is handed a context that is cancelled
// when the task is aborted, and the Task itself so it can append output
// and be found by ID from inside the goroutine it runs in.
type Runner func(ctx context.Context, t *Task) error

// Spec describes a task to spawn. A workspace-typed Spec with
// CreateIfMissing additionally creates WorkingDir (mkdir -p) before the
// task's child engine is rooted there, and optionally drops a VCS marker
// so the directory reads as a real repository root rather than bare
// scratch space.
type Spec struct {
	Description        string
	Query              string
	Type               Type
	WorkingDir         string
	OriginConversation string
	CreateIfMissing    bool
	InitVCSMarker      bool
}

// ManagerConfig configures admission and retention for the task Manager.
type ManagerConfig struct {
	// MaxConcurrent caps how many tasks may be in the running state at
	// once; tasks beyond this cap stay queued until a slot frees.
	MaxConcurrent int

	// OutputBufferBytes bounds each task's output ring buffer.
	OutputBufferBytes int

	// Retention is how long a terminal task's record stays listed before
	// a Purge call removes it.
	Retention time.Duration
}

// SetDefaults applies the documented defaults.
func (c *ManagerConfig) SetDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.OutputBufferBytes <= 0 {
		c.OutputBufferBytes = 1 << 20
	}
	if c.Retention <= 0 {
		c.Retention = 24 * time.Hour
	}
}

// Manager is the registry of background tasks: it admits new tasks under
// a concurrency cap (queueing the rest rather than rejecting them),
// tracks every task it has ever spawned, and exposes spawn/status/cancel/
// output/list operations over them. Lifecycle transitions are published
// to an optional stream.Sink using the task:* and workspace-task:* event
// vocabulary.
type Manager struct {
	cfg   ManagerConfig
	sink  *stream.Sink
	obs   *observability.Provider
	queue chan *queuedTask

	mu    sync.RWMutex
	tasks map[string]*Task

	admission chan struct{} // admission semaphore, size cfg.MaxConcurrent
}

type queuedTask struct {
	task *Task
	run  Runner
	ctx  context.Context
}

// NewManager creates a task Manager and starts its dispatcher loop. sink
// may be nil, in which case lifecycle events are simply not published.
func NewManager(cfg ManagerConfig, sink *stream.Sink) *Manager {
	cfg.SetDefaults()
	m := &Manager{
		cfg:       cfg,
		sink:      sink,
		queue:     make(chan *queuedTask, 4096),
		tasks:     make(map[string]*Task),
		admission: make(chan struct{}, cfg.MaxConcurrent),
	}
	go m.dispatch()
	return m
}

// WithObservability attaches a Provider the Manager records spawn and
// terminal-transition metrics against, and returns m for chaining at
// construction. A nil or never-called Provider leaves the Manager
// unobserved; every call site in this file tolerates a nil m.obs.
func (m *Manager) WithObservability(obs *observability.Provider) *Manager {
	m.obs = obs
	return m
}

// dispatch is the single long-lived goroutine that pulls queued tasks and
// admits them once a concurrency slot is free, in FIFO submission order.
// It never exits; the Manager is expected to live for the process.
func (m *Manager) dispatch() {
	for qt := range m.queue {
		select {
		case m.admission <- struct{}{}:
		case <-qt.ctx.Done():
			qt.task.MarkCancelled()
			m.publish(qt.task, stream.KindTaskCancelled)
			continue
		}
		go m.execute(qt)
	}
}

// Spawn creates a queued task and enqueues it for admission; it returns
// immediately without waiting for a concurrency slot. A workspace-typed
// spec with CreateIfMissing creates WorkingDir first.
func (m *Manager) Spawn(ctx context.Context, spec Spec, run Runner) (*Task, error) {
	if spec.Type == TypeWorkspace && spec.CreateIfMissing && spec.WorkingDir != "" {
		if err := os.MkdirAll(spec.WorkingDir, 0o755); err != nil {
			return nil, err
		}
		if spec.InitVCSMarker {
			initVCSMarker(spec.WorkingDir)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	t := New(spec.Description, spec.Query, spec.Type, spec.WorkingDir, spec.OriginConversation, m.cfg.OutputBufferBytes, cancel)

	m.mu.Lock()
	m.tasks[t.ID] = t
	m.mu.Unlock()

	if m.obs != nil {
		m.obs.Metrics.RecordTaskSpawned(string(t.Type))
	}
	m.publish(t, spawnedKind(t))
	m.queue <- &queuedTask{task: t, run: run, ctx: runCtx}
	return t, nil
}

func initVCSMarker(dir string) {
	_ = os.MkdirAll(dir+"/.git", 0o755)
}

func (m *Manager) execute(qt *queuedTask) {
	t, run := qt.task, qt.run
	defer func() { <-m.admission }()

	t.MarkRunning()
	m.publish(t, progressKind(t))

	runCtx := qt.ctx
	var span trace.Span
	if m.obs != nil {
		runCtx, span = m.obs.Tracer.StartTaskSpan(qt.ctx, t.ID, string(t.Type))
	}

	err := run(runCtx, t)

	var state string
	switch {
	case qt.ctx.Err() != nil:
		t.MarkCancelled()
		m.publish(t, cancelledKind(t))
		state = "cancelled"
	case err != nil:
		t.MarkFailed(err.Error())
		m.publish(t, failedKind(t))
		state = "failed"
	default:
		t.MarkSucceeded()
		m.publish(t, completedKind(t))
		state = "succeeded"
	}

	if span != nil {
		if err != nil {
			span.RecordError(err)
		}
		span.End()
	}
	if m.obs != nil {
		m.obs.Metrics.RecordTaskTerminal(string(t.Type), state, taskDuration(t))
	}
}

// taskDuration returns the wall-clock span between a task's running mark
// and its terminal mark. Either timestamp missing (a task that never
// reached MarkRunning, which execute always calls first) reports zero.
func taskDuration(t *Task) time.Duration {
	if t.StartedAt == nil || t.CompletedAt == nil {
		return 0
	}
	return t.CompletedAt.Sub(*t.StartedAt)
}

func spawnedKind(t *Task) stream.Kind {
	if t.Type == TypeWorkspace {
		return stream.KindWorkspaceTaskSpawned
	}
	return stream.KindTaskSpawned
}

func progressKind(t *Task) stream.Kind {
	if t.Type == TypeWorkspace {
		return stream.KindWorkspaceTaskProgress
	}
	return stream.KindTaskProgress
}

func completedKind(t *Task) stream.Kind {
	if t.Type == TypeWorkspace {
		return stream.KindWorkspaceTaskCompleted
	}
	return stream.KindTaskCompleted
}

func failedKind(t *Task) stream.Kind {
	if t.Type == TypeWorkspace {
		return stream.KindWorkspaceTaskFailed
	}
	return stream.KindTaskFailed
}

func cancelledKind(t *Task) stream.Kind {
	if t.Type == TypeWorkspace {
		return stream.KindWorkspaceTaskCancelled
	}
	return stream.KindTaskCancelled
}

func (m *Manager) publish(t *Task, kind stream.Kind) {
	if m.sink == nil {
		return
	}
	ev := stream.Event{
		Kind:    kind,
		TaskID:  t.ID,
		Payload: t.State(),
	}
	if t.Type == TypeWorkspace {
		ev.OriginConversation = t.OriginConversation
		ev.WorkingDir = t.WorkingDir
	}
	m.sink.Publish(ev)
}

// Get looks up a task by ID.
func (m *Manager) Get(id string) (*Task, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	return t, ok
}

// Cancel aborts a queued or running task. Returns ErrTaskNotFound if
// unknown, or ErrTaskTerminal if the task has already reached a terminal
// state.
func (m *Manager) Cancel(id string) error {
	t, ok := m.Get(id)
	if !ok {
		return ErrTaskNotFound
	}
	if t.State().IsTerminal() {
		return ErrTaskTerminal
	}
	t.Abort()
	return nil
}

// Output returns the task's retained output log lines with Seq >= since,
// oldest first. A since of 0 returns the full retained tail.
func (m *Manager) Output(id string, since int64) ([]LogLine, error) {
	t, ok := m.Get(id)
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Output(since), nil
}

// Filter narrows List to tasks matching the given predicates. A zero
// value for a field means "don't filter on it".
type Filter struct {
	Status State
	Type   Type
}

// List returns every task the Manager has spawned, oldest first, matching
// the optional filter. A nil filter returns every task.
func (m *Manager) List(filter *Filter) []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if filter != nil {
			if filter.Status != "" && t.State() != filter.Status {
				continue
			}
			if filter.Type != "" && t.Type != filter.Type {
				continue
			}
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Reattach registers a task recovered from a checkpoint (via
// RecoverOnStartup) back into the registry in the recovering state, then
// re-queues it at the head of admission by giving it priority over
// newly-spawned tasks: it is sent on queue before any Spawn call that
// follows, satisfying the "re-queued at the head, not the tail" recovery
// policy for a process that just started (the queue is otherwise empty).
func (m *Manager) Reattach(t *Task, run Runner) {
	t.MarkRecovering()
	m.mu.Lock()
	m.tasks[t.ID] = t
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	t.setCancel(cancel)
	m.queue <- &queuedTask{task: t, run: run, ctx: ctx}
}

// Adopt registers an externally-constructed task record without queueing
// it for execution, e.g. a crash-recovered task whose checkpoint turned
// out to be unrecoverable and was marked failed instead of re-run.
func (m *Manager) Adopt(t *Task) {
	m.mu.Lock()
	m.tasks[t.ID] = t
	m.mu.Unlock()

	switch t.State() {
	case StateFailed:
		m.publish(t, failedKind(t))
	case StateCancelled:
		m.publish(t, cancelledKind(t))
	default:
		m.publish(t, progressKind(t))
	}
}

// InFlight reports how many tasks currently hold an admission slot.
func (m *Manager) InFlight() int {
	return len(m.admission)
}

// Purge removes every terminal task whose CompletedAt is older than the
// Manager's configured retention window, so the List surface does not
// grow unbounded over a long-lived process. Callers typically invoke this
// on a periodic ticker.
func (m *Manager) Purge(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, t := range m.tasks {
		if !t.State().IsTerminal() || t.CompletedAt == nil {
			continue
		}
		if now.Sub(*t.CompletedAt) >= m.cfg.Retention {
			delete(m.tasks, id)
			removed++
		}
	}
	return removed
}
