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

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/kpekel-labs/eventic/pkg/agentloop"
	"github.com/kpekel-labs/eventic/pkg/checkpoint"
	"github.com/kpekel-labs/eventic/pkg/config"
	"github.com/kpekel-labs/eventic/pkg/controller"
	"github.com/kpekel-labs/eventic/pkg/conversation"
	"github.com/kpekel-labs/eventic/pkg/eventic"
	"github.com/kpekel-labs/eventic/pkg/llm"
	"github.com/kpekel-labs/eventic/pkg/llm/anthropic"
	"github.com/kpekel-labs/eventic/pkg/llm/openai"
	"github.com/kpekel-labs/eventic/pkg/observability"
	"github.com/kpekel-labs/eventic/pkg/stream"
	"github.com/kpekel-labs/eventic/pkg/task"
	"github.com/kpekel-labs/eventic/pkg/tool"
	"github.com/kpekel-labs/eventic/pkg/utils"
)

// ServeCmd runs an interactive line-oriented agent session over stdin:
// every line submitted against the default conversation runs the full
// AGENT_START..FINALIZE pipeline, with streamed deltas printed as they
// arrive. A "/task <description>" line spawns a background task instead
// of blocking the REPL on it.
type ServeCmd struct {
	WorkDir          string `name:"workdir" help:"Working directory the session and its tools are rooted at." default:"."`
	ConversationName string `name:"conversation" help:"Name of the default conversation." default:"default"`
}

// session bundles everything a running serve command threads through its
// REPL and its background task runners.
type session struct {
	cfg         *config.Config
	engine      *eventic.Engine[*agentloop.RequestContext]
	convs       *conversation.Registry
	tools       *tool.Registry
	llmClient   llm.LLM
	sink        *stream.Sink
	taskMgr     *task.Manager
	checkpoints *checkpoint.Manager
	loopCfg     agentloop.Config
	convName    string
	autonomy    *controller.Controller
	obs         *observability.Provider
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := loadConfigFromArgs(cli)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutting down")
		cancel()
	}()

	stateDir, err := utils.EnsureStateDir(c.WorkDir)
	if err != nil {
		return err
	}

	llmClient, err := newLLMClient(cfg.LLM)
	if err != nil {
		return err
	}
	defer llmClient.Close()

	obs, err := observability.NewProvider(ctx, cfg.Observability)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Observability.Tracing.ShutdownTimeout)
		defer shutdownCancel()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			slog.Warn("observability shutdown failed", "error", err)
		}
	}()

	tools := tool.NewRegistry()
	if err := registerBuiltinTools(tools, c.WorkDir); err != nil {
		return err
	}

	sink := stream.NewSink()
	streamEvents, unsubscribe := sink.Subscribe()
	defer unsubscribe()
	go logStreamEvents(streamEvents)

	convs := conversation.NewRegistry(filepath.Join(stateDir, "conversations"), cfg.LLM.Model)
	if loaded, err := convs.LoadExisting(); err != nil {
		return fmt.Errorf("load persisted conversations: %w", err)
	} else if len(loaded) > 0 {
		slog.Info("loaded persisted conversations", "names", loaded)
	}
	if _, ok := convs.Get(c.ConversationName); !ok {
		if _, err := convs.Create(c.ConversationName); err != nil {
			return fmt.Errorf("create default conversation: %w", err)
		}
	}
	if err := convs.SwitchActive(c.ConversationName); err != nil {
		return err
	}

	loopCfg := agentloop.Config{
		MaxTurns:            cfg.Engine.MaxTurns,
		TriageEnabled:       cfg.Engine.IsTriageEnabled(),
		ParallelToolWorkers: cfg.Engine.ParallelToolWorkers,
		ToolCallTimeout:     cfg.Engine.ToolCallTimeout(),
		LLMCallTimeout:      cfg.Engine.LLMCallTimeout(),
		HistoryTokenBudget:  cfg.Engine.HistoryTokenBudget,
		MaxRetries:          2,
	}

	engine := eventic.New[*agentloop.RequestContext]()
	if err := engine.Use(agentloop.NewPlugin()); err != nil {
		return err
	}
	engine.Freeze()

	checkpointDir := filepath.Join(c.WorkDir, ".checkpoints")
	checkpoints, err := checkpoint.NewManager(&cfg.Checkpoint, checkpointDir)
	if err != nil {
		return err
	}

	taskMgr := task.NewManager(task.ManagerConfig{
		MaxConcurrent:     cfg.Task.MaxConcurrent,
		OutputBufferBytes: cfg.Task.OutputBufferBytes,
		Retention:         cfg.Task.Retention(),
	}, sink).WithObservability(obs)

	go purgeTasksPeriodically(ctx, taskMgr)

	conv, _ := convs.Get(c.ConversationName)
	autonomySvc := &agentloop.Services{
		Tools:         tools,
		LLM:           llmClient,
		History:       conv.History,
		Progress:      sink,
		Config:        loopCfg,
		Observability: obs,
		HistoryPath:   convs.Path(c.ConversationName),
	}
	autonomy := controller.New(autonomySvc, engine, taskMgr, sink, c.ConversationName)

	sess := &session{
		cfg:         cfg,
		engine:      engine,
		convs:       convs,
		tools:       tools,
		llmClient:   llmClient,
		sink:        sink,
		taskMgr:     taskMgr,
		checkpoints: checkpoints,
		loopCfg:     loopCfg,
		convName:    c.ConversationName,
		autonomy:    autonomy,
		obs:         obs,
	}
	defer autonomy.Stop()

	checkpoints.SetResumeCallback(func(_ context.Context, state *checkpoint.State) error {
		return sess.resumeTask(state)
	})
	if _, err := checkpoints.RecoverOnStartup(ctx); err != nil {
		slog.Warn("checkpoint recovery scan failed", "error", err)
	}

	fmt.Printf("eventic session on %q (provider=%s model=%s). Type a message, \"/task <description>\", \"/play\"|\"/pause\"|\"/stop\"|\"/answer <text>\" for autonomous mode, or \"/quit\" to exit.\n", c.ConversationName, cfg.LLM.Provider, cfg.LLM.Model)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		if desc, ok := strings.CutPrefix(line, "/task "); ok {
			sess.spawnTask(ctx, desc)
			continue
		}
		if handled := sess.handleAutonomyCommand(cfg.Engine.AutonomousDefaultInterval(), line); handled {
			continue
		}

		sess.runForeground(ctx, line)
	}

	return nil
}

func (s *session) runForeground(ctx context.Context, input string) {
	conv, ok := s.convs.Get(s.convName)
	if !ok {
		fmt.Fprintln(os.Stderr, "conversation not found")
		return
	}

	err := s.convs.WithLock(ctx, s.convName, func() error {
		svc := &agentloop.Services{
			Tools:         s.tools,
			LLM:           s.llmClient,
			History:       conv.History,
			Progress:      s.sink,
			Config:        s.loopCfg,
			Observability: s.obs,
			HistoryPath:   s.convs.Path(s.convName),
		}
		rc := agentloop.New(agentloop.NewID(), s.convName, input, func() {}, svc, agentloop.Options{
			Stream: true,
			ChunkSink: func(resp *llm.Response) {
				if resp.Partial {
					fmt.Print(resp.Content)
				}
			},
		})
		return agentloop.Submit(ctx, s.engine, rc)
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "\nrequest failed: %v\n", err)
		return
	}
	fmt.Println()
}

// handleAutonomyCommand dispatches the "/play", "/pause", "/stop" and
// "/answer <text>" REPL commands against the session's controller. It
// reports whether line was an autonomy command at all.
func (s *session) handleAutonomyCommand(defaultInterval time.Duration, line string) bool {
	switch {
	case line == "/play":
		if err := s.autonomy.Play(defaultInterval); err != nil {
			fmt.Fprintf(os.Stderr, "play failed: %v\n", err)
		} else {
			fmt.Println("autonomous mode running")
		}
		return true
	case line == "/pause":
		if err := s.autonomy.Pause(); err != nil {
			fmt.Fprintf(os.Stderr, "pause failed: %v\n", err)
		} else {
			fmt.Println("autonomous mode paused")
		}
		return true
	case line == "/stop":
		if err := s.autonomy.Stop(); err != nil {
			fmt.Fprintf(os.Stderr, "stop failed: %v\n", err)
		} else {
			fmt.Println("autonomous mode stopped")
		}
		return true
	default:
		if text, ok := strings.CutPrefix(line, "/answer "); ok {
			if err := s.autonomy.Answer(text); err != nil {
				fmt.Fprintf(os.Stderr, "answer failed: %v\n", err)
			} else {
				fmt.Println("answer accepted")
			}
			return true
		}
		return false
	}
}

func (s *session) spawnTask(ctx context.Context, desc string) {
	spec := task.Spec{
		Description:        desc,
		Query:              desc,
		Type:               task.TypeOneShot,
		OriginConversation: s.convName,
	}
	t, err := s.taskMgr.Spawn(ctx, spec, s.taskRunner(desc))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to spawn task: %v\n", err)
		return
	}
	fmt.Printf("spawned task %s\n", t.ID)
}

// taskRunner builds the Runner both freshly-spawned and crash-recovered
// tasks execute: an isolated in-memory conversation driven through the
// shared engine, with periodic checkpointing while it runs and the
// task's checkpoints cleared once it completes.
func (s *session) taskRunner(query string) task.Runner {
	return func(ctx context.Context, t *task.Task) error {
		history, err := conversation.NewHistory("", s.cfg.LLM.Model)
		if err != nil {
			return err
		}
		svc := &agentloop.Services{
			Tools:         s.tools,
			LLM:           s.llmClient,
			History:       history,
			Progress:      s.sink,
			Config:        s.loopCfg,
			Observability: s.obs,
		}
		cancelCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		s.checkpoints.EnablePeriodic(cancelCtx, t.ID, 0, func() *checkpoint.State {
			t.RecordCheckpoint()
			data, err := json.Marshal(map[string]string{"description": t.Description, "query": t.Query})
			if err != nil {
				return nil
			}
			return checkpoint.NewState(t.ID, data).WithPhase(checkpoint.PhaseRunning)
		})

		rc := agentloop.New(agentloop.NewID(), s.convName, query, cancel, svc, agentloop.Options{})
		if err := agentloop.Submit(cancelCtx, s.engine, rc); err != nil {
			return err
		}
		if rc.FinalResponse != nil {
			t.AppendOutput(rc.FinalResponse.Content)
		}
		if err := s.checkpoints.ClearCheckpoint(context.Background(), t.ID); err != nil {
			slog.Warn("failed to clear checkpoints for completed task", "task_id", t.ID, "error", err)
		}
		return nil
	}
}

// resumeTask re-queues a crash-recovered task at the head of admission,
// or marks it failed when its checkpoint does not carry enough state to
// re-run it (a missing query means the serialized state references work
// this process can no longer reconstruct).
func (s *session) resumeTask(state *checkpoint.State) error {
	var payload struct {
		Description string `json:"description"`
		Query       string `json:"query"`
	}
	if len(state.Data) > 0 {
		if err := json.Unmarshal(state.Data, &payload); err != nil {
			slog.Warn("recovered checkpoint has undecodable state", "task_id", state.TaskID, "error", err)
		}
	}

	if payload.Query == "" {
		t := task.NewRecovered(state.TaskID, payload.Description, "", task.TypeOneShot, "", s.convName, 0)
		t.MarkFailed("unrecoverable")
		s.taskMgr.Adopt(t)
		return fmt.Errorf("task %s checkpoint is unrecoverable", state.TaskID)
	}

	slog.Info("re-queueing recovered task", "task_id", state.TaskID, "phase", state.Phase)
	t := task.NewRecovered(state.TaskID, payload.Description, payload.Query, task.TypeOneShot, "", s.convName, 0)
	s.taskMgr.Reattach(t, s.taskRunner(payload.Query))
	return nil
}

func logStreamEvents(events <-chan stream.Event) {
	for ev := range events {
		switch ev.Kind {
		case stream.KindRequestToolCallOpen, stream.KindTaskSpawned, stream.KindTaskCompleted, stream.KindTaskFailed, stream.KindWorkspaceTaskCompleted, stream.KindWorkspaceTaskFailed:
			slog.Debug("stream event", "kind", ev.Kind, "task_id", ev.TaskID, "request_id", ev.RequestID)
		}
	}
}

func purgeTasksPeriodically(ctx context.Context, mgr *task.Manager) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mgr.Purge(time.Now())
		}
	}
}

func newLLMClient(cfg config.LLMConfig) (llm.LLM, error) {
	switch cfg.Provider {
	case "openai":
		return openai.New(openai.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			MaxRetries: cfg.MaxRetries,
		})
	default:
		return anthropic.New(anthropic.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			MaxRetries: cfg.MaxRetries,
		})
	}
}
