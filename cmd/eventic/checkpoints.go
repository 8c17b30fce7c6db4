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
	"context"
	"fmt"
	"sort"

	"github.com/kpekel-labs/eventic/pkg/checkpoint"
)

// CheckpointsCmd inspects the on-disk checkpoint WAL directly, without
// starting an agent session.
type CheckpointsCmd struct {
	List    CheckpointsListCmd    `cmd:"" help:"List tasks with a recoverable checkpoint."`
	Inspect CheckpointsInspectCmd `cmd:"" help:"Show the latest checkpoint for one task."`
}

func openCheckpointManager(cli *CLI) (*checkpoint.Manager, error) {
	cfg, err := loadConfigFromArgs(cli)
	if err != nil {
		return nil, err
	}
	return checkpoint.NewManager(&cfg.Checkpoint, ".checkpoints")
}

// CheckpointsListCmd lists every task the WAL has a recoverable checkpoint
// for, along with the phase and timestamp of its latest entry.
type CheckpointsListCmd struct{}

func (c *CheckpointsListCmd) Run(cli *CLI) error {
	mgr, err := openCheckpointManager(cli)
	if err != nil {
		return err
	}

	manifest, err := mgr.RecoverOnStartup(context.Background())
	if err != nil {
		return err
	}

	if len(manifest.Checkpoints) == 0 {
		fmt.Println("no recoverable checkpoints")
		return nil
	}

	taskIDs := make([]string, 0, len(manifest.Checkpoints))
	for id := range manifest.Checkpoints {
		taskIDs = append(taskIDs, id)
	}
	sort.Strings(taskIDs)

	for _, id := range taskIDs {
		state := manifest.Checkpoints[id]
		fmt.Printf("%s  phase=%-14s seq=%-4d created=%s\n", id, state.Phase, state.SequenceNumber, state.CreatedAt.Format("2006-01-02T15:04:05"))
	}
	stats := mgr.Stats()
	fmt.Printf("\n%d tasks, %d checkpoints total\n", stats.TotalTasks, stats.TotalCheckpoints)
	return nil
}

// CheckpointsInspectCmd prints the full latest checkpoint state for one
// task ID.
type CheckpointsInspectCmd struct {
	TaskID string `arg:"" help:"Task ID to inspect."`
}

func (c *CheckpointsInspectCmd) Run(cli *CLI) error {
	mgr, err := openCheckpointManager(cli)
	if err != nil {
		return err
	}

	state, err := mgr.LoadCheckpoint(context.Background(), c.TaskID)
	if err != nil {
		return err
	}

	fmt.Printf("task_id:          %s\n", state.TaskID)
	fmt.Printf("sequence_number:  %d\n", state.SequenceNumber)
	fmt.Printf("phase:            %s\n", state.Phase)
	fmt.Printf("checkpoint_type:  %s\n", state.CheckpointType)
	fmt.Printf("created_at:       %s\n", state.CreatedAt)
	if state.Error != "" {
		fmt.Printf("error:            %s\n", state.Error)
	}
	fmt.Printf("data:             %s\n", string(state.Data))
	return nil
}
