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

import "fmt"

// ValidateCmd loads a configuration source and reports whether it passes
// ProcessConfigPipeline (defaults + validation) without starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	cfg, err := loadConfigFromArgs(cli)
	if err != nil {
		return fmt.Errorf("configuration invalid: %w", err)
	}

	fmt.Println("configuration OK")
	fmt.Printf("  engine.max_turns              = %d\n", cfg.Engine.MaxTurns)
	fmt.Printf("  engine.triage_enabled         = %t\n", cfg.Engine.IsTriageEnabled())
	fmt.Printf("  engine.parallel_tool_workers  = %d\n", cfg.Engine.ParallelToolWorkers)
	fmt.Printf("  task.max_concurrent           = %d\n", cfg.Task.MaxConcurrent)
	fmt.Printf("  task.output_retention         = %s\n", cfg.Task.Retention())
	fmt.Printf("  checkpoint.enabled            = %t\n", cfg.Checkpoint.IsEnabled())
	fmt.Printf("  llm.provider                  = %s\n", cfg.LLM.Provider)
	fmt.Printf("  llm.model                     = %s\n", cfg.LLM.Model)
	fmt.Printf("  logging.level                 = %s\n", cfg.Logging.Level)
	return nil
}
