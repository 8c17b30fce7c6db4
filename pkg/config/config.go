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

package config

import (
	"fmt"
	"time"

	"github.com/kpekel-labs/eventic/pkg/checkpoint"
	"github.com/kpekel-labs/eventic/pkg/observability"
)

// EngineConfig tunes the actor-critic agent loop: turn limits, the triage
// gate, tool concurrency, and the two timeout classes.
//
// Example:
//
//	engine:
//	  max_turns: 20
//	  triage_enabled: true
//	  parallel_tool_workers: 8
//	  tool_call_timeout_ms: 120000
//	  llm_call_timeout_ms: 300000
//	  history_token_budget: 8000
//	  autonomous_default_interval_ms: 5000
type EngineConfig struct {
	// MaxTurns caps actor-critic loop entries per request.
	// Default: 20
	MaxTurns int `yaml:"max_turns,omitempty"`

	// TriageEnabled gates whether cheap triage runs before the full loop.
	// Default: true
	TriageEnabled *bool `yaml:"triage_enabled,omitempty"`

	// ParallelToolWorkers bounds the worker pool parallel-safe tool calls
	// run on.
	// Default: 8
	ParallelToolWorkers int `yaml:"parallel_tool_workers,omitempty"`

	// ToolCallTimeoutMs is the per-tool-call timeout, in milliseconds.
	// Default: 120000
	ToolCallTimeoutMs int `yaml:"tool_call_timeout_ms,omitempty"`

	// LLMCallTimeoutMs is the per-LLM-call timeout, in milliseconds.
	// Default: 300000
	LLMCallTimeoutMs int `yaml:"llm_call_timeout_ms,omitempty"`

	// HistoryTokenBudget bounds how much conversation history is included
	// in a prompt. Zero means unbounded.
	// Default: 0
	HistoryTokenBudget int `yaml:"history_token_budget,omitempty"`

	// AutonomousDefaultIntervalMs is the default tick interval the Agent
	// Loop Controller uses for a play() call with no explicit interval.
	// Default: 60000
	AutonomousDefaultIntervalMs int `yaml:"autonomous_default_interval_ms,omitempty"`
}

// SetDefaults applies the documented defaults.
func (c *EngineConfig) SetDefaults() {
	if c.MaxTurns <= 0 {
		c.MaxTurns = 20
	}
	if c.TriageEnabled == nil {
		enabled := true
		c.TriageEnabled = &enabled
	}
	if c.ParallelToolWorkers <= 0 {
		c.ParallelToolWorkers = 8
	}
	if c.ToolCallTimeoutMs <= 0 {
		c.ToolCallTimeoutMs = 120_000
	}
	if c.LLMCallTimeoutMs <= 0 {
		c.LLMCallTimeoutMs = 300_000
	}
	if c.AutonomousDefaultIntervalMs <= 0 {
		c.AutonomousDefaultIntervalMs = 60_000
	}
}

// Validate checks the engine configuration.
func (c *EngineConfig) Validate() error {
	if c.MaxTurns < 0 {
		return fmt.Errorf("engine.max_turns must be non-negative")
	}
	if c.ParallelToolWorkers < 0 {
		return fmt.Errorf("engine.parallel_tool_workers must be non-negative")
	}
	if c.HistoryTokenBudget < 0 {
		return fmt.Errorf("engine.history_token_budget must be non-negative")
	}
	return nil
}

// IsTriageEnabled reports whether the triage gate runs.
func (c *EngineConfig) IsTriageEnabled() bool {
	return c == nil || c.TriageEnabled == nil || *c.TriageEnabled
}

// ToolCallTimeout returns ToolCallTimeoutMs as a Duration.
func (c *EngineConfig) ToolCallTimeout() time.Duration {
	return time.Duration(c.ToolCallTimeoutMs) * time.Millisecond
}

// LLMCallTimeout returns LLMCallTimeoutMs as a Duration.
func (c *EngineConfig) LLMCallTimeout() time.Duration {
	return time.Duration(c.LLMCallTimeoutMs) * time.Millisecond
}

// AutonomousDefaultInterval returns AutonomousDefaultIntervalMs as a Duration.
func (c *EngineConfig) AutonomousDefaultInterval() time.Duration {
	return time.Duration(c.AutonomousDefaultIntervalMs) * time.Millisecond
}

// TaskConfig bounds background-task admission, output retention, and the
// wall-clock window completed tasks stay queryable for.
//
// Example:
//
//	task:
//	  max_concurrent: 3
//	  output_buffer_bytes: 1048576
//	  output_retention_seconds: 86400
type TaskConfig struct {
	// MaxConcurrent caps tasks in the running state at once.
	// Default: 3
	MaxConcurrent int `yaml:"max_concurrent,omitempty"`

	// OutputBufferBytes bounds each task's output ring buffer.
	// Default: 1048576 (1 MiB)
	OutputBufferBytes int `yaml:"output_buffer_bytes,omitempty"`

	// OutputRetentionSeconds is how long a terminal task's record (and its
	// buffered output) stays listed before the Manager compacts it away.
	// Default: 86400 (24h)
	OutputRetentionSeconds int `yaml:"output_retention_seconds,omitempty"`
}

// SetDefaults applies the documented defaults.
func (c *TaskConfig) SetDefaults() {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 3
	}
	if c.OutputBufferBytes <= 0 {
		c.OutputBufferBytes = 1 << 20
	}
	if c.OutputRetentionSeconds <= 0 {
		c.OutputRetentionSeconds = 86_400
	}
}

// Validate checks the task configuration.
func (c *TaskConfig) Validate() error {
	if c.MaxConcurrent < 0 {
		return fmt.Errorf("task.max_concurrent must be non-negative")
	}
	if c.OutputBufferBytes < 0 {
		return fmt.Errorf("task.output_buffer_bytes must be non-negative")
	}
	return nil
}

// Retention returns OutputRetentionSeconds as a Duration.
func (c *TaskConfig) Retention() time.Duration {
	return time.Duration(c.OutputRetentionSeconds) * time.Second
}

// LLMConfig selects and tunes the LLM provider binding (A3).
//
// Example:
//
//	llm:
//	  provider: anthropic
//	  api_key: ${ANTHROPIC_API_KEY}
//	  model: claude-sonnet-4-20250514
//	  max_retries: 3
//	  base_delay_ms: 500
//	  max_delay_ms: 10000
type LLMConfig struct {
	// Provider selects the adapter binding.
	// Values: "anthropic", "openai"
	Provider string `yaml:"provider,omitempty"`

	// APIKey is the provider credential. Interpolated from the environment
	// before unmarshal, so this is usually a ${VAR} reference.
	APIKey string `yaml:"api_key,omitempty"`

	// Model is the model identifier passed to the provider.
	Model string `yaml:"model,omitempty"`

	// MaxRetries sets the attempt budget of the retrying HTTP client every
	// provider binding sits on. BaseDelayMs and MaxDelayMs are defaulted
	// and validated but are not passed to the provider bindings.
	// Defaults: 3, 500, 10000
	MaxRetries  int `yaml:"max_retries,omitempty"`
	BaseDelayMs int `yaml:"base_delay_ms,omitempty"`
	MaxDelayMs  int `yaml:"max_delay_ms,omitempty"`
}

// SetDefaults applies the documented defaults.
func (c *LLMConfig) SetDefaults() {
	if c.Provider == "" {
		c.Provider = "anthropic"
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseDelayMs <= 0 {
		c.BaseDelayMs = 500
	}
	if c.MaxDelayMs <= 0 {
		c.MaxDelayMs = 10_000
	}
}

// Validate checks the LLM configuration.
func (c *LLMConfig) Validate() error {
	switch c.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("invalid llm.provider %q (valid: anthropic, openai)", c.Provider)
	}
	if c.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must be non-negative")
	}
	return nil
}

// BaseDelay returns BaseDelayMs as a Duration.
func (c *LLMConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns MaxDelayMs as a Duration.
func (c *LLMConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// Config is the top-level, immutable configuration tree loaded once at
// startup by Loader. A reload produces a new *Config and hands it to
// subscribers via OnChange; nothing mutates a *Config in place after
// ProcessConfigPipeline returns it.
type Config struct {
	Engine        EngineConfig         `yaml:"engine,omitempty"`
	Checkpoint    checkpoint.Config    `yaml:"checkpoint,omitempty"`
	Task          TaskConfig           `yaml:"task,omitempty"`
	LLM           LLMConfig            `yaml:"llm,omitempty"`
	Logging       LoggerConfig         `yaml:"logging,omitempty"`
	Observability observability.Config `yaml:"observability,omitempty"`
}

// SetDefaults applies defaults across every section.
func (c *Config) SetDefaults() {
	c.Engine.SetDefaults()
	c.Checkpoint.SetDefaults()
	c.Task.SetDefaults()
	c.LLM.SetDefaults()
	c.Logging.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate checks every section in turn, returning the first error found.
func (c *Config) Validate() error {
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	if err := c.Checkpoint.Validate(); err != nil {
		return fmt.Errorf("checkpoint config: %w", err)
	}
	if err := c.Task.Validate(); err != nil {
		return fmt.Errorf("task config: %w", err)
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	if err := c.Observability.Validate(); err != nil {
		return fmt.Errorf("observability config: %w", err)
	}
	return nil
}

// ProcessConfigPipeline applies defaults and then validates the assembled
// configuration tree, matching the strict-unmarshal-then-process order
// unmarshalAndProcess relies on.
func ProcessConfigPipeline(cfg *Config) (*Config, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
