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

// Package observability wires the actor-critic turn loop (pkg/agentloop)
// and the background task manager (pkg/task) to OpenTelemetry tracing
// and Prometheus metrics: a span per ACTOR_CRITIC_LOOP turn, and
// counters/histograms per task spawn and terminal transition. Both sides
// degrade to no-ops when disabled, so a caller that never configures
// observability pays only the cost of a nil check.
package observability

import (
	"fmt"
	"time"
)

// Config is the top-level observability configuration, embedded into
// the application Config tree under the "observability" key.
//
// Example:
//
//	observability:
//	  tracing:
//	    enabled: true
//	    endpoint: localhost:4317
//	    sampling_rate: 0.25
//	    service_name: eventic
//	  metrics:
//	    enabled: true
//	    namespace: eventic
type Config struct {
	Tracing TracingConfig `yaml:"tracing,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig configures the OpenTelemetry OTLP/gRPC trace exporter.
type TracingConfig struct {
	// Enabled turns on span emission. Default: false.
	Enabled bool `yaml:"enabled,omitempty"`

	// Endpoint is the OTLP/gRPC collector address, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint,omitempty"`

	// SamplingRate is the fraction of turns traced, 0.0-1.0.
	// Default: 1.0
	SamplingRate float64 `yaml:"sampling_rate,omitempty"`

	// ServiceName identifies this process in exported spans.
	// Default: "eventic"
	ServiceName string `yaml:"service_name,omitempty"`

	// ShutdownTimeout bounds the exporter flush on process shutdown.
	// Default: 5s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
}

// MetricsConfig configures the Prometheus registry and its namespace.
type MetricsConfig struct {
	// Enabled turns on metrics collection. Default: false.
	Enabled bool `yaml:"enabled,omitempty"`

	// Namespace prefixes every metric name. Default: "eventic"
	Namespace string `yaml:"namespace,omitempty"`
}

// SetDefaults applies the documented defaults to whichever side is enabled.
func (c *Config) SetDefaults() {
	if c.Tracing.SamplingRate <= 0 {
		c.Tracing.SamplingRate = 1.0
	}
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "eventic"
	}
	if c.Tracing.ShutdownTimeout <= 0 {
		c.Tracing.ShutdownTimeout = 5 * time.Second
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "eventic"
	}
}

// Validate checks the observability configuration.
func (c *Config) Validate() error {
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("observability.tracing.sampling_rate must be between 0 and 1")
	}
	return nil
}
