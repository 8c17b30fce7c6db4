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

package observability

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewProviderDisabledIsNoop(t *testing.T) {
	p, err := NewProvider(context.Background(), Config{})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if p.Metrics != nil {
		t.Fatal("NewProvider() with metrics disabled should leave Metrics nil")
	}

	ctx, span := p.Tracer.StartTurnSpan(context.Background(), "conv-1", 1)
	if ctx == nil || span == nil {
		t.Fatal("StartTurnSpan() on a noop tracer must still return a usable context and span")
	}
	span.End()

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
}

func TestNilProviderMethodsAreNoop(t *testing.T) {
	var p *Provider
	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() on nil Provider error = %v", err)
	}

	var tracer *Tracer
	ctx, span := tracer.StartTurnSpan(context.Background(), "conv-1", 1)
	if ctx == nil || span == nil {
		t.Fatal("StartTurnSpan() on a nil Tracer must still return a usable context and span")
	}

	var m *Metrics
	m.RecordTurn("conv-1", time.Second, nil)
	m.RecordTaskSpawned("oneshot")
	m.RecordTaskTerminal("oneshot", "succeeded", time.Second)
}

func TestMetricsRecordTurn(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})
	if m == nil {
		t.Fatal("NewMetrics() with metrics enabled returned nil")
	}

	m.RecordTurn("conv-1", 250*time.Millisecond, nil)
	m.RecordTurn("conv-1", time.Second, context.DeadlineExceeded)

	if got := counterValue(t, m.turnsTotal, "conv-1"); got != 2 {
		t.Fatalf("turnsTotal = %v, want 2", got)
	}
	if got := counterValue(t, m.turnErrors, "conv-1"); got != 1 {
		t.Fatalf("turnErrors = %v, want 1", got)
	}
}

func TestMetricsRecordTaskLifecycle(t *testing.T) {
	m := NewMetrics(MetricsConfig{Enabled: true, Namespace: "test"})

	m.RecordTaskSpawned("workspace")
	m.RecordTaskTerminal("workspace", "succeeded", 3*time.Second)
	m.RecordTaskTerminal("workspace", "failed", time.Second)

	if got := counterValue(t, m.tasksSpawned, "workspace"); got != 1 {
		t.Fatalf("tasksSpawned = %v, want 1", got)
	}
	if got := counterValue(t, m.tasksTerminal, "workspace", "succeeded"); got != 1 {
		t.Fatalf("tasksTerminal{succeeded} = %v, want 1", got)
	}
	if got := counterValue(t, m.tasksTerminal, "workspace", "failed"); got != 1 {
		t.Fatalf("tasksTerminal{failed} = %v, want 1", got)
	}
}

func TestConfigSetDefaultsAndValidate(t *testing.T) {
	cfg := Config{Tracing: TracingConfig{Enabled: true}}
	cfg.SetDefaults()

	if cfg.Tracing.SamplingRate != 1.0 {
		t.Fatalf("SamplingRate default = %v, want 1.0", cfg.Tracing.SamplingRate)
	}
	if cfg.Tracing.ServiceName != "eventic" {
		t.Fatalf("ServiceName default = %q, want eventic", cfg.Tracing.ServiceName)
	}
	if cfg.Tracing.ShutdownTimeout != 5*time.Second {
		t.Fatalf("ShutdownTimeout default = %v, want 5s", cfg.Tracing.ShutdownTimeout)
	}

	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() should require an endpoint when tracing is enabled")
	}

	cfg.Tracing.Endpoint = "localhost:4317"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v after setting endpoint", err)
	}

	cfg.Tracing.SamplingRate = 1.5
	if err := cfg.Validate(); err == nil {
		t.Fatal("Validate() should reject a sampling rate above 1")
	}
}

func counterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	c, err := vec.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues(%v) error = %v", labels, err)
	}
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if m.Counter != nil {
		return m.Counter.GetValue()
	}
	return 0
}
