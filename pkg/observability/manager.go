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
	"fmt"
)

// Provider bundles the Tracer and Metrics a running process wires up
// once at startup and threads through to pkg/agentloop and pkg/task.
// A zero-value Provider (obtained by constructing with everything
// disabled) is safe to hold and use: every recording method on a nil
// Tracer/Metrics is a no-op.
type Provider struct {
	Tracer  *Tracer
	Metrics *Metrics

	shutdownTrace func(context.Context) error
}

// NewProvider constructs the tracing and metrics sides described by
// cfg. The returned Provider is always non-nil; either or both sides
// may be backed by no-ops depending on cfg.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	tracer, shutdownTrace, err := NewTracer(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("observability: init tracer: %w", err)
	}
	return &Provider{
		Tracer:        tracer,
		Metrics:       NewMetrics(cfg.Metrics),
		shutdownTrace: shutdownTrace,
	}, nil
}

// Shutdown flushes the trace exporter, honoring the ShutdownTimeout
// configured for tracing.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.shutdownTrace == nil {
		return nil
	}
	return p.shutdownTrace(ctx)
}
