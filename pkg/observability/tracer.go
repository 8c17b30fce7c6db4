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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func attrString(key, value string) attribute.KeyValue  { return attribute.String(key, value) }
func attrInt(key string, value int) attribute.KeyValue { return attribute.Int(key, value) }

// SpanTurn is the span name recorded for one ACTOR_CRITIC_LOOP turn.
const SpanTurn = "eventic.agentloop.turn"

// Attribute keys recorded on a turn span.
const (
	AttrConversationName = "eventic.conversation_name"
	AttrTurnNumber       = "eventic.turn_number"
	AttrTaskID           = "eventic.task_id"
	AttrTaskType         = "eventic.task_type"
)

// initTracerProvider builds the OTLP/gRPC trace provider described by
// cfg, or a noop provider when tracing is disabled. The returned
// shutdown func flushes and releases exporter resources; it is a no-op
// for the noop provider.
func initTracerProvider(ctx context.Context, cfg TracingConfig) (trace.TracerProvider, func(context.Context) error, error) {
	if !cfg.Enabled {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("observability: create OTLP trace exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		return nil, nil, fmt.Errorf("observability: build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(cfg.SamplingRate)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, tp.Shutdown, nil
}

// Tracer is the package-scoped tracer agentloop and task obtain spans
// from. It wraps a trace.TracerProvider so tests can substitute a noop
// provider without touching global OTel state.
type Tracer struct {
	provider trace.TracerProvider
}

// NewTracer builds a Tracer from cfg, returning a shutdown func that
// flushes the exporter and releases its resources. Callers must invoke
// shutdown on process exit regardless of whether tracing is enabled.
func NewTracer(ctx context.Context, cfg TracingConfig) (*Tracer, func(context.Context) error, error) {
	provider, shutdown, err := initTracerProvider(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return &Tracer{provider: provider}, shutdown, nil
}

// StartTurnSpan opens a span for one ACTOR_CRITIC_LOOP turn.
func (t *Tracer) StartTurnSpan(ctx context.Context, conversationName string, turnNumber int) (context.Context, trace.Span) {
	if t == nil || t.provider == nil {
		return ctx, noopSpan()
	}
	tracer := t.provider.Tracer("eventic.agentloop")
	return tracer.Start(ctx, SpanTurn, trace.WithAttributes(
		attrString(AttrConversationName, conversationName),
		attrInt(AttrTurnNumber, turnNumber),
	))
}

// StartTaskSpan opens a span covering one background task's execution.
func (t *Tracer) StartTaskSpan(ctx context.Context, taskID, taskType string) (context.Context, trace.Span) {
	if t == nil || t.provider == nil {
		return ctx, noopSpan()
	}
	tracer := t.provider.Tracer("eventic.task")
	return tracer.Start(ctx, "eventic.task.run", trace.WithAttributes(
		attrString(AttrTaskID, taskID),
		attrString(AttrTaskType, taskType),
	))
}

func noopSpan() trace.Span {
	_, span := noop.NewTracerProvider().Tracer("eventic.noop").Start(context.Background(), "noop")
	return span
}
