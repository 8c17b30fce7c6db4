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

package agentloop

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// startTurnSpan opens a span for one ACTOR_CRITIC_LOOP turn when obs is
// configured, returning a context carrying it and a finish func that
// closes the span and records the turn's duration and outcome against
// obs's metrics. Both returned values are safe to use unconditionally
// when obs is nil: ctx is returned unchanged and finish does nothing.
func startTurnSpan(ctx context.Context, rc *RequestContext) (context.Context, func(error)) {
	obs := rc.Services.Observability
	if obs == nil {
		return ctx, func(error) {}
	}

	start := time.Now()
	spanCtx, span := obs.Tracer.StartTurnSpan(ctx, rc.ConversationName, rc.TurnNumber)

	return spanCtx, func(err error) {
		recordTurnOutcome(span, err)
		span.End()
		obs.Metrics.RecordTurn(rc.ConversationName, time.Since(start), err)
	}
}

// recordTurnOutcome sets the span status for a finished turn, matching
// the error-classifies-as-span-status convention used throughout the
// pipeline's instrumentation.
func recordTurnOutcome(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
