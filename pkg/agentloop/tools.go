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
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/kpekel-labs/eventic/pkg/stream"
	"github.com/kpekel-labs/eventic/pkg/tool"
)

// executeToolCalls partitions calls into parallel-safe and sequential
// groups, runs the parallel-safe group on a bounded worker pool and the
// rest in declaration order, and returns results in the original callId
// order regardless of completion order. The second return value reports
// whether the RequestContext's cancellation fired during execution.
func executeToolCalls(ctx context.Context, rc *RequestContext, calls []tool.Call) ([]tool.Result, bool) {
	svc := rc.Services

	var parallelCalls, sequentialCalls []tool.Call
	for _, c := range calls {
		if schema, ok := svc.Tools.Schema(c.Name); ok && schema.Capabilities.ParallelSafe {
			parallelCalls = append(parallelCalls, c)
		} else {
			sequentialCalls = append(sequentialCalls, c)
		}
	}

	results := make(map[string]tool.Result, len(calls))
	var mu sync.Mutex
	var cancelled atomic.Bool

	runOne := func(c tool.Call) {
		res := invokeTool(ctx, rc, c, &cancelled)
		mu.Lock()
		results[c.ID] = res
		mu.Unlock()
	}

	if len(parallelCalls) > 0 {
		workers := svc.Config.ParallelToolWorkers
		if workers <= 0 {
			workers = 1
		}
		sem := make(chan struct{}, workers)
		var wg sync.WaitGroup
		for _, c := range parallelCalls {
			c := c
			wg.Add(1)
			sem <- struct{}{}
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				runOne(c)
			}()
		}
		wg.Wait()
	}

	for _, c := range sequentialCalls {
		runOne(c)
	}

	ordered := make([]tool.Result, 0, len(calls))
	for _, c := range calls {
		ordered = append(ordered, results[c.ID])
	}
	return ordered, cancelled.Load() || ctx.Err() != nil
}

// invokeTool runs one tool call under its own per-invocation timeout
// (schema override or the services default) and publishes the
// tool-call-open/close/result progress events around it.
func invokeTool(ctx context.Context, rc *RequestContext, c tool.Call, cancelled *atomic.Bool) tool.Result {
	svc := rc.Services

	if ctx.Err() != nil {
		cancelled.Store(true)
		return tool.Result{CallID: c.ID, Status: tool.StatusCancelled}
	}

	timeout := svc.Config.ToolCallTimeout
	if schema, ok := svc.Tools.Schema(c.Name); ok && schema.Capabilities.Timeout > 0 {
		timeout = schema.Capabilities.Timeout
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	svc.Progress.Publish(stream.Event{
		Kind:             stream.KindRequestToolCallOpen,
		ConversationName: rc.ConversationName,
		RequestID:        rc.ID,
		Payload:          c,
	})

	res, err := svc.Tools.Invoke(cctx, c)
	res.CallID = c.ID

	switch {
	case ctx.Err() != nil:
		res.Status = tool.StatusCancelled
		cancelled.Store(true)
	case cctx.Err() != nil:
		res.Status = tool.StatusError
		res.Error = fmt.Sprintf("tool %q timed out after %s", c.Name, timeout)
	case err != nil && res.Status == "":
		res.Status = tool.StatusError
		res.Error = err.Error()
	}

	svc.Progress.Publish(stream.Event{
		Kind:             stream.KindRequestToolCallClose,
		ConversationName: rc.ConversationName,
		RequestID:        rc.ID,
		Payload:          res,
	})
	svc.Progress.Publish(stream.Event{
		Kind:             stream.KindRequestToolResult,
		ConversationName: rc.ConversationName,
		RequestID:        rc.ID,
		Payload:          res,
	})

	return res
}
