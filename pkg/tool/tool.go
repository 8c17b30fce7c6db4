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

// Package tool defines the catalog of callable tools an agent loop may
// invoke, and the dispatch shim between a tool call requested by an LLM
// and the externally-provided handler that actually performs the work.
//
// The core never ships tool implementations (file I/O, shell, web search,
// and so on are out of scope) - it only defines the schema shape, the
// capability flags a scheduler needs to decide how to run a call, and a
// registry callers populate with their own handlers.
package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/kpekel-labs/eventic/pkg/registry"
)

// Capabilities describes scheduling-relevant properties of a tool.
type Capabilities struct {
	// RequiresConfirmation means the tool must not run without an explicit
	// human-in-the-loop confirmation step upstream of the dispatcher.
	RequiresConfirmation bool

	// Idempotent means re-invoking the tool with the same arguments after a
	// cancellation or crash is safe.
	Idempotent bool

	// ParallelSafe means the tool may run concurrently with other calls in
	// the same turn. Tools that are not parallel-safe are serialized.
	ParallelSafe bool

	// Timeout overrides the dispatcher's default per-tool-call timeout for
	// this tool specifically. Zero means the caller's default applies.
	Timeout time.Duration
}

// Schema describes a tool's name, purpose, and parameter shape for
// presentation to an LLM, plus the capability flags the agent loop's tool
// scheduler needs.
type Schema struct {
	Name         string
	Description  string
	Parameters   map[string]any
	Capabilities Capabilities
}

// Call represents an LLM's request to invoke a tool.
type Call struct {
	ID   string
	Name string
	Args map[string]any
}

// Result represents the outcome of a tool invocation, destined to be
// appended back into conversation history as a tool-result message.
type Result struct {
	CallID   string
	Content  string
	Error    string
	Status   ResultStatus
	Metadata map[string]any
}

// ResultStatus distinguishes how a tool call concluded.
type ResultStatus string

const (
	StatusOK        ResultStatus = "ok"
	StatusError     ResultStatus = "error"
	StatusCancelled ResultStatus = "cancelled"
)

// Handler executes a tool call. Implementations are supplied by the
// embedding application, not by this package.
type Handler interface {
	// Invoke runs the tool synchronously and returns its result.
	// Implementations must honor ctx cancellation promptly: a cancelled
	// context should produce a Result with Status=StatusCancelled rather
	// than blocking past the caller's deadline.
	Invoke(ctx context.Context, call Call) (Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, call Call) (Result, error)

func (f HandlerFunc) Invoke(ctx context.Context, call Call) (Result, error) {
	return f(ctx, call)
}

// entry pairs a schema with the handler that backs it.
type entry struct {
	schema  Schema
	handler Handler
}

// Registry is the catalog of tools available to the agent loop: one
// append-only, duplicate-rejecting map from tool name to (schema, handler),
// built on the shared generic registry.
type Registry struct {
	base *registry.BaseRegistry[entry]
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{base: registry.NewBaseRegistry[entry]()}
}

// Register adds a tool. Returns an error if the name is already taken.
func (r *Registry) Register(schema Schema, handler Handler) error {
	if schema.Name == "" {
		return fmt.Errorf("tool: schema name cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("tool: handler for %q cannot be nil", schema.Name)
	}
	return r.base.Register(schema.Name, entry{schema: schema, handler: handler})
}

// Available returns the schemas of every registered tool, for presentation
// to the LLM as part of a request.
func (r *Registry) Available() []Schema {
	entries := r.base.List()
	schemas := make([]Schema, 0, len(entries))
	for _, e := range entries {
		schemas = append(schemas, e.schema)
	}
	return schemas
}

// Schema looks up a single tool's schema by name.
func (r *Registry) Schema(name string) (Schema, bool) {
	e, ok := r.base.Get(name)
	if !ok {
		return Schema{}, false
	}
	return e.schema, true
}

// Invoke dispatches a tool call to its registered handler.
func (r *Registry) Invoke(ctx context.Context, call Call) (Result, error) {
	e, ok := r.base.Get(call.Name)
	if !ok {
		return Result{
			CallID: call.ID,
			Status: StatusError,
			Error:  fmt.Sprintf("tool %q is not registered", call.Name),
		}, fmt.Errorf("tool: %q not registered", call.Name)
	}
	return e.handler.Invoke(ctx, call)
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	return r.base.Count()
}
