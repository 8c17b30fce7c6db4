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

// Package eventic implements the event-dispatched state machine core
// every request pipeline runs on: a frozen table mapping event names to
// handler functions, a plugin installer that populates that table once at
// construction, and a dispatch call that invokes a handler synchronously
// and lets it fan out further dispatches of its own, forming a call tree.
//
// There is no reflection and no dynamic string-keyed dispatch beyond a
// single map lookup: event names are a closed, typed enumeration
// (Name), and the handler table is frozen after every plugin has been
// installed, eliminating the hot-registration hazards a naive port of a
// "register handlers on a shared emitter" design would carry over.
package eventic

import (
	"context"
	"fmt"
	"sync"
)

// Name identifies one event a plugin can register a handler for. The set
// of valid names for a given Engine instantiation is defined by whichever
// plugin owns that pipeline (see pkg/agentloop for the agent loop's
// vocabulary); the engine itself attaches no meaning to the string.
type Name string

// Handler is the function bound to one Name. It receives the dispatching
// context and the pipeline's shared state carrier C (typically a pointer
// to a RequestContext-shaped type). A handler is free to call
// Engine.Dispatch itself to hand off to the next stage of the pipeline;
// the engine does not sequence handlers on a handler's behalf.
type Handler[C any] func(ctx context.Context, state C) error

// Plugin installs one or more handlers into an Engine at construction
// time. Install is called exactly once per plugin, during Use; a plugin
// must not retain the Engine reference past Install returning, since the
// handler table is frozen immediately after every plugin is installed.
type Plugin[C any] interface {
	Install(e *Engine[C]) error
}

// Engine is the event-dispatch substrate: a handler lookup table built by
// installing plugins at construction time, frozen thereafter, with a
// synchronous Dispatch entry point. It holds no per-request state of its
// own - every RequestContext-shaped value flows through as the state
// argument to Dispatch, so multiple Dispatch calls may run concurrently
// over disjoint states without the engine itself needing any locking on
// the hot path.
type Engine[C any] struct {
	mu       sync.RWMutex
	handlers map[Name]Handler[C]
	frozen   bool
}

// New creates an empty, unfrozen Engine. Call Use to install plugins,
// then Freeze before the first Dispatch.
func New[C any]() *Engine[C] {
	return &Engine[C]{handlers: make(map[Name]Handler[C])}
}

// On registers a handler for an event name, replacing any handler
// previously registered for that name. Valid only before Freeze; calling
// On after Freeze panics, since the whole point of freezing is that the
// table cannot change out from under a concurrently dispatching request.
func (e *Engine[C]) On(name Name, h Handler[C]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frozen {
		panic(fmt.Sprintf("eventic: On(%q) called after Freeze", name))
	}
	e.handlers[name] = h
}

// Use runs a plugin's installer, which registers its handlers via On and
// may record capabilities on itself for later retrieval by the caller.
// Valid only before Freeze.
func (e *Engine[C]) Use(p Plugin[C]) error {
	e.mu.RLock()
	frozen := e.frozen
	e.mu.RUnlock()
	if frozen {
		return fmt.Errorf("eventic: Use called after Freeze")
	}
	return p.Install(e)
}

// Freeze closes the handler table to further registration. After Freeze,
// Dispatch may be called concurrently from any number of goroutines over
// disjoint states with no further synchronization on the table itself.
func (e *Engine[C]) Freeze() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frozen = true
}

// Dispatch invokes the handler registered for name, passing it ctx and
// state. It deliberately does not short-circuit on a cancelled ctx
// itself: the handler is always invoked, and it is the handler's job to
// check ctx at its own checkpoint and decide what a cancellation means
// for its stage (e.g. routing to a terminal cleanup step instead of
// returning a bare context error up the call tree - see pkg/agentloop's
// handlers, which each open with their own ctx.Err() check and fall
// through to a finalize dispatch on a fresh context rather than
// propagating context.Canceled past the point where cleanup still needs
// to run). Dispatching an unregistered name is a programming error and
// returns ErrNoHandler.
func (e *Engine[C]) Dispatch(ctx context.Context, name Name, state C) error {
	e.mu.RLock()
	h, ok := e.handlers[name]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrNoHandler, name)
	}

	return h(ctx, state)
}

// Registered reports whether a handler is currently bound to name.
// Primarily useful for tests and for plugins that want to avoid replacing
// a handler a host application registered first.
func (e *Engine[C]) Registered(name Name) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.handlers[name]
	return ok
}
