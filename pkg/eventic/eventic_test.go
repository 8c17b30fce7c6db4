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

package eventic

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counterState struct {
	calls []Name
}

type countingPlugin struct{}

func (countingPlugin) Install(e *Engine[*counterState]) error {
	e.On("A", func(ctx context.Context, s *counterState) error {
		s.calls = append(s.calls, "A")
		return e.Dispatch(ctx, "B", s)
	})
	e.On("B", func(ctx context.Context, s *counterState) error {
		s.calls = append(s.calls, "B")
		return nil
	})
	return nil
}

func TestDispatchFormsCallTree(t *testing.T) {
	e := New[*counterState]()
	require.NoError(t, e.Use(countingPlugin{}))
	e.Freeze()

	s := &counterState{}
	require.NoError(t, e.Dispatch(context.Background(), "A", s))
	assert.Equal(t, []Name{"A", "B"}, s.calls)
}

func TestDispatchUnknownEvent(t *testing.T) {
	e := New[*counterState]()
	e.Freeze()

	err := e.Dispatch(context.Background(), "missing", &counterState{})
	assert.True(t, errors.Is(err, ErrNoHandler))
}

func TestOnAfterFreezePanics(t *testing.T) {
	e := New[*counterState]()
	e.Freeze()

	assert.Panics(t, func() {
		e.On("A", func(ctx context.Context, s *counterState) error { return nil })
	})
}

func TestDispatchPassesCancelledContextToHandler(t *testing.T) {
	e := New[*counterState]()
	e.On("A", func(ctx context.Context, s *counterState) error {
		s.calls = append(s.calls, "A")
		if err := ctx.Err(); err != nil {
			return err
		}
		return nil
	})
	e.Freeze()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &counterState{}
	err := e.Dispatch(ctx, "A", s)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []Name{"A"}, s.calls, "Dispatch must still invoke the handler so it can observe cancellation itself")
}

func TestDispatchDoesNotShortCircuitBeforeHandler(t *testing.T) {
	e := New[*counterState]()
	var sawCancellation bool
	e.On("A", func(ctx context.Context, s *counterState) error {
		sawCancellation = ctx.Err() != nil
		return nil
	})
	e.Freeze()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, e.Dispatch(ctx, "A", &counterState{}))
	assert.True(t, sawCancellation, "handler must see the cancelled context rather than Dispatch swallowing it before the call")
}

func TestConcurrentDispatchOverDisjointState(t *testing.T) {
	e := New[*counterState]()
	require.NoError(t, e.Use(countingPlugin{}))
	e.Freeze()

	const n = 50
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			errs <- e.Dispatch(context.Background(), "A", &counterState{})
		}()
	}
	for i := 0; i < n; i++ {
		assert.NoError(t, <-errs)
	}
}
