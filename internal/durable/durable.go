// Package durable defines the capability set the workflow engine requires
// from a durable-execution substrate, plus a journal-backed implementation
// used by the local runner.
package durable

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// StepFunc is the side effect wrapped by a step. Its result must be
// JSON-serializable.
type StepFunc func(ctx context.Context) (any, error)

// Step is the per-invocation handle executors use to wrap side effects.
//
// Run executes fn at most once effectively per run and name: when a result
// for the same name was already recorded in an earlier invocation of the
// run, fn is skipped and the recorded result is returned.
type Step interface {
	RunID() string
	Run(ctx context.Context, name string, fn StepFunc) (json.RawMessage, error)
	Sleep(ctx context.Context, name string, d time.Duration) error
}

// Event is the input of a run.
type Event struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data"`
}

// Invocation is a single delivery of a run to its handler. A run may be
// invoked several times when earlier attempts fail with retriable errors.
type Invocation struct {
	RunID   string
	Attempt int
	Event   Event
	Step    Step
}

// Handler processes one invocation of a run.
type Handler func(ctx context.Context, inv Invocation) error

// Run is the typed form of Step.Run. The result is always decoded from its
// recorded JSON form so that first executions and replays yield identical
// values.
func Run[T any](ctx context.Context, step Step, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	raw, err := step.Run(ctx, name, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return out, err
	}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode step %q result: %w", name, err)
	}
	return out, nil
}
