package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

// TransitionHook is called before or after a state transition.
type TransitionHook func(from, to schema.RunStatus) error

// EventAppender is satisfied by the Store; used by the FSM to record run
// lifecycle events.
type EventAppender interface {
	AppendRunEvent(ctx context.Context, event *store.RunEvent) error
}

type runHookKey struct {
	from, to schema.RunStatus
}

// RunFSM validates run lifecycle transitions and records them.
type RunFSM struct {
	mu       sync.Mutex
	appender EventAppender
	before   map[runHookKey][]TransitionHook
	after    map[runHookKey][]TransitionHook
}

// NewRunFSM creates a RunFSM that records events via the given appender.
// A nil appender disables recording.
func NewRunFSM(appender EventAppender) *RunFSM {
	return &RunFSM{
		appender: appender,
		before:   make(map[runHookKey][]TransitionHook),
		after:    make(map[runHookKey][]TransitionHook),
	}
}

// OnBefore registers a hook called before a transition.
func (f *RunFSM) OnBefore(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.before[key] = append(f.before[key], hook)
}

// OnAfter registers a hook called after a transition.
func (f *RunFSM) OnAfter(from, to schema.RunStatus, hook TransitionHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := runHookKey{from, to}
	f.after[key] = append(f.after[key], hook)
}

// Transition validates from -> to for the given run and records the
// matching event. details is stored as the event payload.
func (f *RunFSM) Transition(ctx context.Context, runID, workflowID string, from, to schema.RunStatus, details map[string]any) error {
	f.mu.Lock()
	before := f.before[runHookKey{from, to}]
	after := f.after[runHookKey{from, to}]
	f.mu.Unlock()

	if !isValidRunTransition(from, to) {
		return schema.NewErrorf(schema.ErrCodeInvalidTransition,
			"invalid run transition: %s -> %s", from, to).
			WithDetails(map[string]any{"run_id": runID, "from": string(from), "to": string(to)})
	}

	for _, hook := range before {
		if err := hook(from, to); err != nil {
			return err
		}
	}

	if f.appender != nil {
		event := &store.RunEvent{
			RunID:      runID,
			WorkflowID: workflowID,
			Type:       runEventType(to),
		}
		if len(details) > 0 {
			payload, err := json.Marshal(details)
			if err != nil {
				return schema.NewErrorf(schema.ErrCodeStore, "encode run event: %s", err.Error()).WithCause(err)
			}
			event.Payload = payload
		}
		if err := f.appender.AppendRunEvent(ctx, event); err != nil {
			return schema.NewErrorf(schema.ErrCodeStore, "record run event: %s", err.Error()).WithCause(err)
		}
	}

	for _, hook := range after {
		if err := hook(from, to); err != nil {
			return err
		}
	}
	return nil
}

// ValidRunTransitions defines the allowed run state transitions. The
// initial "" state is the moment an invocation starts.
var ValidRunTransitions = map[schema.RunStatus][]schema.RunStatus{
	"":                        {schema.RunStatusLoaded, schema.RunStatusFailed},
	schema.RunStatusLoaded:    {schema.RunStatusSorted, schema.RunStatusFailed},
	schema.RunStatusSorted:    {schema.RunStatusExecuting, schema.RunStatusFailed},
	schema.RunStatusExecuting: {schema.RunStatusCompleted, schema.RunStatusFailed},
	schema.RunStatusCompleted: {},
	schema.RunStatusFailed:    {},
}

func isValidRunTransition(from, to schema.RunStatus) bool {
	for _, a := range ValidRunTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}

func runEventType(to schema.RunStatus) string {
	switch to {
	case schema.RunStatusLoaded:
		return schema.EventRunLoaded
	case schema.RunStatusSorted:
		return schema.EventRunSorted
	case schema.RunStatusExecuting:
		return schema.EventRunExecuting
	case schema.RunStatusCompleted:
		return schema.EventRunCompleted
	default:
		return schema.EventRunFailed
	}
}
