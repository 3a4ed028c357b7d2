package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

// mockAppender records appended events for assertions.
type mockAppender struct {
	mu     sync.Mutex
	events []*store.RunEvent
}

func (m *mockAppender) AppendRunEvent(_ context.Context, event *store.RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *mockAppender) Types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

// failAppender always returns an error.
type failAppender struct{}

func (failAppender) AppendRunEvent(_ context.Context, _ *store.RunEvent) error {
	return errors.New("store unavailable")
}

func TestRunFSM_HappyPath(t *testing.T) {
	app := &mockAppender{}
	fsm := NewRunFSM(app)
	ctx := context.Background()

	require.NoError(t, fsm.Transition(ctx, "r1", "wf", "", schema.RunStatusLoaded, nil))
	require.NoError(t, fsm.Transition(ctx, "r1", "wf", schema.RunStatusLoaded, schema.RunStatusSorted, map[string]any{"nodes": 3}))
	require.NoError(t, fsm.Transition(ctx, "r1", "wf", schema.RunStatusSorted, schema.RunStatusExecuting, nil))
	require.NoError(t, fsm.Transition(ctx, "r1", "wf", schema.RunStatusExecuting, schema.RunStatusCompleted, nil))

	assert.Equal(t, []string{
		schema.EventRunLoaded, schema.EventRunSorted, schema.EventRunExecuting, schema.EventRunCompleted,
	}, app.Types())

	var payload map[string]any
	require.NoError(t, json.Unmarshal(app.events[1].Payload, &payload))
	assert.Equal(t, 3.0, payload["nodes"])
}

func TestRunFSM_InvalidTransition(t *testing.T) {
	app := &mockAppender{}
	fsm := NewRunFSM(app)

	err := fsm.Transition(context.Background(), "r1", "wf", schema.RunStatusCompleted, schema.RunStatusExecuting, nil)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeInvalidTransition))
	assert.Empty(t, app.Types())
}

func TestRunFSM_AppenderFailure(t *testing.T) {
	fsm := NewRunFSM(failAppender{})
	err := fsm.Transition(context.Background(), "r1", "wf", "", schema.RunStatusLoaded, nil)
	require.Error(t, err)
	assert.True(t, schema.HasCode(err, schema.ErrCodeStore))
}

func TestRunFSM_Hooks(t *testing.T) {
	fsm := NewRunFSM(nil)
	var calls []string
	fsm.OnBefore(schema.RunStatusSorted, schema.RunStatusExecuting, func(from, to schema.RunStatus) error {
		calls = append(calls, "before")
		return nil
	})
	fsm.OnAfter(schema.RunStatusSorted, schema.RunStatusExecuting, func(from, to schema.RunStatus) error {
		calls = append(calls, "after")
		return nil
	})

	require.NoError(t, fsm.Transition(context.Background(), "r1", "wf", schema.RunStatusSorted, schema.RunStatusExecuting, nil))
	assert.Equal(t, []string{"before", "after"}, calls)

	veto := errors.New("veto")
	fsm.OnBefore(schema.RunStatusExecuting, schema.RunStatusCompleted, func(from, to schema.RunStatus) error { return veto })
	assert.ErrorIs(t, fsm.Transition(context.Background(), "r1", "wf", schema.RunStatusExecuting, schema.RunStatusCompleted, nil), veto)
}
