package store

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

func appendEvents(t *testing.T, s *LibSQLStore, runID, workflowID string, types ...string) {
	t.Helper()
	for _, et := range types {
		require.NoError(t, s.AppendRunEvent(context.Background(), &RunEvent{
			RunID: runID, WorkflowID: workflowID, Type: et,
		}))
	}
}

func TestAppendRunEvent_MonotonicSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		e := &RunEvent{RunID: "run-1", WorkflowID: "wf", Type: schema.EventRunLoaded}
		require.NoError(t, s.AppendRunEvent(ctx, e))
		assert.Equal(t, int64(i+1), e.Sequence, "sequence should be monotonic")
		assert.NotZero(t, e.ID)
	}
}

func TestAppendRunEvent_RunScopedSequences(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := &RunEvent{RunID: "run-a", WorkflowID: "wf", Type: schema.EventRunLoaded}
	b := &RunEvent{RunID: "run-b", WorkflowID: "wf", Type: schema.EventRunLoaded}
	require.NoError(t, s.AppendRunEvent(ctx, a))
	require.NoError(t, s.AppendRunEvent(ctx, b))
	assert.Equal(t, int64(1), a.Sequence)
	assert.Equal(t, int64(1), b.Sequence)
}

func TestAppendRunEvent_Concurrent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.AppendRunEvent(ctx, &RunEvent{RunID: "run-c", WorkflowID: "wf", Type: schema.EventRunLoaded}))
		}()
	}
	wg.Wait()

	events, err := s.ListRunEvents(ctx, "run-c", 0)
	require.NoError(t, err)
	require.Len(t, events, 10)
	for i, e := range events {
		assert.Equal(t, int64(i+1), e.Sequence)
	}
}

func TestListRunEvents_Since(t *testing.T) {
	s := newTestStore(t)
	appendEvents(t, s, "run-1", "wf",
		schema.EventRunLoaded, schema.EventRunSorted, schema.EventRunExecuting)

	events, err := s.ListRunEvents(context.Background(), "run-1", 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, schema.EventRunSorted, events[0].Type)
}

func TestReplayRun_Completed(t *testing.T) {
	s := newTestStore(t)
	appendEvents(t, s, "run-1", "wf-1",
		schema.EventRunLoaded, schema.EventRunSorted, schema.EventRunExecuting, schema.EventRunCompleted)

	sum, err := s.ReplayRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "wf-1", sum.WorkflowID)
	assert.Equal(t, schema.RunStatusCompleted, sum.Status)
	assert.Equal(t, 4, sum.Events)
	assert.Nil(t, sum.Error)
}

func TestReplayRun_FailedCarriesPayload(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	appendEvents(t, s, "run-1", "wf-1", schema.EventRunLoaded)
	require.NoError(t, s.AppendRunEvent(ctx, &RunEvent{
		RunID: "run-1", WorkflowID: "wf-1", NodeID: "fetch", Type: schema.EventRunFailed,
		Payload: json.RawMessage(`{"code":"EXECUTION_ERROR"}`),
	}))

	sum, err := s.ReplayRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusFailed, sum.Status)
	assert.JSONEq(t, `{"code":"EXECUTION_ERROR"}`, string(sum.Error))

	events, err := s.ListRunEvents(ctx, "run-1", 0)
	require.NoError(t, err)
	assert.Equal(t, "fetch", events[1].NodeID)
}

func TestReplayRun_Missing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.ReplayRun(context.Background(), "nope")
	assert.True(t, schema.HasCode(err, schema.ErrCodeNotFound))
}

func TestReplayRun_SequenceGap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	appendEvents(t, s, "run-1", "wf", schema.EventRunLoaded)
	_, err := s.DB().ExecContext(ctx,
		`INSERT INTO run_events (run_id, workflow_id, event_type, sequence) VALUES ('run-1', 'wf', 'run_sorted', 3)`)
	require.NoError(t, err)

	_, err = s.ReplayRun(ctx, "run-1")
	assert.True(t, schema.HasCode(err, schema.ErrCodeStore))
}

func TestListRuns(t *testing.T) {
	s := newTestStore(t)
	appendEvents(t, s, "run-1", "wf-1", schema.EventRunLoaded, schema.EventRunFailed)
	appendEvents(t, s, "run-2", "wf-1", schema.EventRunLoaded)
	appendEvents(t, s, "run-3", "wf-2", schema.EventRunLoaded)

	runs, err := s.ListRuns(context.Background(), RunFilter{WorkflowID: "wf-1"})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID)
	assert.Equal(t, schema.RunStatusFailed, runs[1].Status)

	all, err := s.ListRuns(context.Background(), RunFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
