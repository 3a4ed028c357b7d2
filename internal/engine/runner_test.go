package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/durable"
	"github.com/rendis/nodeflow/pkg/schema"
)

func fastRetry(max int) RunnerConfig {
	return RunnerConfig{Workers: 2, Retry: RetryPolicy{MaxAttempts: max, Backoff: BackoffConstant, Delay: time.Millisecond}}
}

func TestLocalRunner_InvokeStopsOnNonRetriable(t *testing.T) {
	var calls atomic.Int32
	r := NewLocalRunner(func(ctx context.Context, inv durable.Invocation) error {
		calls.Add(1)
		return schema.NewError(schema.ErrCodeUnauthorized, "no")
	}, durable.NewMemoryMemo(), fastRetry(5), nil)

	err := r.Invoke(context.Background(), "run", durable.Event{})
	assert.True(t, schema.HasCode(err, schema.ErrCodeUnauthorized))
	assert.Equal(t, int32(1), calls.Load())
}

func TestLocalRunner_InvokeGivesUpAfterMaxAttempts(t *testing.T) {
	var attempts []int
	r := NewLocalRunner(func(ctx context.Context, inv durable.Invocation) error {
		attempts = append(attempts, inv.Attempt)
		assert.Equal(t, "run", inv.Step.RunID())
		return schema.NewError(schema.ErrCodeTimeout, "slow")
	}, durable.NewMemoryMemo(), fastRetry(3), nil)

	err := r.Invoke(context.Background(), "run", durable.Event{})
	assert.True(t, schema.HasCode(err, schema.ErrCodeTimeout))
	assert.Equal(t, []int{0, 1, 2}, attempts)
}

func TestLocalRunner_ReplaysStepsThenDropsThem(t *testing.T) {
	memo := durable.NewMemoryMemo()
	var sends atomic.Int32
	r := NewLocalRunner(func(ctx context.Context, inv durable.Invocation) error {
		if _, err := inv.Step.Run(ctx, "send", func(context.Context) (any, error) {
			sends.Add(1)
			return "sent", nil
		}); err != nil {
			return err
		}
		if inv.Attempt == 0 {
			return schema.NewError(schema.ErrCodeTimeout, "slow")
		}
		return nil
	}, memo, fastRetry(3), nil)

	require.NoError(t, r.Invoke(context.Background(), "run-1", durable.Event{}))
	assert.Equal(t, int32(1), sends.Load())

	_, ok, err := memo.GetStepResult(context.Background(), "run-1", "send")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalRunner_TerminalFailureDropsSteps(t *testing.T) {
	memo := durable.NewMemoryMemo()
	r := NewLocalRunner(func(ctx context.Context, inv durable.Invocation) error {
		if _, err := inv.Step.Run(ctx, "send", func(context.Context) (any, error) { return 1, nil }); err != nil {
			return err
		}
		return schema.NewError(schema.ErrCodeUnauthorized, "no")
	}, memo, fastRetry(3), nil)

	require.Error(t, r.Invoke(context.Background(), "run-1", durable.Event{}))

	_, ok, err := memo.GetStepResult(context.Background(), "run-1", "send")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalRunner_CanceledRunKeepsSteps(t *testing.T) {
	memo := durable.NewMemoryMemo()
	ctx, cancel := context.WithCancel(context.Background())
	r := NewLocalRunner(func(ctx context.Context, inv durable.Invocation) error {
		if _, err := inv.Step.Run(ctx, "send", func(context.Context) (any, error) { return 1, nil }); err != nil {
			return err
		}
		cancel()
		return schema.NewError(schema.ErrCodeTimeout, "slow")
	}, memo, RunnerConfig{Retry: RetryPolicy{MaxAttempts: 3, Backoff: BackoffConstant, Delay: time.Hour}}, nil)

	err := r.Invoke(ctx, "run-1", durable.Event{})
	assert.ErrorIs(t, err, context.Canceled)

	_, ok, gerr := memo.GetStepResult(context.Background(), "run-1", "send")
	require.NoError(t, gerr)
	assert.True(t, ok)
}

func TestLocalRunner_EnqueueAndStart(t *testing.T) {
	var mu sync.Mutex
	got := map[string]string{}
	done := make(chan struct{}, 3)

	r := NewLocalRunner(func(ctx context.Context, inv durable.Invocation) error {
		mu.Lock()
		got[inv.RunID] = RequestFromEvent(inv.Event).WorkflowID
		mu.Unlock()
		done <- struct{}{}
		return nil
	}, durable.NewMemoryMemo(), fastRetry(1), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Start(ctx) }()

	ids := make([]string, 0, 3)
	for _, wf := range []string{"a", "b", "c"} {
		id, err := r.Enqueue(ctx, ExecuteEvent(wf, nil))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	for i := 0; i < 3; i++ {
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("runs did not complete")
		}
	}
	r.Shutdown()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "a", got[ids[0]])
	assert.Equal(t, "b", got[ids[1]])
	assert.Equal(t, "c", got[ids[2]])
	assert.Equal(t, int64(3), r.Metrics().Completed)
}

func TestLocalRunner_EnqueueAfterShutdown(t *testing.T) {
	r := NewLocalRunner(func(context.Context, durable.Invocation) error { return nil },
		durable.NewMemoryMemo(), RunnerConfig{QueueSize: 1}, nil)
	r.Shutdown()

	_, err := r.Enqueue(context.Background(), ExecuteEvent("wf", nil))
	// The buffered queue may still accept; a second enqueue cannot.
	if err == nil {
		_, err = r.Enqueue(context.Background(), ExecuteEvent("wf", nil))
	}
	assert.Error(t, err)
}

func TestNewRunID_Sortable(t *testing.T) {
	a := NewRunID()
	time.Sleep(2 * time.Millisecond)
	b := NewRunID()
	assert.Len(t, a, 26)
	assert.NotEqual(t, a, b)
	assert.Less(t, a, b)
}
