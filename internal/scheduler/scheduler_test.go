package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/durable"
	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

// mockSchedulerStore holds schedule nodes and their state in memory.
type mockSchedulerStore struct {
	mu     sync.Mutex
	nodes  []schema.Node
	states map[string]*store.ScheduleState
}

func newMockSchedulerStore(nodes ...schema.Node) *mockSchedulerStore {
	return &mockSchedulerStore{nodes: nodes, states: make(map[string]*store.ScheduleState)}
}

func (m *mockSchedulerStore) ListNodesByType(_ context.Context, t schema.NodeType) ([]schema.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []schema.Node
	for _, n := range m.nodes {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *mockSchedulerStore) ListScheduleStates(context.Context) ([]*store.ScheduleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*store.ScheduleState
	for _, st := range m.states {
		cp := *st
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockSchedulerStore) UpsertScheduleState(_ context.Context, st *store.ScheduleState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *st
	m.states[st.NodeID] = &cp
	return nil
}

func (m *mockSchedulerStore) state(id string) *store.ScheduleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[id]
}

type mockRuns struct {
	mu     sync.Mutex
	events []durable.Event
	err    error
}

func (m *mockRuns) Enqueue(_ context.Context, ev durable.Event) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.events = append(m.events, ev)
	return engine.NewRunID(), nil
}

func (m *mockRuns) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func scheduleNode(id, cronExpr string) schema.Node {
	return schema.Node{
		ID:         id,
		WorkflowID: "wf-" + id,
		Type:       schema.NodeTypeScheduleTrigger,
		Data:       map[string]any{CronKey: cronExpr},
	}
}

// newTestScheduler returns a scheduler whose clock is controlled by the
// returned setter.
func newTestScheduler(st Store, runs Enqueuer) (*Scheduler, func(time.Time)) {
	s := NewScheduler(st, runs, time.Hour, nil)
	var mu sync.Mutex
	now := time.Date(2026, 3, 1, 10, 0, 30, 0, time.UTC)
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	return s, func(t time.Time) {
		mu.Lock()
		now = t
		mu.Unlock()
	}
}

func TestCalculateNextRun(t *testing.T) {
	s := NewScheduler(newMockSchedulerStore(), &mockRuns{}, 0, nil)
	from := time.Date(2026, 1, 1, 10, 30, 0, 0, time.UTC)

	next, err := s.CalculateNextRun("0 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 1, 11, 0, 0, 0, time.UTC), next)

	next, err = s.CalculateNextRun("@daily", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), next)

	_, err = s.CalculateNextRun("not a cron", from)
	assert.Error(t, err)
}

func TestTickArmsNewSchedule(t *testing.T) {
	st := newMockSchedulerStore(scheduleNode("a", "*/5 * * * *"))
	runs := &mockRuns{}
	s, _ := newTestScheduler(st, runs)

	assert.Equal(t, 0, s.Tick(context.Background()))
	assert.Equal(t, 0, runs.count())

	state := st.state("a")
	require.NotNil(t, state)
	assert.Equal(t, "wf-a", state.WorkflowID)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC), *state.NextRunAt)
	assert.Nil(t, state.LastRunAt)
}

func TestTickFiresDueSchedule(t *testing.T) {
	st := newMockSchedulerStore(scheduleNode("a", "*/5 * * * *"))
	runs := &mockRuns{}
	s, setNow := newTestScheduler(st, runs)
	ctx := context.Background()

	s.Tick(ctx)
	setNow(time.Date(2026, 3, 1, 10, 4, 0, 0, time.UTC))
	assert.Equal(t, 0, s.Tick(ctx), "not due yet")

	fireAt := time.Date(2026, 3, 1, 10, 5, 10, 0, time.UTC)
	setNow(fireAt)
	assert.Equal(t, 1, s.Tick(ctx))
	assert.Equal(t, 0, s.Tick(ctx), "already fired for this slot")

	require.Equal(t, 1, runs.count())
	req := engine.RequestFromEvent(runs.events[0])
	assert.Equal(t, "wf-a", req.WorkflowID)
	sched := req.InitialData["schedule"].(map[string]any)
	assert.Equal(t, "a", sched["nodeId"])
	assert.Equal(t, "2026-03-01T10:05:00Z", sched["scheduledAt"])
	assert.Equal(t, "2026-03-01T10:05:10Z", sched["firedAt"])

	state := st.state("a")
	assert.Equal(t, fireAt, *state.LastRunAt)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 10, 0, 0, time.UTC), *state.NextRunAt)
	assert.Equal(t, "success", state.LastRunStatus)
}

func TestMissedSlotsFireOnce(t *testing.T) {
	st := newMockSchedulerStore(scheduleNode("a", "* * * * *"))
	runs := &mockRuns{}
	s, setNow := newTestScheduler(st, runs)
	ctx := context.Background()

	s.Tick(ctx)
	setNow(time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC))
	require.NoError(t, s.RecoverMissed(ctx))
	assert.Equal(t, 1, runs.count())
}

func TestChangedExpressionRearms(t *testing.T) {
	st := newMockSchedulerStore(scheduleNode("a", "* * * * *"))
	runs := &mockRuns{}
	s, setNow := newTestScheduler(st, runs)
	ctx := context.Background()
	s.Tick(ctx)

	st.mu.Lock()
	st.nodes[0] = scheduleNode("a", "0 12 * * *")
	st.mu.Unlock()

	setNow(time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC))
	assert.Equal(t, 0, s.Tick(ctx))
	state := st.state("a")
	assert.Equal(t, "0 12 * * *", state.CronExpression)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), *state.NextRunAt)
}

func TestSkipsNodesWithoutValidCron(t *testing.T) {
	st := newMockSchedulerStore(
		scheduleNode("blank", ""),
		scheduleNode("bad", "every tuesday"),
		schema.Node{ID: "http", Type: schema.NodeTypeHTTPRequest, Data: map[string]any{CronKey: "* * * * *"}},
	)
	s, _ := newTestScheduler(st, &mockRuns{})
	s.Tick(context.Background())

	assert.Nil(t, st.state("blank"))
	assert.Nil(t, st.state("bad"))
	assert.Nil(t, st.state("http"))
}

func TestEnqueueFailureRecorded(t *testing.T) {
	st := newMockSchedulerStore(scheduleNode("a", "* * * * *"))
	runs := &mockRuns{err: errors.New("queue closed")}
	s, setNow := newTestScheduler(st, runs)
	ctx := context.Background()

	s.Tick(ctx)
	setNow(time.Date(2026, 3, 1, 10, 2, 0, 0, time.UTC))
	assert.Equal(t, 0, s.Tick(ctx))

	state := st.state("a")
	assert.Equal(t, "error", state.LastRunStatus)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 3, 0, 0, time.UTC), *state.NextRunAt)
}

func TestConcurrentTicksFireOnce(t *testing.T) {
	st := newMockSchedulerStore(scheduleNode("a", "* * * * *"))
	runs := &mockRuns{}
	s, setNow := newTestScheduler(st, runs)
	ctx := context.Background()
	s.Tick(ctx)
	setNow(time.Date(2026, 3, 1, 10, 1, 30, 0, time.UTC))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Tick(ctx)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, runs.count())
}

func TestStartStop(t *testing.T) {
	st := newMockSchedulerStore(scheduleNode("a", "* * * * *"))
	s := NewScheduler(st, &mockRuns{}, 10*time.Millisecond, nil)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "second start")

	require.Eventually(t, func() bool { return st.state("a") != nil }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}
