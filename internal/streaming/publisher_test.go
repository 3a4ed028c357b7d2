package streaming

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

type failingHub struct{ calls int }

func (h *failingHub) Publish(context.Context, StreamEvent) error {
	h.calls++
	return errors.New("broker down")
}

func (h *failingHub) Subscribe(context.Context, EventFilter) (<-chan StreamEvent, func(), error) {
	return nil, nil, errors.New("broker down")
}

func TestStatusPublisherBuildsEvent(t *testing.T) {
	hub := NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), EventFilter{Channel: "slack-execution"})
	require.NoError(t, err)
	defer cancel()

	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p := NewStatusPublisher(hub, nil)
	p.now = func() time.Time { return fixed }

	p.PublishStatus(context.Background(), "run-1", "wf-1", "slack-execution",
		schema.NodeStatusEvent{NodeID: "n1", Status: schema.NodeStatusSuccess})

	got := recv(t, ch)
	assert.Equal(t, StreamEvent{
		Channel:    "slack-execution",
		Topic:      schema.StatusTopic,
		RunID:      "run-1",
		WorkflowID: "wf-1",
		NodeID:     "n1",
		Status:     schema.NodeStatusSuccess,
		Timestamp:  fixed,
	}, got)
}

func TestStatusPublisherSurvivesCancelledRun(t *testing.T) {
	hub := NewMemoryHub()
	ch, cancel, err := hub.Subscribe(context.Background(), EventFilter{})
	require.NoError(t, err)
	defer cancel()

	ctx, stop := context.WithCancel(context.Background())
	stop()

	NewStatusPublisher(hub, nil).PublishStatus(ctx, "r", "w", "delay-execution",
		schema.NodeStatusEvent{NodeID: "n", Status: schema.NodeStatusError})
	assert.Equal(t, schema.NodeStatusError, recv(t, ch).Status)
}

func TestStatusPublisherSwallowsErrors(t *testing.T) {
	hub := &failingHub{}
	p := NewStatusPublisher(hub, nil)
	assert.NotPanics(t, func() {
		p.PublishStatus(context.Background(), "r", "w", "c", schema.NodeStatusEvent{NodeID: "n", Status: schema.NodeStatusLoading})
	})
	assert.Equal(t, 1, hub.calls)
}
