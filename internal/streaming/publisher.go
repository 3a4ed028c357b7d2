package streaming

import (
	"context"
	"log/slog"
	"time"

	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/pkg/schema"
)

// StatusPublisher turns executor status calls into hub events. Failures
// are logged and otherwise ignored; status delivery never affects a run.
type StatusPublisher struct {
	hub    EventHub
	logger *slog.Logger
	now    func() time.Time
}

// NewStatusPublisher creates a publisher over hub.
func NewStatusPublisher(hub EventHub, logger *slog.Logger) *StatusPublisher {
	if logger == nil {
		logger = logging.Discard()
	}
	return &StatusPublisher{hub: hub, logger: logger, now: time.Now}
}

func (p *StatusPublisher) PublishStatus(ctx context.Context, runID, workflowID, channel string, ev schema.NodeStatusEvent) {
	// A cancelled run still reports its final status.
	ctx = context.WithoutCancel(ctx)
	err := p.hub.Publish(ctx, StreamEvent{
		Channel:    channel,
		Topic:      schema.StatusTopic,
		RunID:      runID,
		WorkflowID: workflowID,
		NodeID:     ev.NodeID,
		Status:     ev.Status,
		Timestamp:  p.now().UTC(),
	})
	if err != nil {
		p.logger.DebugContext(ctx, "status event not delivered", "channel", channel, "node_id", ev.NodeID, "error", err)
	}
}
