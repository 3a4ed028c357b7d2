// Package streaming carries node status events from running workflows to
// live subscribers.
package streaming

import (
	"context"
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

// StreamEvent is one status update for one node of one run.
type StreamEvent struct {
	Channel    string            `json:"channel"`
	Topic      string            `json:"topic"`
	RunID      string            `json:"run_id,omitempty"`
	WorkflowID string            `json:"workflow_id,omitempty"`
	NodeID     string            `json:"node_id"`
	Status     schema.NodeStatus `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
}

// EventFilter selects the events a subscriber receives. Empty fields match
// everything.
type EventFilter struct {
	Channel    string `json:"channel,omitempty"`
	RunID      string `json:"run_id,omitempty"`
	WorkflowID string `json:"workflow_id,omitempty"`
}

// EventHub provides best-effort pub/sub for status events. Events are not
// persisted; a subscriber that falls behind loses events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}

func matchFilter(f EventFilter, e StreamEvent) bool {
	if f.Channel != "" && f.Channel != e.Channel {
		return false
	}
	if f.RunID != "" && f.RunID != e.RunID {
		return false
	}
	if f.WorkflowID != "" && f.WorkflowID != e.WorkflowID {
		return false
	}
	return true
}
