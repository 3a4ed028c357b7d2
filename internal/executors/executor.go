// Package executors implements one Executor per node type. Every executor
// follows the same lifecycle: publish loading, validate configuration,
// render templates, perform its side effect inside a durable step, return
// the context extended by one key, publish success (or error on any
// failure path).
package executors

import (
	"context"
	"encoding/json"

	"github.com/rendis/nodeflow/internal/durable"
	"github.com/rendis/nodeflow/pkg/schema"
)

// StatusFunc emits a node status. It is fire-and-forget: delivery failures
// are never reported back to the executor.
type StatusFunc func(ctx context.Context, status schema.NodeStatus)

// Input is everything an executor receives for one node invocation.
type Input struct {
	NodeID  string
	Data    map[string]any
	Context schema.RunContext
	Step    durable.Step
	Publish StatusFunc
}

func (in Input) publish(ctx context.Context, status schema.NodeStatus) {
	if in.Publish != nil {
		in.Publish(ctx, status)
	}
}

// Executor performs the work of one node type.
type Executor interface {
	Type() schema.NodeType
	Schema() Schema
	// Execute returns in.Context extended by the node's output. in.Context
	// itself is never modified.
	Execute(ctx context.Context, in Input) (schema.RunContext, error)
}

// Schema describes the configuration an executor accepts.
type Schema struct {
	Description string          `json:"description,omitempty"`
	Config      json.RawMessage `json:"config_schema,omitempty"`
}

// observe brackets body with the loading and terminal status events and
// tags errors with the node ID.
func observe(ctx context.Context, in Input, body func() (schema.RunContext, error)) (schema.RunContext, error) {
	in.publish(ctx, schema.NodeStatusLoading)

	out, err := body()
	if err != nil {
		in.publish(ctx, schema.NodeStatusError)
		if fe, ok := schema.AsFlowError(err); ok && fe.NodeID == "" {
			fe.NodeID = in.NodeID
		}
		return nil, err
	}

	in.publish(ctx, schema.NodeStatusSuccess)
	return out, nil
}

// missing is the non-retriable error for absent required configuration.
func missing(nodeType schema.NodeType, field string) *schema.FlowError {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s node: %s is required", nodeType, field).
		WithDetails(map[string]any{"field": field})
}
