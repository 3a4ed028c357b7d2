package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/nodeflow/internal/diagram"
	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

// handleExecute starts a run. With wait set the run executes inline, so
// the result carries its final status.
func (s *Server) handleExecute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	initial := mcp.ParseStringMap(req, "initial_data", nil)
	ctx = logging.WithWorkflowID(ctx, workflowID)

	if _, err := s.store.GetWorkflow(ctx, workflowID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow lookup failed: %v", err)), nil
	}
	ev := engine.ExecuteEvent(workflowID, initial)

	if !req.GetBool("wait", false) {
		runID, err := s.runs.Enqueue(ctx, ev)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("enqueue failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"run_id": runID, "workflow_id": workflowID, "queued": true})
	}

	runID := engine.NewRunID()
	runErr := s.runs.Invoke(logging.WithRunID(ctx, runID), runID, ev)
	out := map[string]any{"run_id": runID, "workflow_id": workflowID}
	if sum, err := s.store.ReplayRun(ctx, runID); err == nil {
		out["status"] = sum.Status
	}
	if runErr != nil {
		out["error"] = runErr.Error()
		if fe, ok := schema.AsFlowError(runErr); ok {
			out["code"] = fe.Code
			if fe.NodeID != "" {
				out["node_id"] = fe.NodeID
			}
		}
	}
	return marshalResult(out)
}

func (s *Server) handleListWorkflows(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	wfs, err := s.store.ListWorkflows(ctx, store.WorkflowFilter{
		UserID: req.GetString("user_id", ""),
		Limit:  req.GetInt("limit", 50),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list workflows failed: %v", err)), nil
	}

	type workflowRow struct {
		ID        string `json:"id"`
		Name      string `json:"name"`
		UserID    string `json:"user_id,omitempty"`
		Nodes     int    `json:"nodes"`
		UpdatedAt string `json:"updated_at"`
	}
	rows := make([]workflowRow, 0, len(wfs))
	for _, wf := range wfs {
		rows = append(rows, workflowRow{
			ID:        wf.ID,
			Name:      wf.Name,
			UserID:    wf.UserID,
			Nodes:     len(wf.Nodes),
			UpdatedAt: wf.UpdatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	return marshalResult(map[string]any{"workflows": rows})
}

func (s *Server) handleDescribeWorkflow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID, err := req.RequireString("workflow_id")
	if err != nil {
		return mcp.NewToolResultError("workflow_id is required"), nil
	}
	format := req.GetString("format", "mermaid")

	wf, err := s.store.GetWorkflow(ctx, workflowID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("workflow not found: %v", err)), nil
	}
	model, err := diagram.Build(wf)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("diagram build failed: %v", err)), nil
	}

	switch format {
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "json":
		type nodeRow struct {
			Order   int             `json:"order"`
			ID      string          `json:"id"`
			Name    string          `json:"name"`
			Type    schema.NodeType `json:"type"`
			Channel string          `json:"channel"`
		}
		nodes := make([]nodeRow, 0, len(model.Nodes))
		for _, n := range model.Nodes {
			nodes = append(nodes, nodeRow{Order: n.Order, ID: n.ID, Name: n.Label, Type: n.Type, Channel: schema.ChannelFor(n.Type)})
		}
		return marshalResult(map[string]any{"id": wf.ID, "name": wf.Name, "nodes": nodes})
	default:
		return mcp.NewToolResultError("format must be json, mermaid, or ascii"), nil
	}
}

func (s *Server) handleGetRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	sum, err := s.store.ReplayRun(ctx, runID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", err)), nil
	}
	out := map[string]any{"run": sum}

	if req.GetBool("include_events", false) {
		events, err := s.store.ListRunEvents(ctx, runID, 0)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("list run events failed: %v", err)), nil
		}
		out["events"] = events
	}

	if format := req.GetString("diagram", "none"); format != "none" {
		text, err := s.runDiagram(ctx, sum, format)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		out["diagram"] = text
	}
	return marshalResult(out)
}

func (s *Server) runDiagram(ctx context.Context, sum *store.RunSummary, format string) (string, error) {
	wf, err := s.store.GetWorkflow(ctx, sum.WorkflowID)
	if err != nil {
		return "", fmt.Errorf("workflow not found: %w", err)
	}
	model, err := diagram.Build(wf)
	if err != nil {
		return "", fmt.Errorf("diagram build failed: %w", err)
	}
	model.ApplyRun(sum.Status, failedNode(sum.Error))

	if format == "ascii" {
		return diagram.RenderASCII(model), nil
	}
	return diagram.RenderMermaid(model), nil
}

func (s *Server) handleNodeTypes(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.catalog == nil {
		return mcp.NewToolResultError("no executor catalog configured"), nil
	}
	return marshalResult(map[string]any{"node_types": s.catalog.Describe()})
}

// failedNode reads the node ID from a run_failed payload.
func failedNode(payload json.RawMessage) string {
	var details struct {
		NodeID string `json:"node_id"`
	}
	if len(payload) == 0 || json.Unmarshal(payload, &details) != nil {
		return ""
	}
	return details.NodeID
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
