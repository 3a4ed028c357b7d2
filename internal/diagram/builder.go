package diagram

import (
	"fmt"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Build constructs a DiagramModel from a workflow. Nodes are placed in the
// order the orchestrator would run them; a cyclic workflow is an error.
func Build(wf *schema.Workflow) (*DiagramModel, error) {
	sorted, err := engine.TopologicalSort(wf.Nodes, wf.Connections)
	if err != nil {
		return nil, fmt.Errorf("diagram: sort workflow %s: %w", wf.ID, err)
	}

	model := &DiagramModel{Title: wf.Name}
	if model.Title == "" {
		model.Title = "Workflow"
	}

	known := make(map[string]bool, len(sorted))
	for i, n := range sorted {
		model.Nodes = append(model.Nodes, &Node{
			ID:    n.ID,
			Label: nodeLabel(n),
			Type:  n.Type,
			Kind:  kindOf(n.Type),
			Order: i + 1,
		})
		known[n.ID] = true
	}
	for _, c := range wf.Connections {
		if known[c.FromNodeID] && known[c.ToNodeID] {
			model.Edges = append(model.Edges, Edge{From: c.FromNodeID, To: c.ToNodeID})
		}
	}
	model.Levels = buildLevels(model)
	return model, nil
}

// ApplyRun marks node statuses from a run outcome. Nodes before the failed
// node succeeded; with no failed node every node is marked completed or,
// for an unfinished run, left blank.
func (m *DiagramModel) ApplyRun(status schema.RunStatus, failedNodeID string) {
	for _, n := range m.Nodes {
		n.Status = ""
	}
	switch status {
	case schema.RunStatusCompleted:
		for _, n := range m.Nodes {
			n.Status = schema.NodeStatusSuccess
		}
	case schema.RunStatusFailed:
		failed := m.node(failedNodeID)
		if failed == nil {
			return
		}
		for _, n := range m.Nodes {
			if n.Order < failed.Order {
				n.Status = schema.NodeStatusSuccess
			}
		}
		failed.Status = schema.NodeStatusError
	}
}

func nodeLabel(n schema.Node) string {
	if n.Name != "" {
		return n.Name
	}
	return string(n.Type)
}

func kindOf(t schema.NodeType) NodeKind {
	switch t {
	case schema.NodeTypeGemini, schema.NodeTypeOpenAI, schema.NodeTypeAnthropic, schema.NodeTypeOllama:
		return NodeKindModel
	case schema.NodeTypeDiscord, schema.NodeTypeSlack, schema.NodeTypeTelegramAction:
		return NodeKindMessage
	case schema.NodeTypeDelay:
		return NodeKindWait
	}
	if t.IsTrigger() {
		return NodeKindTrigger
	}
	return NodeKindAction
}

// buildLevels groups nodes by longest distance from a root, keeping
// execution order inside each level.
func buildLevels(m *DiagramModel) [][]string {
	depth := make(map[string]int, len(m.Nodes))
	incoming := make(map[string][]string)
	for _, e := range m.Edges {
		incoming[e.To] = append(incoming[e.To], e.From)
	}

	var levels [][]string
	for _, n := range m.Nodes {
		d := 0
		for _, from := range incoming[n.ID] {
			if depth[from]+1 > d {
				d = depth[from] + 1
			}
		}
		depth[n.ID] = d
		for len(levels) <= d {
			levels = append(levels, nil)
		}
		levels[d] = append(levels[d], n.ID)
	}
	return levels
}
