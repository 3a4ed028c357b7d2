package diagram

import "github.com/rendis/nodeflow/pkg/schema"

// NodeKind groups node types by the shape they are drawn with.
type NodeKind string

const (
	NodeKindTrigger NodeKind = "trigger"
	NodeKindModel   NodeKind = "model"
	NodeKindMessage NodeKind = "message"
	NodeKindWait    NodeKind = "wait"
	NodeKindAction  NodeKind = "action"
)

// DiagramModel is the intermediate representation used by all renderers.
// Nodes are in execution order.
type DiagramModel struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node is one workflow node in the diagram.
type Node struct {
	ID     string
	Label  string
	Type   schema.NodeType
	Kind   NodeKind
	Order  int
	Status schema.NodeStatus
}

// Edge represents a connection between two nodes.
type Edge struct {
	From string
	To   string
}

func (m *DiagramModel) node(id string) *Node {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
