package engine

import (
	"github.com/rendis/nodeflow/pkg/schema"
)

// TopologicalSort orders nodes so that for every connection the source node
// precedes the target node.
//
// Nodes without incident connections are kept. Ties are broken by the
// original node order, so the result is deterministic. Connections naming
// nodes outside the set are ignored, and repeated nodes or edges are
// collapsed. An empty connection set returns the nodes unchanged.
func TopologicalSort(nodes []schema.Node, connections []schema.Connection) ([]schema.Node, error) {
	if len(connections) == 0 {
		return nodes, nil
	}

	index := make(map[string]int, len(nodes))
	unique := make([]schema.Node, 0, len(nodes))
	for _, n := range nodes {
		if _, dup := index[n.ID]; dup {
			continue
		}
		index[n.ID] = len(unique)
		unique = append(unique, n)
	}

	type edge struct{ from, to int }
	seenEdge := make(map[edge]bool, len(connections))
	dependents := make([][]int, len(unique))
	inDegree := make([]int, len(unique))

	for _, c := range connections {
		from, okFrom := index[c.FromNodeID]
		to, okTo := index[c.ToNodeID]
		if !okFrom || !okTo {
			continue
		}
		if from == to {
			return nil, cycleError(unique, []int{from})
		}
		e := edge{from, to}
		if seenEdge[e] {
			continue
		}
		seenEdge[e] = true
		dependents[from] = append(dependents[from], to)
		inDegree[to]++
	}

	// Kahn's algorithm with a ready set ordered by original position.
	ready := make([]int, 0, len(unique))
	for i, d := range inDegree {
		if d == 0 {
			ready = append(ready, i)
		}
	}

	sorted := make([]schema.Node, 0, len(unique))
	for len(ready) > 0 {
		cur := ready[0]
		ready = ready[1:]
		sorted = append(sorted, unique[cur])

		for _, dep := range dependents[cur] {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				ready = insertSorted(ready, dep)
			}
		}
	}

	if len(sorted) != len(unique) {
		var stuck []int
		for i, d := range inDegree {
			if d > 0 {
				stuck = append(stuck, i)
			}
		}
		return nil, cycleError(unique, stuck)
	}

	return sorted, nil
}

// insertSorted inserts v into the ascending slice s.
func insertSorted(s []int, v int) []int {
	i := len(s)
	for i > 0 && s[i-1] > v {
		i--
	}
	s = append(s, 0)
	copy(s[i+1:], s[i:])
	s[i] = v
	return s
}

func cycleError(nodes []schema.Node, members []int) *schema.FlowError {
	ids := make([]string, 0, len(members))
	for _, i := range members {
		ids = append(ids, nodes[i].ID)
	}
	return schema.NewError(schema.ErrCodeCycleDetected, "workflow contains a cycle").
		WithDetails(map[string]any{"nodes": ids})
}
