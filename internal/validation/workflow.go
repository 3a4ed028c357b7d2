package validation

import (
	"fmt"
	"strings"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Issue is a single problem found in a workflow graph.
type Issue struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Result collects the issues found while checking a workflow.
type Result struct {
	Errors   []Issue `json:"errors,omitempty"`
	Warnings []Issue `json:"warnings,omitempty"`
}

func (r *Result) addError(path, code, msg string) {
	r.Errors = append(r.Errors, Issue{Path: path, Code: code, Message: msg})
}

func (r *Result) addWarning(path, code, msg string) {
	r.Warnings = append(r.Warnings, Issue{Path: path, Code: code, Message: msg})
}

// Valid reports whether no errors were found.
func (r *Result) Valid() bool { return len(r.Errors) == 0 }

// Err returns the result as a VALIDATION_ERROR, or nil when valid.
func (r *Result) Err() error {
	if r.Valid() {
		return nil
	}
	msgs := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		msgs[i] = e.Path + ": " + e.Message
	}
	return schema.NewError(schema.ErrCodeValidation, strings.Join(msgs, "; ")).
		WithDetails(map[string]any{"errors": r.Errors})
}

// TypeLookup reports whether an executor exists for a node type.
type TypeLookup interface {
	Has(t schema.NodeType) bool
}

// CheckWorkflow performs the authoring-time checks the engine itself does
// not enforce: node IDs and variable names are unique, connections refer
// to known nodes, every node type has an executor, and the graph has
// exactly one trigger.
func CheckWorkflow(wf *schema.Workflow, lookup TypeLookup) *Result {
	result := &Result{}
	if wf == nil {
		result.addError("", schema.ErrCodeValidation, "workflow is nil")
		return result
	}

	ids := make(map[string]bool, len(wf.Nodes))
	vars := make(map[string]string, len(wf.Nodes))
	triggers := 0

	for i, n := range wf.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		if ids[n.ID] {
			result.addError(path+".id", schema.ErrCodeConflict, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		ids[n.ID] = true

		if lookup != nil && !lookup.Has(n.Type) {
			result.addError(path+".type", schema.ErrCodeUnknownNodeType, fmt.Sprintf("no executor for node type %q", n.Type))
		}
		if n.Type.IsTrigger() {
			triggers++
		}

		if name, _ := n.Data["variableName"].(string); name != "" {
			if other, dup := vars[name]; dup {
				result.addError(path+".data.variableName", schema.ErrCodeConflict,
					fmt.Sprintf("variable name %q already used by node %q", name, other))
			} else {
				vars[name] = n.ID
			}
		}
	}

	switch {
	case triggers == 0:
		result.addWarning("nodes", schema.ErrCodeValidation, "workflow has no trigger node")
	case triggers > 1:
		result.addError("nodes", schema.ErrCodeValidation, fmt.Sprintf("workflow has %d trigger nodes, expected one", triggers))
	}

	for i, c := range wf.Connections {
		path := fmt.Sprintf("connections[%d]", i)
		if !ids[c.FromNodeID] {
			result.addError(path+".from", schema.ErrCodeNotFound, fmt.Sprintf("references unknown node %q", c.FromNodeID))
		}
		if !ids[c.ToNodeID] {
			result.addError(path+".to", schema.ErrCodeNotFound, fmt.Sprintf("references unknown node %q", c.ToNodeID))
		}
	}

	return result
}
