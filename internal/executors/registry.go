package executors

import (
	"sort"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Registry maps node types to executors. It is built once at startup and
// never modified afterwards, so lookups need no locking.
type Registry struct {
	executors map[schema.NodeType]Executor
}

// Info is a summary of a registered executor for listing.
type Info struct {
	Type        schema.NodeType `json:"type"`
	Channel     string          `json:"channel"`
	Trigger     bool            `json:"trigger"`
	Description string          `json:"description,omitempty"`
}

// NewRegistry builds a registry from execs. Registering two executors for
// the same type is a CONFLICT error.
func NewRegistry(execs ...Executor) (*Registry, error) {
	r := &Registry{executors: make(map[schema.NodeType]Executor, len(execs))}
	for _, e := range execs {
		if e == nil {
			return nil, schema.NewError(schema.ErrCodeValidation, "executor is nil")
		}
		t := e.Type()
		if t == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "executor type is empty")
		}
		if _, exists := r.executors[t]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeConflict, "executor for %q already registered", t)
		}
		r.executors[t] = e
	}
	return r, nil
}

// Resolve returns the executor for t, or an UNKNOWN_NODE_TYPE error.
func (r *Registry) Resolve(t schema.NodeType) (Executor, error) {
	e, ok := r.executors[t]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeUnknownNodeType, "no executor registered for node type %q", t).
			WithDetails(map[string]any{"type": string(t)})
	}
	return e, nil
}

// Has reports whether an executor is registered for t.
func (r *Registry) Has(t schema.NodeType) bool {
	_, ok := r.executors[t]
	return ok
}

// Types returns the registered node types, sorted.
func (r *Registry) Types() []schema.NodeType {
	types := make([]schema.NodeType, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// Describe returns info for all registered executors, sorted by type.
func (r *Registry) Describe() []Info {
	infos := make([]Info, 0, len(r.executors))
	for _, t := range r.Types() {
		infos = append(infos, Info{
			Type:        t,
			Channel:     schema.ChannelFor(t),
			Trigger:     t.IsTrigger(),
			Description: r.executors[t].Schema().Description,
		})
	}
	return infos
}
