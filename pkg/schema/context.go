package schema

// RunContext is the accumulated output of every node executed so far in a
// run, keyed by each node's variable name.
type RunContext map[string]any

// Clone returns a shallow copy of c. Nested values are shared.
func (c RunContext) Clone() RunContext {
	out := make(RunContext, len(c)+1)
	for k, v := range c {
		out[k] = v
	}
	return out
}

// With returns a copy of c with key set to value. c itself is not modified.
func (c RunContext) With(key string, value any) RunContext {
	out := c.Clone()
	out[key] = value
	return out
}

// Map returns c as a plain map for expression and template evaluation.
func (c RunContext) Map() map[string]any {
	if c == nil {
		return map[string]any{}
	}
	return map[string]any(c)
}

// Lookup walks a dotted path of map keys through c.
func (c RunContext) Lookup(path ...string) (any, bool) {
	var cur any = map[string]any(c)
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
