package expressions

import (
	"context"
	"fmt"
	"strings"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Engine evaluates an expression against a run context.
// Three implementations: CEL, Expr and GoJQ.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Filter is a boolean expression attached to a trigger node.
type Filter struct {
	Language   string `json:"language" mapstructure:"language"`
	Expression string `json:"expression" mapstructure:"expression"`
}

// Evaluator dispatches filters to the engine for their language.
type Evaluator struct {
	engines map[string]Engine
}

// NewEvaluator creates an Evaluator with the CEL, Expr and GoJQ engines.
func NewEvaluator() (*Evaluator, error) {
	celEngine, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return NewEvaluatorWith(celEngine, NewExprEngine(), NewGoJQEngine()), nil
}

// NewEvaluatorWith creates an Evaluator over the given engines.
func NewEvaluatorWith(engines ...Engine) *Evaluator {
	ev := &Evaluator{engines: make(map[string]Engine, len(engines))}
	for _, e := range engines {
		ev.engines[e.Name()] = e
	}
	return ev
}

// Languages returns the names of the available engines.
func (ev *Evaluator) Languages() []string {
	out := make([]string, 0, len(ev.engines))
	for name := range ev.engines {
		out = append(out, name)
	}
	return out
}

// Match evaluates f against data and reports whether the filter passed.
// The language defaults to cel. Every failure is non-retriable since the
// same event always produces the same result.
func (ev *Evaluator) Match(ctx context.Context, f Filter, data map[string]any) (bool, error) {
	lang := strings.ToLower(strings.TrimSpace(f.Language))
	if lang == "" {
		lang = "cel"
	}
	engine, ok := ev.engines[lang]
	if !ok {
		return false, schema.NewErrorf(schema.ErrCodeValidation, "unsupported filter language %q", f.Language)
	}

	out, err := engine.Evaluate(ctx, f.Expression, data)
	if err != nil {
		if fe, isFlow := schema.AsFlowError(err); isFlow && fe.IsRetryable() {
			return false, schema.NewErrorf(schema.ErrCodeNonRetryable, "filter evaluation failed: %s", fe.Message).WithCause(err)
		}
		return false, err
	}

	if many, isSlice := out.([]any); isSlice && lang == "jq" {
		if len(many) == 0 {
			return false, nil
		}
		out = many[len(many)-1]
	}

	matched, isBool := out.(bool)
	if !isBool {
		return false, schema.NewError(schema.ErrCodeValidation,
			fmt.Sprintf("filter %q must evaluate to a boolean, got %T", f.Expression, out))
	}
	return matched, nil
}
