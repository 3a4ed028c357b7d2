package executors

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rendis/nodeflow/pkg/schema"
)

const delayConfigSchema = `{
  "type": "object",
  "properties": {
    "duration": {"type": "string", "minLength": 1},
    "variableName": {"type": "string"}
  },
  "required": ["duration"]
}`

type delayConfig struct {
	Duration     time.Duration `json:"duration"`
	VariableName string        `json:"variableName"`
}

// DelayExecutor pauses the run. The pause is a durable sleep, so a replay
// after it elapsed does not wait again.
type DelayExecutor struct{}

// NewDelayExecutor creates the DELAY executor.
func NewDelayExecutor() *DelayExecutor { return &DelayExecutor{} }

func (e *DelayExecutor) Type() schema.NodeType { return schema.NodeTypeDelay }

func (e *DelayExecutor) Schema() Schema {
	return Schema{
		Description: "Wait for a duration such as 30s or 1h before continuing.",
		Config:      json.RawMessage(delayConfigSchema),
	}
}

func (e *DelayExecutor) Execute(ctx context.Context, in Input) (schema.RunContext, error) {
	return observe(ctx, in, func() (schema.RunContext, error) {
		var cfg delayConfig
		if err := decodeConfig(in.Data, delayConfigSchema, &cfg); err != nil {
			return nil, err
		}
		if cfg.Duration <= 0 {
			return nil, schema.NewError(schema.ErrCodeValidation, "DELAY node: duration must be positive")
		}

		if err := in.Step.Sleep(ctx, "delay", cfg.Duration); err != nil {
			return nil, err
		}
		if cfg.VariableName == "" {
			return in.Context, nil
		}
		return in.Context.With(cfg.VariableName, map[string]any{"sleptFor": cfg.Duration.String()}), nil
	})
}
