package executors

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rendis/nodeflow/internal/durable"
	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/template"
	"github.com/rendis/nodeflow/pkg/schema"
)

const triggerConfigSchema = `{
  "type": "object",
  "properties": {
    "filter": {
      "type": "object",
      "properties": {
        "language": {"type": "string", "enum": ["cel", "expr", "jq"]},
        "expression": {"type": "string", "minLength": 1}
      },
      "required": ["expression"]
    }
  }
}`

type triggerConfig struct {
	Filter *expressions.Filter `json:"filter"`
}

// OwnerClaimer binds a node to its first sender. Satisfied by store.Store.
type OwnerClaimer interface {
	ClaimNodeOwner(ctx context.Context, nodeID, owner string) (claimed bool, current string, err error)
}

// TriggerExecutor passes the run's initial context through. An optional
// filter stops runs whose trigger data does not match.
type TriggerExecutor struct {
	nodeType schema.NodeType
	filters  *expressions.Evaluator
}

// NewTriggerExecutor creates a pass-through trigger for t.
func NewTriggerExecutor(t schema.NodeType, filters *expressions.Evaluator) *TriggerExecutor {
	return &TriggerExecutor{nodeType: t, filters: filters}
}

func (e *TriggerExecutor) Type() schema.NodeType { return e.nodeType }

func (e *TriggerExecutor) Schema() Schema {
	return Schema{
		Description: "Start a run from a " + triggerKind(e.nodeType) + " event.",
		Config:      json.RawMessage(triggerConfigSchema),
	}
}

func (e *TriggerExecutor) Execute(ctx context.Context, in Input) (schema.RunContext, error) {
	return observe(ctx, in, func() (schema.RunContext, error) {
		if err := checkFilter(ctx, e.nodeType, e.filters, in); err != nil {
			return nil, err
		}
		return durable.Run(ctx, in.Step, triggerKind(e.nodeType), func(context.Context) (schema.RunContext, error) {
			return in.Context, nil
		})
	})
}

// TelegramTriggerExecutor implements TELEGRAM_TRIGGER. The node belongs to
// the first private-chat sender it sees; messages from anyone else are
// rejected.
type TelegramTriggerExecutor struct {
	owners  OwnerClaimer
	filters *expressions.Evaluator
}

// NewTelegramTriggerExecutor creates the TELEGRAM_TRIGGER executor.
func NewTelegramTriggerExecutor(owners OwnerClaimer, filters *expressions.Evaluator) *TelegramTriggerExecutor {
	return &TelegramTriggerExecutor{owners: owners, filters: filters}
}

func (e *TelegramTriggerExecutor) Type() schema.NodeType { return schema.NodeTypeTelegramTrigger }

func (e *TelegramTriggerExecutor) Schema() Schema {
	return Schema{
		Description: "Start a run from a private Telegram message sent by the node's owner.",
		Config:      json.RawMessage(triggerConfigSchema),
	}
}

func (e *TelegramTriggerExecutor) Execute(ctx context.Context, in Input) (schema.RunContext, error) {
	return observe(ctx, in, func() (schema.RunContext, error) {
		msg, ok := in.Context.Lookup("telegram", "message")
		if !ok || msg == nil {
			return nil, schema.NonRetriable("TELEGRAM_TRIGGER node: run has no Telegram message")
		}
		chatType, _ := in.Context.Lookup("telegram", "message", "chat", "type")
		if chatType != "private" {
			return nil, schema.NonRetriable("TELEGRAM_TRIGGER node: only private chats are accepted").
				WithDetails(map[string]any{"chatType": chatType})
		}
		fromID, _ := in.Context.Lookup("telegram", "message", "from", "id")
		sender := template.Stringify(fromID)
		if sender == "" {
			return nil, schema.NonRetriable("TELEGRAM_TRIGGER node: message has no sender")
		}

		if err := checkFilter(ctx, schema.NodeTypeTelegramTrigger, e.filters, in); err != nil {
			return nil, err
		}

		return durable.Run(ctx, in.Step, triggerKind(schema.NodeTypeTelegramTrigger), func(ctx context.Context) (schema.RunContext, error) {
			if err := e.authorize(ctx, in, sender); err != nil {
				return nil, err
			}
			return in.Context, nil
		})
	})
}

func (e *TelegramTriggerExecutor) authorize(ctx context.Context, in Input, sender string) error {
	owner := schema.Node{Data: in.Data}.OwnerUserID()
	if owner == "" {
		if e.owners == nil {
			return schema.NonRetriable("TELEGRAM_TRIGGER node: owner store unavailable")
		}
		claimed, current, err := e.owners.ClaimNodeOwner(ctx, in.NodeID, sender)
		if err != nil {
			return err
		}
		if claimed {
			return schema.NewErrorf(schema.ErrCodeOwnerBound,
				"TELEGRAM_TRIGGER node is now bound to user %s; send the message again", sender).
				WithDetails(map[string]any{"ownerUserId": sender})
		}
		owner = current
	}
	if owner != sender {
		return schema.NewError(schema.ErrCodeUnauthorized, "TELEGRAM_TRIGGER node: sender is not the bound owner").
			WithDetails(map[string]any{"senderId": sender})
	}
	return nil
}

// checkFilter fails with EVENT_FILTERED when the node's filter rejects
// the run's context.
func checkFilter(ctx context.Context, t schema.NodeType, filters *expressions.Evaluator, in Input) error {
	var cfg triggerConfig
	if err := decodeConfig(in.Data, triggerConfigSchema, &cfg); err != nil {
		return err
	}
	if cfg.Filter == nil || strings.TrimSpace(cfg.Filter.Expression) == "" {
		return nil
	}
	if filters == nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s node: filters are not available", t)
	}
	ok, err := filters.Match(ctx, *cfg.Filter, in.Context.Map())
	if err != nil {
		return err
	}
	if !ok {
		return schema.NewErrorf(schema.ErrCodeEventFiltered, "%s node: event filtered", t).
			WithDetails(map[string]any{"expression": cfg.Filter.Expression})
	}
	return nil
}

// triggerKind is the step name for a trigger type, e.g. "stripe-trigger".
func triggerKind(t schema.NodeType) string {
	return strings.TrimSuffix(schema.ChannelFor(t), "-execution")
}
