package executors

import (
	"context"
	"encoding/json"
	"html"

	"github.com/rendis/nodeflow/internal/durable"
	"github.com/rendis/nodeflow/internal/template"
	"github.com/rendis/nodeflow/pkg/schema"
)

const chatWebhookConfigSchema = `{
  "type": "object",
  "properties": {
    "variableName": {"type": "string", "minLength": 1},
    "webhookUrl": {"type": "string", "minLength": 1},
    "content": {"type": "string", "minLength": 1},
    "username": {"type": "string"}
  },
  "required": ["variableName", "webhookUrl", "content"]
}`

type chatWebhookConfig struct {
	VariableName string `json:"variableName"`
	WebhookURL   string `json:"webhookUrl"`
	Content      string `json:"content"`
	Username     string `json:"username"`
}

// ChatWebhookExecutor posts a rendered message to an incoming webhook.
type ChatWebhookExecutor struct {
	nodeType    schema.NodeType
	stepName    string
	maxRunes    int
	description string
	body        func(content, username string) map[string]any
	client      *Client
}

func (e *ChatWebhookExecutor) Type() schema.NodeType { return e.nodeType }

func (e *ChatWebhookExecutor) Schema() Schema {
	return Schema{Description: e.description, Config: json.RawMessage(chatWebhookConfigSchema)}
}

func (e *ChatWebhookExecutor) Execute(ctx context.Context, in Input) (schema.RunContext, error) {
	return observe(ctx, in, func() (schema.RunContext, error) {
		var cfg chatWebhookConfig
		if err := decodeConfig(in.Data, chatWebhookConfigSchema, &cfg); err != nil {
			return nil, err
		}

		data := in.Context.Map()
		content := truncateRunes(renderDecoded(cfg.Content, data), e.maxRunes)
		var username string
		if cfg.Username != "" {
			username = renderDecoded(cfg.Username, data)
		}

		_, err := durable.Run(ctx, in.Step, e.stepName, func(ctx context.Context) (bool, error) {
			if _, err := e.client.PostJSON(ctx, cfg.WebhookURL, e.body(content, username)); err != nil {
				return false, err
			}
			return true, nil
		})
		if err != nil {
			return nil, err
		}
		return in.Context.With(cfg.VariableName, map[string]any{"messageContent": content}), nil
	})
}

// renderDecoded renders tpl and decodes the HTML entities the renderer
// introduced, since chat services display text literally.
func renderDecoded(tpl string, data map[string]any) string {
	return html.UnescapeString(template.Render(tpl, data))
}

func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
