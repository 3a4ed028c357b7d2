package executors

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rendis/nodeflow/internal/durable"
	"github.com/rendis/nodeflow/internal/template"
	"github.com/rendis/nodeflow/pkg/schema"
)

const (
	// TelegramMaxRunes is the Bot API message length limit.
	TelegramMaxRunes = 4096
	// TelegramAPIBase is the Bot API endpoint.
	TelegramAPIBase = "https://api.telegram.org"
)

const telegramConfigSchema = `{
  "type": "object",
  "properties": {
    "variableName": {"type": "string", "minLength": 1},
    "message": {"type": "string", "minLength": 1},
    "credentialId": {"type": "string"},
    "chatId": {"type": ["string", "number"]},
    "parseMode": {"type": "string", "enum": ["HTML", "Markdown", "MarkdownV2"]}
  },
  "required": ["variableName", "message"]
}`

type telegramConfig struct {
	VariableName string `json:"variableName"`
	Message      string `json:"message"`
	CredentialID string `json:"credentialId"`
	ChatID       string `json:"chatId"`
	ParseMode    string `json:"parseMode"`
}

type telegramReply struct {
	OK     bool `json:"ok"`
	Result struct {
		MessageID int64 `json:"message_id"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
	} `json:"result"`
	Description string `json:"description"`
}

// TelegramExecutor implements TELEGRAM_ACTION: send a message through a
// bot whose token is a stored credential.
type TelegramExecutor struct {
	client  *Client
	creds   Credentials
	apiBase string
}

// NewTelegramExecutor creates the TELEGRAM_ACTION executor. An empty
// apiBase selects the public Bot API.
func NewTelegramExecutor(client *Client, creds Credentials, apiBase string) *TelegramExecutor {
	if apiBase == "" {
		apiBase = TelegramAPIBase
	}
	return &TelegramExecutor{client: client, creds: creds, apiBase: strings.TrimRight(apiBase, "/")}
}

func (e *TelegramExecutor) Type() schema.NodeType { return schema.NodeTypeTelegramAction }

func (e *TelegramExecutor) Schema() Schema {
	return Schema{
		Description: "Send a Telegram message with a bot credential.",
		Config:      json.RawMessage(telegramConfigSchema),
	}
}

func (e *TelegramExecutor) Execute(ctx context.Context, in Input) (schema.RunContext, error) {
	return observe(ctx, in, func() (schema.RunContext, error) {
		var cfg telegramConfig
		if err := decodeConfig(in.Data, telegramConfigSchema, &cfg); err != nil {
			return nil, err
		}

		data := in.Context.Map()
		text := truncateRunes(renderDecoded(cfg.Message, data), TelegramMaxRunes)
		chatID := strings.TrimSpace(renderDecoded(cfg.ChatID, data))
		if chatID == "" {
			chatID = replyChat(in.Context)
		}
		parseMode := cfg.ParseMode
		if parseMode == "" {
			parseMode = "HTML"
		}

		out, err := durable.Run(ctx, in.Step, "telegram-send-message", func(ctx context.Context) (map[string]any, error) {
			if cfg.CredentialID == "" {
				return nil, missing(schema.NodeTypeTelegramAction, "credentialId")
			}
			if chatID == "" {
				return nil, schema.NonRetriable("TELEGRAM_ACTION node: no chat ID configured and none in the trigger data")
			}
			if e.creds == nil {
				return nil, schema.NonRetriable("TELEGRAM_ACTION node: credential store unavailable")
			}
			token, err := e.creds.Reveal(ctx, cfg.CredentialID, schema.CredentialTelegramBot)
			if err != nil {
				return nil, err
			}
			return e.send(ctx, token, chatID, text, parseMode)
		})
		if err != nil {
			return nil, err
		}
		return in.Context.With(cfg.VariableName, out), nil
	})
}

func (e *TelegramExecutor) send(ctx context.Context, token, chatID, text, parseMode string) (map[string]any, error) {
	url := e.apiBase + "/bot" + token + "/sendMessage"
	resp, err := e.client.PostJSON(ctx, url, map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": parseMode,
	})
	if err != nil {
		return nil, err
	}

	var reply telegramReply
	if err := json.Unmarshal(resp.Body, &reply); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeExecution, "decode Telegram reply: %s", err.Error()).WithCause(err)
	}
	if !reply.OK {
		return nil, schema.NonRetriable("Telegram rejected the message: %s", reply.Description)
	}

	var raw any
	_ = json.Unmarshal(resp.Body, &raw)
	result := raw
	if m, ok := raw.(map[string]any); ok {
		result = m["result"]
	}
	return map[string]any{
		"success":   true,
		"messageId": reply.Result.MessageID,
		"chatId":    reply.Result.Chat.ID,
		"result":    result,
	}, nil
}

// replyChat finds the chat of the Telegram message that triggered the run.
func replyChat(c schema.RunContext) string {
	if v, ok := c.Lookup("telegram", "message", "chat", "id"); ok {
		return template.Stringify(v)
	}
	if v, ok := c.Lookup("telegram", "chat", "id"); ok {
		return template.Stringify(v)
	}
	return ""
}
