package executors

import "github.com/rendis/nodeflow/pkg/schema"

// DiscordMaxRunes is the Discord message length limit.
const DiscordMaxRunes = 2000

// NewDiscordExecutor creates the DISCORD executor.
func NewDiscordExecutor(client *Client) *ChatWebhookExecutor {
	return &ChatWebhookExecutor{
		nodeType:    schema.NodeTypeDiscord,
		stepName:    "discord-webhook",
		maxRunes:    DiscordMaxRunes,
		description: "Post a message to a Discord channel webhook.",
		client:      client,
		body: func(content, username string) map[string]any {
			b := map[string]any{"content": content}
			if username != "" {
				b["username"] = username
			}
			return b
		},
	}
}
