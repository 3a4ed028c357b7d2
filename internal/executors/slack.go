package executors

import "github.com/rendis/nodeflow/pkg/schema"

// SlackMaxRunes is the Slack message length limit.
const SlackMaxRunes = 40000

// NewSlackExecutor creates the SLACK executor. The webhook is a Slack
// workflow webhook with a single "content" variable.
func NewSlackExecutor(client *Client) *ChatWebhookExecutor {
	return &ChatWebhookExecutor{
		nodeType:    schema.NodeTypeSlack,
		stepName:    "slack-webhook",
		maxRunes:    SlackMaxRunes,
		description: "Post a message to a Slack workflow webhook.",
		client:      client,
		body: func(content, _ string) map[string]any {
			return map[string]any{"content": content}
		},
	}
}
