package executors

import (
	"github.com/rendis/nodeflow/internal/llm"
	"github.com/rendis/nodeflow/pkg/schema"
)

const AnthropicTextModel = "claude-sonnet-4-5"

// NewAnthropicExecutor creates the ANTHROPIC executor. Text only.
func NewAnthropicExecutor(models llm.Factory, creds Credentials, apiKey string) *ModelExecutor {
	return &ModelExecutor{
		nodeType:    schema.NodeTypeAnthropic,
		provider:    llm.ProviderAnthropic,
		credType:    schema.CredentialAnthropic,
		textModel:   AnthropicTextModel,
		description: "Generate text with Claude.",
		models:      models,
		creds:       creds,
		fallbackKey: apiKey,
	}
}
