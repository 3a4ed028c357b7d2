package executors

import (
	"github.com/rendis/nodeflow/internal/llm"
	"github.com/rendis/nodeflow/pkg/schema"
)

const (
	OpenAITextModel  = "gpt-4o-mini"
	OpenAIImageModel = "dall-e-3"
)

// NewOpenAIExecutor creates the OPENAI executor.
func NewOpenAIExecutor(models llm.Factory, creds Credentials, apiKey string) *ModelExecutor {
	return &ModelExecutor{
		nodeType:    schema.NodeTypeOpenAI,
		provider:    llm.ProviderOpenAI,
		credType:    schema.CredentialOpenAI,
		textModel:   OpenAITextModel,
		imageModel:  OpenAIImageModel,
		nativeStyle: true,
		description: "Generate text or images with OpenAI models.",
		models:      models,
		creds:       creds,
		fallbackKey: apiKey,
	}
}
