package executors

import (
	"github.com/rendis/nodeflow/internal/llm"
	"github.com/rendis/nodeflow/pkg/schema"
)

const OllamaTextModel = "llama3.2"

// NewOllamaExecutor creates the OLLAMA executor. The server is local and
// needs no credential.
func NewOllamaExecutor(models llm.Factory) *ModelExecutor {
	return &ModelExecutor{
		nodeType:    schema.NodeTypeOllama,
		provider:    llm.ProviderOllama,
		textModel:   OllamaTextModel,
		description: "Generate text with a model served by Ollama.",
		models:      models,
	}
}
