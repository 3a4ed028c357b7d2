package executors

import (
	"github.com/rendis/nodeflow/internal/llm"
	"github.com/rendis/nodeflow/pkg/schema"
)

const (
	GeminiTextModel  = "gemini-2.5-flash"
	GeminiImageModel = "imagen-3.0-generate-002"
)

// NewGeminiExecutor creates the GEMINI executor. Text goes through Gemini
// and images through Imagen.
func NewGeminiExecutor(models llm.Factory, creds Credentials, apiKey string) *ModelExecutor {
	return &ModelExecutor{
		nodeType:    schema.NodeTypeGemini,
		provider:    llm.ProviderGemini,
		credType:    schema.CredentialGemini,
		textModel:   GeminiTextModel,
		imageModel:  GeminiImageModel,
		description: "Generate text with Gemini or images with Imagen.",
		models:      models,
		creds:       creds,
		fallbackKey: apiKey,
	}
}
