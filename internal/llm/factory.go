package llm

import (
	"context"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Config holds endpoint overrides for the providers.
type Config struct {
	OpenAIBaseURL string
	OllamaURL     string
	OllamaModel   string
}

// Clients is the production Factory backed by the provider SDKs.
type Clients struct {
	cfg Config
}

// NewClients creates a Factory.
func NewClients(cfg Config) *Clients {
	return &Clients{cfg: cfg}
}

func (c *Clients) TextModel(ctx context.Context, p Provider, apiKey string) (TextModel, error) {
	switch p {
	case ProviderOpenAI:
		return NewOpenAI(apiKey, c.cfg.OpenAIBaseURL), nil
	case ProviderGemini:
		return NewGemini(ctx, apiKey)
	case ProviderAnthropic:
		return NewAnthropic(apiKey)
	case ProviderOllama:
		return NewOllama(c.cfg.OllamaURL, c.cfg.OllamaModel)
	}
	return nil, schema.NewErrorf(schema.ErrCodeNonRetryable, "no text models for provider %q", p)
}

func (c *Clients) ImageModel(ctx context.Context, p Provider, apiKey string) (ImageModel, error) {
	switch p {
	case ProviderOpenAI:
		return NewOpenAI(apiKey, c.cfg.OpenAIBaseURL), nil
	case ProviderGemini:
		return NewGemini(ctx, apiKey)
	}
	return nil, schema.NewErrorf(schema.ErrCodeNonRetryable, "no image models for provider %q", p)
}

var _ Factory = (*Clients)(nil)
