package llm

import (
	"context"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
)

// langchainModel adapts a langchaingo model to TextModel.
type langchainModel struct {
	provider Provider
	model    llms.Model
}

// NewAnthropic creates a Claude text model.
func NewAnthropic(apiKey string) (TextModel, error) {
	m, err := anthropic.New(anthropic.WithToken(apiKey))
	if err != nil {
		return nil, classify(ProviderAnthropic, 0, err)
	}
	return &langchainModel{provider: ProviderAnthropic, model: m}, nil
}

// NewOllama creates a text model served by a local Ollama instance.
func NewOllama(serverURL, model string) (TextModel, error) {
	opts := []ollama.Option{ollama.WithModel(model)}
	if serverURL != "" {
		opts = append(opts, ollama.WithServerURL(serverURL))
	}
	m, err := ollama.New(opts...)
	if err != nil {
		return nil, classify(ProviderOllama, 0, err)
	}
	return &langchainModel{provider: ProviderOllama, model: m}, nil
}

func (l *langchainModel) GenerateText(ctx context.Context, req TextRequest) (*TextResult, error) {
	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, req.System),
		llms.TextParts(llms.ChatMessageTypeHuman, req.Prompt),
	}
	opts := []llms.CallOption{
		llms.WithModel(req.Model),
		llms.WithTemperature(req.Temperature),
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	resp, err := l.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return nil, classify(l.provider, 0, err)
	}
	if len(resp.Choices) == 0 {
		return &TextResult{Model: req.Model}, nil
	}
	return &TextResult{Text: resp.Choices[0].Content, Model: req.Model}, nil
}
