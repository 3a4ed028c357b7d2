package executors

import (
	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/internal/llm"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Deps are the collaborators of the built-in executors.
type Deps struct {
	Client          *Client
	Credentials     Credentials
	Owners          OwnerClaimer
	Models          llm.Factory
	ModelKeys       ModelKeys
	Filters         *expressions.Evaluator
	TelegramAPIBase string
}

// NewBuiltinRegistry registers an executor for every node type.
func NewBuiltinRegistry(d Deps) (*Registry, error) {
	if d.Client == nil {
		d.Client = NewClient(HTTPConfig{}, nil)
	}
	if d.Filters == nil {
		ev, err := expressions.NewEvaluator()
		if err != nil {
			return nil, err
		}
		d.Filters = ev
	}

	return NewRegistry(
		NewTriggerExecutor(schema.NodeTypeInitial, d.Filters),
		NewTriggerExecutor(schema.NodeTypeManualTrigger, d.Filters),
		NewTriggerExecutor(schema.NodeTypeGoogleFormTrigger, d.Filters),
		NewTriggerExecutor(schema.NodeTypeStripeTrigger, d.Filters),
		NewTriggerExecutor(schema.NodeTypeScheduleTrigger, d.Filters),
		NewTelegramTriggerExecutor(d.Owners, d.Filters),

		NewHTTPRequestExecutor(d.Client),
		NewGeminiExecutor(d.Models, d.Credentials, d.ModelKeys[llm.ProviderGemini]),
		NewOpenAIExecutor(d.Models, d.Credentials, d.ModelKeys[llm.ProviderOpenAI]),
		NewAnthropicExecutor(d.Models, d.Credentials, d.ModelKeys[llm.ProviderAnthropic]),
		NewOllamaExecutor(d.Models),
		NewDiscordExecutor(d.Client),
		NewSlackExecutor(d.Client),
		NewTelegramExecutor(d.Client, d.Credentials, d.TelegramAPIBase),
		NewDelayExecutor(),
	)
}
