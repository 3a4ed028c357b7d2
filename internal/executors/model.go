package executors

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rendis/nodeflow/internal/durable"
	"github.com/rendis/nodeflow/internal/llm"
	"github.com/rendis/nodeflow/internal/template"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Credentials decrypts a stored credential of the wanted type.
type Credentials interface {
	Reveal(ctx context.Context, id string, want schema.CredentialType) (string, error)
}

const (
	defaultTemperature = 0.7
	defaultMaxTokens   = 1024
	defaultTextSystem  = "You are a helpful assistant."
	defaultImageSystem = "You are an AI image generator. Generate high-quality, detailed images based on the prompts."
	defaultImageSize   = "1024x1024"
	defaultAspectRatio = "1:1"
	modeText           = "text"
	modeImage          = "image"
)

const textModelConfigSchema = `{
  "type": "object",
  "properties": {
    "variableName": {"type": "string", "minLength": 1},
    "userPrompt": {"type": "string", "minLength": 1},
    "systemPrompt": {"type": "string"},
    "model": {"type": "string"},
    "temperature": {"type": "number", "minimum": 0, "maximum": 2},
    "maxTokens": {"type": "integer", "minimum": 1},
    "credentialId": {"type": "string"}
  },
  "required": ["variableName", "userPrompt"]
}`

const multimodalConfigSchema = `{
  "type": "object",
  "properties": {
    "variableName": {"type": "string", "minLength": 1},
    "userPrompt": {"type": "string", "minLength": 1},
    "systemPrompt": {"type": "string"},
    "mode": {"type": "string"},
    "model": {"type": "string"},
    "temperature": {"type": "number", "minimum": 0, "maximum": 2},
    "maxTokens": {"type": "integer", "minimum": 1},
    "credentialId": {"type": "string"},
    "imageCount": {"type": "integer", "minimum": 1, "maximum": 4},
    "size": {"type": "string"},
    "aspectRatio": {"type": "string"},
    "style": {"type": "string"},
    "outputFormat": {"type": "string", "enum": ["png", "jpeg", "webp"]}
  },
  "required": ["variableName", "userPrompt"]
}`

type modelConfig struct {
	VariableName string   `json:"variableName"`
	UserPrompt   string   `json:"userPrompt"`
	SystemPrompt string   `json:"systemPrompt"`
	Mode         string   `json:"mode"`
	Model        string   `json:"model"`
	Temperature  *float64 `json:"temperature"`
	MaxTokens    int      `json:"maxTokens"`
	CredentialID string   `json:"credentialId"`
	ImageCount   int      `json:"imageCount"`
	Size         string   `json:"size"`
	AspectRatio  string   `json:"aspectRatio"`
	Style        string   `json:"style"`
	OutputFormat string   `json:"outputFormat"`
}

// ModelKeys are process-wide provider keys used when a node names no
// credential.
type ModelKeys map[llm.Provider]string

// ModelExecutor runs a prompt against one provider. The GEMINI, OPENAI,
// ANTHROPIC and OLLAMA node types are all ModelExecutors that differ in
// provider, defaults and whether image mode is available.
type ModelExecutor struct {
	nodeType    schema.NodeType
	provider    llm.Provider
	credType    schema.CredentialType
	textModel   string
	imageModel  string
	nativeStyle bool
	description string

	models      llm.Factory
	creds       Credentials
	fallbackKey string
}

// prompts render without HTML escaping; the text goes to a model, not a page.
var promptRenderer = template.New(template.WithoutEscaping())

func (e *ModelExecutor) Type() schema.NodeType { return e.nodeType }

func (e *ModelExecutor) Schema() Schema {
	s := textModelConfigSchema
	if e.multimodal() {
		s = multimodalConfigSchema
	}
	return Schema{Description: e.description, Config: json.RawMessage(s)}
}

func (e *ModelExecutor) multimodal() bool { return e.imageModel != "" }

func (e *ModelExecutor) Execute(ctx context.Context, in Input) (schema.RunContext, error) {
	return observe(ctx, in, func() (schema.RunContext, error) {
		var cfg modelConfig
		if err := decodeConfig(in.Data, string(e.Schema().Config), &cfg); err != nil {
			return nil, err
		}

		mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
		if mode == "" {
			mode = modeText
		}
		if mode != modeText && (mode != modeImage || !e.multimodal()) {
			return nil, schema.NonRetriable("%s node: unsupported mode %q", e.nodeType, cfg.Mode)
		}

		data := in.Context.Map()
		prompt := promptRenderer.Render(cfg.UserPrompt, data)
		if strings.TrimSpace(prompt) == "" {
			return nil, missing(e.nodeType, "userPrompt")
		}
		system := promptRenderer.Render(cfg.SystemPrompt, data)

		var (
			payload map[string]any
			err     error
		)
		if mode == modeImage {
			payload, err = e.images(ctx, in.Step, cfg, system, prompt)
		} else {
			payload, err = e.text(ctx, in.Step, cfg, system, prompt)
		}
		if err != nil {
			return nil, err
		}
		return in.Context.With(cfg.VariableName, payload), nil
	})
}

func (e *ModelExecutor) text(ctx context.Context, step durable.Step, cfg modelConfig, system, prompt string) (map[string]any, error) {
	if system == "" {
		system = defaultTextSystem
	}
	req := llm.TextRequest{
		Model:       firstNonEmpty(cfg.Model, e.textModel),
		System:      system,
		Prompt:      prompt,
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}
	if cfg.Temperature != nil {
		req.Temperature = *cfg.Temperature
	}
	if cfg.MaxTokens > 0 {
		req.MaxTokens = cfg.MaxTokens
	}

	return durable.Run(ctx, step, e.stepName("generate-text"), func(ctx context.Context) (map[string]any, error) {
		key, err := e.apiKey(ctx, cfg.CredentialID)
		if err != nil {
			return nil, err
		}
		model, err := e.models.TextModel(ctx, e.provider, key)
		if err != nil {
			return nil, err
		}
		res, err := model.GenerateText(ctx, req)
		if err != nil {
			return nil, err
		}
		out := map[string]any{"text": res.Text, "model": req.Model}
		if e.multimodal() {
			out["mode"] = modeText
		}
		return out, nil
	})
}

func (e *ModelExecutor) images(ctx context.Context, step durable.Step, cfg modelConfig, system, prompt string) (map[string]any, error) {
	if system == "" {
		system = defaultImageSystem
	}
	req := llm.ImageRequest{
		Model:        firstNonEmpty(cfg.Model, e.imageModel),
		Count:        cfg.ImageCount,
		Size:         firstNonEmpty(cfg.Size, defaultImageSize),
		AspectRatio:  firstNonEmpty(cfg.AspectRatio, defaultAspectRatio),
		OutputFormat: cfg.OutputFormat,
	}
	if req.Count <= 0 {
		req.Count = 1
	}
	if cfg.Style != "" {
		if e.nativeStyle {
			req.Style = cfg.Style
		} else {
			prompt = fmt.Sprintf("In the style of %s: %s", cfg.Style, prompt)
		}
	}
	req.Prompt = system + "\n\n" + prompt

	return durable.Run(ctx, step, e.stepName("generate-images"), func(ctx context.Context) (map[string]any, error) {
		key, err := e.apiKey(ctx, cfg.CredentialID)
		if err != nil {
			return nil, err
		}
		model, err := e.models.ImageModel(ctx, e.provider, key)
		if err != nil {
			return nil, err
		}
		res, err := model.GenerateImages(ctx, req)
		if err != nil {
			return nil, err
		}
		return imagePayload(res, req, cfg.Style), nil
	})
}

func imagePayload(res *llm.ImageResult, req llm.ImageRequest, style string) map[string]any {
	images := make([]map[string]any, 0, len(res.Images))
	for i, img := range res.Images {
		mt := img.MediaType
		if mt == "" {
			mt = llm.MediaTypeFor(req.OutputFormat)
		}
		images = append(images, map[string]any{
			"url":       "data:" + mt + ";base64," + img.Base64,
			"base64":    img.Base64,
			"mediaType": mt,
			"index":     i + 1,
		})
	}
	var first any
	if len(images) > 0 {
		first = images[0]
	}
	return map[string]any{
		"images":     images,
		"firstImage": first,
		"text":       fmt.Sprintf("Generated %d image(s)", len(images)),
		"count":      len(images),
		"mode":       modeImage,
		"model":      req.Model,
		"metadata": map[string]any{
			"size":        req.Size,
			"aspectRatio": req.AspectRatio,
			"style":       style,
		},
	}
}

// apiKey resolves the key for one call: the node's credential if set,
// otherwise the process key.
func (e *ModelExecutor) apiKey(ctx context.Context, credentialID string) (string, error) {
	if e.credType == "" {
		return "", nil
	}
	if credentialID != "" {
		if e.creds == nil {
			return "", schema.NonRetriable("%s node: credential store unavailable", e.nodeType)
		}
		return e.creds.Reveal(ctx, credentialID, e.credType)
	}
	if e.fallbackKey != "" {
		return e.fallbackKey, nil
	}
	return "", schema.NonRetriable("%s node: no credential selected and no %s API key configured", e.nodeType, e.provider)
}

func (e *ModelExecutor) stepName(action string) string {
	return strings.ToLower(string(e.provider)) + "-" + action
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
