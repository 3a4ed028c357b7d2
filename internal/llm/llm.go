// Package llm wraps the model provider SDKs behind two small interfaces:
// TextModel for chat completions and ImageModel for image generation.
package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Provider names a model vendor.
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderOllama    Provider = "ollama"
)

// TextRequest is a single-turn completion.
type TextRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// TextResult is the generated text.
type TextResult struct {
	Text  string
	Model string
}

// ImageRequest asks for Count images for Prompt.
type ImageRequest struct {
	Model        string
	Prompt       string
	Count        int
	Size         string // "1024x1024"
	AspectRatio  string // "1:1"
	Style        string
	OutputFormat string // png, jpeg or webp
}

// Image is one generated image.
type Image struct {
	Base64    string
	MediaType string
}

// ImageResult holds the generated images.
type ImageResult struct {
	Images []Image
	Model  string
}

// TextModel generates text.
type TextModel interface {
	GenerateText(ctx context.Context, req TextRequest) (*TextResult, error)
}

// ImageModel generates images.
type ImageModel interface {
	GenerateImages(ctx context.Context, req ImageRequest) (*ImageResult, error)
}

// Factory builds models for a provider with a given API key.
type Factory interface {
	TextModel(ctx context.Context, p Provider, apiKey string) (TextModel, error)
	ImageModel(ctx context.Context, p Provider, apiKey string) (ImageModel, error)
}

// MediaTypeFor maps an output format name to its MIME type. Unknown
// formats are PNG.
func MediaTypeFor(format string) string {
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		return "image/jpeg"
	case "webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

// classify turns a provider failure into a FlowError. Rejected requests
// (bad key, bad parameters) are non-retriable; throttling, outages and
// unknown failures are retried.
func classify(p Provider, status int, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if status == 0 {
		status = statusFromMessage(err.Error())
	}
	switch {
	case status == 429 || status >= 500:
		return schema.NewErrorf(schema.ErrCodeExecution, "%s: %s", p, err.Error()).WithCause(err).
			WithDetails(map[string]any{"provider": string(p), "status": status})
	case status >= 400:
		return schema.NewErrorf(schema.ErrCodeNonRetryable, "%s rejected the request: %s", p, err.Error()).WithCause(err).
			WithDetails(map[string]any{"provider": string(p), "status": status})
	default:
		return schema.NewErrorf(schema.ErrCodeExecution, "%s: %s", p, err.Error()).WithCause(err).
			WithDetails(map[string]any{"provider": string(p)})
	}
}

// statusFromMessage recovers an HTTP status from SDKs that only report it
// in the error text.
func statusFromMessage(msg string) int {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "401"), strings.Contains(lower, "unauthorized"), strings.Contains(lower, "invalid api key"):
		return 401
	case strings.Contains(lower, "403"), strings.Contains(lower, "permission denied"):
		return 403
	case strings.Contains(lower, "404"), strings.Contains(lower, "model not found"):
		return 404
	case strings.Contains(lower, "400"), strings.Contains(lower, "invalid_argument"), strings.Contains(lower, "invalid argument"):
		return 400
	case strings.Contains(lower, "429"), strings.Contains(lower, "rate limit"), strings.Contains(lower, "resource_exhausted"):
		return 429
	case strings.Contains(lower, "500"), strings.Contains(lower, "502"), strings.Contains(lower, "503"), strings.Contains(lower, "overloaded"):
		return 503
	}
	return 0
}
