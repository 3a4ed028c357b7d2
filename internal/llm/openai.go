package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI serves text and images through the OpenAI API.
type OpenAI struct {
	client openai.Client
}

// NewOpenAI creates a client. baseURL is optional and selects an
// OpenAI-compatible endpoint.
func NewOpenAI(apiKey, baseURL string) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...)}
}

func (o *OpenAI) GenerateText(ctx context.Context, req TextRequest) (*TextResult, error) {
	params := openai.ChatCompletionNewParams{
		Model: req.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.Prompt),
		},
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classify(ProviderOpenAI, openAIStatus(err), err)
	}
	if len(resp.Choices) == 0 {
		return &TextResult{Model: req.Model}, nil
	}
	return &TextResult{Text: resp.Choices[0].Message.Content, Model: req.Model}, nil
}

// GenerateImages issues one request per image; dall-e-3 only accepts n=1.
func (o *OpenAI) GenerateImages(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	prompt := req.Prompt
	params := openai.ImageGenerateParams{
		Model:          openai.ImageModel(req.Model),
		N:              openai.Int(1),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	}
	if req.Size != "" {
		params.Size = openai.ImageGenerateParamsSize(req.Size)
	}
	switch req.Style {
	case "vivid", "natural":
		params.Style = openai.ImageGenerateParamsStyle(req.Style)
	case "":
	default:
		prompt = fmt.Sprintf("In the style of %s: %s", req.Style, prompt)
	}
	params.Prompt = prompt

	count := req.Count
	if count <= 0 {
		count = 1
	}
	out := &ImageResult{Model: req.Model}
	for i := 0; i < count; i++ {
		resp, err := o.client.Images.Generate(ctx, params)
		if err != nil {
			return nil, classify(ProviderOpenAI, openAIStatus(err), err)
		}
		for _, d := range resp.Data {
			out.Images = append(out.Images, Image{Base64: d.B64JSON, MediaType: "image/png"})
		}
	}
	return out, nil
}

func openAIStatus(err error) int {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
