package llm

import (
	"context"
	"encoding/base64"

	"google.golang.org/genai"
)

// Gemini serves text through Gemini models and images through Imagen.
type Gemini struct {
	client *genai.Client
}

// NewGemini creates a Gemini API client.
func NewGemini(ctx context.Context, apiKey string) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, classify(ProviderGemini, 0, err)
	}
	return &Gemini{client: client}, nil
}

func (g *Gemini) GenerateText(ctx context.Context, req TextRequest) (*TextResult, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.System != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return nil, classify(ProviderGemini, 0, err)
	}
	return &TextResult{Text: resp.Text(), Model: req.Model}, nil
}

func (g *Gemini) GenerateImages(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	count := req.Count
	if count <= 0 {
		count = 1
	}
	mediaType := MediaTypeFor(req.OutputFormat)
	cfg := &genai.GenerateImagesConfig{
		NumberOfImages:   int32(count),
		AspectRatio:      req.AspectRatio,
		OutputMIMEType:   mediaType,
		PersonGeneration: genai.PersonGenerationAllowAdult,
	}

	resp, err := g.client.Models.GenerateImages(ctx, req.Model, req.Prompt, cfg)
	if err != nil {
		return nil, classify(ProviderGemini, 0, err)
	}

	out := &ImageResult{Model: req.Model}
	for _, gi := range resp.GeneratedImages {
		if gi == nil || gi.Image == nil {
			continue
		}
		mt := gi.Image.MIMEType
		if mt == "" {
			mt = mediaType
		}
		out.Images = append(out.Images, Image{
			Base64:    base64.StdEncoding.EncodeToString(gi.Image.ImageBytes),
			MediaType: mt,
		})
	}
	return out, nil
}
