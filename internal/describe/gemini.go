package describe

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// ContentGenerator is the subset of the genai Models service used here.
// *genai.Models satisfies it.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiDescriber asks a Gemini vision-language model for alt-text.
type GeminiDescriber struct {
	models ContentGenerator
	model  string
}

// NewGeminiClient creates a genai client for the Gemini Developer API.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	return client, nil
}

// NewGeminiDescriber creates the Gemini strategy. Pass client.Models.
func NewGeminiDescriber(models ContentGenerator, model string) *GeminiDescriber {
	return &GeminiDescriber{models: models, model: model}
}

func (g *GeminiDescriber) Name() string { return "gemini" }

func (g *GeminiDescriber) Caption(ctx context.Context, img Image, lang Language) (string, error) {
	config := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: lang.Instruction()}},
		},
	}
	// The task lives in the system instruction; the user turn is the image.
	parts := []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: img.ContentType(), Data: img.Data}},
	}

	log.Debug().Str("model", g.model).Str("language", string(lang)).Int("bytes", len(img.Data)).Msg("Starting Gemini API call for alt-text")
	resp, err := g.models.GenerateContent(ctx, g.model, []*genai.Content{{Role: "user", Parts: parts}}, config)
	if err != nil {
		return "", fmt.Errorf("gemini generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		// Safety blocks and non-text candidates arrive as an empty reply.
		return "", ErrEmptyResponse
	}
	return text, nil
}
