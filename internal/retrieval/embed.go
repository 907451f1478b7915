package retrieval

import (
	"context"
	"errors"
	"fmt"
	"os"

	"google.golang.org/genai"
)

// DefaultEmbedModel is the Gemini embedding model used for queries.
const DefaultEmbedModel = "text-embedding-004"

// GeminiEmbedder embeds query text with the Gemini embedding API.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
	dims   int32
}

// NewGeminiEmbedder creates an embedder. dims of 0 keeps the model's
// native dimensionality.
func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dims int32) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create Gemini client: %w", err)
	}
	if model == "" {
		model = DefaultEmbedModel
	}
	return &GeminiEmbedder{client: client, model: model, dims: dims}, nil
}

// NewGeminiEmbedderFromEnv uses TUTOR_GEMINI_API_KEY (or GEMINI_API_KEY)
// and TUTOR_EMBED_MODEL. It returns nil, nil when no key is set.
func NewGeminiEmbedderFromEnv(ctx context.Context) (*GeminiEmbedder, error) {
	key := os.Getenv("TUTOR_GEMINI_API_KEY")
	if key == "" {
		key = os.Getenv("GEMINI_API_KEY")
	}
	if key == "" {
		return nil, nil
	}
	return NewGeminiEmbedder(ctx, key, os.Getenv("TUTOR_EMBED_MODEL"), 768)
}

// Embed returns the embedding of text.
func (e *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	cfg := &genai.EmbedContentConfig{TaskType: "RETRIEVAL_QUERY"}
	if e.dims > 0 {
		dims := e.dims
		cfg.OutputDimensionality = &dims
	}
	resp, err := e.client.Models.EmbedContent(ctx, e.model, genai.Text(text), cfg)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
		return nil, errors.New("embed query: empty embedding")
	}
	return resp.Embeddings[0].Values, nil
}
