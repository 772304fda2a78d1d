package ml

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const (
	// TaskRetrievalQuery embeds a search description.
	TaskRetrievalQuery = "RETRIEVAL_QUERY"
	// TaskRetrievalDocument embeds a knowledge base entry.
	TaskRetrievalDocument = "RETRIEVAL_DOCUMENT"
)

// GenAIEmbedder generates embeddings with the Google GenAI SDK.
type GenAIEmbedder struct {
	client   *genai.Client
	model    string
	taskType string
}

// NewGenAIEmbedder creates a query embedder. With an API key it talks to the
// Gemini API, otherwise to Vertex AI in the configured project.
func NewGenAIEmbedder(ctx context.Context, cfg Config) (*GenAIEmbedder, error) {
	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.GenAIAPIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.GenAIAPIKey == "" {
		clientCfg = &genai.ClientConfig{
			Project:  cfg.ProjectID,
			Location: cfg.Location,
			Backend:  genai.BackendVertexAI,
		}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	model := cfg.EmbeddingModel
	if model == "" {
		model = "text-embedding-004"
	}
	return &GenAIEmbedder{client: client, model: model, taskType: TaskRetrievalQuery}, nil
}

// ForDocuments returns a copy of e that embeds knowledge base entries.
func (e *GenAIEmbedder) ForDocuments() *GenAIEmbedder {
	c := *e
	c.taskType = TaskRetrievalDocument
	return &c
}

// Embed generates an embedding for a single text.
func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	contents := []*genai.Content{
		genai.NewContentFromText(text, genai.RoleUser),
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: e.taskType,
	})
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}
	if len(result.Embeddings) == 0 || len(result.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}
