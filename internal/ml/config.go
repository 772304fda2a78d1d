package ml

import (
	"fmt"
)

// Config holds the model backend settings.
type Config struct {
	Type            string
	ProjectID       string
	Location        string
	CredentialsFile string
	VisionModel     string
	TextModel       string
	EmbeddingModel  string
	// GenAIAPIKey selects the Gemini API backend for embeddings; when empty
	// embeddings go through Vertex AI with ProjectID and Location.
	GenAIAPIKey string
}

// Validate checks that a Google backend can be reached.
func (c Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("project_id is not set")
	}
	if c.Location == "" {
		return fmt.Errorf("location is not set")
	}
	if c.VisionModel == "" || c.TextModel == "" {
		return fmt.Errorf("vision_model and text_model must be set")
	}
	return nil
}
