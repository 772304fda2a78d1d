package ml

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/franckalain/glowscan/internal/models"
)

// VisionModel scores an image against a prompt and returns the raw reply.
type VisionModel interface {
	AnalyzeImage(ctx context.Context, img models.NormalizedImage, prompt string) (string, error)
}

// TextModel completes a text prompt.
type TextModel interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Embedder turns text into a vector for the knowledge index.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Model represents a machine learning backend that can score images and
// generate text
type Model interface {
	VisionModel
	TextModel
	// Load initializes the model with its configuration
	Load(ctx context.Context) error
	// Close releases the backend client
	Close() error
}

// ModelFactory creates a new model instance based on configuration
type ModelFactory interface {
	// CreateModel creates a new model instance
	CreateModel() (Model, error)
}

// Suite groups the model collaborators of the analysis pipeline. Embedder is
// nil when no embedding backend is configured.
type Suite struct {
	Model    Model
	Embedder Embedder
}

// Close releases every client in the suite.
func (s *Suite) Close() error {
	if s.Model == nil {
		return nil
	}
	return s.Model.Close()
}

// NewModel creates a new model instance based on the model type
func NewModel(cfg Config, log *zap.Logger) (Model, error) {
	var factory ModelFactory

	switch cfg.Type {
	case "google":
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("failed to load Google config: %w", err)
		}
		factory = NewGoogleModelFactory(cfg, log)
	case "local":
		factory = NewLocalModelFactory(log)
	default:
		return nil, fmt.Errorf("unsupported model type: %s", cfg.Type)
	}
	return factory.CreateModel()
}

// NewSuite creates and loads the model and, when configured, the embedder.
func NewSuite(ctx context.Context, cfg Config, log *zap.Logger) (*Suite, error) {
	model, err := NewModel(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := model.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	suite := &Suite{Model: model}
	if cfg.Type == "google" && (cfg.GenAIAPIKey != "" || cfg.ProjectID != "") {
		embedder, err := NewGenAIEmbedder(ctx, cfg)
		if err != nil {
			_ = model.Close()
			return nil, err
		}
		suite.Embedder = embedder
	} else {
		log.Info("no embedding backend configured; knowledge retrieval uses the rule table")
	}
	return suite, nil
}
