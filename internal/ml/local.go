package ml

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/franckalain/glowscan/internal/models"
)

// ErrOffline is returned by every call on the local model.
var ErrOffline = errors.New("local model is offline")

// LocalModel is the offline backend. It never answers, so every agent runs on
// its deterministic fallback tier. Useful for development without cloud
// credentials.
type LocalModel struct {
	log *zap.Logger
}

// LocalModelFactory implements ModelFactory for local models
type LocalModelFactory struct {
	log *zap.Logger
}

// NewLocalModelFactory creates a new local model factory
func NewLocalModelFactory(log *zap.Logger) *LocalModelFactory {
	return &LocalModelFactory{log: log}
}

// CreateModel creates a new local model instance
func (f *LocalModelFactory) CreateModel() (Model, error) {
	return &LocalModel{log: f.log.Named("local-model")}, nil
}

// Load initializes the local model
func (m *LocalModel) Load(ctx context.Context) error {
	m.log.Warn("using offline model; all analyses will use fallback tiers")
	return nil
}

func (m *LocalModel) AnalyzeImage(ctx context.Context, img models.NormalizedImage, prompt string) (string, error) {
	return "", ErrOffline
}

func (m *LocalModel) Generate(ctx context.Context, prompt string) (string, error) {
	return "", ErrOffline
}

func (m *LocalModel) Close() error {
	return nil
}
