package ml

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/franckalain/glowscan/internal/models"
)

const (
	visionTemperature = 0.3
	visionMaxTokens   = 1024
	textTemperature   = 0.8
	textMaxTokens     = 200
)

// GoogleModel implements the Model interface for Google's Vertex AI
type GoogleModel struct {
	config Config
	log    *zap.Logger
	client *genai.Client
	vision *genai.GenerativeModel
	text   *genai.GenerativeModel
}

// GoogleModelFactory implements ModelFactory for Google models
type GoogleModelFactory struct {
	config Config
	log    *zap.Logger
}

// NewGoogleModelFactory creates a new Google model factory
func NewGoogleModelFactory(config Config, log *zap.Logger) *GoogleModelFactory {
	return &GoogleModelFactory{config: config, log: log}
}

// CreateModel creates a new Google model instance
func (f *GoogleModelFactory) CreateModel() (Model, error) {
	return &GoogleModel{
		config: f.config,
		log:    f.log.Named("vertex"),
	}, nil
}

// Load initializes the Google model
func (m *GoogleModel) Load(ctx context.Context) error {
	opts := []option.ClientOption{}

	if m.config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(m.config.CredentialsFile))
	}

	client, err := genai.NewClient(ctx, m.config.ProjectID, m.config.Location, opts...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	m.client = client
	m.vision = client.GenerativeModel(m.config.VisionModel)
	m.vision.SetTemperature(visionTemperature)
	m.vision.SetMaxOutputTokens(visionMaxTokens)

	m.text = client.GenerativeModel(m.config.TextModel)
	m.text.SetTemperature(textTemperature)
	m.text.SetMaxOutputTokens(textMaxTokens)

	m.log.Info("vertex models loaded",
		zap.String("vision_model", m.config.VisionModel),
		zap.String("text_model", m.config.TextModel))
	return nil
}

// AnalyzeImage sends the prompt and image to the vision model.
func (m *GoogleModel) AnalyzeImage(ctx context.Context, img models.NormalizedImage, prompt string) (string, error) {
	if m.vision == nil {
		return "", fmt.Errorf("model not loaded")
	}

	// ImageData prefixes "image/" itself; img.MIMEType is already complete.
	blob := genai.Blob{MIMEType: img.MIMEType, Data: img.Data}

	m.log.Debug("calling vision model", zap.Int("image_bytes", len(img.Data)))
	resp, err := m.vision.GenerateContent(ctx, genai.Text(prompt), blob)
	if err != nil {
		return "", fmt.Errorf("failed to call ai: %w", err)
	}
	return responseText(resp)
}

// Generate completes prompt with the text model.
func (m *GoogleModel) Generate(ctx context.Context, prompt string) (string, error) {
	if m.text == nil {
		return "", fmt.Errorf("model not loaded")
	}
	resp, err := m.text.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to call ai: %w", err)
	}
	return responseText(resp)
}

// Close releases the Vertex client.
func (m *GoogleModel) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("no response generated")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", fmt.Errorf("no content in response")
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("no text in response")
	}
	return b.String(), nil
}
