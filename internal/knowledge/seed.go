package knowledge

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/franckalain/glowscan/internal/database"
	"github.com/franckalain/glowscan/internal/ml"
)

//go:embed skincare.yaml
var defaultSeed []byte

// Entry is one knowledge base record as written in the seed file.
type Entry struct {
	ID                 string            `yaml:"id"`
	Condition          string            `yaml:"condition"`
	Symptoms           []string          `yaml:"symptoms"`
	SeverityIndicators map[string]string `yaml:"severity_indicators"`
	Recommendations    []string          `yaml:"recommendations"`
	Products           []string          `yaml:"products"`
	NarrativeTemplates []string          `yaml:"narrative_templates"`
}

type seedFile struct {
	Entries []Entry `yaml:"entries"`
}

// ParseSeed decodes and validates a YAML knowledge base.
func ParseSeed(data []byte) ([]Entry, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge seed: %w", err)
	}
	seen := make(map[string]bool, len(f.Entries))
	for i, e := range f.Entries {
		if e.ID == "" || e.Condition == "" {
			return nil, fmt.Errorf("knowledge entry %d: id and condition are required", i)
		}
		if seen[e.ID] {
			return nil, fmt.Errorf("knowledge entry %d: duplicate id %q", i, e.ID)
		}
		seen[e.ID] = true
	}
	return f.Entries, nil
}

// LoadSeed reads path, or the built-in knowledge base when path is empty.
func LoadSeed(path string) ([]Entry, error) {
	if path == "" {
		return ParseSeed(defaultSeed)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read knowledge seed: %w", err)
	}
	return ParseSeed(data)
}

// SearchText is the lowercased document embedded for e.
func (e Entry) SearchText() string {
	levels := make([]string, 0, len(e.SeverityIndicators))
	for level := range e.SeverityIndicators {
		levels = append(levels, level)
	}
	sort.Strings(levels)

	parts := []string{e.Condition, strings.Join(e.Symptoms, " "), strings.Join(e.Recommendations, " ")}
	for _, level := range levels {
		parts = append(parts, e.SeverityIndicators[level])
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// Seed embeds every entry and upserts it into index.
func Seed(ctx context.Context, embedder ml.Embedder, index database.VectorIndex, entries []Entry) (int, error) {
	vectors := make([]database.VectorEntry, 0, len(entries))
	for _, e := range entries {
		vec, err := embedder.Embed(ctx, e.SearchText())
		if err != nil {
			return 0, fmt.Errorf("failed to embed %q: %w", e.ID, err)
		}
		meta, err := json.Marshal(Metadata{
			Condition:          e.Condition,
			Recommendations:    e.Recommendations,
			NarrativeTemplates: e.NarrativeTemplates,
			ProductSuggestions: e.Products,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to encode %q: %w", e.ID, err)
		}
		vectors = append(vectors, database.VectorEntry{
			ID:        e.ID,
			Condition: e.Condition,
			Embedding: vec,
			Metadata:  meta,
		})
	}
	if err := index.Upsert(ctx, vectors); err != nil {
		return 0, err
	}
	return len(vectors), nil
}
