// Package knowledge maps skin metrics to curated skincare guidance, by
// vector similarity when an index is available and by fixed thresholds
// otherwise.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/franckalain/glowscan/internal/database"
	"github.com/franckalain/glowscan/internal/fallback"
	"github.com/franckalain/glowscan/internal/ml"
	"github.com/franckalain/glowscan/internal/models"
)

// Tier names.
const (
	TierVector = "vector"
	TierRules  = "rules"
)

const (
	// DefaultTopK is how many entries a vector query returns.
	DefaultTopK = 3
	// MaxContexts caps the entries handed to later phases.
	MaxContexts = 3
)

// Issue thresholds. A category scoring below its threshold is flagged.
var thresholds = []struct {
	category  models.Category
	threshold int
	issue     string
}{
	{models.Pores, 70, "enlarged pores"},
	{models.Texture, 70, "rough texture"},
	{models.Tone, 75, "uneven skin tone"},
	{models.Hydration, 70, "dehydration"},
}

var errNoIndex = errors.New("no vector index provisioned")

// Metadata is the JSON document stored beside each knowledge vector.
type Metadata struct {
	Condition          string   `json:"condition"`
	Recommendations    []string `json:"recommendations"`
	NarrativeTemplates []string `json:"narrative_templates"`
	ProductSuggestions []string `json:"product_suggestions"`
}

// Agent is the knowledge retrieval agent. Embedder and index may be nil,
// in which case every call uses the rule table.
type Agent struct {
	embedder ml.Embedder
	index    database.VectorIndex
	topK     int
	log      *zap.Logger
}

// NewAgent returns a retrieval agent.
func NewAgent(embedder ml.Embedder, index database.VectorIndex, topK int, log *zap.Logger) *Agent {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Agent{embedder: embedder, index: index, topK: topK, log: log.Named("knowledge")}
}

// Flagged returns the issue tags for every category below its threshold,
// in category order.
func Flagged(m models.SkinMetrics) []string {
	var issues []string
	for _, t := range thresholds {
		if m.Get(t.category).Score < t.threshold {
			issues = append(issues, t.issue)
		}
	}
	return issues
}

// Describe builds the natural-language query embedded for retrieval.
func Describe(m models.SkinMetrics) string {
	issues := Flagged(m)
	if len(issues) == 0 {
		return "healthy skin with good overall condition"
	}
	return "skin showing signs of " + strings.Join(issues, ", ")
}

// Retrieve returns at least one context entry, sorted by relevance, and the
// tier that produced them.
func (a *Agent) Retrieve(ctx context.Context, m models.SkinMetrics) ([]models.KnowledgeContext, string) {
	out, err := fallback.Run(ctx,
		fallback.Strategy[[]models.KnowledgeContext]{Tier: TierVector, Run: func(ctx context.Context) ([]models.KnowledgeContext, error) {
			return a.queryIndex(ctx, m)
		}},
		fallback.Strategy[[]models.KnowledgeContext]{Tier: TierRules, Run: func(context.Context) ([]models.KnowledgeContext, error) {
			return RuleContexts(m), nil
		}},
	)
	if err != nil {
		return RuleContexts(m), TierRules
	}
	if out.Degraded() {
		a.log.Info("knowledge retrieval using rule table",
			zap.String("tier", out.Tier), zap.Errors("failures", out.Failures))
	}
	return out.Value, out.Tier
}

func (a *Agent) queryIndex(ctx context.Context, m models.SkinMetrics) ([]models.KnowledgeContext, error) {
	if a.embedder == nil || a.index == nil {
		return nil, fmt.Errorf("%w: %w", models.ErrRetrievalDegraded, errNoIndex)
	}

	vec, err := a.embedder.Embed(ctx, Describe(m))
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %w", models.ErrRetrievalDegraded, err)
	}
	matches, err := a.index.Query(ctx, vec, a.topK)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", models.ErrRetrievalDegraded, err)
	}
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: no matches", models.ErrRetrievalDegraded)
	}

	contexts := make([]models.KnowledgeContext, 0, len(matches))
	for _, match := range matches {
		var meta Metadata
		if len(match.Metadata) > 0 {
			if err := json.Unmarshal(match.Metadata, &meta); err != nil {
				a.log.Warn("skipping knowledge entry with bad metadata",
					zap.String("id", match.ID), zap.Error(err))
				continue
			}
		}
		condition := meta.Condition
		if condition == "" {
			condition = match.Condition
		}
		if condition == "" {
			condition = "Unknown condition"
		}
		contexts = append(contexts, models.KnowledgeContext{
			Condition:          condition,
			Relevance:          match.Score,
			Recommendations:    nonNil(meta.Recommendations),
			NarrativeTemplates: nonNil(meta.NarrativeTemplates),
			ProductSuggestions: nonNil(meta.ProductSuggestions),
		})
	}
	if len(contexts) == 0 {
		return nil, fmt.Errorf("%w: no usable matches", models.ErrRetrievalDegraded)
	}
	if len(contexts) > MaxContexts {
		contexts = contexts[:MaxContexts]
	}
	return contexts, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
