// Package narrative writes the short personalized summary shown with a
// scan result.
package narrative

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/franckalain/glowscan/internal/ml"
	"github.com/franckalain/glowscan/internal/models"
	"github.com/franckalain/glowscan/internal/scoring"
)

// Tier names.
const (
	TierGenerated = "generated"
	TierTemplate  = "template"
)

// Accepted model output length in characters, inclusive.
const (
	MinLength = 30
	MaxLength = 500
)

const quoteChars = "\"'`“”‘’"

// Generator is the narrative generator.
type Generator struct {
	model ml.TextModel
	log   *zap.Logger
}

// NewGenerator returns a generator backed by model.
func NewGenerator(model ml.TextModel, log *zap.Logger) *Generator {
	return &Generator{model: model, log: log.Named("narrative")}
}

// Narrate returns the narrative and the tier that produced it. It never
// returns an empty string.
func (g *Generator) Narrate(ctx context.Context, m models.SkinMetrics, glow models.GlowScoreResult, contexts []models.KnowledgeContext) (string, string) {
	reply, err := g.model.Generate(ctx, Prompt(m, glow, contexts))
	if err == nil {
		text, verr := Validate(reply)
		if verr == nil {
			return text, TierGenerated
		}
		err = verr
	} else {
		err = fmt.Errorf("%w: %w", models.ErrNarrativeDegraded, err)
	}

	g.log.Warn("narrative degraded", zap.String("tier", TierTemplate), zap.Error(err))
	return Fallback(m), TierTemplate
}

// Validate trims quotes and whitespace and checks the length bounds.
func Validate(reply string) (string, error) {
	text := strings.TrimSpace(reply)
	text = strings.Trim(text, quoteChars)
	text = strings.TrimSpace(text)

	n := utf8.RuneCountInString(text)
	if n < MinLength || n > MaxLength {
		return "", fmt.Errorf("%w: reply length %d outside [%d, %d]",
			models.ErrNarrativeDegraded, n, MinLength, MaxLength)
	}
	return text, nil
}

// Prompt builds the instruction sent to the text model.
func Prompt(m models.SkinMetrics, glow models.GlowScoreResult, contexts []models.KnowledgeContext) string {
	conditions := make([]string, 0, len(contexts))
	for _, c := range contexts {
		conditions = append(conditions, c.Condition)
	}
	detected := strings.Join(conditions, ", ")
	if detected == "" {
		detected = "general skin concerns"
	}

	worst, best := Worst(m), Best(m)

	var b strings.Builder
	b.WriteString("You are a friendly, honest skincare coach. Write a short personalized note about this skin analysis.\n\n")
	b.WriteString("Skin metrics:\n")
	for _, c := range []models.Category{models.Hydration, models.Texture, models.Tone, models.Pores} {
		score := m.Get(c).Score
		fmt.Fprintf(&b, "- %s: %d/100 (%s)\n", worstLabels[c], score, scoring.Severity(score))
	}
	fmt.Fprintf(&b, "- Glow Score: %d/100 (%s)\n", glow.Overall, scoring.Interpretation(glow.Overall))
	fmt.Fprintf(&b, "- Detected issues: %s\n\n", detected)
	b.WriteString("Write one conversational paragraph of 2-3 sentences that:\n")
	fmt.Fprintf(&b, "1. names their biggest issue, %s\n", worstLabels[worst])
	fmt.Fprintf(&b, "2. acknowledges what is working, their %s\n", bestLabels[best])
	b.WriteString("3. gives exactly one concrete action to take today\n\n")
	b.WriteString("No emojis, no lists, no headings. Reply with the paragraph only, without quotes.")
	return b.String()
}

// Worst returns the lowest-scoring category. Ties go to the category that
// comes first in models.Categories.
func Worst(m models.SkinMetrics) models.Category {
	worst := models.Categories[0]
	for _, c := range models.Categories[1:] {
		if m.Get(c).Score < m.Get(worst).Score {
			worst = c
		}
	}
	return worst
}

// Best returns the highest-scoring category, with the same tie-break as Worst.
func Best(m models.SkinMetrics) models.Category {
	best := models.Categories[0]
	for _, c := range models.Categories[1:] {
		if m.Get(c).Score > m.Get(best).Score {
			best = c
		}
	}
	return best
}
