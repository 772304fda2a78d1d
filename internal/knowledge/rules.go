package knowledge

import (
	"sort"
	"strings"

	"github.com/franckalain/glowscan/internal/models"
)

type rule struct {
	category  models.Category
	threshold int
	context   models.KnowledgeContext
}

// rules is ordered by relevance.
var rules = []rule{
	{models.Hydration, 70, models.KnowledgeContext{
		Condition: "Dehydration",
		Relevance: 0.9,
		Recommendations: []string{
			"Drink at least 8 glasses of water daily",
			"Use a hyaluronic acid serum",
			"Apply a rich moisturizer twice daily",
		},
		NarrativeTemplates: []string{
			"Your skin is asking for water louder than you are.",
			"Moisture levels are running on empty.",
		},
		ProductSuggestions: []string{
			"The Ordinary Hyaluronic Acid 2% + B5",
			"CeraVe Moisturizing Cream",
		},
	}},
	{models.Pores, 70, models.KnowledgeContext{
		Condition: "Enlarged Pores",
		Relevance: 0.85,
		Recommendations: []string{
			"Use a niacinamide serum to minimize pores",
			"Try a weekly clay mask",
			"Wear sunscreen daily since UV damage enlarges pores",
		},
		NarrativeTemplates: []string{
			"Your pores are making themselves very visible.",
		},
		ProductSuggestions: []string{
			"The Ordinary Niacinamide 10% + Zinc 1%",
			"Paula's Choice 2% BHA Liquid Exfoliant",
		},
	}},
	{models.Texture, 70, models.KnowledgeContext{
		Condition: "Rough Texture",
		Relevance: 0.8,
		Recommendations: []string{
			"Exfoliate 2-3 times per week",
			"Use a chemical exfoliant (AHA/BHA)",
			"Consider adding retinol to your routine",
		},
		NarrativeTemplates: []string{
			"Your texture could use some smoothing out.",
		},
		ProductSuggestions: []string{
			"Paula's Choice 8% AHA Gel Exfoliant",
			"The Ordinary Retinol 0.5% in Squalane",
		},
	}},
	{models.Tone, 75, models.KnowledgeContext{
		Condition: "Uneven Tone",
		Relevance: 0.75,
		Recommendations: []string{
			"Apply a vitamin C serum every morning",
			"Use broad-spectrum SPF 30+ daily",
			"Introduce an azelaic acid treatment for redness and dark spots",
		},
		NarrativeTemplates: []string{
			"Your tone is a little patchy right now.",
		},
		ProductSuggestions: []string{
			"Timeless 20% Vitamin C + E Ferulic Acid Serum",
			"The Ordinary Azelaic Acid Suspension 10%",
		},
	}},
}

var maintenance = models.KnowledgeContext{
	Condition: "Maintenance",
	Relevance: 0.7,
	Recommendations: []string{
		"Continue your current skincare routine",
		"Always wear SPF 30+ sunscreen",
		"Stay hydrated and get adequate sleep",
	},
	NarrativeTemplates: []string{
		"Not bad at all, keep doing what you're doing.",
	},
	ProductSuggestions: []string{
		"CeraVe AM Facial Moisturizing Lotion SPF 30",
		"Neutrogena Hydro Boost Water Gel",
	},
}

// RuleContexts selects entries from the static table using the same
// thresholds as Describe. It never returns an empty slice.
func RuleContexts(m models.SkinMetrics) []models.KnowledgeContext {
	var out []models.KnowledgeContext
	for _, r := range rules {
		if m.Get(r.category).Score < r.threshold {
			out = append(out, clone(r.context))
		}
	}
	if len(out) == 0 {
		return []models.KnowledgeContext{clone(maintenance)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Relevance > out[j].Relevance })
	if len(out) > MaxContexts {
		out = out[:MaxContexts]
	}
	return out
}

var summaryDefaults = map[models.Category]struct{ keyword, fallback string }{
	models.Pores:     {"pore", "Normal pore size"},
	models.Texture:   {"texture", "Skin texture analysis"},
	models.Tone:      {"tone", "Skin tone uniformity"},
	models.Hydration: {"hydrat", "Normal hydration"},
}

// Summarize names the first retrieved condition about c, or a neutral
// description when none matches.
func Summarize(c models.Category, contexts []models.KnowledgeContext) string {
	d := summaryDefaults[c]
	for _, kc := range contexts {
		if strings.Contains(strings.ToLower(kc.Condition), d.keyword) {
			return kc.Condition
		}
	}
	return d.fallback
}

func clone(c models.KnowledgeContext) models.KnowledgeContext {
	c.Recommendations = append([]string(nil), c.Recommendations...)
	c.NarrativeTemplates = append([]string(nil), c.NarrativeTemplates...)
	c.ProductSuggestions = append([]string(nil), c.ProductSuggestions...)
	return c
}
