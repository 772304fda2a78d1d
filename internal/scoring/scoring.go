// Package scoring computes the Glow Score from vision metrics. It performs no
// I/O and has no failure mode.
package scoring

import (
	"math"

	"github.com/franckalain/glowscan/internal/models"
)

// Weights per category. They sum to exactly 1.0; hydration dominates.
const (
	WeightHydration = 0.30
	WeightTexture   = 0.25
	WeightTone      = 0.25
	WeightPores     = 0.20
)

// Severity labels and the lower bound (inclusive) of each band.
const (
	SeverityMinimal  = "minimal"
	SeverityMild     = "mild"
	SeverityModerate = "moderate"
	SeveritySevere   = "severe"

	minimalFloor  = 85
	mildFloor     = 70
	moderateFloor = 50
)

// Aggregate computes the weighted overall score and per-category severity.
func Aggregate(m models.SkinMetrics) models.GlowScoreResult {
	weighted := float64(m.Hydration.Score)*WeightHydration +
		float64(m.Texture.Score)*WeightTexture +
		float64(m.Tone.Score)*WeightTone +
		float64(m.Pores.Score)*WeightPores

	result := models.GlowScoreResult{
		// The epsilon absorbs float error such as 80*0.3+...+80*0.2 = 79.99999.
		Overall:    int(math.Round(weighted + 1e-9)),
		Categories: make(map[models.Category]models.CategoryScore, len(models.Categories)),
	}
	for _, c := range models.Categories {
		score := m.Get(c).Score
		result.Categories[c] = models.CategoryScore{Score: score, Severity: Severity(score)}
	}
	return result
}

// Severity maps a 0-100 score to its band label.
func Severity(score int) string {
	switch {
	case score >= minimalFloor:
		return SeverityMinimal
	case score >= mildFloor:
		return SeverityMild
	case score >= moderateFloor:
		return SeverityModerate
	default:
		return SeveritySevere
	}
}

// Interpretation is a short human reading of an overall score.
func Interpretation(overall int) string {
	switch {
	case overall >= 90:
		return "Excellent - your skin is glowing"
	case overall >= 80:
		return "Good - healthy skin"
	case overall >= 70:
		return "Fair - room for improvement"
	case overall >= 60:
		return "Needs attention - time for a better routine"
	default:
		return "Concerning - consider seeing a dermatologist"
	}
}
