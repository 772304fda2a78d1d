package narrative

import (
	"fmt"

	"github.com/franckalain/glowscan/internal/models"
)

var worstLabels = map[models.Category]string{
	models.Pores:     "pores",
	models.Texture:   "texture",
	models.Tone:      "skin tone",
	models.Hydration: "hydration",
}

var bestLabels = map[models.Category]string{
	models.Pores:     "pore appearance",
	models.Texture:   "skin texture",
	models.Tone:      "tone evenness",
	models.Hydration: "hydration levels",
}

// Actions is the one concrete step recommended for each worst category.
var Actions = map[models.Category]string{
	models.Pores:     "use a niacinamide serum daily to minimize and regulate oil",
	models.Texture:   "add a gentle exfoliating toner with AHAs 2-3 times a week",
	models.Tone:      "apply vitamin C serum every morning before sunscreen",
	models.Hydration: "layer a hyaluronic acid serum under your moisturizer on damp skin",
}

// Band is the overall-score bucket used to pick a fallback template.
type Band int

const (
	BandStrong Band = iota
	BandSteady
	BandStruggling
	BandCritical
)

// BandFor buckets the unweighted mean score.
func BandFor(mean int) Band {
	switch {
	case mean >= 80:
		return BandStrong
	case mean >= 65:
		return BandSteady
	case mean >= 50:
		return BandStruggling
	default:
		return BandCritical
	}
}

// templates take, in order: best label, worst label, action.
var templates = map[Band]string{
	BandStrong: "Your skin is in great shape right now, and you are doing especially well on %s. " +
		"The one thing holding you back is your %s, so %s and you could be in the 90s soon.",
	BandSteady: "You have a solid base to work with, and you are doing well on %s. " +
		"The area that needs the most attention is your %s, so start tonight: %s.",
	BandStruggling: "Your skin is going through a rough patch, but your %s shows it is still fighting for you. " +
		"The main concern is your %s, and the first fix is simple: %s, starting today.",
	BandCritical: "There is real work to do, but your %s proves there is something to build on. " +
		"Urgent care goes to your %s first, so %s right away and keep it consistent.",
}

// Fallback is the deterministic narrative for m, selected by the band of the
// mean score and the worst category.
func Fallback(m models.SkinMetrics) string {
	worst := Worst(m)
	return fmt.Sprintf(templates[BandFor(m.MeanScore())], bestLabels[Best(m)], worstLabels[worst], Actions[worst])
}
