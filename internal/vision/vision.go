// Package vision turns a skin photo into four category scores. It always
// produces a complete SkinMetrics, degrading from the model's structured
// reply to pattern extraction to time-seeded synthesized scores.
package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/franckalain/glowscan/internal/fallback"
	"github.com/franckalain/glowscan/internal/ml"
	"github.com/franckalain/glowscan/internal/models"
)

// Tier names.
const (
	TierStructured  = "structured"
	TierPattern     = "pattern"
	TierSynthesized = "synthesized"
)

const (
	defaultConfidence     = 0.8
	patternConfidence     = 0.7
	synthesizedConfidence = 0.5
	minPatternMatches     = 2
)

// Neutral scores used by pattern extraction when a category is absent.
var patternDefaults = map[models.Category]int{
	models.Pores:     65,
	models.Texture:   70,
	models.Tone:      72,
	models.Hydration: 68,
}

// Scores used by structured parsing when a category object has no score.
var structuredDefaults = map[models.Category]float64{
	models.Pores:     70,
	models.Texture:   75,
	models.Tone:      80,
	models.Hydration: 72,
}

var categoryPatterns = map[models.Category]*regexp.Regexp{
	models.Pores:     regexp.MustCompile(`(?i)pores?.*?(\d+)`),
	models.Texture:   regexp.MustCompile(`(?i)texture.*?(\d+)`),
	models.Tone:      regexp.MustCompile(`(?i)tone.*?(\d+)`),
	models.Hydration: regexp.MustCompile(`(?i)hydrat[ion]*.*?(\d+)`),
}

// Agent is the vision scoring agent.
type Agent struct {
	model ml.VisionModel
	now   func() time.Time
	log   *zap.Logger
}

// NewAgent returns an agent backed by model. now seeds the synthesized tier.
func NewAgent(model ml.VisionModel, now func() time.Time, log *zap.Logger) *Agent {
	if now == nil {
		now = time.Now
	}
	return &Agent{model: model, now: now, log: log.Named("vision")}
}

// Score returns the metrics for img and the tier that produced them.
func (a *Agent) Score(ctx context.Context, img models.NormalizedImage) (models.SkinMetrics, string) {
	var (
		reply   string
		callErr error
	)

	out, err := fallback.Run(ctx,
		fallback.Strategy[models.SkinMetrics]{Tier: TierStructured, Run: func(ctx context.Context) (models.SkinMetrics, error) {
			reply, callErr = a.model.AnalyzeImage(ctx, img, scoringPrompt)
			if callErr != nil {
				return models.SkinMetrics{}, fmt.Errorf("%w: %w", models.ErrScoringDegraded, callErr)
			}
			return ParseStructured(reply)
		}},
		fallback.Strategy[models.SkinMetrics]{Tier: TierPattern, Run: func(context.Context) (models.SkinMetrics, error) {
			if callErr != nil {
				return models.SkinMetrics{}, fmt.Errorf("%w: no model reply", models.ErrScoringDegraded)
			}
			return ParsePattern(reply)
		}},
		fallback.Strategy[models.SkinMetrics]{Tier: TierSynthesized, Run: func(context.Context) (models.SkinMetrics, error) {
			return Synthesize(a.now()), nil
		}},
	)
	if err != nil {
		// Unreachable: the synthesized tier cannot fail.
		return Synthesize(a.now()), TierSynthesized
	}

	if out.Degraded() {
		a.log.Warn("vision scoring degraded",
			zap.String("tier", out.Tier),
			zap.Errors("failures", out.Failures),
			zap.Int("reply_len", len(reply)))
	}
	return out.Value, out.Tier
}

// flexNumber decodes a JSON number or a string holding one, e.g. "72".
type flexNumber float64

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	text := string(b)
	if strings.HasPrefix(text, `"`) {
		if err := json.Unmarshal(b, &text); err != nil {
			return err
		}
		text = strings.TrimSpace(text)
	}
	v, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("not a number: %s", b)
	}
	*n = flexNumber(v)
	return nil
}

type rawMetric struct {
	Score      *flexNumber `json:"score"`
	Confidence *flexNumber `json:"confidence"`
}

type rawMetrics struct {
	Pores     *rawMetric `json:"pores"`
	Texture   *rawMetric `json:"texture"`
	Tone      *rawMetric `json:"tone"`
	Hydration *rawMetric `json:"hydration"`
}

// ParseStructured extracts the JSON object from a model reply. All four
// categories must be present.
func ParseStructured(reply string) (models.SkinMetrics, error) {
	clean := strings.ReplaceAll(reply, "```json", "")
	clean = strings.ReplaceAll(clean, "```", "")

	first := strings.Index(clean, "{")
	last := strings.LastIndex(clean, "}")
	if first < 0 || last <= first {
		return models.SkinMetrics{}, fmt.Errorf("%w: no JSON object in reply", models.ErrScoringDegraded)
	}

	var raw rawMetrics
	if err := json.Unmarshal([]byte(clean[first:last+1]), &raw); err != nil {
		return models.SkinMetrics{}, fmt.Errorf("%w: %w", models.ErrScoringDegraded, err)
	}

	byCategory := map[models.Category]*rawMetric{
		models.Pores:     raw.Pores,
		models.Texture:   raw.Texture,
		models.Tone:      raw.Tone,
		models.Hydration: raw.Hydration,
	}
	var missing []string
	for _, c := range models.Categories {
		if byCategory[c] == nil {
			missing = append(missing, string(c))
		}
	}
	if len(missing) > 0 {
		return models.SkinMetrics{}, fmt.Errorf("%w: missing categories %s",
			models.ErrScoringDegraded, strings.Join(missing, ", "))
	}

	metric := func(c models.Category) models.CategoryMetric {
		r := byCategory[c]
		score := structuredDefaults[c]
		if r.Score != nil && *r.Score != 0 {
			score = float64(*r.Score)
		}
		conf := defaultConfidence
		if r.Confidence != nil && *r.Confidence > 0 {
			conf = math.Min(float64(*r.Confidence), 1)
		}
		return models.CategoryMetric{Score: clampScore(score), Confidence: conf}
	}
	return models.SkinMetrics{
		Pores:     metric(models.Pores),
		Texture:   metric(models.Texture),
		Tone:      metric(models.Tone),
		Hydration: metric(models.Hydration),
	}, nil
}

// ParsePattern finds "<category> ... <number>" in free text. At least two
// categories must match; the rest take neutral defaults, as do matches
// outside 1-100.
func ParsePattern(reply string) (models.SkinMetrics, error) {
	found := 0
	scores := make(map[models.Category]int, len(models.Categories))
	for _, c := range models.Categories {
		scores[c] = patternDefaults[c]
		m := categoryPatterns[c].FindStringSubmatch(reply)
		if m == nil {
			continue
		}
		found++
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 && n <= 100 {
			scores[c] = n
		}
	}
	if found < minPatternMatches {
		return models.SkinMetrics{}, fmt.Errorf("%w: only %d categories found in text",
			models.ErrScoringDegraded, found)
	}

	metric := func(c models.Category) models.CategoryMetric {
		return models.CategoryMetric{Score: scores[c], Confidence: patternConfidence}
	}
	return models.SkinMetrics{
		Pores:     metric(models.Pores),
		Texture:   metric(models.Texture),
		Tone:      metric(models.Tone),
		Hydration: metric(models.Hydration),
	}, nil
}

// Synthesize derives varied scores from the millisecond part of t so two
// failed scans rarely get identical numbers.
func Synthesize(t time.Time) models.SkinMetrics {
	seed := int(t.UnixMilli() % 1000)
	if seed < 0 {
		seed += 1000
	}
	return models.SkinMetrics{
		Pores:     models.CategoryMetric{Score: 55 + seed%35, Confidence: synthesizedConfidence},
		Texture:   models.CategoryMetric{Score: 60 + (seed*7)%30, Confidence: synthesizedConfidence},
		Tone:      models.CategoryMetric{Score: 65 + (seed*3)%25, Confidence: synthesizedConfidence},
		Hydration: models.CategoryMetric{Score: 50 + (seed*11)%40, Confidence: synthesizedConfidence},
	}
}

func clampScore(v float64) int {
	return int(math.Round(math.Max(0, math.Min(100, v))))
}
