package models

import (
	"time"
)

// Category names one of the four scored skin dimensions.
type Category string

const (
	Pores     Category = "pores"
	Texture   Category = "texture"
	Tone      Category = "tone"
	Hydration Category = "hydration"
)

// Categories is the canonical enumeration order. Ties between equal scores
// are always broken by position in this slice.
var Categories = []Category{Pores, Texture, Tone, Hydration}

// ScanRequest is the resolved, immutable input of one analyze call.
type ScanRequest struct {
	RequesterID string
	ImageRef    string
	ScanID      string
	TraceID     string
	TraceStart  time.Time
}

// NormalizedImage is the fetched image in the form sent to the scoring model.
type NormalizedImage struct {
	Data        []byte
	MIMEType    string
	Encoded     string // base64 of Data
	Fingerprint string
}

// CategoryMetric is a single score reported by the vision model.
type CategoryMetric struct {
	Score      int     `json:"score"`
	Confidence float64 `json:"confidence"`
}

// SkinMetrics holds all four categories. It is never partially populated.
type SkinMetrics struct {
	Pores     CategoryMetric `json:"pores"`
	Texture   CategoryMetric `json:"texture"`
	Tone      CategoryMetric `json:"tone"`
	Hydration CategoryMetric `json:"hydration"`
}

// Get returns the metric for c.
func (m SkinMetrics) Get(c Category) CategoryMetric {
	switch c {
	case Pores:
		return m.Pores
	case Texture:
		return m.Texture
	case Tone:
		return m.Tone
	default:
		return m.Hydration
	}
}

// MeanScore is the unweighted average of the four scores, rounded.
func (m SkinMetrics) MeanScore() int {
	sum := m.Pores.Score + m.Texture.Score + m.Tone.Score + m.Hydration.Score
	return (sum + 2) / 4
}

// ImageQuality is the mean model confidence across categories.
func (m SkinMetrics) ImageQuality() float64 {
	return (m.Pores.Confidence + m.Texture.Confidence + m.Tone.Confidence + m.Hydration.Confidence) / 4
}

// KnowledgeContext is one retrieved (or rule-derived) knowledge entry.
type KnowledgeContext struct {
	Condition          string   `json:"condition"`
	Relevance          float64  `json:"relevance"`
	Recommendations    []string `json:"recommendations"`
	NarrativeTemplates []string `json:"narrative_templates"`
	ProductSuggestions []string `json:"product_suggestions"`
}

// CategoryScore is the per-category part of a GlowScoreResult.
type CategoryScore struct {
	Score    int    `json:"score"`
	Severity string `json:"severity"`
}

// GlowScoreResult is the output of the score aggregator.
type GlowScoreResult struct {
	Overall    int                        `json:"overall"`
	Categories map[Category]CategoryScore `json:"categories"`
}

// CategorySummary is one entry of AnalysisResult.AnalysisSummary.
type CategorySummary struct {
	Score       int    `json:"score"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// Tiers records which fallback tier produced each phase's output.
type Tiers struct {
	Vision    string `json:"vision"`
	Knowledge string `json:"knowledge"`
	Narrative string `json:"narrative"`
}

// AnalysisResult is the response of the analyze operation and the value
// stored in the result cache.
type AnalysisResult struct {
	ScanID             string                       `json:"scan_id"`
	GlowScore          int                          `json:"glow_score"`
	AnalysisSummary    map[Category]CategorySummary `json:"analysis_summary"`
	Narrative          string                       `json:"narrative"`
	Recommendations    []string                     `json:"recommendations"`
	ProductSuggestions []string                     `json:"product_suggestions"`
	ProcessingTimeMs   int64                        `json:"processing_time_ms"`
	CacheHit           bool                         `json:"cache_hit"`
	Tiers              Tiers                        `json:"tiers"`
}
