// Package pipeline composes the analysis phases: quota, fetch, cache,
// vision scoring, knowledge retrieval, aggregation and narrative.
package pipeline

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/franckalain/glowscan/internal/knowledge"
	"github.com/franckalain/glowscan/internal/metrics"
	"github.com/franckalain/glowscan/internal/models"
	"github.com/franckalain/glowscan/internal/quota"
	"github.com/franckalain/glowscan/internal/scoring"
)

const (
	maxRecommendations    = 5
	maxProductSuggestions = 3
)

// Progress phases published to Notifier.
const (
	PhaseFetched   = "fetched"
	PhaseCacheHit  = "cache_hit"
	PhaseScored    = "scored"
	PhaseRetrieved = "retrieved"
	PhaseNarrated  = "narrated"
	PhaseComplete  = "complete"
)

type QuotaArbiter interface {
	Precheck(ctx context.Context, user string) (quota.Decision, error)
	Consume(ctx context.Context, user string) (quota.Decision, error)
}

type Normalizer interface {
	Normalize(ctx context.Context, imageRef string) (models.NormalizedImage, error)
}

type ResultCache interface {
	Get(ctx context.Context, user, fingerprint string) (*models.AnalysisResult, bool, error)
	Put(ctx context.Context, user, fingerprint string, result models.AnalysisResult) error
}

type Scorer interface {
	Score(ctx context.Context, img models.NormalizedImage) (models.SkinMetrics, string)
}

type Retriever interface {
	Retrieve(ctx context.Context, m models.SkinMetrics) ([]models.KnowledgeContext, string)
}

type Narrator interface {
	Narrate(ctx context.Context, m models.SkinMetrics, glow models.GlowScoreResult, contexts []models.KnowledgeContext) (string, string)
}

type UsageRecorder interface {
	RecordScanUsage(ctx context.Context, userID string) (models.UsageSnapshot, error)
}

// Notifier receives progress events for a scan.
type Notifier interface {
	Publish(userID, scanID, phase string)
}

// Deps are the collaborators of an Analyzer. Cache, Usage and Notifier are
// optional.
type Deps struct {
	Quota      QuotaArbiter
	Normalizer Normalizer
	Cache      ResultCache
	Vision     Scorer
	Knowledge  Retriever
	Narrative  Narrator
	Usage      UsageRecorder
	Notifier   Notifier
	Background *Background
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// Analyzer runs the analyze operation.
type Analyzer struct {
	Deps
	log *zap.Logger
}

// NewAnalyzer returns an analyzer.
func NewAnalyzer(deps Deps, log *zap.Logger) *Analyzer {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Background == nil {
		deps.Background = NewBackground(0, deps.Metrics, log)
	}
	return &Analyzer{Deps: deps, log: log.Named("pipeline")}
}

// Analyze produces the analysis for req. Phases run strictly in order and
// the cache check precedes quota consumption.
func (a *Analyzer) Analyze(ctx context.Context, req models.ScanRequest) (*models.AnalysisResult, error) {
	log := a.log.With(
		zap.String("scan_id", req.ScanID),
		zap.String("user_id", req.RequesterID),
		zap.String("trace_id", req.TraceID))

	pre, err := a.Quota.Precheck(ctx, req.RequesterID)
	if err != nil {
		return nil, err
	}
	if !pre.Allowed {
		a.Metrics.QuotaDenied()
		return nil, fmt.Errorf("%w: daily limit reached", models.ErrQuotaExceeded)
	}

	start := time.Now()
	img, err := a.Normalizer.Normalize(ctx, req.ImageRef)
	a.Metrics.ObservePhase("fetch", start)
	if err != nil {
		return nil, err
	}
	a.publish(req, PhaseFetched)

	if a.Cache != nil {
		cached, hit, err := a.Cache.Get(ctx, req.RequesterID, img.Fingerprint)
		if err != nil {
			log.Warn("cache lookup failed, continuing without cache", zap.Error(err))
		}
		a.Metrics.CacheLookup(hit)
		if hit {
			cached.ScanID = req.ScanID
			cached.CacheHit = true
			cached.ProcessingTimeMs = a.elapsed(req)
			log.Info("served from cache", zap.String("fingerprint", img.Fingerprint))
			a.publish(req, PhaseCacheHit)
			a.publish(req, PhaseComplete)
			return cached, nil
		}
	}

	dec, err := a.Quota.Consume(ctx, req.RequesterID)
	if err != nil {
		return nil, err
	}
	if !dec.Allowed {
		a.Metrics.QuotaDenied()
		return nil, fmt.Errorf("%w: daily limit reached", models.ErrQuotaExceeded)
	}

	start = time.Now()
	skin, visionTier := a.Vision.Score(ctx, img)
	a.Metrics.ObservePhase("vision", start)
	a.Metrics.Tier("vision", visionTier)
	a.publish(req, PhaseScored)

	start = time.Now()
	contexts, knowledgeTier := a.Knowledge.Retrieve(ctx, skin)
	a.Metrics.ObservePhase("knowledge", start)
	a.Metrics.Tier("knowledge", knowledgeTier)
	a.publish(req, PhaseRetrieved)

	glow := scoring.Aggregate(skin)

	start = time.Now()
	narrative, narrativeTier := a.Narrative.Narrate(ctx, skin, glow, contexts)
	a.Metrics.ObservePhase("narrative", start)
	a.Metrics.Tier("narrative", narrativeTier)
	a.publish(req, PhaseNarrated)

	result := buildResult(req, skin, glow, contexts, narrative)
	result.Tiers = models.Tiers{Vision: visionTier, Knowledge: knowledgeTier, Narrative: narrativeTier}
	result.ProcessingTimeMs = a.elapsed(req)

	log.Info("scan analyzed",
		zap.Int("glow_score", result.GlowScore),
		zap.Float64("image_quality", skin.ImageQuality()),
		zap.String("vision_tier", visionTier),
		zap.String("knowledge_tier", knowledgeTier),
		zap.String("narrative_tier", narrativeTier),
		zap.Int64("remaining", dec.Remaining),
		zap.Int64("processing_time_ms", result.ProcessingTimeMs))

	a.afterResponse(ctx, req, img.Fingerprint, result)
	a.publish(req, PhaseComplete)
	return &result, nil
}

func (a *Analyzer) afterResponse(ctx context.Context, req models.ScanRequest, fingerprint string, result models.AnalysisResult) {
	var tasks []Task
	if a.Cache != nil {
		tasks = append(tasks, Task{Name: "cache_put", Run: func(ctx context.Context) error {
			return a.Cache.Put(ctx, req.RequesterID, fingerprint, result)
		}})
	}
	if a.Usage != nil {
		tasks = append(tasks, Task{Name: "record_usage", Run: func(ctx context.Context) error {
			usage, err := a.Usage.RecordScanUsage(ctx, req.RequesterID)
			if err != nil {
				return err
			}
			a.log.Debug("usage recorded",
				zap.String("user_id", req.RequesterID),
				zap.Int("daily_used", usage.DailyUsed),
				zap.Int("daily_remaining", usage.DailyRemaining))
			return nil
		}})
	}
	a.Background.Go(ctx, []zap.Field{zap.String("scan_id", req.ScanID)}, tasks...)
}

func (a *Analyzer) publish(req models.ScanRequest, phase string) {
	if a.Notifier != nil {
		a.Notifier.Publish(req.RequesterID, req.ScanID, phase)
	}
}

func (a *Analyzer) elapsed(req models.ScanRequest) int64 {
	if req.TraceStart.IsZero() {
		return 0
	}
	return a.Now().Sub(req.TraceStart).Milliseconds()
}

func buildResult(req models.ScanRequest, skin models.SkinMetrics, glow models.GlowScoreResult, contexts []models.KnowledgeContext, narrative string) models.AnalysisResult {
	summary := make(map[models.Category]models.CategorySummary, len(models.Categories))
	for _, c := range models.Categories {
		cs := glow.Categories[c]
		summary[c] = models.CategorySummary{
			Score:       cs.Score,
			Severity:    cs.Severity,
			Description: knowledge.Summarize(c, contexts),
		}
	}

	var recs, products []string
	for _, kc := range contexts {
		recs = appendUnique(recs, maxRecommendations, kc.Recommendations...)
		products = appendUnique(products, maxProductSuggestions, kc.ProductSuggestions...)
	}

	return models.AnalysisResult{
		ScanID:             req.ScanID,
		GlowScore:          glow.Overall,
		AnalysisSummary:    summary,
		Narrative:          narrative,
		Recommendations:    nonNil(recs),
		ProductSuggestions: nonNil(products),
	}
}

func appendUnique(dst []string, limit int, items ...string) []string {
	for _, it := range items {
		if len(dst) >= limit {
			break
		}
		if it != "" && !slices.Contains(dst, it) {
			dst = append(dst, it)
		}
	}
	return dst
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
