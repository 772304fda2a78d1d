package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/franckalain/glowscan/internal/cache"
	"github.com/franckalain/glowscan/internal/database"
	"github.com/franckalain/glowscan/internal/imaging"
	"github.com/franckalain/glowscan/internal/knowledge"
	"github.com/franckalain/glowscan/internal/metrics"
	"github.com/franckalain/glowscan/internal/models"
	"github.com/franckalain/glowscan/internal/narrative"
	"github.com/franckalain/glowscan/internal/quota"
	"github.com/franckalain/glowscan/internal/scoring"
	"github.com/franckalain/glowscan/internal/vision"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const visionReply = `{"pores":{"score":60,"confidence":0.9},"texture":{"score":80,"confidence":0.9},` +
	`"tone":{"score":85,"confidence":0.9},"hydration":{"score":65,"confidence":0.9}}`

var expectedMetrics = models.SkinMetrics{
	Pores:     models.CategoryMetric{Score: 60, Confidence: 0.9},
	Texture:   models.CategoryMetric{Score: 80, Confidence: 0.9},
	Tone:      models.CategoryMetric{Score: 85, Confidence: 0.9},
	Hydration: models.CategoryMetric{Score: 65, Confidence: 0.9},
}

type stubVision struct{ reply string }

func (s stubVision) AnalyzeImage(context.Context, models.NormalizedImage, string) (string, error) {
	return s.reply, nil
}

type offlineText struct{}

func (offlineText) Generate(context.Context, string) (string, error) {
	return "", errors.New("offline")
}

type refNormalizer struct{ err error }

func (n refNormalizer) Normalize(_ context.Context, ref string) (models.NormalizedImage, error) {
	if n.err != nil {
		return models.NormalizedImage{}, n.err
	}
	return imaging.Encode([]byte("image:" + ref)), nil
}

type usageRecorder struct {
	mu    sync.Mutex
	users []string
}

func (u *usageRecorder) RecordScanUsage(_ context.Context, user string) (models.UsageSnapshot, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.users = append(u.users, user)
	return models.UsageSnapshot{DailyUsed: len(u.users), DailyRemaining: 10 - len(u.users)}, nil
}

func (u *usageRecorder) calls() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.users)
}

type phaseRecorder struct {
	mu     sync.Mutex
	phases []string
}

func (p *phaseRecorder) Publish(_, _, phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phases = append(p.phases, phase)
}

func (p *phaseRecorder) take() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.phases
	p.phases = nil
	return out
}

type harness struct {
	analyzer *Analyzer
	db       *database.SQLiteDB
	usage    *usageRecorder
	phases   *phaseRecorder
	now      time.Time
}

func newHarness(t *testing.T, limit int64, withCache bool, normalizer Normalizer) *harness {
	t.Helper()
	log := zap.NewNop()
	db, err := database.NewSQLiteDB(filepath.Join(t.TempDir(), "pipeline.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	clock := func() time.Time { return now.Add(50 * time.Millisecond) }

	h := &harness{db: db, usage: &usageRecorder{}, phases: &phaseRecorder{}, now: now}
	m := metrics.New()
	deps := Deps{
		Quota:      quota.NewArbiter(db, limit, 25*time.Hour, func() time.Time { return now }, log),
		Normalizer: normalizer,
		Vision:     vision.NewAgent(stubVision{reply: visionReply}, clock, log),
		Knowledge:  knowledge.NewAgent(nil, nil, 3, log),
		Narrative:  narrative.NewGenerator(offlineText{}, log),
		Usage:      h.usage,
		Notifier:   h.phases,
		Background: NewBackground(time.Second, m, log),
		Metrics:    m,
		Now:        clock,
	}
	if withCache {
		deps.Cache = cache.NewResultCache(db, time.Hour, log)
	}
	h.analyzer = NewAnalyzer(deps, log)
	return h
}

func (h *harness) request(user, ref string) models.ScanRequest {
	return models.ScanRequest{
		RequesterID: user,
		ImageRef:    ref,
		ScanID:      "scan-" + ref,
		TraceID:     "trace-" + ref,
		TraceStart:  h.now,
	}
}

func (h *harness) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.analyzer.Background.Drain(ctx))
}

func (h *harness) used(t *testing.T, user string) int64 {
	t.Helper()
	n, err := h.db.Count(context.Background(), quota.Key(user, h.now))
	require.NoError(t, err)
	return n
}

func TestAnalyzeFullRunThenCacheHit(t *testing.T) {
	h := newHarness(t, 5, true, refNormalizer{})
	ctx := context.Background()

	first, err := h.analyzer.Analyze(ctx, h.request("u1", "face.jpg"))
	require.NoError(t, err)
	h.drain(t)

	assert.False(t, first.CacheHit)
	assert.Equal(t, "scan-face.jpg", first.ScanID)
	assert.Equal(t, scoring.Aggregate(expectedMetrics).Overall, first.GlowScore)
	assert.Equal(t, models.Tiers{
		Vision:    vision.TierStructured,
		Knowledge: knowledge.TierRules,
		Narrative: narrative.TierTemplate,
	}, first.Tiers)
	assert.Equal(t, narrative.Fallback(expectedMetrics), first.Narrative)
	assert.Equal(t, int64(50), first.ProcessingTimeMs)
	require.Len(t, first.AnalysisSummary, 4)
	assert.Equal(t, 60, first.AnalysisSummary[models.Pores].Score)
	for _, c := range models.Categories {
		assert.NotEmpty(t, first.AnalysisSummary[c].Description, c)
		assert.NotEmpty(t, first.AnalysisSummary[c].Severity, c)
	}
	assert.NotEmpty(t, first.Recommendations)
	assert.LessOrEqual(t, len(first.Recommendations), maxRecommendations)
	assert.LessOrEqual(t, len(first.ProductSuggestions), maxProductSuggestions)
	assert.Equal(t, []string{PhaseFetched, PhaseScored, PhaseRetrieved, PhaseNarrated, PhaseComplete}, h.phases.take())
	assert.Equal(t, int64(1), h.used(t, "u1"))
	assert.Equal(t, 1, h.usage.calls())

	second, err := h.analyzer.Analyze(ctx, h.request("u1", "face.jpg"))
	require.NoError(t, err)
	h.drain(t)

	assert.True(t, second.CacheHit)
	assert.Equal(t, first.GlowScore, second.GlowScore)
	assert.Equal(t, first.Narrative, second.Narrative)
	assert.Equal(t, []string{PhaseFetched, PhaseCacheHit, PhaseComplete}, h.phases.take())
	assert.Equal(t, int64(1), h.used(t, "u1"), "cache hits do not consume quota")
	assert.Equal(t, 1, h.usage.calls())
}

func TestAnalyzeCacheIsPerUser(t *testing.T) {
	h := newHarness(t, 5, true, refNormalizer{})
	ctx := context.Background()

	_, err := h.analyzer.Analyze(ctx, h.request("u1", "face.jpg"))
	require.NoError(t, err)
	h.drain(t)

	other, err := h.analyzer.Analyze(ctx, h.request("u2", "face.jpg"))
	require.NoError(t, err)
	h.drain(t)

	assert.False(t, other.CacheHit)
	assert.Equal(t, int64(1), h.used(t, "u2"))
}

func TestAnalyzeQuotaExceeded(t *testing.T) {
	h := newHarness(t, 1, true, refNormalizer{})
	ctx := context.Background()

	_, err := h.analyzer.Analyze(ctx, h.request("u1", "a.jpg"))
	require.NoError(t, err)
	h.drain(t)

	_, err = h.analyzer.Analyze(ctx, h.request("u1", "b.jpg"))
	assert.ErrorIs(t, err, models.ErrQuotaExceeded)

	// The precheck runs before the cache lookup.
	_, err = h.analyzer.Analyze(ctx, h.request("u1", "a.jpg"))
	assert.ErrorIs(t, err, models.ErrQuotaExceeded)
	assert.Equal(t, int64(1), h.used(t, "u1"))
}

func TestAnalyzeFetchFailureConsumesNothing(t *testing.T) {
	fetchErr := fmt.Errorf("%w: status 404", models.ErrUpstreamFetch)
	h := newHarness(t, 5, true, refNormalizer{err: fetchErr})

	_, err := h.analyzer.Analyze(context.Background(), h.request("u1", "missing.jpg"))
	assert.ErrorIs(t, err, models.ErrUpstreamFetch)
	assert.Zero(t, h.used(t, "u1"))
	assert.Empty(t, h.phases.take())
}

func TestAnalyzeWithoutCacheAlwaysConsumes(t *testing.T) {
	h := newHarness(t, 5, false, refNormalizer{})
	ctx := context.Background()

	for range 3 {
		res, err := h.analyzer.Analyze(ctx, h.request("u1", "face.jpg"))
		require.NoError(t, err)
		assert.False(t, res.CacheHit)
	}
	h.drain(t)
	assert.Equal(t, int64(3), h.used(t, "u1"))
	assert.Equal(t, 3, h.usage.calls())
}

func TestAppendUnique(t *testing.T) {
	got := appendUnique(nil, 3, "a", "b", "a", "", "c", "d")
	assert.Equal(t, []string{"a", "b", "c"}, got)
}
