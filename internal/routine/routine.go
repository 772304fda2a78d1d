// Package routine builds a morning and evening skincare routine from the
// product catalog for a user's skin profile.
package routine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/franckalain/glowscan/internal/ml"
	"github.com/franckalain/glowscan/internal/models"
)

var (
	MorningSteps = []string{"cleanser", "toner", "serum", "moisturizer", "spf"}
	EveningSteps = []string{"cleanser", "toner", "treatment", "serum", "moisturizer"}
)

var instructions = map[string]string{
	"cleanser":    "Apply to damp skin, massage gently for 30-60 seconds, then rinse.",
	"toner":       "Apply to a cotton pad and gently sweep across face, or pat directly onto skin.",
	"serum":       "Apply 2-3 drops to clean skin, pat gently until absorbed.",
	"moisturizer": "Apply a pea-sized amount and massage into skin using upward motions.",
	"spf":         "Apply generously as the last step. Reapply every 2 hours when outdoors.",
	"treatment":   "Apply a thin layer to affected areas. Start with every other night if new to this product.",
}

const defaultInstructions = "Apply as directed on product packaging."

// ErrNoProducts is returned when the catalog is empty.
var ErrNoProducts = errors.New("no products available for routine generation")

// Catalog is the record API the generator reads from and writes to.
type Catalog interface {
	GetSkinProfile(ctx context.Context, userID string) (*models.SkinProfile, error)
	ListProducts(ctx context.Context) ([]models.Product, error)
	ReplaceRoutines(ctx context.Context, userID string, morning, evening models.Routine) (models.RoutineIDs, error)
}

// Result is the response of a generate call.
type Result struct {
	Success  bool              `json:"success"`
	Routines models.RoutineIDs `json:"routines"`
	Message  string            `json:"message"`
}

// Generator selects products and saves routines.
type Generator struct {
	catalog Catalog
	model   ml.TextModel
	log     *zap.Logger
}

// NewGenerator returns a routine generator.
func NewGenerator(catalog Catalog, model ml.TextModel, log *zap.Logger) *Generator {
	return &Generator{catalog: catalog, model: model, log: log.Named("routine")}
}

// Instructions returns the application guidance for a step type.
func Instructions(stepType string) string {
	if s, ok := instructions[stepType]; ok {
		return s
	}
	return defaultInstructions
}

// Generate builds and saves routines for userID. When profile carries no
// skin type the stored profile is loaded, and any concerns or goals given in
// profile replace the stored ones. No stored profile is a bad request.
func (g *Generator) Generate(ctx context.Context, userID string, profile *models.SkinProfile) (Result, error) {
	if profile == nil || profile.SkinType == "" {
		stored, err := g.catalog.GetSkinProfile(ctx, userID)
		if errors.Is(err, models.ErrNotFound) {
			return Result{}, fmt.Errorf("%w: no skin profile found, complete the skin quiz first", models.ErrBadRequest)
		}
		if err != nil {
			return Result{}, err
		}
		profile = overlay(*stored, profile)
	}

	products, err := g.catalog.ListProducts(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(products) == 0 {
		return Result{}, ErrNoProducts
	}

	matched := Filter(products, *profile)
	g.log.Info("matched products",
		zap.String("user_id", userID), zap.Int("catalog", len(products)), zap.Int("matched", len(matched)))

	morning, evening := g.selectProducts(ctx, matched, *profile)

	ids, err := g.catalog.ReplaceRoutines(ctx, userID,
		buildRoutine("morning", "Morning Routine", morning),
		buildRoutine("evening", "Evening Routine", evening))
	if err != nil {
		return Result{}, err
	}
	return Result{Success: true, Routines: ids, Message: "Routines generated successfully"}, nil
}

func overlay(stored models.SkinProfile, given *models.SkinProfile) *models.SkinProfile {
	if given != nil {
		if len(given.SkinConcerns) > 0 {
			stored.SkinConcerns = given.SkinConcerns
		}
		if len(given.SkinGoals) > 0 {
			stored.SkinGoals = given.SkinGoals
		}
	}
	return &stored
}

// Filter keeps products suited to the profile's skin type, products that
// target one of its concerns, and products that target no concern at all.
func Filter(products []models.Product, profile models.SkinProfile) []models.Product {
	var out []models.Product
	for _, p := range products {
		meta := p.Metadata
		if meta == nil {
			continue
		}
		typeMatch := slices.Contains(meta.SkinTypes, profile.SkinType) || slices.Contains(meta.SkinTypes, "all")
		concernMatch := len(meta.ConcernsTargeted) == 0
		for _, c := range profile.SkinConcerns {
			if slices.Contains(meta.ConcernsTargeted, c) {
				concernMatch = true
				break
			}
		}
		if typeMatch || concernMatch {
			out = append(out, p)
		}
	}
	return out
}

func (g *Generator) selectProducts(ctx context.Context, products []models.Product, profile models.SkinProfile) ([]models.Product, []models.Product) {
	morning, evening, err := g.modelSelect(ctx, products, profile)
	if err == nil {
		return morning, evening
	}
	g.log.Warn("model product selection failed, using rule selection", zap.Error(err))
	return RuleSelect(products, profile)
}

type selection struct {
	Morning []string `json:"morning"`
	Evening []string `json:"evening"`
}

func (g *Generator) modelSelect(ctx context.Context, products []models.Product, profile models.SkinProfile) ([]models.Product, []models.Product, error) {
	prompt, err := selectionPrompt(products, profile)
	if err != nil {
		return nil, nil, err
	}
	reply, err := g.model.Generate(ctx, prompt)
	if err != nil {
		return nil, nil, err
	}

	first, last := strings.Index(reply, "{"), strings.LastIndex(reply, "}")
	if first < 0 || last <= first {
		return nil, nil, fmt.Errorf("no JSON in model reply")
	}
	var sel selection
	if err := json.Unmarshal([]byte(reply[first:last+1]), &sel); err != nil {
		return nil, nil, fmt.Errorf("failed to parse selection: %w", err)
	}

	byID := make(map[string]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	resolve := func(ids []string) []models.Product {
		var out []models.Product
		for _, id := range ids {
			if p, ok := byID[id]; ok {
				out = append(out, p)
			}
		}
		return out
	}
	morning, evening := resolve(sel.Morning), resolve(sel.Evening)
	if len(morning) == 0 && len(evening) == 0 && len(products) > 0 {
		return nil, nil, fmt.Errorf("selection matched no known products")
	}
	return morning, evening, nil
}

func selectionPrompt(products []models.Product, profile models.SkinProfile) (string, error) {
	type item struct {
		ID        string   `json:"id"`
		Name      string   `json:"name"`
		Category  string   `json:"category"`
		StepType  string   `json:"step_type"`
		SkinTypes []string `json:"skin_types"`
		Concerns  []string `json:"concerns"`
	}
	list := make([]item, 0, len(products))
	for _, p := range products {
		it := item{ID: p.ID, Name: strings.TrimSpace(p.Brand + " " + p.Name), Category: p.Category, StepType: p.StepType()}
		if p.Metadata != nil {
			it.SkinTypes = p.Metadata.SkinTypes
			it.Concerns = p.Metadata.ConcernsTargeted
		}
		list = append(list, it)
	}
	catalog, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode catalog: %w", err)
	}

	concerns := strings.Join(profile.SkinConcerns, ", ")
	if concerns == "" {
		concerns = "none"
	}
	goals := strings.Join(profile.SkinGoals, ", ")
	if goals == "" {
		goals = "general care"
	}

	return fmt.Sprintf(`You are a skincare expert. Select the best products for this user's morning and evening routines.

Skin profile:
- Skin type: %s
- Concerns: %s
- Goals: %s

Available products:
%s

Morning steps: %s
Evening steps: %s

Select one product id per step and skip steps no product fits.
Return only JSON in exactly this format:
{"morning": ["id1", "id2"], "evening": ["id1", "id2"]}`,
		profile.SkinType, concerns, goals, catalog,
		strings.Join(MorningSteps, " -> "), strings.Join(EveningSteps, " -> ")), nil
}

// RuleSelect picks one product per step, preferring products that list the
// profile's skin type. Steps with no candidate are skipped.
func RuleSelect(products []models.Product, profile models.SkinProfile) ([]models.Product, []models.Product) {
	byStep := make(map[string][]models.Product)
	for _, p := range products {
		byStep[p.StepType()] = append(byStep[p.StepType()], p)
	}
	for step, candidates := range byStep {
		sort.SliceStable(candidates, func(i, j int) bool {
			return typeMatch(candidates[i], profile) && !typeMatch(candidates[j], profile)
		})
		byStep[step] = candidates
	}

	pick := func(steps []string) []models.Product {
		var out []models.Product
		for _, s := range steps {
			if c := byStep[s]; len(c) > 0 {
				out = append(out, c[0])
			}
		}
		return out
	}
	return pick(MorningSteps), pick(EveningSteps)
}

func typeMatch(p models.Product, profile models.SkinProfile) bool {
	return p.Metadata != nil && slices.Contains(p.Metadata.SkinTypes, profile.SkinType)
}

func buildRoutine(kind, name string, products []models.Product) models.Routine {
	r := models.Routine{Type: kind, Name: name}
	for i, p := range products {
		step := p.StepType()
		r.Steps = append(r.Steps, models.RoutineStep{
			ProductID:    p.ID,
			StepOrder:    i + 1,
			StepType:     step,
			Instructions: Instructions(step),
		})
	}
	return r
}
