package models

// SkinProfile is the quiz-derived profile used to build a routine.
type SkinProfile struct {
	SkinType     string   `json:"skin_type"`
	SkinConcerns []string `json:"skin_concerns"`
	SkinGoals    []string `json:"skin_goals"`
}

// ProductMetadata describes who a product is for and where it sits in a routine.
type ProductMetadata struct {
	SkinTypes        []string `json:"skin_types"`
	ConcernsTargeted []string `json:"concerns_targeted"`
	StepType         string   `json:"step_type"`
	PriceRange       string   `json:"price_range"`
}

// Product is a catalog entry.
type Product struct {
	ID           string           `json:"id"`
	Name         string           `json:"name"`
	Brand        string           `json:"brand"`
	Category     string           `json:"category"`
	AffiliateURL string           `json:"affiliate_url"`
	Metadata     *ProductMetadata `json:"metadata"`
}

// StepType is the metadata step type, or the category when unset.
func (p Product) StepType() string {
	if p.Metadata != nil && p.Metadata.StepType != "" {
		return p.Metadata.StepType
	}
	return p.Category
}

// RoutineStep is one ordered product application.
type RoutineStep struct {
	ProductID    string `json:"product_id"`
	StepOrder    int    `json:"step_order"`
	StepType     string `json:"step_type"`
	Instructions string `json:"instructions"`
}

// RoutineIDs identifies the routines created for a user. Either may be empty
// when no product fit that routine.
type RoutineIDs struct {
	MorningID *string `json:"morning_id"`
	EveningID *string `json:"evening_id"`
}

// UsageSnapshot is what the record API reports after recording a scan.
type UsageSnapshot struct {
	DailyUsed      int `json:"daily_used"`
	DailyRemaining int `json:"daily_remaining"`
}

// Routine is a named, ordered list of steps of one type ("morning" or
// "evening").
type Routine struct {
	Type  string        `json:"routine_type"`
	Name  string        `json:"name"`
	Steps []RoutineStep `json:"steps"`
}
