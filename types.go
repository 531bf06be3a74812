package nutripilot

import (
	"context"
	"net/http"

	"nutripilot/state"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type SlackClient interface {
	PostMessage(ctx context.Context, channel string, message string) error
}

// VisionInput is the raw meal evidence handed to a vision capability. Either
// Image or Text may be empty depending on the implementation.
type VisionInput struct {
	Image       []byte
	ImageFormat string // "jpeg", "png", ...
	Text        string
}

// VisionResult is the extraction produced by a vision capability.
type VisionResult struct {
	Foods      []state.FoodItem
	Confidence float64
}

// VisionAnalysis extracts food items from meal evidence. Implementations
// return a transient error (see errors.go) when a retry could succeed.
type VisionAnalysis interface {
	Analyze(ctx context.Context, in VisionInput) (VisionResult, error)
}

// BioDataReport is the biometric context for one user at analysis time.
type BioDataReport struct {
	Constraints []state.HealthConstraint
	Alerts      []string
}

// BioDataLookup fetches a user's current biometric constraints.
type BioDataLookup interface {
	Fetch(ctx context.Context, userID string) (BioDataReport, error)
}

// NutritionLookup resolves a food name and portion size into its nutrients.
type NutritionLookup interface {
	Resolve(ctx context.Context, foodName string, portionGrams float64) ([]state.NutrientInfo, error)
}

// ScoreRequest bundles everything the scoring capability needs.
type ScoreRequest struct {
	Totals      []state.NutrientInfo
	Constraints []state.HealthConstraint
	Foods       []state.FoodItem
	Profile     UserProfile
}

// ScoreResult is the scoring capability's evaluation of one meal.
type ScoreResult struct {
	Adjustments   []state.Adjustment
	GoalAlignment float64
	Overall       float64
	Summary       string
}

// GoalScoring evaluates a meal against the user's health goals.
type GoalScoring interface {
	Score(ctx context.Context, req ScoreRequest) (ScoreResult, error)
}

// HealthGoal is a user-declared nutrition objective.
type HealthGoal string

const (
	GoalWeightLoss       HealthGoal = "weight_loss"
	GoalWeightGain       HealthGoal = "weight_gain"
	GoalMuscleBuilding   HealthGoal = "muscle_building"
	GoalGlycemicControl  HealthGoal = "glycemic_control"
	GoalHeartHealth      HealthGoal = "heart_health"
	GoalLowerCholesterol HealthGoal = "lower_cholesterol"
	GoalGeneralWellness  HealthGoal = "general_wellness"
)

// HealthCondition is a diagnosed condition that tightens constraint
// thresholds.
type HealthCondition string

const (
	ConditionHypertension HealthCondition = "hypertension"
	ConditionDiabetes     HealthCondition = "diabetes"
)

// DailyTargets are the user's daily nutrient budgets.
type DailyTargets struct {
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
	SodiumMg float64 `json:"sodium_mg"`
	FiberG   float64 `json:"fiber_g"`
}

// UserProfile is what the scoring and biodata capabilities know about a
// user.
type UserProfile struct {
	UserID              string            `json:"user_id"`
	DisplayName         string            `json:"display_name,omitempty"`
	Goals               []HealthGoal      `json:"goals"`
	Conditions          []HealthCondition `json:"conditions,omitempty"`
	DietaryRestrictions []string          `json:"dietary_restrictions,omitempty"`
	Targets             DailyTargets      `json:"targets"`
}

// HasGoal reports whether the profile declares the given goal.
func (p UserProfile) HasGoal(g HealthGoal) bool {
	for _, have := range p.Goals {
		if have == g {
			return true
		}
	}
	return false
}

// HasCondition reports whether the profile declares the given condition.
func (p UserProfile) HasCondition(c HealthCondition) bool {
	for _, have := range p.Conditions {
		if have == c {
			return true
		}
	}
	return false
}
