// Package biodata turns a user's current biometric readings into health
// constraints for meal analysis. Evaluation is a pure function of the
// reading, so the same reading always yields the same constraints.
package biodata

import (
	"context"
	"fmt"
	"sort"

	"nutripilot"
	"nutripilot/state"
)

// Blood glucose bands in mg/dL.
const (
	glucoseLow  = 70
	glucoseHigh = 100
)

// Daily sodium budgets in mg. The tighter budget applies with hypertension.
const (
	sodiumBudgetDefault      = 2300
	sodiumBudgetHypertension = 1500
	// Exceeding the budget by half again is treated as critical.
	sodiumCriticalFactor = 1.5
)

// Reading is one user's biometric snapshot at analysis time.
type Reading struct {
	UserID           string   `json:"user_id"`
	BloodGlucoseMgDL float64  `json:"blood_glucose_mg_dl"`
	SodiumConsumedMg float64  `json:"sodium_consumed_mg"`
	Hypertension     bool     `json:"hypertension"`
	Allergies        []string `json:"allergies,omitempty"`
}

// ReadingSource supplies the current reading for a user.
type ReadingSource interface {
	Get(ctx context.Context, userID string) (Reading, error)
}

// StaticSource is a ReadingSource over a fixed map, for local runs and tests.
type StaticSource map[string]Reading

func (s StaticSource) Get(_ context.Context, userID string) (Reading, error) {
	r, ok := s[userID]
	if !ok {
		return Reading{}, fmt.Errorf("no biometric reading for %q: %w", userID, nutripilot.ErrNotFound)
	}
	return r, nil
}

// Fetcher implements nutripilot.BioDataLookup over a ReadingSource.
type Fetcher struct {
	source ReadingSource
}

func NewFetcher(source ReadingSource) *Fetcher {
	return &Fetcher{source: source}
}

// Fetch loads the user's reading and evaluates it into constraints. Alerts
// carry the warning and critical constraint types for quick display.
func (f *Fetcher) Fetch(ctx context.Context, userID string) (nutripilot.BioDataReport, error) {
	reading, err := f.source.Get(ctx, userID)
	if err != nil {
		return nutripilot.BioDataReport{}, fmt.Errorf("fetching biometrics: %w", err)
	}

	constraints := Evaluate(reading)

	var alerts []string
	for _, c := range constraints {
		if c.Status != state.StatusNormal {
			alerts = append(alerts, c.Type)
		}
	}

	return nutripilot.BioDataReport{Constraints: constraints, Alerts: alerts}, nil
}

// Evaluate derives health constraints from a reading.
func Evaluate(r Reading) []state.HealthConstraint {
	var constraints []state.HealthConstraint

	constraints = append(constraints, glucoseConstraint(r.BloodGlucoseMgDL))
	constraints = append(constraints, sodiumConstraint(r.SodiumConsumedMg, r.Hypertension))

	allergies := append([]string(nil), r.Allergies...)
	sort.Strings(allergies)
	for _, a := range allergies {
		constraints = append(constraints, state.HealthConstraint{
			Type:           "allergy_" + a,
			Status:         state.StatusCritical,
			Recommendation: fmt.Sprintf("Avoid all foods containing %s.", a),
		})
	}

	return constraints
}

func glucoseConstraint(mgdl float64) state.HealthConstraint {
	low, high := float64(glucoseLow), float64(glucoseHigh)
	c := state.HealthConstraint{
		Type:          "blood_glucose",
		Value:         mgdl,
		Unit:          "mg/dL",
		ThresholdLow:  &low,
		ThresholdHigh: &high,
	}
	switch {
	case mgdl < glucoseLow:
		c.Status = state.StatusCritical
		c.Recommendation = "Blood glucose is low; favor fast-acting carbohydrates."
	case mgdl > glucoseHigh:
		c.Status = state.StatusWarning
		c.Recommendation = "Blood glucose is elevated; limit refined carbohydrates this meal."
	default:
		c.Status = state.StatusNormal
	}
	return c
}

func sodiumConstraint(consumedMg float64, hypertension bool) state.HealthConstraint {
	budget := float64(sodiumBudgetDefault)
	if hypertension {
		budget = sodiumBudgetHypertension
	}
	c := state.HealthConstraint{
		Type:          "daily_sodium",
		Value:         consumedMg,
		Unit:          "mg",
		ThresholdHigh: &budget,
	}
	switch {
	case consumedMg > budget*sodiumCriticalFactor:
		c.Status = state.StatusCritical
		c.Recommendation = "Sodium intake is far over budget; choose low-sodium options only."
	case consumedMg > budget:
		c.Status = state.StatusWarning
		c.Recommendation = "Sodium intake is over budget for today; avoid salty foods."
	default:
		c.Status = state.StatusNormal
	}
	return c
}

// Meal-level carbohydrate limits in grams, applied against an abnormal
// glucose reading.
const (
	carbsWarningLimit  = 45
	carbsCriticalLimit = 30
)

var severity = map[state.ConstraintStatus]int{
	state.StatusNormal:   0,
	state.StatusWarning:  1,
	state.StatusCritical: 2,
}

// CheckTotals re-evaluates constraints once the meal's nutrient totals are
// known: the sodium budget is checked against the day's intake plus this
// meal, and carbohydrate load is checked against an abnormal glucose
// reading. Statuses only ever escalate; a light meal never downgrades a
// reading-level warning. The input slice is not modified.
func CheckTotals(constraints []state.HealthConstraint, totals []state.NutrientInfo) []state.HealthConstraint {
	if len(constraints) == 0 {
		return constraints
	}
	out := make([]state.HealthConstraint, len(constraints))
	copy(out, constraints)

	mealSodium := state.NutrientAmount(totals, "sodium")
	mealCarbs := state.NutrientAmount(totals, "carbs")

	for i := range out {
		c := &out[i]
		switch c.Type {
		case "daily_sodium":
			if c.ThresholdHigh == nil || mealSodium <= 0 {
				continue
			}
			projected := c.Value + mealSodium
			switch {
			case projected > *c.ThresholdHigh*sodiumCriticalFactor:
				escalate(c, state.StatusCritical, fmt.Sprintf("This meal's %.0fmg of sodium puts the day far over budget; choose low-sodium options only.", mealSodium))
			case projected > *c.ThresholdHigh:
				escalate(c, state.StatusWarning, fmt.Sprintf("This meal's %.0fmg of sodium puts the day over budget; reduce the saltiest item.", mealSodium))
			}
		case "blood_glucose":
			switch {
			case c.Status == state.StatusCritical && mealCarbs > carbsCriticalLimit:
				c.Recommendation = fmt.Sprintf("Meal carbohydrates (%.0fg) are too high for the current glucose level.", mealCarbs)
			case c.Status == state.StatusWarning && mealCarbs > carbsWarningLimit:
				c.Recommendation = fmt.Sprintf("High carbohydrates (%.0fg) may spike blood glucose.", mealCarbs)
			}
		}
	}
	return out
}

func escalate(c *state.HealthConstraint, to state.ConstraintStatus, recommendation string) {
	if severity[to] <= severity[c.Status] {
		return
	}
	c.Status = to
	c.Recommendation = recommendation
}
