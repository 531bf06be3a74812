// Package goals scores a meal against a user's health goals and produces
// prioritized adjustment suggestions. Scoring is deterministic: the same
// request always yields the same result.
package goals

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"nutripilot"
	"nutripilot/state"
)

// Meal quality scoring weights.
const (
	baseScore = 70

	proteinBonusHigh = 10 // >= 25g
	proteinBonusMid  = 5  // >= 15g
	fiberBonusHigh   = 10 // >= 8g
	fiberBonusMid    = 5  // >= 4g
	sodiumPenaltyBig = 10 // > 1000mg
	sodiumPenaltyMid = 5  // > 600mg
	varietyBonus     = 5  // >= 3 distinct foods
)

// Scorer implements nutripilot.GoalScoring.
type Scorer struct{}

func NewScorer() *Scorer { return &Scorer{} }

// Score evaluates the meal. OverallScore grades general meal quality;
// GoalAlignment averages how well the meal serves each declared goal. Up to
// three adjustments are returned, most urgent first.
func (s *Scorer) Score(ctx context.Context, req nutripilot.ScoreRequest) (nutripilot.ScoreResult, error) {
	if err := ctx.Err(); err != nil {
		return nutripilot.ScoreResult{}, err
	}

	overall := mealQuality(req.Totals, req.Foods)

	goals := req.Profile.Goals
	if len(goals) == 0 {
		goals = []nutripilot.HealthGoal{nutripilot.GoalGeneralWellness}
	}

	var alignmentSum float64
	var adjustments []state.Adjustment
	for _, g := range goals {
		score, adj := evaluateGoal(g, req)
		alignmentSum += score
		adjustments = append(adjustments, adj...)
	}
	alignment := alignmentSum / float64(len(goals))

	adjustments = append(adjustments, constraintAdjustments(req)...)
	adjustments = rank(adjustments)

	return nutripilot.ScoreResult{
		Adjustments:   adjustments,
		GoalAlignment: clamp(alignment),
		Overall:       clamp(overall),
		Summary:       summarize(clamp(overall), adjustments),
	}, nil
}

// mealQuality applies the base-plus-bonuses meal score.
func mealQuality(totals []state.NutrientInfo, foods []state.FoodItem) float64 {
	protein := state.NutrientAmount(totals, "protein")
	fiber := state.NutrientAmount(totals, "fiber")
	sodium := state.NutrientAmount(totals, "sodium")

	score := float64(baseScore)
	switch {
	case protein >= 25:
		score += proteinBonusHigh
	case protein >= 15:
		score += proteinBonusMid
	}
	switch {
	case fiber >= 8:
		score += fiberBonusHigh
	case fiber >= 4:
		score += fiberBonusMid
	}
	switch {
	case sodium > 1000:
		score -= sodiumPenaltyBig
	case sodium > 600:
		score -= sodiumPenaltyMid
	}
	if len(foods) >= 3 {
		score += varietyBonus
	}
	return score
}

// evaluateGoal scores one goal and suggests goal-specific adjustments.
func evaluateGoal(goal nutripilot.HealthGoal, req nutripilot.ScoreRequest) (float64, []state.Adjustment) {
	calories := state.NutrientAmount(req.Totals, "calories")
	protein := state.NutrientAmount(req.Totals, "protein")
	carbs := state.NutrientAmount(req.Totals, "carbs")
	fat := state.NutrientAmount(req.Totals, "fat")
	sodium := state.NutrientAmount(req.Totals, "sodium")

	switch goal {
	case nutripilot.GoalWeightLoss:
		switch {
		case calories <= 500:
			return 90, nil
		case calories <= 700:
			return 75, nil
		default:
			heaviest := richestFood(req.Foods, "calories")
			return 55, []state.Adjustment{{
				FoodName: heaviest,
				Action:   state.ActionReduce,
				Reason:   fmt.Sprintf("meal totals %.0f kcal, heavy for a weight-loss plan", calories),
				Priority: 2,
			}}
		}

	case nutripilot.GoalWeightGain:
		switch {
		case calories >= 700:
			return 90, nil
		case calories >= 500:
			return 75, nil
		default:
			return 55, []state.Adjustment{{
				FoodName:    "meal",
				Action:      state.ActionAdd,
				Reason:      fmt.Sprintf("only %.0f kcal; add a calorie-dense side to support weight gain", calories),
				Alternative: "nuts, avocado, or whole milk",
				Priority:    3,
			}}
		}

	case nutripilot.GoalMuscleBuilding:
		switch {
		case protein >= 30:
			return 90, nil
		case protein >= 20:
			return 70, nil
		default:
			return 50, []state.Adjustment{{
				FoodName:    "meal",
				Action:      state.ActionAdd,
				Reason:      fmt.Sprintf("only %.0fg protein; muscle building targets 30g+ per meal", protein),
				Alternative: "grilled chicken, greek yogurt, or tofu",
				Priority:    2,
			}}
		}

	case nutripilot.GoalGlycemicControl:
		switch {
		case carbs <= 45:
			return 85, nil
		case carbs <= 75:
			return 65, nil
		default:
			carbiest := richestFood(req.Foods, "carbs")
			return 45, []state.Adjustment{{
				FoodName:    carbiest,
				Action:      state.ActionReplace,
				Reason:      fmt.Sprintf("%.0fg carbs will spike glucose", carbs),
				Alternative: "a lower-glycemic alternative such as cauliflower rice or leafy greens",
				Priority:    2,
			}}
		}

	case nutripilot.GoalHeartHealth:
		if sodium <= 600 && fat <= 25 {
			return 85, nil
		}
		saltiest := richestFood(req.Foods, "sodium")
		return 55, []state.Adjustment{{
			FoodName: saltiest,
			Action:   state.ActionReduce,
			Reason:   fmt.Sprintf("%.0fmg sodium and %.0fg fat strain heart health", sodium, fat),
			Priority: 2,
		}}

	case nutripilot.GoalLowerCholesterol:
		if fat <= 20 {
			return 85, nil
		}
		fattiest := richestFood(req.Foods, "fat")
		return 60, []state.Adjustment{{
			FoodName:    fattiest,
			Action:      state.ActionReplace,
			Reason:      fmt.Sprintf("%.0fg fat; saturated fat raises LDL", fat),
			Alternative: "a leaner preparation or plant-based option",
			Priority:    3,
		}}

	default: // general wellness
		return 75, nil
	}
}

// constraintAdjustments turns active health constraints into urgent
// adjustments against the offending foods.
func constraintAdjustments(req nutripilot.ScoreRequest) []state.Adjustment {
	var out []state.Adjustment
	for _, c := range req.Constraints {
		switch {
		case strings.HasPrefix(c.Type, "allergy_"):
			allergen := strings.TrimPrefix(c.Type, "allergy_")
			for _, f := range req.Foods {
				if strings.Contains(strings.ToLower(f.Name), allergen) {
					out = append(out, state.Adjustment{
						FoodName: f.Name,
						Action:   state.ActionRemove,
						Reason:   fmt.Sprintf("contains declared allergen %s", allergen),
						Priority: 1,
					})
				}
			}

		case c.Type == "daily_sodium" && c.Status != state.StatusNormal:
			if state.NutrientAmount(req.Totals, "sodium") > 400 {
				out = append(out, state.Adjustment{
					FoodName: richestFood(req.Foods, "sodium"),
					Action:   state.ActionReduce,
					Reason:   "daily sodium budget already exceeded",
					Priority: 1,
				})
			}

		case c.Type == "blood_glucose" && c.Status == state.StatusWarning:
			if state.NutrientAmount(req.Totals, "carbs") > 45 {
				out = append(out, state.Adjustment{
					FoodName:    richestFood(req.Foods, "carbs"),
					Action:      state.ActionReplace,
					Reason:      "blood glucose is elevated and this meal is carb-heavy",
					Alternative: "a lower-glycemic alternative",
					Priority:    1,
				})
			}
		}
	}
	return out
}

// richestFood returns the name of the food contributing the most of the
// given nutrient, or "meal" when per-food nutrients are unavailable.
func richestFood(foods []state.FoodItem, nutrientName string) string {
	best := ""
	bestAmount := -1.0
	for _, f := range foods {
		amount := state.NutrientAmount(f.Nutrients, nutrientName)
		if amount > bestAmount {
			best = f.Name
			bestAmount = amount
		}
	}
	if best == "" || bestAmount <= 0 {
		return "meal"
	}
	return best
}

// rank deduplicates by food+action, orders by priority then name, and keeps
// the top three.
func rank(adjustments []state.Adjustment) []state.Adjustment {
	seen := map[string]bool{}
	deduped := adjustments[:0]
	for _, a := range adjustments {
		key := a.FoodName + "|" + string(a.Action)
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, a)
	}
	sort.SliceStable(deduped, func(i, j int) bool {
		if deduped[i].Priority != deduped[j].Priority {
			return deduped[i].Priority < deduped[j].Priority
		}
		return deduped[i].FoodName < deduped[j].FoodName
	})
	if len(deduped) > 3 {
		deduped = deduped[:3]
	}
	return deduped
}

func summarize(overall float64, adjustments []state.Adjustment) string {
	var quality string
	switch {
	case overall >= 85:
		quality = "Excellent meal"
	case overall >= 70:
		quality = "Solid meal"
	case overall >= 50:
		quality = "Mixed meal"
	default:
		quality = "This meal works against your goals"
	}
	if len(adjustments) == 0 {
		return quality + ". No adjustments needed."
	}
	top := adjustments[0]
	return fmt.Sprintf("%s. Top suggestion: %s %s (%s).", quality, top.Action, top.FoodName, top.Reason)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
