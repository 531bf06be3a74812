package goals

import (
	"context"
	"testing"

	"nutripilot"
	"nutripilot/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func totals(calories, protein, carbs, fat, fiber, sodium float64) []state.NutrientInfo {
	return []state.NutrientInfo{
		{Name: "calories", Amount: calories, Unit: "kcal"},
		{Name: "protein", Amount: protein, Unit: "g"},
		{Name: "carbs", Amount: carbs, Unit: "g"},
		{Name: "fat", Amount: fat, Unit: "g"},
		{Name: "fiber", Amount: fiber, Unit: "g"},
		{Name: "sodium", Amount: sodium, Unit: "mg"},
	}
}

func profile(goals ...nutripilot.HealthGoal) nutripilot.UserProfile {
	return nutripilot.UserProfile{UserID: "user-1", Goals: goals}
}

func score(t *testing.T, req nutripilot.ScoreRequest) nutripilot.ScoreResult {
	t.Helper()
	res, err := NewScorer().Score(context.Background(), req)
	require.NoError(t, err)
	return res
}

func TestMealQualityScoring(t *testing.T) {
	tests := []struct {
		name   string
		totals []state.NutrientInfo
		foods  []state.FoodItem
		want   float64
	}{
		{
			name:   "base score for a plain meal",
			totals: totals(400, 10, 40, 10, 2, 300),
			foods:  []state.FoodItem{{Name: "a"}},
			want:   70,
		},
		{
			name:   "protein fiber and variety bonuses",
			totals: totals(500, 30, 50, 12, 9, 300),
			foods:  []state.FoodItem{{Name: "a"}, {Name: "b"}, {Name: "c"}},
			want:   70 + 10 + 10 + 5,
		},
		{
			name:   "sodium penalty",
			totals: totals(600, 10, 40, 10, 2, 1200),
			foods:  []state.FoodItem{{Name: "a"}},
			want:   70 - 10,
		},
		{
			name:   "mid tier bonuses",
			totals: totals(500, 18, 50, 12, 5, 700),
			foods:  []state.FoodItem{{Name: "a"}},
			want:   70 + 5 + 5 - 5,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := score(t, nutripilot.ScoreRequest{Totals: tt.totals, Foods: tt.foods, Profile: profile()})
			assert.Equal(t, tt.want, res.Overall)
		})
	}
}

func TestGoalAlignment(t *testing.T) {
	t.Run("muscle building rewards protein", func(t *testing.T) {
		res := score(t, nutripilot.ScoreRequest{
			Totals:  totals(600, 35, 40, 15, 4, 300),
			Profile: profile(nutripilot.GoalMuscleBuilding),
		})
		assert.Equal(t, 90.0, res.GoalAlignment)
		assert.Empty(t, res.Adjustments)
	})

	t.Run("muscle building flags low protein", func(t *testing.T) {
		res := score(t, nutripilot.ScoreRequest{
			Totals:  totals(600, 12, 40, 15, 4, 300),
			Profile: profile(nutripilot.GoalMuscleBuilding),
		})
		assert.Equal(t, 50.0, res.GoalAlignment)
		require.Len(t, res.Adjustments, 1)
		assert.Equal(t, state.ActionAdd, res.Adjustments[0].Action)
	})

	t.Run("weight loss flags heavy meals", func(t *testing.T) {
		foods := []state.FoodItem{
			{Name: "burger", Nutrients: []state.NutrientInfo{{Name: "calories", Amount: 600}}},
			{Name: "salad", Nutrients: []state.NutrientInfo{{Name: "calories", Amount: 150}}},
		}
		res := score(t, nutripilot.ScoreRequest{
			Totals:  totals(900, 30, 60, 30, 4, 500),
			Foods:   foods,
			Profile: profile(nutripilot.GoalWeightLoss),
		})
		require.Len(t, res.Adjustments, 1)
		assert.Equal(t, "burger", res.Adjustments[0].FoodName)
		assert.Equal(t, state.ActionReduce, res.Adjustments[0].Action)
	})

	t.Run("glycemic control flags carbs", func(t *testing.T) {
		foods := []state.FoodItem{
			{Name: "white rice", Nutrients: []state.NutrientInfo{{Name: "carbs", Amount: 56}}},
		}
		res := score(t, nutripilot.ScoreRequest{
			Totals:  totals(700, 20, 90, 10, 2, 300),
			Foods:   foods,
			Profile: profile(nutripilot.GoalGlycemicControl),
		})
		require.Len(t, res.Adjustments, 1)
		assert.Equal(t, "white rice", res.Adjustments[0].FoodName)
		assert.Equal(t, state.ActionReplace, res.Adjustments[0].Action)
	})

	t.Run("multiple goals average", func(t *testing.T) {
		res := score(t, nutripilot.ScoreRequest{
			Totals:  totals(600, 35, 40, 15, 4, 300),
			Profile: profile(nutripilot.GoalMuscleBuilding, nutripilot.GoalGeneralWellness),
		})
		assert.Equal(t, (90.0+75.0)/2, res.GoalAlignment)
	})

	t.Run("no goals defaults to general wellness", func(t *testing.T) {
		res := score(t, nutripilot.ScoreRequest{Totals: totals(500, 20, 40, 10, 3, 300), Profile: profile()})
		assert.Equal(t, 75.0, res.GoalAlignment)
	})
}

func TestConstraintAdjustments(t *testing.T) {
	t.Run("allergen removal takes top priority", func(t *testing.T) {
		foods := []state.FoodItem{
			{Name: "peanut noodles", Nutrients: []state.NutrientInfo{{Name: "calories", Amount: 500}}},
			{Name: "salad"},
		}
		res := score(t, nutripilot.ScoreRequest{
			Totals: totals(900, 10, 80, 20, 3, 400),
			Foods:  foods,
			Constraints: []state.HealthConstraint{
				{Type: "allergy_peanut", Status: state.StatusCritical},
			},
			Profile: profile(nutripilot.GoalWeightLoss),
		})
		require.NotEmpty(t, res.Adjustments)
		assert.Equal(t, "peanut noodles", res.Adjustments[0].FoodName)
		assert.Equal(t, state.ActionRemove, res.Adjustments[0].Action)
		assert.Equal(t, 1, res.Adjustments[0].Priority)
	})

	t.Run("sodium breach targets saltiest food", func(t *testing.T) {
		foods := []state.FoodItem{
			{Name: "soup", Nutrients: []state.NutrientInfo{{Name: "sodium", Amount: 900}}},
			{Name: "bread", Nutrients: []state.NutrientInfo{{Name: "sodium", Amount: 300}}},
		}
		res := score(t, nutripilot.ScoreRequest{
			Totals: totals(600, 15, 50, 10, 3, 1200),
			Foods:  foods,
			Constraints: []state.HealthConstraint{
				{Type: "daily_sodium", Status: state.StatusWarning},
			},
			Profile: profile(),
		})
		require.NotEmpty(t, res.Adjustments)
		assert.Equal(t, "soup", res.Adjustments[0].FoodName)
	})

	t.Run("at most three adjustments", func(t *testing.T) {
		foods := []state.FoodItem{
			{Name: "peanut satay", Nutrients: []state.NutrientInfo{{Name: "calories", Amount: 400}, {Name: "sodium", Amount: 800}, {Name: "carbs", Amount: 30}, {Name: "fat", Amount: 25}}},
			{Name: "white rice", Nutrients: []state.NutrientInfo{{Name: "carbs", Amount: 60}, {Name: "calories", Amount: 300}}},
		}
		res := score(t, nutripilot.ScoreRequest{
			Totals: totals(1100, 12, 95, 40, 2, 1400),
			Foods:  foods,
			Constraints: []state.HealthConstraint{
				{Type: "allergy_peanut", Status: state.StatusCritical},
				{Type: "daily_sodium", Status: state.StatusCritical},
				{Type: "blood_glucose", Status: state.StatusWarning},
			},
			Profile: profile(nutripilot.GoalWeightLoss, nutripilot.GoalHeartHealth, nutripilot.GoalLowerCholesterol),
		})
		assert.LessOrEqual(t, len(res.Adjustments), 3)
		for i := 1; i < len(res.Adjustments); i++ {
			assert.LessOrEqual(t, res.Adjustments[i-1].Priority, res.Adjustments[i].Priority)
		}
	})
}

func TestSummary(t *testing.T) {
	res := score(t, nutripilot.ScoreRequest{
		Totals:  totals(500, 30, 40, 10, 9, 300),
		Foods:   []state.FoodItem{{Name: "a"}, {Name: "b"}, {Name: "c"}},
		Profile: profile(),
	})
	assert.Contains(t, res.Summary, "Excellent meal")
	assert.Contains(t, res.Summary, "No adjustments needed")
}

func TestScoreIsDeterministic(t *testing.T) {
	req := nutripilot.ScoreRequest{
		Totals: totals(900, 12, 95, 30, 2, 1400),
		Foods: []state.FoodItem{
			{Name: "ramen", Nutrients: []state.NutrientInfo{{Name: "sodium", Amount: 1200}, {Name: "carbs", Amount: 70}}},
		},
		Constraints: []state.HealthConstraint{{Type: "daily_sodium", Status: state.StatusWarning}},
		Profile:     profile(nutripilot.GoalHeartHealth, nutripilot.GoalGlycemicControl),
	}
	a := score(t, req)
	b := score(t, req)
	assert.Equal(t, a, b)
}
