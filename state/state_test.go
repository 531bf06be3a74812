package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func observed() ObserveResult {
	return ObserveResult{
		Foods: []FoodItem{
			{Name: "grilled chicken", PortionGrams: 150, Confidence: 0.9},
			{Name: "white rice", PortionGrams: 200, Confidence: 0.8},
		},
		Confidence: 0.85,
	}
}

func thought() ThinkResult {
	return ThinkResult{
		TotalNutrients: []NutrientInfo{
			{Name: "calories", Amount: 507.5, Unit: "kcal"},
			{Name: "protein", Amount: 52.1, Unit: "g"},
		},
		HealthConstraints: []HealthConstraint{
			{Type: "daily_sodium", Value: 180, Unit: "mg", Status: StatusNormal},
		},
	}
}

func acted() ActResult {
	return ActResult{
		Adjustments: []Adjustment{
			{FoodName: "white rice", Action: ActionReplace, Reason: "high glycemic load", Alternative: "brown rice", Priority: 1},
		},
		GoalAlignmentScore: 72,
		OverallScore:       78,
		Summary:            "Solid protein, consider a whole grain swap.",
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	st := New("", "user-1", MealLunch)
	assert.NotEmpty(t, st.SessionID)
	assert.Equal(t, PhaseCreated, st.Phase)

	require.NoError(t, st.ApplyObserved(observed()))
	assert.Equal(t, PhaseObserved, st.Phase)
	assert.Len(t, st.DetectedFoods, 2)

	require.NoError(t, st.ApplyThought(thought()))
	assert.Equal(t, PhaseThought, st.Phase)

	require.NoError(t, st.ApplyActed(acted()))
	assert.Equal(t, PhaseActed, st.Phase)
	assert.True(t, st.Phase.Terminal())
	require.NotNil(t, st.OverallScore)
	assert.Equal(t, 78.0, *st.OverallScore)
}

func TestPhaseMonotonicity(t *testing.T) {
	tests := []struct {
		name  string
		apply func(*MealState) error
	}{
		{"thought before observed", func(s *MealState) error { return s.ApplyThought(thought()) }},
		{"acted before observed", func(s *MealState) error { return s.ApplyActed(acted()) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := New("s", "u", MealDinner)
			err := tt.apply(st)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, PhaseCreated, st.Phase)
		})
	}
}

func TestDoubleApplyRejected(t *testing.T) {
	st := New("s", "u", MealDinner)
	require.NoError(t, st.ApplyObserved(observed()))
	err := st.ApplyObserved(observed())
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, PhaseObserved, st.Phase)

	require.NoError(t, st.ApplyThought(thought()))
	assert.ErrorIs(t, st.ApplyThought(thought()), ErrInvalidTransition)
}

func TestFailFromAnyNonTerminalPhase(t *testing.T) {
	t.Run("from created", func(t *testing.T) {
		st := New("s", "u", MealSnack)
		require.NoError(t, st.Fail("vision extraction failed"))
		assert.Equal(t, PhaseFailed, st.Phase)
		assert.Equal(t, "vision extraction failed", st.FailureReason)
	})

	t.Run("from thought clears partial data", func(t *testing.T) {
		st := New("s", "u", MealSnack)
		require.NoError(t, st.ApplyObserved(observed()))
		require.NoError(t, st.ApplyThought(thought()))
		require.NoError(t, st.Fail("scoring crashed"))
		assert.Empty(t, st.DetectedFoods)
		assert.Empty(t, st.TotalNutrients)
	})

	t.Run("not from terminal", func(t *testing.T) {
		st := New("s", "u", MealSnack)
		require.NoError(t, st.Fail("x"))
		assert.ErrorIs(t, st.Fail("y"), ErrInvalidTransition)

		st2 := New("s", "u", MealSnack)
		require.NoError(t, st2.ApplyObserved(observed()))
		require.NoError(t, st2.ApplyThought(thought()))
		require.NoError(t, st2.ApplyActed(acted()))
		assert.ErrorIs(t, st2.Fail("y"), ErrInvalidTransition)
	})
}

func TestResolvedFoodsReplaceDetected(t *testing.T) {
	st := New("s", "u", MealLunch)
	require.NoError(t, st.ApplyObserved(observed()))

	resolved := make([]FoodItem, len(st.DetectedFoods))
	copy(resolved, st.DetectedFoods)
	resolved[0].Nutrients = []NutrientInfo{{Name: "calories", Amount: 247.5, Unit: "kcal"}}

	require.NoError(t, st.ApplyThought(ThinkResult{ResolvedFoods: resolved}))
	assert.Len(t, st.DetectedFoods[0].Nutrients, 1)

	st2 := New("s", "u", MealLunch)
	require.NoError(t, st2.ApplyObserved(observed()))
	err := st2.ApplyThought(ThinkResult{ResolvedFoods: resolved[:1]})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	st := New("s", "u", MealBreakfast)
	require.NoError(t, st.ApplyObserved(ObserveResult{
		Foods: []FoodItem{{
			Name:        "oatmeal",
			Nutrients:   []NutrientInfo{{Name: "fiber", Amount: 4, Unit: "g"}},
			BoundingBox: &BoundingBox{X1: 0.1, Y1: 0.1, X2: 0.5, Y2: 0.5},
		}},
		Confidence: 0.9,
	}))

	snap := st.Snapshot()
	snap.DetectedFoods[0].Nutrients[0].Amount = 99
	snap.DetectedFoods[0].BoundingBox.X1 = 0.9

	assert.Equal(t, 4.0, st.DetectedFoods[0].Nutrients[0].Amount)
	assert.Equal(t, 0.1, st.DetectedFoods[0].BoundingBox.X1)
}

func TestSumNutrients(t *testing.T) {
	t.Run("aggregates with missing nutrients as zero", func(t *testing.T) {
		foods := []FoodItem{
			{Name: "chicken", Nutrients: []NutrientInfo{
				{Name: "calories", Amount: 248, Unit: "kcal"},
				{Name: "protein", Amount: 46.5, Unit: "g"},
			}},
			{Name: "rice", Nutrients: []NutrientInfo{
				{Name: "calories", Amount: 260, Unit: "kcal"},
			}},
		}
		totals := SumNutrients(foods)
		assert.Equal(t, 508.0, NutrientAmount(totals, "calories"))
		assert.Equal(t, 46.5, NutrientAmount(totals, "protein"))
	})

	t.Run("deterministic ordering", func(t *testing.T) {
		foods := []FoodItem{{Name: "x", Nutrients: []NutrientInfo{
			{Name: "protein", Amount: 1, Unit: "g"},
			{Name: "calories", Amount: 1, Unit: "kcal"},
			{Name: "fiber", Amount: 1, Unit: "g"},
		}}}
		totals := SumNutrients(foods)
		require.Len(t, totals, 3)
		assert.Equal(t, "calories", totals[0].Name)
		assert.Equal(t, "fiber", totals[1].Name)
		assert.Equal(t, "protein", totals[2].Name)
	})

	t.Run("empty foods yields empty totals", func(t *testing.T) {
		assert.Empty(t, SumNutrients(nil))
		assert.Empty(t, SumNutrients([]FoodItem{}))
	})
}

func TestBoundingBoxValid(t *testing.T) {
	assert.True(t, BoundingBox{X1: 0, Y1: 0, X2: 1, Y2: 1}.Valid())
	assert.False(t, BoundingBox{X1: 0.5, Y1: 0, X2: 0.5, Y2: 1}.Valid())
	assert.False(t, BoundingBox{X1: -0.1, Y1: 0, X2: 0.5, Y2: 1}.Valid())
	assert.False(t, BoundingBox{X1: 0, Y1: 0, X2: 1.2, Y2: 1}.Valid())
}
