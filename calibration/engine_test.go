package calibration

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func record(id string, foods []string, estimated float64, actual *float64, confidence float64) VerifiedRecord {
	return VerifiedRecord{
		EntryID:           id,
		Timestamp:         time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		FoodNames:         foods,
		EstimatedCalories: estimated,
		ActualCalories:    actual,
		Confidence:        confidence,
	}
}

func TestRunComputesMetrics(t *testing.T) {
	engine := NewEngine(DefaultPolicy())
	records := []VerifiedRecord{
		record("e1", []string{"grilled chicken"}, 550, ptr(500), 0.9),
		record("e2", []string{"greek salad"}, 380, ptr(400), 0.8),
		record("e3", []string{"apple"}, 320, ptr(300), 0.7),
	}

	report := engine.Run("user-1", records)

	assert.Equal(t, "user-1", report.UserID)
	assert.NotEmpty(t, report.ReportID)
	assert.Equal(t, 3, report.MealsAnalyzed)
	assert.Equal(t, 0, report.SkippedRecords)

	// errors: +50, -20, +20
	assert.InDelta(t, 30.0, report.Metrics.MAE, 1e-9)
	assert.InDelta(t, 50.0/3, report.Metrics.Bias, 1e-9)
	assert.InDelta(t, (10.0+5.0+20.0/3)/3, report.Metrics.MAPE, 1e-9)
	assert.InDelta(t, 33.1662, report.Metrics.RMSE, 1e-3)

	assert.Equal(t, StatusExcellent, report.Status)
	assert.Equal(t, 2, report.OverestimationCount)
	assert.Equal(t, 0, report.UnderestimationCount)
	assert.Equal(t, 1, report.AccurateCount)

	require.NotNil(t, report.Metrics.PearsonCorrelation)
	assert.Greater(t, *report.Metrics.PearsonCorrelation, 0.9)
	require.NotNil(t, report.Metrics.RSquared)
	require.NotNil(t, report.Metrics.BrierScore)
}

func TestRunIsDeterministic(t *testing.T) {
	engine := NewEngine(DefaultPolicy())
	records := []VerifiedRecord{
		record("e1", []string{"fried chicken"}, 900, ptr(600), 0.9),
		record("e2", []string{"rice bowl"}, 500, ptr(450), 0.8),
		record("e3", []string{"smoothie"}, 300, ptr(280), 0.7),
		record("e4", []string{"pasta carbonara"}, 950, ptr(700), 0.6),
	}

	a := engine.Run("user-1", records)
	b := engine.Run("user-1", records)

	// Identity fields differ per run; everything derived must match.
	a.ReportID, b.ReportID = "", ""
	a.GeneratedAt, b.GeneratedAt = time.Time{}, time.Time{}
	assert.Equal(t, a, b)
}

func TestRunInsufficientData(t *testing.T) {
	engine := NewEngine(DefaultPolicy())

	t.Run("too few records", func(t *testing.T) {
		report := engine.Run("user-1", []VerifiedRecord{
			record("e1", []string{"toast"}, 200, ptr(180), 0.8),
		})
		assert.Equal(t, StatusInsufficientData, report.Status)
		assert.Equal(t, 1, report.MealsAnalyzed)
		assert.Empty(t, report.Suggestions)
		assert.Zero(t, report.Metrics.MAE)
	})

	t.Run("unusable records are skipped and counted", func(t *testing.T) {
		report := engine.Run("user-1", []VerifiedRecord{
			record("e1", []string{"toast"}, 200, nil, 0.8),
			record("e2", []string{"toast"}, 200, ptr(0), 0.8),
			record("e3", []string{"toast"}, 200, ptr(-10), 0.8),
			record("e4", []string{"toast"}, 200, ptr(190), 0.8),
		})
		assert.Equal(t, StatusInsufficientData, report.Status)
		assert.Equal(t, 3, report.SkippedRecords)
		assert.Equal(t, 1, report.MealsAnalyzed)
	})
}

func TestPearsonUndefinedForConstantSeries(t *testing.T) {
	engine := NewEngine(DefaultPolicy())
	records := []VerifiedRecord{
		record("e1", []string{"a"}, 500, ptr(480), 0.9),
		record("e2", []string{"b"}, 500, ptr(510), 0.9),
		record("e3", []string{"c"}, 500, ptr(495), 0.9),
	}

	report := engine.Run("user-1", records)
	assert.Nil(t, report.Metrics.PearsonCorrelation)
	assert.Nil(t, report.Metrics.RSquared)
	assert.NotZero(t, report.Metrics.MAE)
}

func TestStatusThresholds(t *testing.T) {
	engine := NewEngine(DefaultPolicy())
	tests := []struct {
		name     string
		pctError float64 // applied uniformly
		want     Status
	}{
		{"excellent below 10", 8, StatusExcellent},
		{"good below 15", 12, StatusGood},
		{"needs improvement below 25", 20, StatusNeedsImprovement},
		{"poor at 25 and above", 30, StatusPoor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var records []VerifiedRecord
			for i := 0; i < 3; i++ {
				actual := 400.0
				estimated := actual * (1 + tt.pctError/100)
				records = append(records, record(fmt.Sprintf("e%d", i), []string{"meal"}, estimated, &actual, 0.8))
			}
			report := engine.Run("user-1", records)
			assert.Equal(t, tt.want, report.Status)
		})
	}
}

func TestWorstCategoriesFlagged(t *testing.T) {
	engine := NewEngine(DefaultPolicy())
	// Fried foods carry ~50% error while everything else is near-perfect,
	// so fried_foods must exceed 1.5x the overall MAPE.
	records := []VerifiedRecord{
		record("e1", []string{"fried chicken"}, 900, ptr(600), 0.9),
		record("e2", []string{"crispy fries"}, 450, ptr(300), 0.9),
		record("e3", []string{"garden salad"}, 101, ptr(100), 0.9),
		record("e4", []string{"steamed broccoli"}, 52, ptr(50), 0.9),
		record("e5", []string{"apple"}, 95, ptr(95), 0.9),
	}

	report := engine.Run("user-1", records)
	require.NotEmpty(t, report.WorstCategories)
	assert.Equal(t, "fried_foods", report.WorstCategories[0].Category)
	assert.Equal(t, 2, report.WorstCategories[0].Points)
	assert.Greater(t, report.WorstCategories[0].MeanAbsPercentageError, report.Metrics.MAPE*1.5)
}

func TestSuggestions(t *testing.T) {
	engine := NewEngine(DefaultPolicy())

	t.Run("systematic overestimation leads", func(t *testing.T) {
		records := []VerifiedRecord{
			record("e1", []string{"meal one"}, 700, ptr(600), 0.9),
			record("e2", []string{"meal two"}, 550, ptr(450), 0.9),
			record("e3", []string{"meal three"}, 480, ptr(400), 0.9),
		}
		report := engine.Run("user-1", records)
		require.NotEmpty(t, report.Suggestions)
		first := report.Suggestions[0]
		assert.Equal(t, "portion_sizing", first.Category)
		assert.Equal(t, 1, first.Priority)
		assert.Contains(t, first.CurrentIssue, "high")
		assert.Contains(t, first.ExpectedImpact, "reduce MAPE by")
	})

	t.Run("systematic underestimation", func(t *testing.T) {
		records := []VerifiedRecord{
			record("e1", []string{"meal one"}, 500, ptr(600), 0.9),
			record("e2", []string{"meal two"}, 350, ptr(450), 0.9),
			record("e3", []string{"meal three"}, 320, ptr(400), 0.9),
		}
		report := engine.Run("user-1", records)
		require.NotEmpty(t, report.Suggestions)
		assert.Contains(t, report.Suggestions[0].CurrentIssue, "low")
	})

	t.Run("at most three, priorities ascend", func(t *testing.T) {
		var records []VerifiedRecord
		foods := [][]string{
			{"fried chicken"}, {"pasta bolognese"}, {"chocolate cake"},
			{"orange juice"}, {"beef steak"}, {"caesar salad"},
		}
		for i, f := range foods {
			actual := 400.0
			records = append(records, record(fmt.Sprintf("e%d", i), f, actual+300, &actual, 0.9))
		}
		report := engine.Run("user-1", records)
		assert.LessOrEqual(t, len(report.Suggestions), 3)
		for i, s := range report.Suggestions {
			assert.Equal(t, i+1, s.Priority)
		}
	})
}

func TestDataPointsTrimmedToPolicyMax(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxDataPointsInReport = 5
	engine := NewEngine(policy)

	var records []VerifiedRecord
	for i := 0; i < 10; i++ {
		actual := 400.0
		records = append(records, record(fmt.Sprintf("e%d", i), []string{"meal"}, 420, &actual, 0.8))
	}
	report := engine.Run("user-1", records)
	assert.Equal(t, 10, report.MealsAnalyzed)
	assert.Len(t, report.DataPoints, 5)
	// Most recent records are kept.
	assert.Equal(t, "e5", report.DataPoints[0].EntryID)
	assert.Equal(t, "e9", report.DataPoints[4].EntryID)
}

type stubReader struct {
	records   []VerifiedRecord
	err       error
	lastLimit int
	calls     int
}

func (s *stubReader) FetchVerified(_ context.Context, _ string, limit int) ([]VerifiedRecord, error) {
	s.calls++
	s.lastLimit = limit
	return s.records, s.err
}

func TestServiceCalibrate(t *testing.T) {
	engine := NewEngine(DefaultPolicy())

	t.Run("requires user id", func(t *testing.T) {
		svc := NewService(engine, &stubReader{}, 25, 100)
		_, err := svc.Calibrate(context.Background(), "", 0)
		assert.Error(t, err)
	})

	t.Run("applies default and max limits", func(t *testing.T) {
		reader := &stubReader{}
		svc := NewService(engine, reader, 25, 100)

		_, err := svc.Calibrate(context.Background(), "user-1", 0)
		require.NoError(t, err)
		assert.Equal(t, 25, reader.lastLimit)

		_, err = svc.Calibrate(context.Background(), "user-1", 500)
		require.NoError(t, err)
		assert.Equal(t, 100, reader.lastLimit)
	})

	t.Run("propagates reader failures", func(t *testing.T) {
		reader := &stubReader{err: errors.New("db locked")}
		svc := NewService(engine, reader, 25, 100)
		_, err := svc.Calibrate(context.Background(), "user-1", 0)
		assert.ErrorContains(t, err, "db locked")
	})

	t.Run("returns engine report", func(t *testing.T) {
		reader := &stubReader{records: []VerifiedRecord{
			record("e1", []string{"meal"}, 420, ptr(400), 0.8),
			record("e2", []string{"meal"}, 390, ptr(400), 0.8),
			record("e3", []string{"meal"}, 410, ptr(400), 0.8),
		}}
		svc := NewService(engine, reader, 25, 100)
		report, err := svc.Calibrate(context.Background(), "user-1", 0)
		require.NoError(t, err)
		assert.Equal(t, StatusExcellent, report.Status)
		assert.Equal(t, 3, report.MealsAnalyzed)
	})
}

// concurrencyReader records the highest number of FetchVerified calls in
// flight at once.
type concurrencyReader struct {
	active  atomic.Int32
	maxSeen atomic.Int32
	records []VerifiedRecord
}

func (r *concurrencyReader) FetchVerified(_ context.Context, _ string, _ int) ([]VerifiedRecord, error) {
	cur := r.active.Add(1)
	for {
		max := r.maxSeen.Load()
		if cur <= max || r.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	r.active.Add(-1)
	return r.records, nil
}

func TestServiceSerializesRunsPerUser(t *testing.T) {
	reader := &concurrencyReader{records: []VerifiedRecord{
		record("e1", []string{"meal"}, 420, ptr(400), 0.8),
		record("e2", []string{"meal"}, 390, ptr(400), 0.8),
		record("e3", []string{"meal"}, 410, ptr(400), 0.8),
	}}
	svc := NewService(NewEngine(DefaultPolicy()), reader, 25, 100)

	var wg sync.WaitGroup
	for _, limit := range []int{10, 20, 30, 40} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Calibrate(context.Background(), "user-1", limit)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, reader.maxSeen.Load(), "calibration runs for one user must not overlap")
}
