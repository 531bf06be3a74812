// Package calibration computes accuracy statistics over verified calorie
// estimates and turns them into a diagnosis: overall quality status, the
// food categories with the worst error, and ranked suggestions for improving
// the estimation prompt.
package calibration

import "time"

// Status grades overall estimation quality by mean absolute percentage
// error.
type Status string

const (
	StatusExcellent        Status = "excellent"
	StatusGood             Status = "good"
	StatusNeedsImprovement Status = "needs_improvement"
	StatusPoor             Status = "poor"
	StatusInsufficientData Status = "insufficient_data"
)

// VerifiedRecord is one analysis entry whose calorie estimate has been
// checked against a ground-truth value. Records with a nil or non-positive
// ActualCalories are skipped during calibration.
type VerifiedRecord struct {
	EntryID           string    `json:"entry_id"`
	Timestamp         time.Time `json:"timestamp"`
	FoodNames         []string  `json:"food_names"`
	EstimatedCalories float64   `json:"estimated_calories"`
	ActualCalories    *float64  `json:"actual_calories"`
	Confidence        float64   `json:"confidence"`
}

// DataPoint is one usable record with its derived errors.
type DataPoint struct {
	EntryID           string   `json:"entry_id"`
	FoodNames         []string `json:"food_names"`
	EstimatedCalories float64  `json:"estimated_calories"`
	ActualCalories    float64  `json:"actual_calories"`
	Error             float64  `json:"error"`            // estimated - actual
	PercentageError   float64  `json:"percentage_error"` // signed, relative to actual
	Confidence        float64  `json:"confidence"`
}

// Metrics holds the accuracy statistics for a set of data points. Pearson,
// RSquared and BrierScore are nil when undefined (fewer than two points,
// zero variance, or no confidence data).
type Metrics struct {
	MAE                float64  `json:"mae"`
	MAPE               float64  `json:"mape"`
	RMSE               float64  `json:"rmse"`
	Bias               float64  `json:"bias"`
	StdDeviation       float64  `json:"std_deviation"`
	PearsonCorrelation *float64 `json:"pearson_correlation,omitempty"`
	RSquared           *float64 `json:"r_squared,omitempty"`
	BrierScore         *float64 `json:"brier_score,omitempty"`
}

// CategoryDiagnosis is per-category error concentration.
type CategoryDiagnosis struct {
	Category               string  `json:"category"`
	MeanAbsPercentageError float64 `json:"mean_abs_percentage_error"`
	Points                 int     `json:"points"`
}

// PromptSuggestion is one ranked recommendation for improving estimation.
// Priority is positive; lower is more urgent.
type PromptSuggestion struct {
	Category        string `json:"category"`
	CurrentIssue    string `json:"current_issue"`
	SuggestedChange string `json:"suggested_change"`
	Priority        int    `json:"priority"`
	ExpectedImpact  string `json:"expected_impact"`
}

// Report is the full calibration output for one user.
type Report struct {
	ReportID            string              `json:"report_id"`
	UserID              string              `json:"user_id"`
	GeneratedAt         time.Time           `json:"generated_at"`
	MealsAnalyzed       int                 `json:"meals_analyzed"`
	Status              Status              `json:"status"`
	StatusMessage       string              `json:"status_message,omitempty"`
	Metrics             Metrics             `json:"metrics"`
	OverestimationCount int                 `json:"overestimation_count"`
	UnderestimationCount int                `json:"underestimation_count"`
	AccurateCount       int                 `json:"accurate_count"`
	SkippedRecords      int                 `json:"skipped_records"`
	WorstCategories     []CategoryDiagnosis `json:"worst_categories,omitempty"`
	Suggestions         []PromptSuggestion  `json:"suggestions,omitempty"`
	DataPoints          []DataPoint         `json:"data_points,omitempty"`
}

// Policy holds the tunable calibration thresholds.
type Policy struct {
	MinDataPoints           int
	AccurateBandPct         float64
	ExcellentMAPE           float64
	GoodMAPE                float64
	NeedsImprovementMAPE    float64
	CategoryErrorMultiplier float64
	BiasSuggestionThreshold float64
	HighVarianceThreshold   float64
	MaxDataPointsInReport   int
}

// DefaultPolicy returns the standard thresholds.
func DefaultPolicy() Policy {
	return Policy{
		MinDataPoints:           3,
		AccurateBandPct:         5,
		ExcellentMAPE:           10,
		GoodMAPE:                15,
		NeedsImprovementMAPE:    25,
		CategoryErrorMultiplier: 1.5,
		BiasSuggestionThreshold: 50,
		HighVarianceThreshold:   150,
		MaxDataPointsInReport:   25,
	}
}
