package calibration

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
)

// categoryKeywords maps a food category to the substrings that place a data
// point in it. A point may belong to several categories; unmatched points
// are left uncategorized.
var categoryKeywords = map[string][]string{
	"pasta_rice":  {"pasta", "rice", "noodle", "spaghetti", "risotto", "ramen"},
	"fried_foods": {"fried", "crispy", "tempura", "fries", "nugget"},
	"baked_goods": {"bread", "muffin", "cake", "cookie", "pastry", "croissant", "bagel", "donut"},
	"drinks":      {"juice", "soda", "smoothie", "latte", "coffee", "shake", "tea"},
	"protein":     {"chicken", "beef", "fish", "salmon", "pork", "steak", "turkey", "tofu", "egg"},
	"vegetables":  {"salad", "broccoli", "spinach", "carrot", "kale", "vegetable", "zucchini"},
}

// Engine turns verified records into calibration reports. It is stateless
// and safe for concurrent use.
type Engine struct {
	policy Policy
}

// NewEngine returns an Engine using the given policy. Zero-valued policy
// fields fall back to the defaults.
func NewEngine(policy Policy) *Engine {
	def := DefaultPolicy()
	if policy.MinDataPoints <= 0 {
		policy.MinDataPoints = def.MinDataPoints
	}
	if policy.AccurateBandPct <= 0 {
		policy.AccurateBandPct = def.AccurateBandPct
	}
	if policy.ExcellentMAPE <= 0 {
		policy.ExcellentMAPE = def.ExcellentMAPE
	}
	if policy.GoodMAPE <= 0 {
		policy.GoodMAPE = def.GoodMAPE
	}
	if policy.NeedsImprovementMAPE <= 0 {
		policy.NeedsImprovementMAPE = def.NeedsImprovementMAPE
	}
	if policy.CategoryErrorMultiplier <= 0 {
		policy.CategoryErrorMultiplier = def.CategoryErrorMultiplier
	}
	if policy.BiasSuggestionThreshold <= 0 {
		policy.BiasSuggestionThreshold = def.BiasSuggestionThreshold
	}
	if policy.HighVarianceThreshold <= 0 {
		policy.HighVarianceThreshold = def.HighVarianceThreshold
	}
	if policy.MaxDataPointsInReport <= 0 {
		policy.MaxDataPointsInReport = def.MaxDataPointsInReport
	}
	return &Engine{policy: policy}
}

// Run computes a calibration report over the given records. Records lacking
// a positive ground-truth value are skipped and counted. Given the same
// records, the report content is identical across runs except for ReportID
// and GeneratedAt.
func (e *Engine) Run(userID string, records []VerifiedRecord) Report {
	report := Report{
		ReportID:    uuid.NewString(),
		UserID:      userID,
		GeneratedAt: time.Now().UTC(),
	}

	points := make([]DataPoint, 0, len(records))
	for _, r := range records {
		if r.ActualCalories == nil || *r.ActualCalories <= 0 {
			report.SkippedRecords++
			continue
		}
		actual := *r.ActualCalories
		errVal := r.EstimatedCalories - actual
		points = append(points, DataPoint{
			EntryID:           r.EntryID,
			FoodNames:         r.FoodNames,
			EstimatedCalories: r.EstimatedCalories,
			ActualCalories:    actual,
			Error:             errVal,
			PercentageError:   errVal / actual * 100,
			Confidence:        r.Confidence,
		})
	}

	report.MealsAnalyzed = len(points)
	if len(points) < e.policy.MinDataPoints {
		report.Status = StatusInsufficientData
		report.StatusMessage = fmt.Sprintf(
			"need at least %d verified meals to calibrate, have %d",
			e.policy.MinDataPoints, len(points),
		)
		return report
	}

	report.Metrics = e.ComputeMetrics(points)
	report.Status, report.StatusMessage = e.grade(report.Metrics.MAPE)

	for _, p := range points {
		switch {
		case math.Abs(p.PercentageError) <= e.policy.AccurateBandPct:
			report.AccurateCount++
		case p.Error > 0:
			report.OverestimationCount++
		default:
			report.UnderestimationCount++
		}
	}

	report.WorstCategories = e.diagnoseCategories(points, report.Metrics.MAPE)
	report.Suggestions = e.suggest(report.Metrics, report.WorstCategories, points)

	if len(points) > e.policy.MaxDataPointsInReport {
		points = points[len(points)-e.policy.MaxDataPointsInReport:]
	}
	report.DataPoints = points

	return report
}

// ComputeMetrics derives the accuracy statistics for a non-empty point set.
func (e *Engine) ComputeMetrics(points []DataPoint) Metrics {
	n := float64(len(points))
	estimates := make([]float64, len(points))
	actuals := make([]float64, len(points))

	var m Metrics
	var sqSum float64
	for i, p := range points {
		estimates[i] = p.EstimatedCalories
		actuals[i] = p.ActualCalories
		m.MAE += math.Abs(p.Error)
		m.MAPE += math.Abs(p.PercentageError)
		m.Bias += p.Error
		sqSum += p.Error * p.Error
	}
	m.MAE /= n
	m.MAPE /= n
	m.Bias /= n
	m.RMSE = math.Sqrt(sqSum / n)

	errs := make([]float64, len(points))
	for i, p := range points {
		errs[i] = p.Error
	}
	// Population standard deviation of signed errors; never errors on
	// non-empty input.
	m.StdDeviation, _ = stats.StandardDeviationPopulation(errs)

	// Pearson divides by the variances, so it is undefined when either
	// series is constant. The stats package returns NaN rather than an
	// error in that case, so guard explicitly.
	if len(points) >= 2 && !constant(estimates) && !constant(actuals) {
		if r, err := stats.Pearson(estimates, actuals); err == nil && !math.IsNaN(r) {
			m.PearsonCorrelation = &r
			r2 := r * r
			m.RSquared = &r2
		}
	}

	if brier, ok := e.brier(points); ok {
		m.BrierScore = &brier
	}

	return m
}

// brier scores the stated confidence against the accuracy outcome: each
// point contributes (confidence - hit)^2 where hit is 1 when the estimate
// landed inside the accurate band. Reported only when confidence data is
// present at all.
func (e *Engine) brier(points []DataPoint) (float64, bool) {
	anyConfidence := false
	var sum float64
	for _, p := range points {
		if p.Confidence > 0 {
			anyConfidence = true
		}
		hit := 0.0
		if math.Abs(p.PercentageError) <= e.policy.AccurateBandPct {
			hit = 1.0
		}
		d := p.Confidence - hit
		sum += d * d
	}
	if !anyConfidence {
		return 0, false
	}
	return sum / float64(len(points)), true
}

func (e *Engine) grade(mape float64) (Status, string) {
	switch {
	case mape < e.policy.ExcellentMAPE:
		return StatusExcellent, "estimates track ground truth closely"
	case mape < e.policy.GoodMAPE:
		return StatusGood, "estimates are usable with minor drift"
	case mape < e.policy.NeedsImprovementMAPE:
		return StatusNeedsImprovement, "estimates drift noticeably from ground truth"
	default:
		return StatusPoor, "estimates are unreliable"
	}
}

// diagnoseCategories groups points by food category and returns the
// categories whose mean absolute percentage error exceeds the overall MAPE
// by the policy multiplier, worst first.
func (e *Engine) diagnoseCategories(points []DataPoint, overallMAPE float64) []CategoryDiagnosis {
	type bucket struct {
		sum float64
		n   int
	}
	buckets := map[string]*bucket{}
	for _, p := range points {
		for category, keywords := range categoryKeywords {
			if matchesCategory(p.FoodNames, keywords) {
				b := buckets[category]
				if b == nil {
					b = &bucket{}
					buckets[category] = b
				}
				b.sum += math.Abs(p.PercentageError)
				b.n++
			}
		}
	}

	var worst []CategoryDiagnosis
	for category, b := range buckets {
		catMAPE := b.sum / float64(b.n)
		if catMAPE > overallMAPE*e.policy.CategoryErrorMultiplier {
			worst = append(worst, CategoryDiagnosis{
				Category:               category,
				MeanAbsPercentageError: catMAPE,
				Points:                 b.n,
			})
		}
	}
	sort.Slice(worst, func(i, j int) bool {
		if worst[i].MeanAbsPercentageError != worst[j].MeanAbsPercentageError {
			return worst[i].MeanAbsPercentageError > worst[j].MeanAbsPercentageError
		}
		return worst[i].Category < worst[j].Category
	})
	return worst
}

func matchesCategory(foodNames []string, keywords []string) bool {
	for _, name := range foodNames {
		lower := strings.ToLower(name)
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return true
			}
		}
	}
	return false
}

// suggest builds the ranked prompt improvement list: systematic bias first,
// then per-category reference anchors, then confidence calibration when the
// error spread is high. At most three suggestions are returned.
func (e *Engine) suggest(m Metrics, worst []CategoryDiagnosis, points []DataPoint) []PromptSuggestion {
	var out []PromptSuggestion

	switch {
	case m.Bias > e.policy.BiasSuggestionThreshold:
		out = append(out, PromptSuggestion{
			Category:        "portion_sizing",
			CurrentIssue:    fmt.Sprintf("estimates run %.0f kcal high on average", m.Bias),
			SuggestedChange: "instruct the model to assume standard restaurant portions rather than large ones, and to round portion weights down when uncertain",
			Priority:        1,
			ExpectedImpact:  mapeImpact(impactOfBiasRemoval(points, m.MAPE)),
		})
	case m.Bias < -e.policy.BiasSuggestionThreshold:
		out = append(out, PromptSuggestion{
			Category:        "portion_sizing",
			CurrentIssue:    fmt.Sprintf("estimates run %.0f kcal low on average", -m.Bias),
			SuggestedChange: "instruct the model to account for cooking oils, sauces, and hidden fats that inflate calorie content",
			Priority:        1,
			ExpectedImpact:  mapeImpact(impactOfBiasRemoval(points, m.MAPE)),
		})
	}

	for _, cat := range worst {
		out = append(out, PromptSuggestion{
			Category:        cat.Category,
			CurrentIssue:    fmt.Sprintf("%s estimates are off by %.0f%% on average", cat.Category, cat.MeanAbsPercentageError),
			SuggestedChange: fmt.Sprintf("add reference calorie anchors for common %s items to the estimation prompt", strings.ReplaceAll(cat.Category, "_", " ")),
			Priority:        len(out) + 1,
			ExpectedImpact:  mapeImpact(impactOfCategoryFix(points, cat.Category, m.MAPE)),
		})
	}

	if m.StdDeviation > e.policy.HighVarianceThreshold {
		out = append(out, PromptSuggestion{
			Category:        "confidence_calibration",
			CurrentIssue:    fmt.Sprintf("error spread is high (std %.0f kcal)", m.StdDeviation),
			SuggestedChange: "ask the model to report lower confidence on mixed dishes and occluded items so unreliable estimates can be flagged",
			Priority:        len(out) + 1,
			ExpectedImpact:  "unreliable estimates get flagged instead of silently skewing totals",
		})
	}

	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

// mapeImpact renders an estimated MAPE recovery for display.
func mapeImpact(points float64) string {
	if points <= 0 {
		return "small accuracy improvement"
	}
	return fmt.Sprintf("reduce MAPE by roughly %.1f points", points)
}

// impactOfBiasRemoval estimates how many MAPE points would be recovered if
// the mean signed error were subtracted from every estimate.
func impactOfBiasRemoval(points []DataPoint, currentMAPE float64) float64 {
	var bias float64
	for _, p := range points {
		bias += p.Error
	}
	bias /= float64(len(points))

	var adjusted float64
	for _, p := range points {
		adjusted += math.Abs((p.Error - bias) / p.ActualCalories * 100)
	}
	adjusted /= float64(len(points))
	if impact := currentMAPE - adjusted; impact > 0 {
		return impact
	}
	return 0
}

// impactOfCategoryFix estimates the MAPE recovered if the category's points
// were estimated perfectly.
func impactOfCategoryFix(points []DataPoint, category string, currentMAPE float64) float64 {
	keywords := categoryKeywords[category]
	var sum float64
	for _, p := range points {
		if matchesCategory(p.FoodNames, keywords) {
			continue
		}
		sum += math.Abs(p.PercentageError)
	}
	adjusted := sum / float64(len(points))
	if impact := currentMAPE - adjusted; impact > 0 {
		return impact
	}
	return 0
}

func constant(values []float64) bool {
	for _, v := range values[1:] {
		if v != values[0] {
			return false
		}
	}
	return true
}
