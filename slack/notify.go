package slack

import (
	"context"
	"fmt"
	"strings"

	"nutripilot"
	"nutripilot/calibration"
	"nutripilot/state"
)

// Notifier formats analysis and calibration results and posts them to a
// channel. A nil or empty channel makes every notification a no-op, so
// callers don't need to branch on whether Slack is configured.
type Notifier struct {
	client  nutripilot.SlackClient
	channel string
}

func NewNotifier(client nutripilot.SlackClient, channel string) *Notifier {
	return &Notifier{client: client, channel: channel}
}

func (n *Notifier) enabled() bool {
	return n != nil && n.client != nil && n.channel != ""
}

// NotifyAnalysis posts a one-message summary of a completed analysis.
func (n *Notifier) NotifyAnalysis(ctx context.Context, st state.MealState) error {
	if !n.enabled() {
		return nil
	}
	return n.client.PostMessage(ctx, n.channel, FormatAnalysis(st))
}

// NotifyCalibration posts a one-message summary of a calibration report.
func (n *Notifier) NotifyCalibration(ctx context.Context, report calibration.Report) error {
	if !n.enabled() {
		return nil
	}
	return n.client.PostMessage(ctx, n.channel, FormatCalibration(report))
}

// FormatAnalysis renders a meal analysis as Slack text.
func FormatAnalysis(st state.MealState) string {
	var b strings.Builder

	if st.Phase == state.PhaseFailed {
		fmt.Fprintf(&b, ":x: Meal analysis %s failed: %s", st.SessionID, st.FailureReason)
		return b.String()
	}

	fmt.Fprintf(&b, ":fork_and_knife: Meal analysis %s\n", st.SessionID)

	names := make([]string, len(st.DetectedFoods))
	for i, f := range st.DetectedFoods {
		names[i] = f.Name
	}
	fmt.Fprintf(&b, "Detected: %s\n", strings.Join(names, ", "))
	fmt.Fprintf(&b, "Calories: %.0f kcal", state.NutrientAmount(st.TotalNutrients, "calories"))
	if st.OverallScore != nil {
		fmt.Fprintf(&b, " | Score: %.0f/100", *st.OverallScore)
	}
	if len(st.Adjustments) > 0 {
		top := st.Adjustments[0]
		fmt.Fprintf(&b, "\nTop suggestion: %s %s", top.Action, top.FoodName)
	}
	if len(st.Degraded) > 0 {
		fmt.Fprintf(&b, "\n:warning: Degraded: %s", strings.Join(st.Degraded, ", "))
	}
	return b.String()
}

// FormatCalibration renders a calibration report as Slack text.
func FormatCalibration(report calibration.Report) string {
	var b strings.Builder

	fmt.Fprintf(&b, ":bar_chart: Calibration for %s: %s\n", report.UserID, report.Status)
	if report.Status == calibration.StatusInsufficientData {
		fmt.Fprintf(&b, "%s", report.StatusMessage)
		return b.String()
	}

	fmt.Fprintf(&b, "MAPE %.1f%% | MAE %.0f kcal | bias %+.0f kcal over %d meals",
		report.Metrics.MAPE, report.Metrics.MAE, report.Metrics.Bias, report.MealsAnalyzed)
	if len(report.WorstCategories) > 0 {
		fmt.Fprintf(&b, "\nWorst category: %s (%.0f%% error)",
			report.WorstCategories[0].Category, report.WorstCategories[0].MeanAbsPercentageError)
	}
	if len(report.Suggestions) > 0 {
		fmt.Fprintf(&b, "\nSuggestion: %s", report.Suggestions[0].SuggestedChange)
	}
	return b.String()
}
