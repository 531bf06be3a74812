package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"nutripilot"
	"nutripilot/state"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// InstrumentedOrchestrator is an instrumented version of the Orchestrator
// with comprehensive observability metrics.
type InstrumentedOrchestrator struct {
	inner  *Orchestrator
	tracer trace.Tracer
	meter  metric.Meter
}

// NewInstrumentedOrchestrator initializes a new instrumented orchestrator.
func NewInstrumentedOrchestrator(vision nutripilot.VisionAnalysis, biodata nutripilot.BioDataLookup, nutrition nutripilot.NutritionLookup, scoring nutripilot.GoalScoring, logger nutripilot.AnalysisLogger, cfg Config, tracer trace.Tracer, meter metric.Meter) *InstrumentedOrchestrator {
	return &InstrumentedOrchestrator{
		inner:  NewOrchestrator(vision, biodata, nutrition, scoring, logger, cfg),
		tracer: tracer,
		meter:  meter,
	}
}

// Run executes the full analysis with full instrumentation.
func (o *InstrumentedOrchestrator) Run(ctx context.Context, req Request) (state.MealState, error) {
	ctx, span := o.tracer.Start(ctx, "InstrumentedOrchestrator.Run")
	defer span.End()

	slog.Info("ORCHESTRATOR: Starting instrumented run", "session_id", req.SessionID, "user_id", req.UserID)

	// Initialize all metrics
	runsCounter, _ := o.meter.Int64Counter("analysis_runs_total",
		metric.WithDescription("Total number of analysis runs started"))
	runsCompletedCounter, _ := o.meter.Int64Counter("analysis_runs_completed_total",
		metric.WithDescription("Total number of analysis runs completed successfully"))
	runsFailedCounter, _ := o.meter.Int64Counter("analysis_runs_failed_total",
		metric.WithDescription("Total number of analysis runs that failed"))
	degradedRunsCounter, _ := o.meter.Int64Counter("analysis_runs_degraded_total",
		metric.WithDescription("Total number of analysis runs completed in a degraded mode"))
	unresolvedFoodsCounter, _ := o.meter.Int64Counter("nutrition_unresolved_foods_total",
		metric.WithDescription("Total number of detected foods with no nutrition resolution"))

	// Gauges
	foodsDetectedGauge, _ := o.meter.Int64Gauge("foods_detected_count",
		metric.WithDescription("Number of foods detected in the latest analysis"))
	constraintsGauge, _ := o.meter.Int64Gauge("health_constraints_count",
		metric.WithDescription("Number of health constraints evaluated in the latest analysis"))
	confidenceGauge, _ := o.meter.Float64Gauge("vision_confidence",
		metric.WithDescription("Vision extraction confidence of the latest analysis"))
	overallScoreGauge, _ := o.meter.Float64Gauge("meal_overall_score",
		metric.WithDescription("Overall meal score of the latest analysis"))

	// Histograms
	analysisDurationHist, _ := o.meter.Float64Histogram("analysis_duration_seconds",
		metric.WithDescription("Total duration of the analysis in seconds"))
	phaseDurationHist, _ := o.meter.Float64Histogram("phase_duration_seconds",
		metric.WithDescription("Duration of individual analysis phases in seconds"))

	runsCounter.Add(ctx, 1)
	analysisStart := time.Now()

	st := state.New(req.SessionID, req.UserID, req.MealType)
	span.SetAttributes(
		attribute.String("session_id", st.SessionID),
		attribute.String("user_id", st.UserID),
	)

	runPhase := func(name string, fn func(context.Context) error) error {
		phaseStart := time.Now()
		pctx, pspan := o.tracer.Start(ctx, "InstrumentedOrchestrator.Run."+name)
		defer pspan.End()

		err := fn(pctx)
		phaseDurationHist.Record(ctx, time.Since(phaseStart).Seconds(),
			metric.WithAttributes(attribute.String("phase", name)))
		if err != nil {
			pspan.SetStatus(codes.Error, name+" failed")
			pspan.RecordError(err)
		}
		return err
	}

	err := runPhase("Observe", func(pctx context.Context) error {
		return o.inner.observe(pctx, st, req)
	})
	if err == nil {
		foodsDetectedGauge.Record(ctx, int64(len(st.DetectedFoods)))
		confidenceGauge.Record(ctx, st.Confidence)
		err = runPhase("Think", func(pctx context.Context) error {
			return o.inner.think(pctx, st, req)
		})
	}
	if err == nil {
		constraintsGauge.Record(ctx, int64(len(st.HealthConstraints)))
		unresolvedFoodsCounter.Add(ctx, int64(len(st.UnresolvedFoods)))
		err = runPhase("Act", func(pctx context.Context) error {
			return o.inner.act(pctx, st, req)
		})
	}

	analysisDurationHist.Record(ctx, time.Since(analysisStart).Seconds())

	if err != nil {
		runsFailedCounter.Add(ctx, 1)
		span.SetStatus(codes.Error, "Analysis run failed")
		span.RecordError(err)
		return o.inner.fail(st, err)
	}

	runsCompletedCounter.Add(ctx, 1)
	if len(st.Degraded) > 0 {
		degradedRunsCounter.Add(ctx, 1)
		span.SetAttributes(attribute.StringSlice("degraded", st.Degraded))
	}
	if st.OverallScore != nil {
		overallScoreGauge.Record(ctx, *st.OverallScore)
	}

	slog.Info("ORCHESTRATOR: Instrumented run complete",
		"session_id", st.SessionID,
		"foods", len(st.DetectedFoods),
		"degraded", st.Degraded,
	)
	return st.Snapshot(), nil
}
