// Package orchestrator runs the Observe, Think and Act phases of a meal
// analysis over pluggable capability ports, degrading gracefully when
// non-essential capabilities fail.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"nutripilot"
	"nutripilot/biodata"
	"nutripilot/state"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

// ErrObservationFailed indicates the vision capability could not produce a
// usable extraction. Observation is essential: the run fails.
var ErrObservationFailed = errors.New("observation failed")

// ErrThinkFailed indicates no detected food could be resolved to nutrition
// data. With nothing to reason over, the run fails.
var ErrThinkFailed = errors.New("think phase failed")

// Config tunes timeouts, retries, and fallbacks.
type Config struct {
	VisionTimeout  time.Duration
	LookupTimeout  time.Duration
	ScoringTimeout time.Duration
	VisionAttempts int
	RetryBaseDelay time.Duration
	MinConfidence  float64
	NeutralScore   float64
}

// DefaultConfig returns the standard orchestration settings.
func DefaultConfig() Config {
	return Config{
		VisionTimeout:  10 * time.Second,
		LookupTimeout:  3 * time.Second,
		ScoringTimeout: 3 * time.Second,
		VisionAttempts: 3,
		RetryBaseDelay: 500 * time.Millisecond,
		MinConfidence:  0.15,
		NeutralScore:   50,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.VisionTimeout <= 0 {
		c.VisionTimeout = def.VisionTimeout
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = def.LookupTimeout
	}
	if c.ScoringTimeout <= 0 {
		c.ScoringTimeout = def.ScoringTimeout
	}
	if c.VisionAttempts <= 0 {
		c.VisionAttempts = def.VisionAttempts
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = def.RetryBaseDelay
	}
	if c.MinConfidence <= 0 {
		c.MinConfidence = def.MinConfidence
	}
	if c.NeutralScore <= 0 {
		c.NeutralScore = def.NeutralScore
	}
	return c
}

// Request is one meal analysis job.
type Request struct {
	SessionID   string
	UserID      string
	MealType    state.MealType
	Image       []byte
	ImageFormat string
	Text        string
	Profile     nutripilot.UserProfile
}

// Orchestrator coordinates the capabilities for a single analysis run.
type Orchestrator struct {
	vision    nutripilot.VisionAnalysis
	biodata   nutripilot.BioDataLookup
	nutrition nutripilot.NutritionLookup
	scoring   nutripilot.GoalScoring
	logger    nutripilot.AnalysisLogger
	cfg       Config
}

// NewOrchestrator initializes a new orchestrator over the given capabilities.
func NewOrchestrator(vision nutripilot.VisionAnalysis, biodata nutripilot.BioDataLookup, nutrition nutripilot.NutritionLookup, scoring nutripilot.GoalScoring, logger nutripilot.AnalysisLogger, cfg Config) *Orchestrator {
	return &Orchestrator{
		vision:    vision,
		biodata:   biodata,
		nutrition: nutrition,
		scoring:   scoring,
		logger:    logger,
		cfg:       cfg.withDefaults(),
	}
}

// Run executes the full analysis. The returned state is always a snapshot:
// Acted on success (possibly with degraded flags), Failed alongside a
// non-nil error when an essential capability gave out.
func (o *Orchestrator) Run(ctx context.Context, req Request) (state.MealState, error) {
	ctx, span := otel.Tracer(nutripilot.TracerNameOrchestrator).Start(ctx, "Orchestrator.Run")
	defer span.End()

	st := state.New(req.SessionID, req.UserID, req.MealType)
	slog.Info("ORCHESTRATOR: Starting run", "session_id", st.SessionID, "user_id", st.UserID)

	if err := o.observe(ctx, st, req); err != nil {
		return o.fail(st, err)
	}
	if err := o.think(ctx, st, req); err != nil {
		return o.fail(st, err)
	}
	if err := o.act(ctx, st, req); err != nil {
		return o.fail(st, err)
	}

	slog.Info("ORCHESTRATOR: Run complete",
		"session_id", st.SessionID,
		"foods", len(st.DetectedFoods),
		"degraded", st.Degraded,
	)
	return st.Snapshot(), nil
}

func (o *Orchestrator) fail(st *state.MealState, err error) (state.MealState, error) {
	slog.Error("ORCHESTRATOR: Run failed", "session_id", st.SessionID, "error", err)
	if ferr := st.Fail(err.Error()); ferr != nil {
		slog.Error("ORCHESTRATOR: Could not mark state failed", "error", ferr)
	}
	return st.Snapshot(), err
}

// observe runs the vision capability with bounded retries. Transient errors
// and per-attempt timeouts are retried; anything else aborts immediately.
// An empty or low-confidence extraction is an observation failure.
func (o *Orchestrator) observe(ctx context.Context, st *state.MealState, req Request) error {
	start := time.Now()
	input := nutripilot.VisionInput{Image: req.Image, ImageFormat: req.ImageFormat, Text: req.Text}

	attempt := 0
	op := func() (nutripilot.VisionResult, error) {
		attempt++
		actx, cancel := context.WithTimeout(ctx, o.cfg.VisionTimeout)
		defer cancel()

		res, err := o.vision.Analyze(actx, input)
		if err != nil {
			slog.Warn("ORCHESTRATOR: Vision attempt failed", "session_id", st.SessionID, "attempt", attempt, "error", err)
			if nutripilot.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
				return nutripilot.VisionResult{}, err
			}
			return nutripilot.VisionResult{}, backoff.Permanent(err)
		}
		return res, nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.cfg.RetryBaseDelay

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(o.cfg.VisionAttempts)),
	)
	if err != nil {
		o.logPhase(string(state.PhaseObserved), start, input, nil, err)
		return fmt.Errorf("%w: %v", ErrObservationFailed, err)
	}

	if len(res.Foods) == 0 || res.Confidence < o.cfg.MinConfidence {
		err := fmt.Errorf("%w: no usable extraction (foods=%d confidence=%.2f)",
			ErrObservationFailed, len(res.Foods), res.Confidence)
		o.logPhase(string(state.PhaseObserved), start, input, res, err)
		return err
	}

	if aerr := st.ApplyObserved(state.ObserveResult{Foods: res.Foods, Confidence: res.Confidence}); aerr != nil {
		return aerr
	}
	o.logPhase(string(state.PhaseObserved), start, input, res, nil)
	slog.Info("ORCHESTRATOR: Observed", "session_id", st.SessionID, "foods", len(res.Foods), "confidence", res.Confidence)
	return nil
}

// think fans out the biodata fetch and the per-food nutrition lookups, then
// joins both before updating state. A biodata failure degrades the run; a
// failure of every nutrition lookup fails it.
func (o *Orchestrator) think(ctx context.Context, st *state.MealState, req Request) error {
	start := time.Now()

	var (
		bio        nutripilot.BioDataReport
		bioErr     error
		resolved   = make([]state.FoodItem, len(st.DetectedFoods))
		unresolved []string
	)
	copy(resolved, st.DetectedFoods)

	// Both branches return nil so the join always waits for both; errors
	// are carried out-of-band and weighed after the join.
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		bctx, cancel := context.WithTimeout(gctx, o.cfg.LookupTimeout)
		defer cancel()
		bio, bioErr = o.biodata.Fetch(bctx, req.UserID)
		return nil
	})

	g.Go(func() error {
		for i := range resolved {
			nctx, cancel := context.WithTimeout(gctx, o.cfg.LookupTimeout)
			nutrients, err := o.nutrition.Resolve(nctx, resolved[i].Name, resolved[i].PortionGrams)
			cancel()
			if err != nil {
				slog.Warn("ORCHESTRATOR: Nutrition lookup failed", "session_id", st.SessionID, "food", resolved[i].Name, "error", err)
				unresolved = append(unresolved, resolved[i].Name)
				resolved[i].Nutrients = nil
				continue
			}
			resolved[i].Nutrients = nutrients
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if len(unresolved) == len(resolved) {
		err := fmt.Errorf("%w: no food could be resolved to nutrition data", ErrThinkFailed)
		o.logPhase(string(state.PhaseThought), start, nil, nil, err)
		return err
	}

	result := state.ThinkResult{
		ResolvedFoods:   resolved,
		TotalNutrients:  state.SumNutrients(resolved),
		UnresolvedFoods: unresolved,
	}
	if bioErr != nil {
		slog.Warn("ORCHESTRATOR: BioData unavailable, continuing without constraints", "session_id", st.SessionID, "error", bioErr)
		result.HealthConstraints = []state.HealthConstraint{}
		result.Degraded = append(result.Degraded, state.DegradedBioData)
	} else {
		result.HealthConstraints = biodata.CheckTotals(bio.Constraints, result.TotalNutrients)
	}
	if len(unresolved) > 0 {
		result.Degraded = append(result.Degraded, state.DegradedUnresolved)
	}

	if err := st.ApplyThought(result); err != nil {
		return err
	}
	o.logPhase(string(state.PhaseThought), start, nil, result, nil)
	slog.Info("ORCHESTRATOR: Thought",
		"session_id", st.SessionID,
		"constraints", len(st.HealthConstraints),
		"unresolved", len(unresolved),
	)
	return nil
}

// act runs goal scoring. Scoring is non-essential: on failure the run
// completes with a neutral score and no recommendations.
func (o *Orchestrator) act(ctx context.Context, st *state.MealState, req Request) error {
	start := time.Now()

	sctx, cancel := context.WithTimeout(ctx, o.cfg.ScoringTimeout)
	defer cancel()

	scoreReq := nutripilot.ScoreRequest{
		Totals:      st.TotalNutrients,
		Constraints: st.HealthConstraints,
		Foods:       st.DetectedFoods,
		Profile:     req.Profile,
	}

	var result state.ActResult
	res, err := o.scoring.Score(sctx, scoreReq)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("ORCHESTRATOR: Scoring unavailable, using neutral fallback", "session_id", st.SessionID, "error", err)
		result = state.ActResult{
			GoalAlignmentScore: o.cfg.NeutralScore,
			OverallScore:       o.cfg.NeutralScore,
			Summary:            "Meal logged. Goal scoring was unavailable, so no personalized recommendations this time.",
			Degraded:           []string{state.DegradedScoring},
		}
	} else {
		result = state.ActResult{
			Adjustments:        res.Adjustments,
			GoalAlignmentScore: res.GoalAlignment,
			OverallScore:       res.Overall,
			Summary:            res.Summary,
		}
	}

	if aerr := st.ApplyActed(result); aerr != nil {
		return aerr
	}
	o.logPhase(string(state.PhaseActed), start, scoreReq, result, err)
	slog.Info("ORCHESTRATOR: Acted", "session_id", st.SessionID, "overall_score", *st.OverallScore)
	return nil
}

func (o *Orchestrator) logPhase(phase string, start time.Time, input, output any, err error) {
	if o.logger == nil {
		return
	}
	entry := nutripilot.PhaseLog{
		Phase:      phase,
		Timestamp:  start,
		Input:      input,
		Output:     output,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		entry.Error = err.Error()
	}
	if lerr := o.logger.LogPhase(entry); lerr != nil {
		slog.Error("Failed to log analysis phase", "error", lerr, "phase", phase)
	}
}
