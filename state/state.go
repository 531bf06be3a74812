// Package state defines the MealState record that accumulates analysis
// results through the Observe, Think and Act phases, and guards its
// lifecycle: phases only ever advance, each may be applied exactly once,
// and any non-terminal phase may transition to Failed.
package state

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidTransition indicates a phase was applied out of order or twice.
// It is a programming error in the caller, not a recoverable condition.
var ErrInvalidTransition = errors.New("invalid phase transition")

// Phase is one stage of the Observe-Think-Act lifecycle.
type Phase string

const (
	PhaseCreated  Phase = "created"
	PhaseObserved Phase = "observed"
	PhaseThought  Phase = "thought"
	PhaseActed    Phase = "acted"
	PhaseFailed   Phase = "failed"
)

// rank orders phases so monotonicity can be asserted; Failed is terminal
// from anywhere and outranks everything.
var rank = map[Phase]int{
	PhaseCreated:  0,
	PhaseObserved: 1,
	PhaseThought:  2,
	PhaseActed:    3,
	PhaseFailed:   4,
}

// Rank returns the position of p in the lifecycle ordering.
func (p Phase) Rank() int { return rank[p] }

// Terminal reports whether no further transition is allowed from p.
func (p Phase) Terminal() bool { return p == PhaseActed || p == PhaseFailed }

// MealType categorizes meal timing.
type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
	MealSnack     MealType = "snack"
)

// NutrientInfo is a single nutrient measurement. The same shape is used for
// per-food nutrients and for meal-level totals.
type NutrientInfo struct {
	Name         string  `json:"name"`
	Amount       float64 `json:"amount"`
	Unit         string  `json:"unit"`
	PercentDaily float64 `json:"percent_daily,omitempty"`
}

// BoundingBox locates a detected food in the source image, normalized to
// [0,1] with x1<x2 and y1<y2.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Valid reports whether the box is normalized and non-degenerate.
func (b BoundingBox) Valid() bool {
	inUnit := func(v float64) bool { return v >= 0 && v <= 1 }
	return inUnit(b.X1) && inUnit(b.Y1) && inUnit(b.X2) && inUnit(b.Y2) &&
		b.X1 < b.X2 && b.Y1 < b.Y2
}

// FoodItem is a single detected food. Name, portion, confidence and bounding
// box are fixed by the Observe phase; Nutrients are attached during Think by
// the nutrition lookup.
type FoodItem struct {
	Name               string         `json:"name"`
	PortionGrams       float64        `json:"portion_grams"`
	PortionDescription string         `json:"portion_description,omitempty"`
	Confidence         float64        `json:"confidence"`
	Nutrients          []NutrientInfo `json:"nutrients,omitempty"`
	BoundingBox        *BoundingBox   `json:"bounding_box,omitempty"`
}

// ConstraintStatus is the alert level of a health constraint.
type ConstraintStatus string

const (
	StatusNormal   ConstraintStatus = "normal"
	StatusWarning  ConstraintStatus = "warning"
	StatusCritical ConstraintStatus = "critical"
)

// HealthConstraint is one monitored health metric derived during Think from
// biometric data and meal totals.
type HealthConstraint struct {
	Type           string           `json:"type"`
	Value          float64          `json:"value"`
	Unit           string           `json:"unit"`
	Status         ConstraintStatus `json:"status"`
	ThresholdLow   *float64         `json:"threshold_low,omitempty"`
	ThresholdHigh  *float64         `json:"threshold_high,omitempty"`
	Recommendation string           `json:"recommendation,omitempty"`
}

// AdjustmentAction is the kind of change an Adjustment suggests.
type AdjustmentAction string

const (
	ActionReduce  AdjustmentAction = "reduce"
	ActionReplace AdjustmentAction = "replace"
	ActionRemove  AdjustmentAction = "remove"
	ActionAdd     AdjustmentAction = "add"
)

// Adjustment is a suggested meal modification produced in the Act phase.
// Priority is a positive integer; lower is more urgent.
type Adjustment struct {
	FoodName    string           `json:"food_name"`
	Action      AdjustmentAction `json:"action"`
	Reason      string           `json:"reason"`
	Alternative string           `json:"alternative,omitempty"`
	Priority    int              `json:"priority"`
}

// Degraded-section flags surfaced on a successful but partial result.
const (
	DegradedBioData    = "biodata_unavailable"
	DegradedScoring    = "scoring_unavailable"
	DegradedUnresolved = "nutrition_partially_resolved"
)

// MealState is the record for one analysis session. It is owned exclusively
// by the orchestrator run that created it and is never shared across
// sessions. Fields are grouped by the phase that populates them.
type MealState struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	MealType  MealType  `json:"meal_type,omitempty"`
	Phase     Phase     `json:"phase"`
	CreatedAt time.Time `json:"created_at"`

	// Observe phase
	DetectedFoods []FoodItem `json:"detected_foods"`
	Confidence    float64    `json:"confidence"`

	// Think phase
	TotalNutrients    []NutrientInfo     `json:"total_nutrients"`
	HealthConstraints []HealthConstraint `json:"health_constraints"`
	UnresolvedFoods   []string           `json:"unresolved_foods,omitempty"`

	// Act phase
	Adjustments        []Adjustment `json:"adjustments"`
	GoalAlignmentScore *float64     `json:"goal_alignment_score,omitempty"`
	OverallScore       *float64     `json:"overall_score,omitempty"`
	Summary            string       `json:"summary,omitempty"`

	// Set by any phase that had to fall back to a partial result.
	Degraded []string `json:"degraded,omitempty"`

	// Failed terminal state only.
	FailureReason string `json:"failure_reason,omitempty"`
}

// ObserveResult carries the Observe phase outputs into the state.
type ObserveResult struct {
	Foods      []FoodItem
	Confidence float64
}

// ThinkResult carries the Think phase outputs into the state. ResolvedFoods
// are the detected foods with nutrients attached; foods whose lookup failed
// appear in UnresolvedFoods and contribute zero nutrients to the totals.
type ThinkResult struct {
	ResolvedFoods     []FoodItem
	TotalNutrients    []NutrientInfo
	HealthConstraints []HealthConstraint
	UnresolvedFoods   []string
	Degraded          []string
}

// ActResult carries the Act phase outputs into the state.
type ActResult struct {
	Adjustments        []Adjustment
	GoalAlignmentScore float64
	OverallScore       float64
	Summary            string
	Degraded           []string
}

// New returns a MealState in phase Created. An empty sessionID gets a fresh
// UUID; the session ID doubles as the entry ID for later verification.
func New(sessionID, userID string, mealType MealType) *MealState {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	return &MealState{
		SessionID: sessionID,
		UserID:    userID,
		MealType:  mealType,
		Phase:     PhaseCreated,
		CreatedAt: time.Now().UTC(),
	}
}

func (s *MealState) transition(from, to Phase) error {
	if s.Phase != from {
		return fmt.Errorf("%w: cannot move %s -> %s from %s", ErrInvalidTransition, from, to, s.Phase)
	}
	s.Phase = to
	return nil
}

// ApplyObserved records the detected foods and advances Created -> Observed.
func (s *MealState) ApplyObserved(r ObserveResult) error {
	if err := s.transition(PhaseCreated, PhaseObserved); err != nil {
		return err
	}
	s.DetectedFoods = r.Foods
	if s.DetectedFoods == nil {
		s.DetectedFoods = []FoodItem{}
	}
	s.Confidence = r.Confidence
	return nil
}

// ApplyThought records totals and constraints and advances
// Observed -> Thought. ResolvedFoods, when present, must match the detected
// foods one-to-one; they replace them so per-food nutrients are visible on
// the final snapshot.
func (s *MealState) ApplyThought(r ThinkResult) error {
	if s.Phase == PhaseObserved && r.ResolvedFoods != nil && len(r.ResolvedFoods) != len(s.DetectedFoods) {
		return fmt.Errorf("%w: resolved foods count %d does not match detected %d",
			ErrInvalidTransition, len(r.ResolvedFoods), len(s.DetectedFoods))
	}
	if err := s.transition(PhaseObserved, PhaseThought); err != nil {
		return err
	}
	if r.ResolvedFoods != nil {
		s.DetectedFoods = r.ResolvedFoods
	}
	s.TotalNutrients = r.TotalNutrients
	if s.TotalNutrients == nil {
		s.TotalNutrients = []NutrientInfo{}
	}
	s.HealthConstraints = r.HealthConstraints
	if s.HealthConstraints == nil {
		s.HealthConstraints = []HealthConstraint{}
	}
	s.UnresolvedFoods = r.UnresolvedFoods
	s.Degraded = append(s.Degraded, r.Degraded...)
	return nil
}

// ApplyActed records recommendations and scores and advances
// Thought -> Acted, the terminal success state.
func (s *MealState) ApplyActed(r ActResult) error {
	if err := s.transition(PhaseThought, PhaseActed); err != nil {
		return err
	}
	s.Adjustments = r.Adjustments
	if s.Adjustments == nil {
		s.Adjustments = []Adjustment{}
	}
	goal, overall := r.GoalAlignmentScore, r.OverallScore
	s.GoalAlignmentScore = &goal
	s.OverallScore = &overall
	s.Summary = r.Summary
	s.Degraded = append(s.Degraded, r.Degraded...)
	return nil
}

// Fail moves any non-terminal phase to Failed with a single failure reason.
// A failed run carries no partial analysis data.
func (s *MealState) Fail(reason string) error {
	if s.Phase.Terminal() {
		return fmt.Errorf("%w: cannot fail from terminal phase %s", ErrInvalidTransition, s.Phase)
	}
	s.Phase = PhaseFailed
	s.FailureReason = reason
	s.DetectedFoods = nil
	s.TotalNutrients = nil
	s.HealthConstraints = nil
	s.UnresolvedFoods = nil
	s.Adjustments = nil
	s.Degraded = nil
	return nil
}

// IsDegraded reports whether the given degraded-section flag is set.
func (s *MealState) IsDegraded(flag string) bool {
	for _, d := range s.Degraded {
		if d == flag {
			return true
		}
	}
	return false
}

// Snapshot returns a deep copy of the state. The copy is safe to hand to
// callers after the run completes; the original remains owned by the
// orchestrator.
func (s *MealState) Snapshot() MealState {
	out := *s
	out.DetectedFoods = make([]FoodItem, len(s.DetectedFoods))
	for i, f := range s.DetectedFoods {
		out.DetectedFoods[i] = f
		out.DetectedFoods[i].Nutrients = append([]NutrientInfo(nil), f.Nutrients...)
		if f.BoundingBox != nil {
			bb := *f.BoundingBox
			out.DetectedFoods[i].BoundingBox = &bb
		}
	}
	out.TotalNutrients = append([]NutrientInfo(nil), s.TotalNutrients...)
	out.HealthConstraints = append([]HealthConstraint(nil), s.HealthConstraints...)
	out.UnresolvedFoods = append([]string(nil), s.UnresolvedFoods...)
	out.Adjustments = append([]Adjustment(nil), s.Adjustments...)
	out.Degraded = append([]string(nil), s.Degraded...)
	if s.GoalAlignmentScore != nil {
		v := *s.GoalAlignmentScore
		out.GoalAlignmentScore = &v
	}
	if s.OverallScore != nil {
		v := *s.OverallScore
		out.OverallScore = &v
	}
	return out
}

// SumNutrients aggregates per-food nutrients into meal totals: the total for
// a nutrient is the sum of that nutrient across all foods, missing nutrients
// count as zero, and an empty food list totals to an empty (zero) set.
// Output ordering is deterministic: alphabetical by nutrient name.
func SumNutrients(foods []FoodItem) []NutrientInfo {
	amounts := map[string]float64{}
	units := map[string]string{}
	for _, f := range foods {
		for _, n := range f.Nutrients {
			amounts[n.Name] += n.Amount
			if _, ok := units[n.Name]; !ok {
				units[n.Name] = n.Unit
			}
		}
	}

	names := make([]string, 0, len(amounts))
	for name := range amounts {
		names = append(names, name)
	}
	sort.Strings(names)

	totals := make([]NutrientInfo, 0, len(names))
	for _, name := range names {
		totals = append(totals, NutrientInfo{Name: name, Amount: amounts[name], Unit: units[name]})
	}
	return totals
}

// NutrientAmount returns the amount of the named nutrient in the list, or 0
// if absent.
func NutrientAmount(nutrients []NutrientInfo, name string) float64 {
	for _, n := range nutrients {
		if n.Name == name {
			return n.Amount
		}
	}
	return 0
}
