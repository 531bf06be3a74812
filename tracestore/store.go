// Package tracestore persists analysis traces and their calorie
// verifications. A trace is written when an analysis run completes; a
// verification attaches ground truth to it later; calibration reads the
// verified traces back.
package tracestore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"nutripilot"
	"nutripilot/calibration"
	"nutripilot/state"
)

// Record is one persisted analysis trace. EntryID is the analysis session
// ID, which is what users quote when submitting a verification.
type Record struct {
	EntryID            string     `json:"entry_id"`
	UserID             string     `json:"user_id"`
	Timestamp          time.Time  `json:"timestamp"`
	MealType           string     `json:"meal_type,omitempty"`
	FoodNames          []string   `json:"food_names"`
	EstimatedCalories  float64    `json:"estimated_calories"`
	Confidence         float64    `json:"confidence"`
	Verified           bool       `json:"verified"`
	VerifiedAt         *time.Time `json:"verified_at,omitempty"`
	ActualCalories     *float64   `json:"actual_calories,omitempty"`
	VerificationSource string     `json:"verification_source,omitempty"`
}

// FromSnapshot builds a trace record from a completed analysis.
func FromSnapshot(st state.MealState) Record {
	names := make([]string, len(st.DetectedFoods))
	for i, f := range st.DetectedFoods {
		names[i] = f.Name
	}
	return Record{
		EntryID:           st.SessionID,
		UserID:            st.UserID,
		Timestamp:         st.CreatedAt,
		MealType:          string(st.MealType),
		FoodNames:         names,
		EstimatedCalories: state.NutrientAmount(st.TotalNutrients, "calories"),
		Confidence:        st.Confidence,
	}
}

func (r Record) toVerified() calibration.VerifiedRecord {
	return calibration.VerifiedRecord{
		EntryID:           r.EntryID,
		Timestamp:         r.Timestamp,
		FoodNames:         r.FoodNames,
		EstimatedCalories: r.EstimatedCalories,
		ActualCalories:    r.ActualCalories,
		Confidence:        r.Confidence,
	}
}

// Store is the trace persistence contract.
type Store interface {
	SaveTrace(ctx context.Context, rec Record) error
	SubmitVerification(ctx context.Context, entryID string, actualCalories float64, source string) error
	FetchVerified(ctx context.Context, userID string, limit int) ([]calibration.VerifiedRecord, error)
}

func validateVerification(entryID string, actualCalories float64) error {
	if entryID == "" {
		return fmt.Errorf("entry id is required")
	}
	if actualCalories <= 0 {
		return fmt.Errorf("actual calories must be positive, got %.1f", actualCalories)
	}
	return nil
}

// selectVerified filters, sorts ascending by timestamp, and keeps the most
// recent limit records.
func selectVerified(records []Record, userID string, limit int) []calibration.VerifiedRecord {
	var matched []Record
	for _, r := range records {
		if r.UserID == userID && r.Verified {
			matched = append(matched, r)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].Timestamp.Before(matched[j].Timestamp) })
	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}

	out := make([]calibration.VerifiedRecord, len(matched))
	for i, r := range matched {
		out[i] = r.toVerified()
	}
	return out
}

// MemoryStore is a Store over process memory, for local runs and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records []Record
	byID    map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]int)}
}

func (m *MemoryStore) SaveTrace(_ context.Context, rec Record) error {
	if rec.EntryID == "" {
		return fmt.Errorf("trace record missing entry id")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if i, ok := m.byID[rec.EntryID]; ok {
		m.records[i] = rec
		return nil
	}
	m.byID[rec.EntryID] = len(m.records)
	m.records = append(m.records, rec)
	return nil
}

func (m *MemoryStore) SubmitVerification(_ context.Context, entryID string, actualCalories float64, source string) error {
	if err := validateVerification(entryID, actualCalories); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	i, ok := m.byID[entryID]
	if !ok {
		return fmt.Errorf("trace %q: %w", entryID, nutripilot.ErrNotFound)
	}
	now := time.Now().UTC()
	m.records[i].Verified = true
	m.records[i].VerifiedAt = &now
	m.records[i].ActualCalories = &actualCalories
	m.records[i].VerificationSource = source
	return nil
}

func (m *MemoryStore) FetchVerified(_ context.Context, userID string, limit int) ([]calibration.VerifiedRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return selectVerified(m.records, userID, limit), nil
}
