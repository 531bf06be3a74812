package tracestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"nutripilot"
	"nutripilot/state"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord(entryID, userID string, ts time.Time, calories float64) Record {
	return Record{
		EntryID:           entryID,
		UserID:            userID,
		Timestamp:         ts,
		MealType:          "lunch",
		FoodNames:         []string{"grilled chicken", "white rice"},
		EstimatedCalories: calories,
		Confidence:        0.85,
	}
}

// storeUnderTest lets the same suite run against every Store implementation.
func storeUnderTest(t *testing.T, name string) Store {
	t.Helper()
	switch name {
	case "memory":
		return NewMemoryStore()
	case "file":
		return NewFileStore(filepath.Join(t.TempDir(), "traces.json"))
	case "sqlite":
		s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "traces.db"))
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	default:
		t.Fatalf("unknown store %q", name)
		return nil
	}
}

func TestStores(t *testing.T) {
	for _, name := range []string{"memory", "file", "sqlite"} {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

			t.Run("verification round trip", func(t *testing.T) {
				store := storeUnderTest(t, name)
				require.NoError(t, store.SaveTrace(ctx, sampleRecord("e1", "user-1", base, 520)))
				require.NoError(t, store.SubmitVerification(ctx, "e1", 480, "kitchen_scale"))

				verified, err := store.FetchVerified(ctx, "user-1", 10)
				require.NoError(t, err)
				require.Len(t, verified, 1)
				assert.Equal(t, "e1", verified[0].EntryID)
				assert.Equal(t, 520.0, verified[0].EstimatedCalories)
				require.NotNil(t, verified[0].ActualCalories)
				assert.Equal(t, 480.0, *verified[0].ActualCalories)
				assert.Equal(t, []string{"grilled chicken", "white rice"}, verified[0].FoodNames)
			})

			t.Run("unverified traces are excluded", func(t *testing.T) {
				store := storeUnderTest(t, name)
				require.NoError(t, store.SaveTrace(ctx, sampleRecord("e1", "user-1", base, 520)))

				verified, err := store.FetchVerified(ctx, "user-1", 10)
				require.NoError(t, err)
				assert.Empty(t, verified)
			})

			t.Run("verifying an unknown entry fails", func(t *testing.T) {
				store := storeUnderTest(t, name)
				err := store.SubmitVerification(ctx, "ghost", 480, "manual")
				assert.ErrorIs(t, err, nutripilot.ErrNotFound)
			})

			t.Run("verification input is validated", func(t *testing.T) {
				store := storeUnderTest(t, name)
				assert.Error(t, store.SubmitVerification(ctx, "", 480, "manual"))
				assert.Error(t, store.SubmitVerification(ctx, "e1", 0, "manual"))
				assert.Error(t, store.SubmitVerification(ctx, "e1", -10, "manual"))
			})

			t.Run("fetch scopes by user and limits to most recent", func(t *testing.T) {
				store := storeUnderTest(t, name)
				for i := 0; i < 5; i++ {
					id := string(rune('a' + i))
					ts := base.Add(time.Duration(i) * time.Hour)
					require.NoError(t, store.SaveTrace(ctx, sampleRecord(id, "user-1", ts, 500)))
					require.NoError(t, store.SubmitVerification(ctx, id, 490, "manual"))
				}
				require.NoError(t, store.SaveTrace(ctx, sampleRecord("other", "user-2", base, 300)))
				require.NoError(t, store.SubmitVerification(ctx, "other", 310, "manual"))

				verified, err := store.FetchVerified(ctx, "user-1", 3)
				require.NoError(t, err)
				require.Len(t, verified, 3)
				// Chronological, keeping the newest three.
				assert.Equal(t, "c", verified[0].EntryID)
				assert.Equal(t, "d", verified[1].EntryID)
				assert.Equal(t, "e", verified[2].EntryID)
			})

			t.Run("resaving a trace replaces it", func(t *testing.T) {
				store := storeUnderTest(t, name)
				require.NoError(t, store.SaveTrace(ctx, sampleRecord("e1", "user-1", base, 520)))
				require.NoError(t, store.SaveTrace(ctx, sampleRecord("e1", "user-1", base, 610)))
				require.NoError(t, store.SubmitVerification(ctx, "e1", 600, "manual"))

				verified, err := store.FetchVerified(ctx, "user-1", 10)
				require.NoError(t, err)
				require.Len(t, verified, 1)
				assert.Equal(t, 610.0, verified[0].EstimatedCalories)
			})
		})
	}
}

func TestFromSnapshot(t *testing.T) {
	st := state.New("session-7", "user-1", state.MealDinner)
	require.NoError(t, st.ApplyObserved(state.ObserveResult{
		Foods: []state.FoodItem{
			{Name: "salmon", PortionGrams: 140},
			{Name: "broccoli", PortionGrams: 90},
		},
		Confidence: 0.9,
	}))
	require.NoError(t, st.ApplyThought(state.ThinkResult{
		TotalNutrients: []state.NutrientInfo{{Name: "calories", Amount: 321.8, Unit: "kcal"}},
	}))

	rec := FromSnapshot(st.Snapshot())
	assert.Equal(t, "session-7", rec.EntryID)
	assert.Equal(t, "user-1", rec.UserID)
	assert.Equal(t, "dinner", rec.MealType)
	assert.Equal(t, []string{"salmon", "broccoli"}, rec.FoodNames)
	assert.Equal(t, 321.8, rec.EstimatedCalories)
	assert.Equal(t, 0.9, rec.Confidence)
	assert.False(t, rec.Verified)
}
