package tracestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"nutripilot"
	"nutripilot/calibration"
)

// SQLiteStore is a Store over a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS traces (
        entry_id TEXT PRIMARY KEY,
        user_id TEXT NOT NULL,
        timestamp DATETIME NOT NULL,
        meal_type TEXT NOT NULL,
        food_names TEXT NOT NULL,
        estimated_calories REAL NOT NULL,
        confidence REAL NOT NULL,
        verified INTEGER NOT NULL DEFAULT 0,
        verified_at DATETIME,
        actual_calories REAL,
        verification_source TEXT
    );

    CREATE INDEX IF NOT EXISTS idx_traces_user_verified ON traces(user_id, verified, timestamp);
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

func (s *SQLiteStore) SaveTrace(ctx context.Context, rec Record) error {
	if rec.EntryID == "" {
		return fmt.Errorf("trace record missing entry id")
	}
	names, err := json.Marshal(rec.FoodNames)
	if err != nil {
		return fmt.Errorf("failed to marshal food names: %w", err)
	}

	query := `
        INSERT INTO traces (entry_id, user_id, timestamp, meal_type, food_names, estimated_calories, confidence, verified)
        VALUES (?, ?, ?, ?, ?, ?, ?, 0)
        ON CONFLICT(entry_id) DO UPDATE SET
            user_id = excluded.user_id,
            timestamp = excluded.timestamp,
            meal_type = excluded.meal_type,
            food_names = excluded.food_names,
            estimated_calories = excluded.estimated_calories,
            confidence = excluded.confidence
    `
	if _, err := s.db.ExecContext(ctx, query,
		rec.EntryID, rec.UserID, rec.Timestamp, rec.MealType,
		string(names), rec.EstimatedCalories, rec.Confidence); err != nil {
		return fmt.Errorf("failed to insert trace: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SubmitVerification(ctx context.Context, entryID string, actualCalories float64, source string) error {
	if err := validateVerification(entryID, actualCalories); err != nil {
		return err
	}

	query := `
        UPDATE traces
        SET verified = 1, verified_at = ?, actual_calories = ?, verification_source = ?
        WHERE entry_id = ?
    `
	res, err := s.db.ExecContext(ctx, query, time.Now().UTC(), actualCalories, source, entryID)
	if err != nil {
		return fmt.Errorf("failed to update trace: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("trace %q: %w", entryID, nutripilot.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) FetchVerified(ctx context.Context, userID string, limit int) ([]calibration.VerifiedRecord, error) {
	query := `
        SELECT entry_id, timestamp, food_names, estimated_calories, actual_calories, confidence
        FROM traces
        WHERE user_id = ? AND verified = 1
        ORDER BY timestamp DESC
    `
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query verified traces: %w", err)
	}
	defer rows.Close()

	var out []calibration.VerifiedRecord
	for rows.Next() {
		var rec calibration.VerifiedRecord
		var names string
		var actual sql.NullFloat64
		if err := rows.Scan(&rec.EntryID, &rec.Timestamp, &names, &rec.EstimatedCalories, &actual, &rec.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan trace: %w", err)
		}
		if err := json.Unmarshal([]byte(names), &rec.FoodNames); err != nil {
			return nil, fmt.Errorf("failed to parse food names for %s: %w", rec.EntryID, err)
		}
		if actual.Valid {
			v := actual.Float64
			rec.ActualCalories = &v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate traces: %w", err)
	}

	// Calibration wants chronological order with the most recent last.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
