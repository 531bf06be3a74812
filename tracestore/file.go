package tracestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"nutripilot"
	"nutripilot/calibration"
)

// FileStore is a Store over a single JSON file. Every operation rewrites the
// file, which is fine at personal-log scale.
type FileStore struct {
	mu       sync.Mutex
	FilePath string
}

func NewFileStore(filePath string) *FileStore {
	return &FileStore{FilePath: filePath}
}

func (f *FileStore) load() ([]Record, error) {
	data, err := os.ReadFile(f.FilePath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read trace file: %w", err)
	}
	var records []Record
	if len(data) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse trace file: %w", err)
	}
	return records, nil
}

func (f *FileStore) save(records []Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal traces: %w", err)
	}
	if err := os.WriteFile(f.FilePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write trace file: %w", err)
	}
	return nil
}

func (f *FileStore) SaveTrace(_ context.Context, rec Record) error {
	if rec.EntryID == "" {
		return fmt.Errorf("trace record missing entry id")
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.load()
	if err != nil {
		return err
	}
	replaced := false
	for i := range records {
		if records[i].EntryID == rec.EntryID {
			records[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		records = append(records, rec)
	}
	return f.save(records)
}

func (f *FileStore) SubmitVerification(_ context.Context, entryID string, actualCalories float64, source string) error {
	if err := validateVerification(entryID, actualCalories); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.load()
	if err != nil {
		return err
	}
	for i := range records {
		if records[i].EntryID != entryID {
			continue
		}
		now := time.Now().UTC()
		records[i].Verified = true
		records[i].VerifiedAt = &now
		records[i].ActualCalories = &actualCalories
		records[i].VerificationSource = source
		return f.save(records)
	}
	return fmt.Errorf("trace %q: %w", entryID, nutripilot.ErrNotFound)
}

func (f *FileStore) FetchVerified(_ context.Context, userID string, limit int) ([]calibration.VerifiedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.load()
	if err != nil {
		return nil, err
	}
	return selectVerified(records, userID, limit), nil
}
