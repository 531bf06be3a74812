package calibration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"
)

// TraceReader supplies the verified records a calibration run consumes.
// tracestore.Store satisfies it.
type TraceReader interface {
	FetchVerified(ctx context.Context, userID string, limit int) ([]VerifiedRecord, error)
}

// Service runs calibrations on demand. Identical concurrent requests share
// a single run, and all runs for one user serialize so the trace store sees
// at most one calibration read per user at a time; requests for different
// users proceed independently.
type Service struct {
	engine       *Engine
	reader       TraceReader
	group        singleflight.Group
	mu           sync.Mutex
	userLocks    map[string]*sync.Mutex
	defaultLimit int
	maxLimit     int
}

// NewService returns a calibration service over the given trace reader.
func NewService(engine *Engine, reader TraceReader, defaultLimit, maxLimit int) *Service {
	if defaultLimit <= 0 {
		defaultLimit = 25
	}
	if maxLimit <= 0 {
		maxLimit = 100
	}
	return &Service{
		engine:       engine,
		reader:       reader,
		userLocks:    make(map[string]*sync.Mutex),
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

func (s *Service) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.userLocks[userID] = l
	}
	return l
}

// Calibrate fetches up to limit recent verified records for the user and
// computes a report. A limit of zero or less uses the default; limits above
// the maximum are clamped.
func (s *Service) Calibrate(ctx context.Context, userID string, limit int) (Report, error) {
	if userID == "" {
		return Report{}, fmt.Errorf("calibrate: user id is required")
	}
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if limit > s.maxLimit {
		limit = s.maxLimit
	}

	key := fmt.Sprintf("%s:%d", userID, limit)
	v, err, shared := s.group.Do(key, func() (any, error) {
		// Requests with different limits miss the singleflight key, so
		// the per-user lock enforces one run per user at a time.
		lock := s.userLock(userID)
		lock.Lock()
		defer lock.Unlock()

		records, err := s.reader.FetchVerified(ctx, userID, limit)
		if err != nil {
			return nil, fmt.Errorf("calibrate: fetching verified records: %w", err)
		}
		return s.engine.Run(userID, records), nil
	})
	if err != nil {
		return Report{}, err
	}
	report := v.(Report)
	slog.Info("CALIBRATION: run complete",
		"user_id", userID,
		"status", report.Status,
		"meals_analyzed", report.MealsAnalyzed,
		"shared", shared,
	)
	return report, nil
}
