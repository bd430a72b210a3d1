package biometric

import (
	"context"
	"fmt"
	"sync"

	"github.com/kozaktomas/face-enroll/internal/config"
	"github.com/kozaktomas/face-enroll/internal/database"
)

// StreakStore keeps the per-identity run of qualifying recognitions.
type StreakStore interface {
	// Push appends an embedding, keeps at most limit entries and returns the new length
	Push(ctx context.Context, identityID string, embedding []float32, limit int) (int, error)
	// Drain returns the streak and clears it
	Drain(ctx context.Context, identityID string) ([][]float32, error)
	// Reset clears one identity's streak
	Reset(ctx context.Context, identityID string) error
	// ResetAll clears every streak
	ResetAll(ctx context.Context) error
}

// AdaptiveLearner turns consecutive high-confidence recognitions into a new
// enrollment candidate.
type AdaptiveLearner struct {
	mu             sync.Mutex
	enabled        bool
	minConfidence  float64
	requiredStreak int
	streaks        StreakStore
}

// NewAdaptiveLearner creates a learner. A nil store keeps streaks in memory.
func NewAdaptiveLearner(policy config.AdaptivePolicy, store StreakStore) *AdaptiveLearner {
	if store == nil {
		store = NewMemoryStreakStore()
	}
	return &AdaptiveLearner{
		enabled:        policy.Enabled,
		minConfidence:  policy.MinConfidence,
		requiredStreak: policy.RequiredStreak,
		streaks:        store,
	}
}

// Enabled reports whether the learner is active.
func (l *AdaptiveLearner) Enabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// SetEnabled toggles the learner. Disabling drops every tracked streak.
func (l *AdaptiveLearner) SetEnabled(ctx context.Context, enabled bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
	if !enabled {
		if err := l.streaks.ResetAll(ctx); err != nil {
			return fmt.Errorf("clearing streaks: %w", err)
		}
	}
	return nil
}

// Forget drops one identity's streak.
func (l *AdaptiveLearner) Forget(ctx context.Context, identityID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.streaks.Reset(ctx, identityID)
}

// RecordRecognition feeds one recognition. It returns a synthesized
// embedding once the identity reaches the required streak, nil otherwise.
// A confidence below the minimum breaks the streak.
func (l *AdaptiveLearner) RecordRecognition(ctx context.Context, identityID string, embedding []float32, confidence float64) ([]float32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return nil, nil
	}
	if confidence < l.minConfidence {
		if err := l.streaks.Reset(ctx, identityID); err != nil {
			return nil, fmt.Errorf("resetting streak: %w", err)
		}
		return nil, nil
	}

	n, err := l.streaks.Push(ctx, identityID, database.Normalize(embedding), l.requiredStreak)
	if err != nil {
		return nil, fmt.Errorf("recording streak: %w", err)
	}
	if n < l.requiredStreak {
		return nil, nil
	}

	streak, err := l.streaks.Drain(ctx, identityID)
	if err != nil {
		return nil, fmt.Errorf("draining streak: %w", err)
	}
	mean := database.Mean(streak)
	if mean == nil || database.Norm(mean) == 0 {
		return nil, nil
	}
	return database.Normalize(mean), nil
}

// MemoryStreakStore is a process-local StreakStore.
type MemoryStreakStore struct {
	mu      sync.Mutex
	streaks map[string][][]float32
}

func NewMemoryStreakStore() *MemoryStreakStore {
	return &MemoryStreakStore{streaks: make(map[string][][]float32)}
}

func (s *MemoryStreakStore) Push(_ context.Context, identityID string, embedding []float32, limit int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	streak := append(s.streaks[identityID], embedding)
	if limit > 0 && len(streak) > limit {
		streak = streak[len(streak)-limit:]
	}
	s.streaks[identityID] = streak
	return len(streak), nil
}

func (s *MemoryStreakStore) Drain(_ context.Context, identityID string) ([][]float32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	streak := s.streaks[identityID]
	delete(s.streaks, identityID)
	return streak, nil
}

func (s *MemoryStreakStore) Reset(_ context.Context, identityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.streaks, identityID)
	return nil
}

func (s *MemoryStreakStore) ResetAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streaks = make(map[string][][]float32)
	return nil
}
