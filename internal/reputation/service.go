package reputation

import (
	"context"
	"fmt"

	"github.com/paisahub/dealdesk/internal/users"
)

// Service ties the calculator to the metrics provider and pushes fresh
// scores into the user directory.
type Service struct {
	calculator *Calculator
	provider   MetricsProvider
	directory  users.Directory
}

// NewService creates a reputation service.
func NewService(provider MetricsProvider, directory users.Directory) *Service {
	return &Service{
		calculator: NewCalculator(),
		provider:   provider,
		directory:  directory,
	}
}

// Get computes the current score for a trader without persisting it.
func (s *Service) Get(ctx context.Context, userID string) (*Score, error) {
	metrics, err := s.provider.GetUserMetrics(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("reputation metrics for %s: %w", userID, err)
	}
	return s.calculator.Calculate(userID, *metrics), nil
}

// Recompute recalculates and stores scores for the given traders.
// Called after every deal completion for both participants. The first
// failure aborts the batch so the caller can surface it.
func (s *Service) Recompute(ctx context.Context, userIDs ...string) error {
	for _, id := range userIDs {
		score, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := s.directory.ApplyReputation(ctx, id, score.Score); err != nil {
			return fmt.Errorf("apply reputation for %s: %w", id, err)
		}
		recomputeTotal.Inc()
	}
	return nil
}
