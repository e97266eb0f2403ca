// Package reputation implements trader reputation scoring for DealDesk.
//
// Reputation is derived from completed deal history: the share of a
// trader's completed deals where the counterpart left a positive rating
// (4 stars or better). Scores are recomputed synchronously whenever a
// deal completes, so the number a counterpart sees before accepting a
// trade is never stale.
package reputation

import (
	"context"
	"math"
	"time"
)

// Score represents a trader's reputation.
type Score struct {
	UserID         string    `json:"userId"`
	Score          int       `json:"score"` // 0-100
	Tier           Tier      `json:"tier"`
	CompletedDeals int       `json:"completedDeals"`
	PositiveDeals  int       `json:"positiveDeals"`
	CalculatedAt   time.Time `json:"calculatedAt"`
}

// Tier buckets scores into human-readable levels.
type Tier string

const (
	TierNew         Tier = "new"         // no completed deals yet
	TierEmerging    Tier = "emerging"    // under 40
	TierEstablished Tier = "established" // 40-69
	TierTrusted     Tier = "trusted"     // 70-89
	TierElite       Tier = "elite"       // 90-100
)

// Metrics are the raw inputs to the score.
type Metrics struct {
	CompletedDeals int `json:"completedDeals"`
	PositiveDeals  int `json:"positiveDeals"`
}

// Calculator computes reputation scores.
type Calculator struct{}

// NewCalculator creates a reputation calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Calculate computes reputation from metrics. Traders with no completed
// deals score zero rather than a neutral midpoint: an empty history
// should read as unproven, not average.
func (c *Calculator) Calculate(userID string, m Metrics) *Score {
	score := 0
	if m.CompletedDeals > 0 {
		rate := float64(m.PositiveDeals) / float64(m.CompletedDeals)
		score = int(math.Round(rate * 100))
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return &Score{
		UserID:         userID,
		Score:          score,
		Tier:           tierFor(score, m.CompletedDeals),
		CompletedDeals: m.CompletedDeals,
		PositiveDeals:  m.PositiveDeals,
		CalculatedAt:   time.Now(),
	}
}

func tierFor(score, completed int) Tier {
	if completed == 0 {
		return TierNew
	}
	switch {
	case score >= 90:
		return TierElite
	case score >= 70:
		return TierTrusted
	case score >= 40:
		return TierEstablished
	default:
		return TierEmerging
	}
}

// MetricsProvider fetches metrics for reputation calculation.
type MetricsProvider interface {
	GetUserMetrics(ctx context.Context, userID string) (*Metrics, error)
}
