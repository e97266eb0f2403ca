package reputation

import (
	"context"

	"github.com/paisahub/dealdesk/internal/deal"
)

// DealProvider implements MetricsProvider over the deal store.
type DealProvider struct {
	store deal.Store
}

// NewDealProvider creates a provider backed by deal history.
func NewDealProvider(store deal.Store) *DealProvider {
	return &DealProvider{store: store}
}

// GetUserMetrics fetches completed-deal counts for a single trader.
func (p *DealProvider) GetUserMetrics(ctx context.Context, userID string) (*Metrics, error) {
	completed, positive, err := p.store.CompletedCounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &Metrics{CompletedDeals: completed, PositiveDeals: positive}, nil
}
