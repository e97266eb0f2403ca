// Package ads exposes the ad registry the coordinator validates deal
// terms against. Listing and search live in a separate service; the
// coordinator only needs bounds lookups and availability reservation.
package ads

import (
	"context"
	"errors"
	"sync"

	"github.com/paisahub/dealdesk/internal/fixed"
)

var (
	ErrAdNotFound   = errors.New("ad not found")
	ErrAdInactive   = errors.New("ad is not active")
	ErrInsufficient = errors.New("ad has insufficient available amount")
)

// Ad is the subset of an advertisement the coordinator cares about.
type Ad struct {
	ID              string `json:"id"`
	OwnerID         string `json:"ownerId"`
	Side            string `json:"side"` // "buy" or "sell", from the owner's perspective
	MinAmount       string `json:"minAmount"`
	MaxAmount       string `json:"maxAmount"`
	AvailableAmount string `json:"availableAmount"`
	Price           string `json:"price"`
	Active          bool   `json:"active"`
}

// Registry looks up ads and reserves availability when a deal is created.
type Registry interface {
	GetAd(ctx context.Context, adID string) (*Ad, error)
	// Reserve deducts amount from the ad's availability. Returns
	// ErrInsufficient without side effects when not enough remains.
	Reserve(ctx context.Context, adID, amount string) error
	// Release returns amount to availability after a cancel or expiry.
	Release(ctx context.Context, adID, amount string) error
}

// MemoryRegistry is an in-memory registry for tests and demo mode.
type MemoryRegistry struct {
	mu  sync.RWMutex
	ads map[string]*Ad
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{ads: make(map[string]*Ad)}
}

// Add registers an ad. Test and demo seeding helper.
func (m *MemoryRegistry) Add(ad *Ad) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ad
	m.ads[cp.ID] = &cp
}

func (m *MemoryRegistry) GetAd(ctx context.Context, adID string) (*Ad, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ad, ok := m.ads[adID]
	if !ok {
		return nil, ErrAdNotFound
	}
	cp := *ad
	return &cp, nil
}

func (m *MemoryRegistry) Reserve(ctx context.Context, adID, amount string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ad, ok := m.ads[adID]
	if !ok {
		return ErrAdNotFound
	}
	avail, ok1 := fixed.Parse(ad.AvailableAmount)
	want, ok2 := fixed.Parse(amount)
	if !ok1 || !ok2 {
		return ErrInsufficient
	}
	if avail.Cmp(want) < 0 {
		return ErrInsufficient
	}
	ad.AvailableAmount = fixed.Format(avail.Sub(avail, want))
	return nil
}

func (m *MemoryRegistry) Release(ctx context.Context, adID, amount string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ad, ok := m.ads[adID]
	if !ok {
		return ErrAdNotFound
	}
	avail, ok1 := fixed.Parse(ad.AvailableAmount)
	add, ok2 := fixed.Parse(amount)
	if !ok1 || !ok2 {
		return ErrInsufficient
	}
	ad.AvailableAmount = fixed.Format(avail.Add(avail, add))
	return nil
}
