package deal

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory deal store for tests and demo mode.
type MemoryStore struct {
	mu    sync.RWMutex
	deals map[string]*Deal
}

// NewMemoryStore creates an empty in-memory deal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{deals: make(map[string]*Deal)}
}

func (m *MemoryStore) Create(ctx context.Context, d *Deal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.deals[d.ID]; ok {
		return fmt.Errorf("deal %s already exists", d.ID)
	}
	cp := *d
	m.deals[d.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.deals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) GetByOnChainID(ctx context.Context, onChainID uint64) (*Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, d := range m.deals {
		if d.OnChainDealID != nil && *d.OnChainDealID == onChainID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) CompareAndSave(ctx context.Context, d *Deal, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.deals[d.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != expectedVersion {
		return fmt.Errorf("%w: have %d, expected %d", ErrStateConflict, stored.Version, expectedVersion)
	}
	cp := *d
	m.deals[d.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByUser(ctx context.Context, userID string, status Status, limit int) ([]*Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Deal
	for _, d := range m.deals {
		if !d.Participant(userID) {
			continue
		}
		if status != "" && d.Status != status {
			continue
		}
		cp := *d
		result = append(result, &cp)
	}
	// Newest first, matching the Postgres backend's ordering.
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Deal
	for _, d := range m.deals {
		if d.Status.Terminal() || d.Status == StatusDisputed {
			continue
		}
		if d.ExpiresAt.Before(before) {
			cp := *d
			result = append(result, &cp)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) CompletedCounts(ctx context.Context, userID string) (int, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var completed, positive int
	for _, d := range m.deals {
		if d.Status != StatusCompleted || !d.Participant(userID) {
			continue
		}
		completed++
		if r := d.CounterpartRating(userID); r != nil && *r >= 4 {
			positive++
		}
	}
	return completed, positive, nil
}
