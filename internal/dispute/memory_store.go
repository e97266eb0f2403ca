package dispute

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is an in-memory dispute store for tests and demo mode.
type MemoryStore struct {
	mu       sync.RWMutex
	disputes map[string]*Dispute
	byDeal   map[string]string
}

// NewMemoryStore creates an empty in-memory dispute store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		disputes: make(map[string]*Dispute),
		byDeal:   make(map[string]string),
	}
}

func (m *MemoryStore) Create(ctx context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.disputes[d.ID]; ok {
		return fmt.Errorf("dispute %s already exists", d.ID)
	}
	if _, ok := m.byDeal[d.DealID]; ok {
		return ErrAlreadyOpen
	}
	cp := *d
	m.disputes[d.ID] = &cp
	m.byDeal[d.DealID] = d.ID
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	d, ok := m.disputes[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) GetByDeal(ctx context.Context, dealID string) (*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byDeal[dealID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *m.disputes[id]
	return &cp, nil
}

func (m *MemoryStore) Update(ctx context.Context, d *Dispute) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.disputes[d.ID]; !ok {
		return ErrNotFound
	}
	cp := *d
	m.disputes[d.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Dispute, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Dispute
	for _, d := range m.disputes {
		if d.Status != status {
			continue
		}
		cp := *d
		result = append(result, &cp)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}
