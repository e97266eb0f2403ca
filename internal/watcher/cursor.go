package watcher

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// CursorStore persists the last fully processed block per contract so a
// restart resumes where the previous run left off instead of rescanning
// or skipping history.
type CursorStore interface {
	Get(ctx context.Context, contract string) (uint64, error)
	Set(ctx context.Context, contract string, block uint64) error
}

// MemoryCursorStore keeps cursors in memory. Demo mode only: a restart
// starts over from the configured start block.
type MemoryCursorStore struct {
	mu      sync.Mutex
	cursors map[string]uint64
}

// NewMemoryCursorStore creates an empty in-memory cursor store.
func NewMemoryCursorStore() *MemoryCursorStore {
	return &MemoryCursorStore{cursors: make(map[string]uint64)}
}

func (m *MemoryCursorStore) Get(ctx context.Context, contract string) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cursors[contract], nil
}

func (m *MemoryCursorStore) Set(ctx context.Context, contract string, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cursors[contract] = block
	return nil
}

// PostgresCursorStore persists cursors in the chain_cursors table.
type PostgresCursorStore struct {
	db *sql.DB
}

// NewPostgresCursorStore creates a PostgreSQL-backed cursor store.
func NewPostgresCursorStore(db *sql.DB) *PostgresCursorStore {
	return &PostgresCursorStore{db: db}
}

func (p *PostgresCursorStore) Get(ctx context.Context, contract string) (uint64, error) {
	var block int64
	err := p.db.QueryRowContext(ctx,
		`SELECT last_block FROM chain_cursors WHERE contract = $1`, contract).Scan(&block)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(block), nil
}

func (p *PostgresCursorStore) Set(ctx context.Context, contract string, block uint64) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO chain_cursors (contract, last_block, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (contract) DO UPDATE SET last_block = $2, updated_at = $3`,
		contract, int64(block), time.Now())
	return err
}
