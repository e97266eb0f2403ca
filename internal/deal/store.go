package deal

import (
	"context"
	"time"
)

// Store persists deal records with optimistic concurrency.
//
// CompareAndSave writes the record only if the stored version still equals
// expectedVersion; otherwise it returns ErrStateConflict and leaves the
// record untouched. Backends: in-memory for tests and demo mode, Postgres
// in production, selected by configuration.
type Store interface {
	Create(ctx context.Context, d *Deal) error
	Get(ctx context.Context, id string) (*Deal, error)
	GetByOnChainID(ctx context.Context, onChainID uint64) (*Deal, error)
	CompareAndSave(ctx context.Context, d *Deal, expectedVersion int64) error
	ListByUser(ctx context.Context, userID string, status Status, limit int) ([]*Deal, error)
	ListExpired(ctx context.Context, before time.Time, limit int) ([]*Deal, error)

	// CompletedCounts returns, for a user, the number of completed deals
	// they took part in and how many of those carry a counterpart rating
	// of 4 or better. It backs the reputation calculator.
	CompletedCounts(ctx context.Context, userID string) (completed, positive int, err error)
}
