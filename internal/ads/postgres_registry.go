package ads

import (
	"context"
	"database/sql"
)

// PostgresRegistry backs the ad registry with PostgreSQL. Reserve and
// Release are single conditional updates so concurrent deal creations
// against the same ad cannot oversell it.
type PostgresRegistry struct {
	db *sql.DB
}

// NewPostgresRegistry creates a PostgreSQL-backed registry.
func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

func (p *PostgresRegistry) GetAd(ctx context.Context, adID string) (*Ad, error) {
	ad := &Ad{}
	err := p.db.QueryRowContext(ctx, `
		SELECT id, owner_id, side, min_amount, max_amount, available_amount, price, active
		FROM ads WHERE id = $1`, adID).
		Scan(&ad.ID, &ad.OwnerID, &ad.Side, &ad.MinAmount, &ad.MaxAmount,
			&ad.AvailableAmount, &ad.Price, &ad.Active)
	if err == sql.ErrNoRows {
		return nil, ErrAdNotFound
	}
	if err != nil {
		return nil, err
	}
	return ad, nil
}

func (p *PostgresRegistry) Reserve(ctx context.Context, adID, amount string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE ads
		SET available_amount = available_amount - $1::NUMERIC(30,18)
		WHERE id = $2 AND available_amount >= $1::NUMERIC(30,18)`, amount, adID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM ads WHERE id = $1)`, adID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrAdNotFound
		}
		return ErrInsufficient
	}
	return nil
}

func (p *PostgresRegistry) Release(ctx context.Context, adID, amount string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE ads
		SET available_amount = available_amount + $1::NUMERIC(30,18)
		WHERE id = $2`, amount, adID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrAdNotFound
	}
	return nil
}
