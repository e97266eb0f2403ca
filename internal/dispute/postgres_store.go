package dispute

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists disputes in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed dispute store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const disputeColumns = `id, deal_id, opened_by, reason, status, winner, resolver_id, notes,
		resolution_tx_hash, opened_at, decided_at, resolved_at`

func (p *PostgresStore) Create(ctx context.Context, d *Dispute) error {
	// A unique index on deal_id enforces one dispute per deal.
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO disputes (
			id, deal_id, opened_by, reason, status, winner, resolver_id, notes,
			resolution_tx_hash, opened_at, decided_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		d.ID, d.DealID, d.OpenedBy, d.Reason,
		string(d.Status), nullString(string(d.Winner)), nullString(d.ResolverID), nullString(d.Notes),
		nullString(d.ResolutionTxHash), d.OpenedAt, nullTime(d.DecidedAt), nullTime(d.ResolvedAt),
	)
	if isUniqueViolation(err) {
		return ErrAlreadyOpen
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, id)
	d, err := scanDispute(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return d, err
}

func (p *PostgresStore) GetByDeal(ctx context.Context, dealID string) (*Dispute, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE deal_id = $1`, dealID)
	d, err := scanDispute(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return d, err
}

func (p *PostgresStore) Update(ctx context.Context, d *Dispute) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE disputes SET
			status = $1, winner = $2, resolver_id = $3, notes = $4,
			resolution_tx_hash = $5, decided_at = $6, resolved_at = $7
		WHERE id = $8`,
		string(d.Status), nullString(string(d.Winner)), nullString(d.ResolverID), nullString(d.Notes),
		nullString(d.ResolutionTxHash), nullTime(d.DecidedAt), nullTime(d.ResolvedAt),
		d.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]*Dispute, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE status = $1 ORDER BY opened_at LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDispute(s scanner) (*Dispute, error) {
	d := &Dispute{}
	var (
		status                string
		winner                sql.NullString
		resolverID, notes     sql.NullString
		txHash                sql.NullString
		decidedAt, resolvedAt sql.NullTime
	)
	err := s.Scan(
		&d.ID, &d.DealID, &d.OpenedBy, &d.Reason, &status, &winner, &resolverID, &notes,
		&txHash, &d.OpenedAt, &decidedAt, &resolvedAt,
	)
	if err != nil {
		return nil, err
	}
	d.Status = Status(status)
	d.Winner = Winner(winner.String)
	d.ResolverID = resolverID.String
	d.Notes = notes.String
	d.ResolutionTxHash = txHash.String
	if decidedAt.Valid {
		d.DecidedAt = &decidedAt.Time
	}
	if resolvedAt.Valid {
		d.ResolvedAt = &resolvedAt.Time
	}
	return d, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	// lib/pq unique_violation SQLSTATE.
	type coder interface{ SQLState() string }
	if c, ok := err.(coder); ok {
		return c.SQLState() == "23505"
	}
	return false
}
