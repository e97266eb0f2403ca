package users

import (
	"context"
	"database/sql"
	"strings"
)

// PostgresDirectory backs the user directory with PostgreSQL.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a PostgreSQL-backed directory.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (p *PostgresDirectory) ResolveWallet(ctx context.Context, address string) (*User, error) {
	return p.scanOne(p.db.QueryRowContext(ctx, `
		SELECT id, wallet_address, display_name, reputation_score
		FROM users WHERE wallet_address = $1`, strings.ToLower(address)))
}

func (p *PostgresDirectory) Get(ctx context.Context, userID string) (*User, error) {
	return p.scanOne(p.db.QueryRowContext(ctx, `
		SELECT id, wallet_address, display_name, reputation_score
		FROM users WHERE id = $1`, userID))
}

func (p *PostgresDirectory) ApplyReputation(ctx context.Context, userID string, score int) error {
	result, err := p.db.ExecContext(ctx,
		`UPDATE users SET reputation_score = $1 WHERE id = $2`, score, userID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (p *PostgresDirectory) scanOne(row *sql.Row) (*User, error) {
	u := &User{}
	var displayName sql.NullString
	err := row.Scan(&u.ID, &u.WalletAddress, &displayName, &u.ReputationScore)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	u.DisplayName = displayName.String
	return u, nil
}
