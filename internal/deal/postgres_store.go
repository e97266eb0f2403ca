package deal

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists deals in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed deal store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const dealColumns = `id, ad_id, buyer_id, seller_id, amount, price, total_fiat,
		payment_method, upi_id, on_chain_deal_id, escrow_contract_address, last_tx_hash,
		status, status_source, version,
		created_at, funded_at, payment_sent_at, completed_at, expires_at,
		buyer_rating, seller_rating, buyer_feedback, seller_feedback, dispute_id`

func (p *PostgresStore) Create(ctx context.Context, d *Deal) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO deals (
			id, ad_id, buyer_id, seller_id, amount, price, total_fiat,
			payment_method, upi_id, on_chain_deal_id, escrow_contract_address, last_tx_hash,
			status, status_source, version,
			created_at, funded_at, payment_sent_at, completed_at, expires_at,
			buyer_rating, seller_rating, buyer_feedback, seller_feedback, dispute_id
		) VALUES (
			$1, $2, $3, $4, $5::NUMERIC(30,18), $6::NUMERIC(20,2), $7::NUMERIC(20,2),
			$8, $9, $10, $11, $12,
			$13, $14, $15,
			$16, $17, $18, $19, $20,
			$21, $22, $23, $24, $25
		)`,
		d.ID, d.AdID, d.BuyerID, d.SellerID, d.Amount, d.Price, d.TotalFiat,
		nullString(d.PaymentMethod), nullString(d.UPIID),
		nullUint64(d.OnChainDealID), nullString(d.EscrowContractAddress), nullString(d.LastTxHash),
		string(d.Status), string(d.StatusSource), d.Version,
		d.CreatedAt, nullTime(d.FundedAt), nullTime(d.PaymentSentAt), nullTime(d.CompletedAt), d.ExpiresAt,
		nullInt(d.BuyerRating), nullInt(d.SellerRating),
		nullString(d.BuyerFeedback), nullString(d.SellerFeedback), nullString(d.DisputeID),
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Deal, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+dealColumns+` FROM deals WHERE id = $1`, id)
	d, err := scanDeal(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return d, err
}

func (p *PostgresStore) GetByOnChainID(ctx context.Context, onChainID uint64) (*Deal, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+dealColumns+` FROM deals WHERE on_chain_deal_id = $1`, int64(onChainID))
	d, err := scanDeal(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return d, err
}

// CompareAndSave updates the row only if the stored version still matches
// expectedVersion. A zero-row update on an existing deal means a writer got
// there first; the caller must re-fetch and retry or give up.
func (p *PostgresStore) CompareAndSave(ctx context.Context, d *Deal, expectedVersion int64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE deals SET
			on_chain_deal_id = $1, escrow_contract_address = $2, last_tx_hash = $3,
			status = $4, status_source = $5, version = $6,
			funded_at = $7, payment_sent_at = $8, completed_at = $9,
			buyer_rating = $10, seller_rating = $11,
			buyer_feedback = $12, seller_feedback = $13, dispute_id = $14
		WHERE id = $15 AND version = $16`,
		nullUint64(d.OnChainDealID), nullString(d.EscrowContractAddress), nullString(d.LastTxHash),
		string(d.Status), string(d.StatusSource), d.Version,
		nullTime(d.FundedAt), nullTime(d.PaymentSentAt), nullTime(d.CompletedAt),
		nullInt(d.BuyerRating), nullInt(d.SellerRating),
		nullString(d.BuyerFeedback), nullString(d.SellerFeedback), nullString(d.DisputeID),
		d.ID, expectedVersion,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Distinguish a missing deal from a stale version.
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM deals WHERE id = $1)`, d.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
		return ErrStateConflict
	}
	return nil
}

func (p *PostgresStore) ListByUser(ctx context.Context, userID string, status Status, limit int) ([]*Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE (buyer_id = $1 OR seller_id = $1)`
	args := []interface{}{userID}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		args = append(args, limit)
		if status != "" {
			query += ` LIMIT $3`
		} else {
			query += ` LIMIT $2`
		}
	}

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanDeals(rows)
}

func (p *PostgresStore) ListExpired(ctx context.Context, before time.Time, limit int) ([]*Deal, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+dealColumns+`
		FROM deals
		WHERE status IN ('initiated', 'funded', 'payment_sent')
		  AND expires_at < $1
		ORDER BY expires_at
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanDeals(rows)
}

func (p *PostgresStore) CompletedCounts(ctx context.Context, userID string) (int, int, error) {
	var completed, positive int
	err := p.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE
			(seller_id = $1 AND buyer_rating >= 4) OR
			(buyer_id = $1 AND seller_rating >= 4))
		FROM deals
		WHERE status = 'completed'
		  AND (buyer_id = $1 OR seller_id = $1)`, userID).Scan(&completed, &positive)
	return completed, positive, err
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDeal(s scanner) (*Deal, error) {
	d := &Deal{}
	var (
		paymentMethod, upiID     sql.NullString
		onChainID                sql.NullInt64
		contractAddr, lastTxHash sql.NullString
		status, statusSource     string
		fundedAt, paymentSentAt  sql.NullTime
		completedAt              sql.NullTime
		buyerRating              sql.NullInt64
		sellerRating             sql.NullInt64
		buyerFeedback            sql.NullString
		sellerFeedback           sql.NullString
		disputeID                sql.NullString
	)

	err := s.Scan(
		&d.ID, &d.AdID, &d.BuyerID, &d.SellerID, &d.Amount, &d.Price, &d.TotalFiat,
		&paymentMethod, &upiID, &onChainID, &contractAddr, &lastTxHash,
		&status, &statusSource, &d.Version,
		&d.CreatedAt, &fundedAt, &paymentSentAt, &completedAt, &d.ExpiresAt,
		&buyerRating, &sellerRating, &buyerFeedback, &sellerFeedback, &disputeID,
	)
	if err != nil {
		return nil, err
	}

	d.Status = Status(status)
	d.StatusSource = Origin(statusSource)
	d.PaymentMethod = paymentMethod.String
	d.UPIID = upiID.String
	if onChainID.Valid {
		v := uint64(onChainID.Int64)
		d.OnChainDealID = &v
	}
	d.EscrowContractAddress = contractAddr.String
	d.LastTxHash = lastTxHash.String
	if fundedAt.Valid {
		d.FundedAt = &fundedAt.Time
	}
	if paymentSentAt.Valid {
		d.PaymentSentAt = &paymentSentAt.Time
	}
	if completedAt.Valid {
		d.CompletedAt = &completedAt.Time
	}
	if buyerRating.Valid {
		v := int(buyerRating.Int64)
		d.BuyerRating = &v
	}
	if sellerRating.Valid {
		v := int(sellerRating.Int64)
		d.SellerRating = &v
	}
	d.BuyerFeedback = buyerFeedback.String
	d.SellerFeedback = sellerFeedback.String
	d.DisputeID = disputeID.String
	return d, nil
}

func scanDeals(rows *sql.Rows) ([]*Deal, error) {
	var result []*Deal
	for rows.Next() {
		d, err := scanDeal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
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

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullUint64(v *uint64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
