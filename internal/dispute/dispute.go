// Package dispute tracks arbitration of contested deals.
//
// A dispute opens once a party has raised it on the escrow contract
// (the contract charges the dispute fee; the off-chain record follows
// the chain). The arbitrator decides a winner, the decision is
// submitted on chain, and the record only closes when the watcher sees
// the finalized payout event. A submitted-but-unconfirmed resolution
// therefore sits in Resolving, never Resolved.
package dispute

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("dispute not found")
	ErrAlreadyOpen    = errors.New("deal already has an open dispute")
	ErrNotOpen        = errors.New("dispute is not open")
	ErrNotArbitrator  = errors.New("caller is not the configured arbitrator")
	ErrBadWinner      = errors.New("winner must be buyer or seller")
	ErrSubmitRejected = errors.New("resolution transaction permanently rejected")
)

// Status of a dispute.
type Status string

const (
	StatusOpen      Status = "open"
	StatusResolving Status = "resolving" // decision submitted, awaiting finality
	StatusResolved  Status = "resolved"
)

// Winner names the party the arbitrator ruled for.
type Winner string

const (
	WinnerBuyer  Winner = "buyer"
	WinnerSeller Winner = "seller"
)

// Dispute is the off-chain arbitration record for one deal.
type Dispute struct {
	ID       string `json:"id"`
	DealID   string `json:"dealId"`
	OpenedBy string `json:"openedBy"`
	Reason   string `json:"reason"`

	Status     Status `json:"status"`
	Winner     Winner `json:"winner,omitempty"`
	ResolverID string `json:"resolverId,omitempty"`
	Notes      string `json:"notes,omitempty"`

	ResolutionTxHash string     `json:"resolutionTxHash,omitempty"`
	OpenedAt         time.Time  `json:"openedAt"`
	DecidedAt        *time.Time `json:"decidedAt,omitempty"`
	ResolvedAt       *time.Time `json:"resolvedAt,omitempty"`
}

// Store persists dispute records.
type Store interface {
	Create(ctx context.Context, d *Dispute) error
	Get(ctx context.Context, id string) (*Dispute, error)
	GetByDeal(ctx context.Context, dealID string) (*Dispute, error)
	Update(ctx context.Context, d *Dispute) error
	ListByStatus(ctx context.Context, status Status, limit int) ([]*Dispute, error)
}
