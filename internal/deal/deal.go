// Package deal tracks one buyer/seller trade from creation to settlement.
//
// A deal is the off-chain record of a crypto-for-INR trade whose funds sit
// in an on-chain escrow contract. The record is only ever mutated through
// state-machine-approved transitions applied by the reconciliation engine,
// which serializes writers and arbitrates between API callers and the
// chain watcher.
package deal

import (
	"errors"
	"time"
)

var (
	ErrNotFound               = errors.New("deal not found")
	ErrInvalidTransition      = errors.New("transition not legal from current status")
	ErrStateConflict          = errors.New("deal version conflict")
	ErrChainAuthorityOverride = errors.New("request contradicts confirmed on-chain state")
	ErrUnauthorized           = errors.New("requestor not permitted for this operation")
	ErrRatingAlreadySet       = errors.New("rating already submitted for this side")
	ErrNotLinked              = errors.New("deal has no on-chain escrow linked")
)

// Status is the closed set of deal lifecycle states.
type Status string

const (
	StatusInitiated   Status = "initiated"
	StatusFunded      Status = "funded"
	StatusPaymentSent Status = "payment_sent"
	StatusDisputed    Status = "disputed"
	StatusCompleted   Status = "completed"
	StatusCancelled   Status = "cancelled"
	StatusExpired     Status = "expired"
)

// Terminal reports whether s permits no further status transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Origin identifies which authority produced a transition request.
type Origin string

const (
	OriginAPI       Origin = "api"
	OriginChain     Origin = "chain"
	OriginScheduler Origin = "scheduler"
)

// Event names a requested lifecycle transition.
type Event string

const (
	EventFund             Event = "fund"
	EventPaymentSent      Event = "payment_sent"
	EventPaymentConfirmed Event = "payment_confirmed"
	EventDispute          Event = "dispute"
	EventResolve          Event = "resolve"
	EventCancel           Event = "cancel"
	EventEmergencyRefund  Event = "emergency_refund"
	EventExpire           Event = "expire"
)

// DefaultTimeout mirrors the escrow contract's deal timeout.
const DefaultTimeout = 24 * time.Hour

// Deal is the durable off-chain record of a trade.
type Deal struct {
	ID       string `json:"id"`
	AdID     string `json:"adId"`
	BuyerID  string `json:"buyerId"`
	SellerID string `json:"sellerId"`

	// Terms. Amounts are decimal strings; TotalFiat = Amount * Price.
	Amount        string `json:"amount"`
	Price         string `json:"price"`
	TotalFiat     string `json:"totalFiat"`
	PaymentMethod string `json:"paymentMethod,omitempty"`
	UPIID         string `json:"upiId,omitempty"`

	// Chain linkage. OnChainDealID is nil until the escrow is created.
	OnChainDealID         *uint64 `json:"onChainDealId,omitempty"`
	EscrowContractAddress string  `json:"escrowContractAddress,omitempty"`
	LastTxHash            string  `json:"lastTxHash,omitempty"`

	Status Status `json:"status"`
	// StatusSource records which authority produced the current status.
	// The reconciliation engine uses it to tell an invalid API request
	// apart from one that contradicts confirmed chain truth.
	StatusSource Origin `json:"statusSource"`
	// Version increments exactly once per applied transition and backs
	// the store's compare-and-save optimistic concurrency check.
	Version int64 `json:"version"`

	CreatedAt     time.Time  `json:"createdAt"`
	FundedAt      *time.Time `json:"fundedAt,omitempty"`
	PaymentSentAt *time.Time `json:"paymentSentAt,omitempty"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
	ExpiresAt     time.Time  `json:"expiresAt"`

	// Outcome. Ratings are 1-5, settable once per side, allowed even
	// after the deal reaches a terminal status.
	BuyerRating    *int   `json:"buyerRating,omitempty"`
	SellerRating   *int   `json:"sellerRating,omitempty"`
	BuyerFeedback  string `json:"buyerFeedback,omitempty"`
	SellerFeedback string `json:"sellerFeedback,omitempty"`
	DisputeID      string `json:"disputeId,omitempty"`
}

// Participant reports whether userID is the buyer or seller of d.
func (d *Deal) Participant(userID string) bool {
	return userID == d.BuyerID || userID == d.SellerID
}

// CounterpartRating returns the rating the other party gave userID.
// The buyer's experience of the seller is recorded in BuyerRating and
// vice versa, so the counterpart rating of the seller is BuyerRating.
func (d *Deal) CounterpartRating(userID string) *int {
	switch userID {
	case d.SellerID:
		return d.BuyerRating
	case d.BuyerID:
		return d.SellerRating
	}
	return nil
}

// TransitionRequest asks the reconciliation engine to move a deal along
// the lifecycle graph. ActorID identifies the requesting user for
// API-origin requests; chain and scheduler requests leave it empty.
type TransitionRequest struct {
	DealID  string
	Event   Event
	Origin  Origin
	ActorID string

	// Evidence from the requestor: the on-chain deal id for fund
	// requests, the observed transaction hash for chain events.
	OnChainDealID *uint64
	TxHash        string
}
