// Package chain reads and writes the on-chain escrow contract.
//
// It exposes three capabilities: decoded escrow event logs for the watcher,
// a read-only projection of contract deal state (the ground truth for
// chain-authoritative transitions), and resolution transaction submission
// for the dispute arbitration handler.
package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/paisahub/dealdesk/internal/deal"
)

var (
	ErrRPCConnection  = errors.New("chain: RPC connection failed")
	ErrInvalidKey     = errors.New("chain: invalid arbitrator private key")
	ErrDealNotOnChain = errors.New("chain: deal does not exist in contract")
	ErrUnknownStatus  = errors.New("chain: unknown contract status code")
)

// StatusCode is the escrow contract's DealStatus enum.
type StatusCode uint8

const (
	CodeCreated StatusCode = iota
	CodeFunded
	CodePaymentSent
	CodeCompleted
	CodeDisputed
	CodeCancelled
	CodeExpired
)

// DealStatus maps a contract status code to the off-chain status enum.
// The mapping is total: any code outside the contract's enum is an error,
// never silently coerced.
func (c StatusCode) DealStatus() (deal.Status, error) {
	switch c {
	case CodeCreated:
		return deal.StatusInitiated, nil
	case CodeFunded:
		return deal.StatusFunded, nil
	case CodePaymentSent:
		return deal.StatusPaymentSent, nil
	case CodeCompleted:
		return deal.StatusCompleted, nil
	case CodeDisputed:
		return deal.StatusDisputed, nil
	case CodeCancelled:
		return deal.StatusCancelled, nil
	case CodeExpired:
		return deal.StatusExpired, nil
	}
	return "", fmt.Errorf("%w: %d", ErrUnknownStatus, c)
}

// DealView is the read-only projection of one deal's contract state.
type DealView struct {
	DealID          uint64
	Buyer           string
	Seller          string
	Token           string
	Amount          *big.Int
	INRAmount       *big.Int
	Status          StatusCode
	CreatedAt       time.Time
	ExpiresAt       time.Time
	BuyerConfirmed  bool
	SellerConfirmed bool
}

// EventKind names one of the escrow contract's log events.
type EventKind string

const (
	EventDealCreated      EventKind = "DealCreated"
	EventDealFunded       EventKind = "DealFunded"
	EventPaymentSent      EventKind = "PaymentSent"
	EventPaymentConfirmed EventKind = "PaymentConfirmed"
	EventDealCompleted    EventKind = "DealCompleted"
	EventDealDisputed     EventKind = "DealDisputed"
	EventDealCancelled    EventKind = "DealCancelled"
)

// Event is one decoded escrow contract log.
type Event struct {
	Kind      EventKind
	DealID    uint64
	Buyer     string
	Seller    string
	Token     string
	Amount    *big.Int
	INRAmount *big.Int
	Initiator string

	BlockNumber uint64
	TxHash      string
	LogIndex    uint
}

// Key is the idempotency key for event application: the same
// (block, tx, logIndex) triple is never applied twice.
func (e Event) Key() string {
	return fmt.Sprintf("%d/%s/%d", e.BlockNumber, e.TxHash, e.LogIndex)
}

// TransitionEvent maps the contract event to the lifecycle event it
// requests, or ok=false for events that are not transitions (DealCreated
// links the on-chain id instead).
func (e Event) TransitionEvent() (deal.Event, bool) {
	switch e.Kind {
	case EventDealFunded:
		return deal.EventFund, true
	case EventPaymentSent:
		return deal.EventPaymentSent, true
	case EventPaymentConfirmed:
		return deal.EventPaymentConfirmed, true
	case EventDealCompleted:
		// Emitted both for ordinary completion and dispute payout; the
		// state machine picks the edge from the deal's current status.
		return deal.EventResolve, true
	case EventDealDisputed:
		return deal.EventDispute, true
	case EventDealCancelled:
		return deal.EventCancel, true
	}
	return "", false
}

// SubmitError wraps a failed resolution submission with enough context to
// decide whether it is worth retrying.
type SubmitError struct {
	Op     string
	TxHash string
	Err    error
}

func (e *SubmitError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("chain: %s failed (tx %s): %v", e.Op, e.TxHash, e.Err)
	}
	return fmt.Sprintf("chain: %s failed: %v", e.Op, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

// permanentFailures are node error fragments that no amount of retrying
// will fix: the transaction itself is wrong.
var permanentFailures = []string{
	"insufficient funds",
	"nonce too low",
	"execution reverted",
	"invalid sender",
	"exceeds block gas limit",
}

// IsRetryable reports whether err looks like a transient transport
// problem rather than a permanently rejected transaction.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, frag := range permanentFailures {
		if strings.Contains(msg, frag) {
			return false
		}
	}
	return true
}
