package deal

import (
	"fmt"
	"time"
)

// transition is one edge of the lifecycle graph.
type transition struct {
	from    Status
	to      Status
	origins []Origin
	// role restricts which participant may request the transition over
	// the API. Empty means any participant.
	role participantRole
}

type participantRole string

const (
	roleAny    participantRole = ""
	roleBuyer  participantRole = "buyer"
	roleSeller participantRole = "seller"
)

// transitions is the total transition table. Every (event, from) pair not
// present here is rejected with ErrInvalidTransition.
var transitions = map[Event][]transition{
	EventFund: {
		{from: StatusInitiated, to: StatusFunded, origins: []Origin{OriginAPI, OriginChain}, role: roleBuyer},
	},
	EventPaymentSent: {
		{from: StatusFunded, to: StatusPaymentSent, origins: []Origin{OriginAPI, OriginChain}, role: roleBuyer},
	},
	EventPaymentConfirmed: {
		{from: StatusPaymentSent, to: StatusCompleted, origins: []Origin{OriginAPI, OriginChain}, role: roleSeller},
	},
	EventDispute: {
		{from: StatusFunded, to: StatusDisputed, origins: []Origin{OriginAPI, OriginChain}},
		{from: StatusPaymentSent, to: StatusDisputed, origins: []Origin{OriginAPI, OriginChain}},
	},
	EventResolve: {
		// Dispute resolution is only ever driven by the finalized
		// on-chain resolution event, never directly by the API.
		{from: StatusDisputed, to: StatusCompleted, origins: []Origin{OriginChain}},
	},
	EventCancel: {
		{from: StatusInitiated, to: StatusCancelled, origins: []Origin{OriginAPI, OriginChain}},
		// The contract refund path can cancel a funded escrow without
		// any API involvement; only chain events may take this edge.
		{from: StatusFunded, to: StatusCancelled, origins: []Origin{OriginChain}},
	},
	EventEmergencyRefund: {
		{from: StatusFunded, to: StatusCancelled, origins: []Origin{OriginAPI}, role: roleBuyer},
	},
	EventExpire: {
		{from: StatusInitiated, to: StatusExpired, origins: []Origin{OriginScheduler}},
		{from: StatusFunded, to: StatusExpired, origins: []Origin{OriginScheduler}},
		{from: StatusPaymentSent, to: StatusExpired, origins: []Origin{OriginScheduler}},
	},
}

// ChainAuthoritative reports whether the given event's truth lives in the
// escrow contract. For these, a chain-origin request always wins and an
// API request must agree with observed contract state.
func ChainAuthoritative(e Event) bool {
	switch e {
	case EventFund, EventPaymentConfirmed, EventResolve, EventDispute:
		return true
	}
	return false
}

// Apply validates the request against the transition table and, on
// success, mutates d in place: new status, version+1, side timestamps.
// It performs no I/O; persisting the result (and the compare-and-save
// version check) is the caller's job.
func Apply(d *Deal, req TransitionRequest, now time.Time) error {
	tr, ok := findTransition(d.Status, req.Event, req.Origin)
	if !ok {
		return fmt.Errorf("%w: %s from %s (origin %s)", ErrInvalidTransition, req.Event, d.Status, req.Origin)
	}

	if req.Origin == OriginAPI {
		if err := authorize(d, tr, req.ActorID); err != nil {
			return err
		}
	}

	d.Status = tr.to
	d.StatusSource = req.Origin
	d.Version++
	if req.TxHash != "" {
		d.LastTxHash = req.TxHash
	}

	switch tr.to {
	case StatusFunded:
		d.FundedAt = &now
	case StatusPaymentSent:
		d.PaymentSentAt = &now
	case StatusCompleted:
		d.CompletedAt = &now
	}
	return nil
}

// Satisfied reports whether d already sits in a status the event would
// have produced. The engine uses it to drop duplicate or late chain
// events as benign no-ops instead of surfacing them as failures.
func Satisfied(d *Deal, e Event) bool {
	for _, tr := range transitions[e] {
		if d.Status == tr.to {
			return true
		}
	}
	return false
}

func findTransition(from Status, e Event, origin Origin) (transition, bool) {
	for _, tr := range transitions[e] {
		if tr.from != from {
			continue
		}
		for _, o := range tr.origins {
			if o == origin {
				return tr, true
			}
		}
	}
	return transition{}, false
}

func authorize(d *Deal, tr transition, actorID string) error {
	if !d.Participant(actorID) {
		return fmt.Errorf("%w: %s is not a party to deal %s", ErrUnauthorized, actorID, d.ID)
	}
	switch tr.role {
	case roleBuyer:
		if actorID != d.BuyerID {
			return fmt.Errorf("%w: only the buyer may request this", ErrUnauthorized)
		}
	case roleSeller:
		if actorID != d.SellerID {
			return fmt.Errorf("%w: only the seller may request this", ErrUnauthorized)
		}
	}
	return nil
}
