// Package reconcile is the single write path for deal lifecycle state.
//
// Every transition request — API handler, chain watcher, expiry
// scheduler — flows through the Engine, which serializes writers per
// deal, checks API claims against confirmed contract state, applies the
// state machine, and persists with an optimistic version check. Chain
// truth always wins: an API request that contradicts what the contract
// says fails with deal.ErrChainAuthorityOverride, and a chain event that
// arrives after its effect is already recorded is a benign no-op.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paisahub/dealdesk/internal/chain"
	"github.com/paisahub/dealdesk/internal/deal"
	"github.com/paisahub/dealdesk/internal/notify"
	"github.com/paisahub/dealdesk/internal/retry"
	"github.com/paisahub/dealdesk/internal/syncutil"
	"github.com/paisahub/dealdesk/internal/traces"
)

// ChainViewer reads the contract's current record for a deal. It is the
// ground truth the engine consults before accepting chain-authoritative
// API claims.
type ChainViewer interface {
	DealView(ctx context.Context, onChainID uint64) (*chain.DealView, error)
}

// ReputationRecomputer refreshes trader scores after a completion.
type ReputationRecomputer interface {
	Recompute(ctx context.Context, userIDs ...string) error
}

// AdReleaser returns reserved ad inventory when a deal dies before
// settling.
type AdReleaser interface {
	Release(ctx context.Context, adID, amount string) error
}

// Engine coordinates all deal state transitions.
type Engine struct {
	store      deal.Store
	viewer     ChainViewer
	reputation ReputationRecomputer
	releaser   AdReleaser
	emitter    *notify.Emitter
	locks      *syncutil.KeyMutex
	grace      time.Duration
	logger     *slog.Logger

	now func() time.Time
}

// NewEngine creates the transition engine. grace is how long past a
// deal's expiry the buyer must wait before an emergency refund.
func NewEngine(store deal.Store, viewer ChainViewer, reputation ReputationRecomputer,
	releaser AdReleaser, emitter *notify.Emitter, grace time.Duration, logger *slog.Logger) *Engine {
	return &Engine{
		store:      store,
		viewer:     viewer,
		reputation: reputation,
		releaser:   releaser,
		emitter:    emitter,
		locks:      syncutil.NewKeyMutex(),
		grace:      grace,
		logger:     logger,
		now:        time.Now,
	}
}

// Process applies one transition request end to end and returns the
// deal as persisted. Chain-origin requests are retried on version
// conflicts: the contract already committed, so the off-chain record
// must eventually agree.
func (e *Engine) Process(ctx context.Context, req deal.TransitionRequest) (*deal.Deal, error) {
	ctx, span := traces.StartSpan(ctx, "reconcile.Process",
		traces.DealID(req.DealID), traces.DealEvent(string(req.Event)), traces.Origin(string(req.Origin)))
	defer span.End()

	unlock, err := e.locks.Lock(ctx, req.DealID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if req.Origin != deal.OriginChain {
		return e.processOnce(ctx, req)
	}

	var d *deal.Deal
	err = retry.Do(ctx, 3, 100*time.Millisecond, func() error {
		var attemptErr error
		d, attemptErr = e.processOnce(ctx, req)
		if attemptErr != nil && !errors.Is(attemptErr, deal.ErrStateConflict) {
			return retry.Permanent(attemptErr)
		}
		return attemptErr
	})
	return d, err
}

func (e *Engine) processOnce(ctx context.Context, req deal.TransitionRequest) (*deal.Deal, error) {
	d, err := e.store.Get(ctx, req.DealID)
	if err != nil {
		return nil, err
	}

	if req.Origin == deal.OriginChain && deal.Satisfied(d, req.Event) {
		// Duplicate or late event for an effect already recorded.
		chainNoops.Inc()
		e.logger.Debug("chain event already reflected",
			"deal", d.ID, "event", req.Event, "status", d.Status)
		return d, nil
	}

	if req.Origin == deal.OriginAPI {
		if err := e.verifyAgainstChain(ctx, d, req); err != nil {
			transitionFailures.WithLabelValues(string(req.Event), failureReason(err)).Inc()
			return nil, err
		}
	}

	expected := d.Version
	prior := d.Status

	if req.Event == deal.EventFund && d.OnChainDealID == nil && req.OnChainDealID != nil {
		id := *req.OnChainDealID
		d.OnChainDealID = &id
	}

	if err := deal.Apply(d, req, e.now()); err != nil {
		if errors.Is(err, deal.ErrInvalidTransition) &&
			req.Origin == deal.OriginAPI && d.StatusSource == deal.OriginChain {
			// The status blocking this request came from the contract,
			// not from another API caller.
			overridesTotal.Inc()
			err = fmt.Errorf("%w: deal is %s per chain", deal.ErrChainAuthorityOverride, d.Status)
		}
		transitionFailures.WithLabelValues(string(req.Event), failureReason(err)).Inc()
		return nil, err
	}

	if err := e.store.CompareAndSave(ctx, d, expected); err != nil {
		transitionFailures.WithLabelValues(string(req.Event), failureReason(err)).Inc()
		return nil, err
	}

	transitionsTotal.WithLabelValues(string(req.Event), string(req.Origin)).Inc()
	e.logger.Info("deal transition applied",
		"deal", d.ID, "event", req.Event, "origin", req.Origin,
		"from", prior, "to", d.Status, "version", d.Version)

	e.afterTransition(ctx, d)
	return d, nil
}

// verifyAgainstChain gates chain-authoritative API claims on observed
// contract state before the state machine ever sees them.
func (e *Engine) verifyAgainstChain(ctx context.Context, d *deal.Deal, req deal.TransitionRequest) error {
	if req.Event == deal.EventEmergencyRefund {
		if e.now().Before(d.ExpiresAt.Add(e.grace)) {
			return fmt.Errorf("%w: emergency refund before %s",
				deal.ErrInvalidTransition, d.ExpiresAt.Add(e.grace).Format(time.RFC3339))
		}
		view, err := e.view(ctx, d, req)
		if err != nil {
			return err
		}
		if view.Status != chain.CodeFunded {
			return fmt.Errorf("%w: escrow is %d, not held", deal.ErrChainAuthorityOverride, view.Status)
		}
		return nil
	}

	if !deal.ChainAuthoritative(req.Event) {
		return nil
	}

	view, err := e.view(ctx, d, req)
	if err != nil {
		return err
	}

	ok := false
	switch req.Event {
	case deal.EventFund:
		// Accept any post-funding code: a late claim is still true.
		ok = view.Status == chain.CodeFunded ||
			view.Status == chain.CodePaymentSent ||
			view.Status == chain.CodeCompleted
	case deal.EventPaymentConfirmed:
		ok = view.Status == chain.CodeCompleted
	case deal.EventDispute:
		ok = view.Status == chain.CodeDisputed
	}
	if !ok {
		overridesTotal.Inc()
		return fmt.Errorf("%w: contract reports status code %d for %s",
			deal.ErrChainAuthorityOverride, view.Status, req.Event)
	}
	return nil
}

func (e *Engine) view(ctx context.Context, d *deal.Deal, req deal.TransitionRequest) (*chain.DealView, error) {
	onChainID := d.OnChainDealID
	if onChainID == nil {
		onChainID = req.OnChainDealID
	}
	if onChainID == nil {
		return nil, deal.ErrNotLinked
	}
	view, err := e.viewer.DealView(ctx, *onChainID)
	if err != nil {
		if errors.Is(err, chain.ErrDealNotOnChain) {
			return nil, fmt.Errorf("%w: escrow %d not found in contract",
				deal.ErrChainAuthorityOverride, *onChainID)
		}
		return nil, err
	}
	return view, nil
}

// afterTransition runs post-commit effects. The transition is already
// durable; failures here are logged, never propagated.
func (e *Engine) afterTransition(ctx context.Context, d *deal.Deal) {
	if kind := kindFor(d.Status); kind != "" {
		payload := map[string]interface{}{
			"dealId": d.ID,
			"status": string(d.Status),
		}
		if d.LastTxHash != "" {
			payload["txHash"] = d.LastTxHash
		}
		e.emitter.Notify(d.BuyerID, kind, payload)
		e.emitter.Notify(d.SellerID, kind, payload)
	}

	switch d.Status {
	case deal.StatusCancelled, deal.StatusExpired:
		if e.releaser != nil && d.AdID != "" {
			if err := e.releaser.Release(ctx, d.AdID, d.Amount); err != nil {
				e.logger.Error("ad inventory release failed",
					"deal", d.ID, "ad", d.AdID, "error", err)
			}
		}
	case deal.StatusCompleted:
		if e.reputation != nil {
			if err := e.reputation.Recompute(ctx, d.BuyerID, d.SellerID); err != nil {
				e.logger.Error("reputation recompute failed", "deal", d.ID, "error", err)
			}
		}
	}
}

// Update mutates a deal outside the lifecycle graph — rating writes,
// on-chain id linking — under the same per-deal lock and version check
// as transitions.
func (e *Engine) Update(ctx context.Context, dealID string, mutate func(*deal.Deal) error) (*deal.Deal, error) {
	unlock, err := e.locks.Lock(ctx, dealID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	d, err := e.store.Get(ctx, dealID)
	if err != nil {
		return nil, err
	}

	expected := d.Version
	if err := mutate(d); err != nil {
		return nil, err
	}
	d.Version++

	if err := e.store.CompareAndSave(ctx, d, expected); err != nil {
		return nil, err
	}
	return d, nil
}

func kindFor(s deal.Status) string {
	switch s {
	case deal.StatusFunded:
		return notify.KindDealFunded
	case deal.StatusPaymentSent:
		return notify.KindPaymentSent
	case deal.StatusCompleted:
		return notify.KindDealCompleted
	case deal.StatusDisputed:
		return notify.KindDealDisputed
	case deal.StatusCancelled:
		return notify.KindDealCancelled
	case deal.StatusExpired:
		return notify.KindDealExpired
	}
	return ""
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, deal.ErrChainAuthorityOverride):
		return "chain_override"
	case errors.Is(err, deal.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, deal.ErrStateConflict):
		return "state_conflict"
	case errors.Is(err, deal.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, deal.ErrNotLinked):
		return "not_linked"
	default:
		return "other"
	}
}
