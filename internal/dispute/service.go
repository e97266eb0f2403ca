package dispute

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/paisahub/dealdesk/internal/chain"
	"github.com/paisahub/dealdesk/internal/deal"
	"github.com/paisahub/dealdesk/internal/idgen"
	"github.com/paisahub/dealdesk/internal/notify"
	"github.com/paisahub/dealdesk/internal/retry"
	"github.com/paisahub/dealdesk/internal/traces"
)

// ResolutionSubmitter sends the arbitrator's decision to the escrow
// contract. Satisfied by *chain.Client.
type ResolutionSubmitter interface {
	SubmitResolution(ctx context.Context, dealID uint64, favorBuyer bool) (string, error)
}

// Service implements dispute business logic.
type Service struct {
	store        Store
	deals        deal.Store
	applier      deal.TransitionApplier
	submitter    ResolutionSubmitter
	emitter      *notify.Emitter
	arbitratorID string
	logger       *slog.Logger
}

// NewService creates a dispute service. arbitratorID is the only user
// allowed to resolve.
func NewService(store Store, deals deal.Store, applier deal.TransitionApplier,
	submitter ResolutionSubmitter, emitter *notify.Emitter, arbitratorID string,
	logger *slog.Logger) *Service {
	return &Service{
		store:        store,
		deals:        deals,
		applier:      applier,
		submitter:    submitter,
		emitter:      emitter,
		arbitratorID: arbitratorID,
		logger:       logger,
	}
}

// Open records a dispute for a deal. The engine first verifies the
// dispute exists on the contract (the chain collects the dispute fee);
// only then does the off-chain record follow.
func (s *Service) Open(ctx context.Context, dealID, actorID, reason string) (*Dispute, error) {
	d, err := s.applier.Process(ctx, deal.TransitionRequest{
		DealID:  dealID,
		Event:   deal.EventDispute,
		Origin:  deal.OriginAPI,
		ActorID: actorID,
	})
	if err != nil {
		// The watcher may have finalized the on-chain dispute before
		// the initiator's API call arrived. The deal is then already
		// Disputed with chain authority and the transition above is
		// rejected, but the off-chain record may still be missing.
		return s.openAgainstChainDispute(ctx, dealID, actorID, reason, err)
	}

	return s.createRecord(ctx, d, actorID, reason)
}

// openAgainstChainDispute handles Open when the chain already moved
// the deal to Disputed. It attaches (or backfills) the off-chain
// record instead of failing, so the dispute stays resolvable.
func (s *Service) openAgainstChainDispute(ctx context.Context, dealID, actorID, reason string, cause error) (*Dispute, error) {
	d, getErr := s.deals.Get(ctx, dealID)
	if getErr != nil || d.Status != deal.StatusDisputed || d.StatusSource != deal.OriginChain {
		return nil, cause
	}
	if !d.Participant(actorID) {
		return nil, fmt.Errorf("%w: not a party to deal %s", deal.ErrUnauthorized, dealID)
	}

	dp, getErr := s.store.GetByDeal(ctx, dealID)
	switch {
	case getErr == nil:
		if dp.OpenedBy != "" && dp.OpenedBy != actorID {
			return nil, ErrAlreadyOpen
		}
		// Watcher-created placeholder: fill in the caller's details.
		if dp.OpenedBy == "" {
			dp.OpenedBy = actorID
		}
		if dp.Reason == "" {
			dp.Reason = reason
		}
		if err := s.store.Update(ctx, dp); err != nil {
			return nil, err
		}
		return dp, nil
	case errors.Is(getErr, ErrNotFound):
		return s.createRecord(ctx, d, actorID, reason)
	default:
		return nil, getErr
	}
}

// EnsureOpen creates the off-chain record for a dispute the watcher
// finalized from the chain, if no record exists yet. Idempotent.
func (s *Service) EnsureOpen(ctx context.Context, dealID, initiatorID string) error {
	if _, err := s.store.GetByDeal(ctx, dealID); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	d, err := s.deals.Get(ctx, dealID)
	if err != nil {
		return err
	}
	if d.Status != deal.StatusDisputed {
		return nil
	}

	if _, err := s.createRecord(ctx, d, initiatorID, ""); err != nil {
		if errors.Is(err, ErrAlreadyOpen) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Service) createRecord(ctx context.Context, d *deal.Deal, openedBy, reason string) (*Dispute, error) {
	dp := &Dispute{
		ID:       idgen.WithPrefix("dispute"),
		DealID:   d.ID,
		OpenedBy: openedBy,
		Reason:   reason,
		Status:   StatusOpen,
		OpenedAt: time.Now(),
	}
	if err := s.store.Create(ctx, dp); err != nil {
		return nil, err
	}

	if _, err := s.applier.Update(ctx, d.ID, func(dd *deal.Deal) error {
		if dd.DisputeID == "" {
			dd.DisputeID = dp.ID
		}
		return nil
	}); err != nil {
		s.logger.Error("dispute link failed", "deal", d.ID, "dispute", dp.ID, "error", err)
	}

	disputesOpened.Inc()
	s.logger.Info("dispute opened", "dispute", dp.ID, "deal", d.ID, "by", openedBy)
	return dp, nil
}

// Get returns one dispute.
func (s *Service) Get(ctx context.Context, id string) (*Dispute, error) {
	return s.store.Get(ctx, id)
}

// ListOpen returns open disputes for the arbitration queue.
func (s *Service) ListOpen(ctx context.Context, limit int) ([]*Dispute, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListByStatus(ctx, StatusOpen, limit)
}

// Resolve submits the arbitrator's decision to the contract and moves
// the dispute to Resolving. The record closes only when the watcher
// sees the finalized payout. If the node permanently rejects the
// transaction the dispute stays open for a retry with a fixed signer.
func (s *Service) Resolve(ctx context.Context, disputeID, actorID string, winner Winner, notes string) (*Dispute, error) {
	ctx, span := traces.StartSpan(ctx, "dispute.Resolve",
		traces.DisputeID(disputeID), traces.UserID(actorID))
	defer span.End()

	if actorID != s.arbitratorID {
		return nil, ErrNotArbitrator
	}
	if winner != WinnerBuyer && winner != WinnerSeller {
		return nil, ErrBadWinner
	}

	dp, err := s.store.Get(ctx, disputeID)
	if err != nil {
		return nil, err
	}
	if dp.Status != StatusOpen {
		return nil, fmt.Errorf("%w: status %s", ErrNotOpen, dp.Status)
	}

	d, err := s.deals.Get(ctx, dp.DealID)
	if err != nil {
		return nil, err
	}
	if d.OnChainDealID == nil {
		return nil, deal.ErrNotLinked
	}

	var txHash string
	err = retry.Do(ctx, 3, 500*time.Millisecond, func() error {
		var submitErr error
		txHash, submitErr = s.submitter.SubmitResolution(ctx, *d.OnChainDealID, winner == WinnerBuyer)
		if submitErr != nil && !chain.IsRetryable(submitErr) {
			return retry.Permanent(submitErr)
		}
		return submitErr
	})
	if err != nil {
		if !chain.IsRetryable(err) {
			// Wrong nonce, empty arbitrator wallet, reverted call: an
			// operator has to look at the signer before anything else
			// can happen. The dispute stays open.
			signerFailures.Inc()
			s.logger.Error("resolution permanently rejected",
				"dispute", dp.ID, "deal", d.ID, "error", err)
			return nil, fmt.Errorf("%w: %v", ErrSubmitRejected, err)
		}
		return nil, err
	}

	now := time.Now()
	dp.Status = StatusResolving
	dp.Winner = winner
	dp.ResolverID = actorID
	dp.Notes = notes
	dp.ResolutionTxHash = txHash
	dp.DecidedAt = &now
	if err := s.store.Update(ctx, dp); err != nil {
		return nil, err
	}

	disputesDecided.Inc()
	s.logger.Info("dispute decision submitted",
		"dispute", dp.ID, "deal", d.ID, "winner", winner, "tx", txHash)
	return dp, nil
}

// MarkResolvedByDeal closes the dispute for a deal once its payout is
// finalized on chain. Called by the watcher; idempotent.
func (s *Service) MarkResolvedByDeal(ctx context.Context, dealID, txHash string) error {
	dp, err := s.store.GetByDeal(ctx, dealID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if dp.Status == StatusResolved {
		return nil
	}

	now := time.Now()
	dp.Status = StatusResolved
	dp.ResolvedAt = &now
	if txHash != "" {
		dp.ResolutionTxHash = txHash
	}
	if err := s.store.Update(ctx, dp); err != nil {
		return err
	}

	if d, err := s.deals.Get(ctx, dealID); err == nil {
		payload := map[string]interface{}{
			"dealId":    d.ID,
			"disputeId": dp.ID,
			"winner":    string(dp.Winner),
			"txHash":    dp.ResolutionTxHash,
		}
		s.emitter.Notify(d.BuyerID, notify.KindDisputeResolved, payload)
		s.emitter.Notify(d.SellerID, notify.KindDisputeResolved, payload)
	}

	disputesResolved.Inc()
	s.logger.Info("dispute resolved", "dispute", dp.ID, "deal", dealID, "tx", dp.ResolutionTxHash)
	return nil
}
