package deal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paisahub/dealdesk/internal/ads"
	"github.com/paisahub/dealdesk/internal/fixed"
	"github.com/paisahub/dealdesk/internal/idgen"
	"github.com/paisahub/dealdesk/internal/notify"
	"github.com/paisahub/dealdesk/internal/users"
)

var (
	ErrAmountOutOfRange = errors.New("amount outside the ad's limits")
	ErrSelfTrade        = errors.New("cannot open a deal against your own ad")
	ErrBadAmount        = errors.New("amount is not a valid decimal")
	ErrBadRating        = errors.New("rating must be between 1 and 5")
)

// TransitionApplier is the engine interface the service drives. Defined
// here so the deal package never imports its coordinator.
type TransitionApplier interface {
	Process(ctx context.Context, req TransitionRequest) (*Deal, error)
	Update(ctx context.Context, dealID string, mutate func(*Deal) error) (*Deal, error)
}

// CreateRequest opens a deal against an ad. ActorID is the taker; the
// ad's side decides whether they become the buyer or the seller.
type CreateRequest struct {
	AdID          string `json:"adId" binding:"required"`
	Amount        string `json:"amount" binding:"required"`
	PaymentMethod string `json:"paymentMethod"`
	UPIID         string `json:"upiId"`

	ActorID string `json:"-"`
}

// RatingRequest records one side's rating of the counterpart.
type RatingRequest struct {
	Rating   int    `json:"rating" binding:"required"`
	Feedback string `json:"feedback"`

	ActorID string `json:"-"`
}

// Service implements deal business logic around the transition engine.
type Service struct {
	store          Store
	applier        TransitionApplier
	registry       ads.Registry
	directory      users.Directory
	emitter        *notify.Emitter
	timeout        time.Duration
	escrowContract string
}

// NewService creates a deal service.
func NewService(store Store, applier TransitionApplier, registry ads.Registry,
	directory users.Directory, emitter *notify.Emitter, timeout time.Duration,
	escrowContract string) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Service{
		store:          store,
		applier:        applier,
		registry:       registry,
		directory:      directory,
		emitter:        emitter,
		timeout:        timeout,
		escrowContract: escrowContract,
	}
}

// Create validates the request against the ad, reserves inventory, and
// persists the new deal in Initiated. The ad reservation is released if
// the save fails, so a crashed create never strands inventory.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Deal, error) {
	ad, err := s.registry.GetAd(ctx, req.AdID)
	if err != nil {
		return nil, err
	}
	if !ad.Active {
		return nil, ads.ErrAdInactive
	}
	if ad.OwnerID == req.ActorID {
		return nil, ErrSelfTrade
	}
	if _, ok := fixed.Parse(req.Amount); !ok {
		return nil, ErrBadAmount
	}
	if !fixed.InRange(req.Amount, ad.MinAmount, ad.MaxAmount) {
		return nil, fmt.Errorf("%w: %s not in [%s, %s]",
			ErrAmountOutOfRange, req.Amount, ad.MinAmount, ad.MaxAmount)
	}
	if _, err := s.directory.Get(ctx, req.ActorID); err != nil {
		return nil, err
	}

	// The ad side is the owner's: on a sell ad the taker buys.
	buyerID, sellerID := req.ActorID, ad.OwnerID
	if ad.Side == "buy" {
		buyerID, sellerID = ad.OwnerID, req.ActorID
	}

	totalFiat, ok := fixed.Mul(req.Amount, ad.Price)
	if !ok {
		return nil, ErrBadAmount
	}

	if err := s.registry.Reserve(ctx, ad.ID, req.Amount); err != nil {
		return nil, err
	}

	now := time.Now()
	d := &Deal{
		ID:                    idgen.WithPrefix("deal"),
		AdID:                  ad.ID,
		BuyerID:               buyerID,
		SellerID:              sellerID,
		Amount:                req.Amount,
		Price:                 ad.Price,
		TotalFiat:             totalFiat,
		PaymentMethod:         req.PaymentMethod,
		UPIID:                 req.UPIID,
		EscrowContractAddress: s.escrowContract,
		Status:                StatusInitiated,
		StatusSource:          OriginAPI,
		CreatedAt:             now,
		ExpiresAt:             now.Add(s.timeout),
	}

	if err := s.store.Create(ctx, d); err != nil {
		if relErr := s.registry.Release(ctx, ad.ID, req.Amount); relErr != nil {
			return nil, fmt.Errorf("create failed (%v), release failed: %w", err, relErr)
		}
		return nil, err
	}

	payload := map[string]interface{}{"dealId": d.ID, "status": string(d.Status)}
	s.emitter.Notify(d.BuyerID, notify.KindDealCreated, payload)
	s.emitter.Notify(d.SellerID, notify.KindDealCreated, payload)

	dealsCreated.Inc()
	return d, nil
}

// Get returns a deal to one of its participants.
func (s *Service) Get(ctx context.Context, dealID, actorID string) (*Deal, error) {
	d, err := s.store.Get(ctx, dealID)
	if err != nil {
		return nil, err
	}
	if !d.Participant(actorID) {
		return nil, ErrUnauthorized
	}
	return d, nil
}

// List returns a user's deals, optionally filtered by status.
func (s *Service) List(ctx context.Context, userID string, status Status, limit int) ([]*Deal, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, status, limit)
}

// RequestTransition forwards an API-origin lifecycle request to the
// engine.
func (s *Service) RequestTransition(ctx context.Context, dealID string, event Event,
	actorID string, onChainID *uint64, txHash string) (*Deal, error) {
	return s.applier.Process(ctx, TransitionRequest{
		DealID:        dealID,
		Event:         event,
		Origin:        OriginAPI,
		ActorID:       actorID,
		OnChainDealID: onChainID,
		TxHash:        txHash,
	})
}

// SubmitRating records actor's rating of the counterpart. Allowed once
// per side, before or after the deal closes, and never retracted — a
// later dispute resolution does not erase how the trade felt.
func (s *Service) SubmitRating(ctx context.Context, dealID string, req RatingRequest) (*Deal, error) {
	if req.Rating < 1 || req.Rating > 5 {
		return nil, ErrBadRating
	}
	return s.applier.Update(ctx, dealID, func(d *Deal) error {
		if !d.Participant(req.ActorID) {
			return ErrUnauthorized
		}
		rating := req.Rating
		switch req.ActorID {
		case d.BuyerID:
			if d.BuyerRating != nil {
				return ErrRatingAlreadySet
			}
			d.BuyerRating = &rating
			d.BuyerFeedback = req.Feedback
		case d.SellerID:
			if d.SellerRating != nil {
				return ErrRatingAlreadySet
			}
			d.SellerRating = &rating
			d.SellerFeedback = req.Feedback
		}
		return nil
	})
}
