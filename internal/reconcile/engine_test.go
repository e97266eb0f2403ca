package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/paisahub/dealdesk/internal/chain"
	"github.com/paisahub/dealdesk/internal/deal"
	"github.com/paisahub/dealdesk/internal/notify"
)

type fakeViewer struct {
	views map[uint64]*chain.DealView
	err   error
}

func (f *fakeViewer) DealView(_ context.Context, id uint64) (*chain.DealView, error) {
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.views[id]
	if !ok {
		return nil, chain.ErrDealNotOnChain
	}
	return v, nil
}

type fakeReputation struct {
	mu    sync.Mutex
	calls [][]string
}

func (f *fakeReputation) Recompute(_ context.Context, userIDs ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userIDs)
	return nil
}

type fakeReleaser struct {
	mu       sync.Mutex
	released map[string]string
}

func (f *fakeReleaser) Release(_ context.Context, adID, amount string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released == nil {
		f.released = make(map[string]string)
	}
	f.released[adID] = amount
	return nil
}

func onChainID(id uint64) *uint64 { return &id }

func newTestDeal(status deal.Status) *deal.Deal {
	return &deal.Deal{
		ID:        "deal-1",
		AdID:      "ad-1",
		BuyerID:   "buyer-1",
		SellerID:  "seller-1",
		Amount:    "100",
		Price:     "89.5",
		TotalFiat: "8950",
		Status:    status,
		ExpiresAt: time.Now().Add(deal.DefaultTimeout),
		CreatedAt: time.Now(),
	}
}

func newTestEngine(store deal.Store, viewer ChainViewer, rep ReputationRecomputer, rel AdReleaser) *Engine {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	emitter := notify.NewEmitter(logger)
	return NewEngine(store, viewer, rep, rel, emitter, time.Hour, logger)
}

func TestProcessFundHappyPath(t *testing.T) {
	store := deal.NewMemoryStore()
	d := newTestDeal(deal.StatusInitiated)
	if err := store.Create(context.Background(), d); err != nil {
		t.Fatalf("create: %v", err)
	}

	viewer := &fakeViewer{views: map[uint64]*chain.DealView{
		42: {DealID: 42, Status: chain.CodeFunded},
	}}
	eng := newTestEngine(store, viewer, nil, nil)

	got, err := eng.Process(context.Background(), deal.TransitionRequest{
		DealID:        "deal-1",
		Event:         deal.EventFund,
		Origin:        deal.OriginAPI,
		ActorID:       "buyer-1",
		OnChainDealID: onChainID(42),
		TxHash:        "0xfund",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if got.Status != deal.StatusFunded {
		t.Errorf("status = %s, want funded", got.Status)
	}
	if got.OnChainDealID == nil || *got.OnChainDealID != 42 {
		t.Errorf("on-chain id not linked")
	}
	if got.Version != 1 {
		t.Errorf("version = %d, want 1", got.Version)
	}
	if got.StatusSource != deal.OriginAPI {
		t.Errorf("status source = %s, want api", got.StatusSource)
	}
	if got.FundedAt == nil {
		t.Errorf("FundedAt not set")
	}
}

func TestProcessFundContradictsChain(t *testing.T) {
	store := deal.NewMemoryStore()
	if err := store.Create(context.Background(), newTestDeal(deal.StatusInitiated)); err != nil {
		t.Fatal(err)
	}

	// Contract still shows the deal as merely created, not funded.
	viewer := &fakeViewer{views: map[uint64]*chain.DealView{
		42: {DealID: 42, Status: chain.CodeCreated},
	}}
	eng := newTestEngine(store, viewer, nil, nil)

	_, err := eng.Process(context.Background(), deal.TransitionRequest{
		DealID:        "deal-1",
		Event:         deal.EventFund,
		Origin:        deal.OriginAPI,
		ActorID:       "buyer-1",
		OnChainDealID: onChainID(42),
	})
	if !errors.Is(err, deal.ErrChainAuthorityOverride) {
		t.Fatalf("expected chain authority override, got %v", err)
	}

	got, _ := store.Get(context.Background(), "deal-1")
	if got.Status != deal.StatusInitiated {
		t.Errorf("deal mutated despite rejection: %s", got.Status)
	}
}

func TestProcessFundNotLinked(t *testing.T) {
	store := deal.NewMemoryStore()
	if err := store.Create(context.Background(), newTestDeal(deal.StatusInitiated)); err != nil {
		t.Fatal(err)
	}
	eng := newTestEngine(store, &fakeViewer{}, nil, nil)

	_, err := eng.Process(context.Background(), deal.TransitionRequest{
		DealID:  "deal-1",
		Event:   deal.EventFund,
		Origin:  deal.OriginAPI,
		ActorID: "buyer-1",
	})
	if !errors.Is(err, deal.ErrNotLinked) {
		t.Fatalf("expected deal.ErrNotLinked, got %v", err)
	}
}

func TestProcessInvalidVsOverride(t *testing.T) {
	// The same invalid request reads differently depending on who set
	// the blocking status: another API caller means invalid transition,
	// the chain watcher means chain authority override.
	for _, tc := range []struct {
		name   string
		source deal.Origin
		want   error
	}{
		{"api-sourced status", deal.OriginAPI, deal.ErrInvalidTransition},
		{"chain-sourced status", deal.OriginChain, deal.ErrChainAuthorityOverride},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store := deal.NewMemoryStore()
			d := newTestDeal(deal.StatusCompleted)
			d.StatusSource = tc.source
			if err := store.Create(context.Background(), d); err != nil {
				t.Fatal(err)
			}
			eng := newTestEngine(store, &fakeViewer{}, nil, nil)

			_, err := eng.Process(context.Background(), deal.TransitionRequest{
				DealID:  "deal-1",
				Event:   deal.EventCancel,
				Origin:  deal.OriginAPI,
				ActorID: "buyer-1",
			})
			if !errors.Is(err, tc.want) {
				t.Fatalf("got %v, want %v", err, tc.want)
			}
		})
	}
}

func TestProcessChainDuplicateIsNoop(t *testing.T) {
	store := deal.NewMemoryStore()
	d := newTestDeal(deal.StatusFunded)
	d.StatusSource = deal.OriginChain
	d.Version = 1
	d.OnChainDealID = onChainID(42)
	if err := store.Create(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	eng := newTestEngine(store, &fakeViewer{}, nil, nil)

	got, err := eng.Process(context.Background(), deal.TransitionRequest{
		DealID: "deal-1",
		Event:  deal.EventFund,
		Origin: deal.OriginChain,
		TxHash: "0xdup",
	})
	if err != nil {
		t.Fatalf("duplicate chain event should be a no-op, got %v", err)
	}
	if got.Version != 1 {
		t.Errorf("version bumped on no-op: %d", got.Version)
	}
	if got.LastTxHash == "0xdup" {
		t.Errorf("no-op recorded a tx hash")
	}
}

func TestProcessCompletionRecomputesReputation(t *testing.T) {
	store := deal.NewMemoryStore()
	d := newTestDeal(deal.StatusPaymentSent)
	d.OnChainDealID = onChainID(42)
	if err := store.Create(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	rep := &fakeReputation{}
	viewer := &fakeViewer{views: map[uint64]*chain.DealView{
		42: {DealID: 42, Status: chain.CodeCompleted},
	}}
	eng := newTestEngine(store, viewer, rep, nil)

	got, err := eng.Process(context.Background(), deal.TransitionRequest{
		DealID:  "deal-1",
		Event:   deal.EventPaymentConfirmed,
		Origin:  deal.OriginAPI,
		ActorID: "seller-1",
		TxHash:  "0xrelease",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if got.Status != deal.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if len(rep.calls) != 1 {
		t.Fatalf("reputation recompute calls = %d, want 1", len(rep.calls))
	}
	if len(rep.calls[0]) != 2 || rep.calls[0][0] != "buyer-1" || rep.calls[0][1] != "seller-1" {
		t.Errorf("recompute called with %v", rep.calls[0])
	}
}

func TestProcessCancelReleasesAd(t *testing.T) {
	store := deal.NewMemoryStore()
	if err := store.Create(context.Background(), newTestDeal(deal.StatusInitiated)); err != nil {
		t.Fatal(err)
	}
	rel := &fakeReleaser{}
	eng := newTestEngine(store, &fakeViewer{}, nil, rel)

	_, err := eng.Process(context.Background(), deal.TransitionRequest{
		DealID:  "deal-1",
		Event:   deal.EventCancel,
		Origin:  deal.OriginAPI,
		ActorID: "seller-1",
	})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if rel.released["ad-1"] != "100" {
		t.Errorf("ad inventory not released: %v", rel.released)
	}
}

func TestProcessEmergencyRefundGrace(t *testing.T) {
	store := deal.NewMemoryStore()
	d := newTestDeal(deal.StatusFunded)
	d.OnChainDealID = onChainID(42)
	d.ExpiresAt = time.Now().Add(-30 * time.Minute) // expired, grace not elapsed
	if err := store.Create(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	viewer := &fakeViewer{views: map[uint64]*chain.DealView{
		42: {DealID: 42, Status: chain.CodeFunded},
	}}
	eng := newTestEngine(store, viewer, nil, nil)

	req := deal.TransitionRequest{
		DealID:  "deal-1",
		Event:   deal.EventEmergencyRefund,
		Origin:  deal.OriginAPI,
		ActorID: "buyer-1",
	}
	if _, err := eng.Process(context.Background(), req); !errors.Is(err, deal.ErrInvalidTransition) {
		t.Fatalf("refund inside grace should be rejected, got %v", err)
	}

	// Push the clock past expiry + grace.
	eng.now = func() time.Time { return time.Now().Add(time.Hour) }
	got, err := eng.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("refund after grace: %v", err)
	}
	if got.Status != deal.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestProcessEmergencyRefundEscrowReleased(t *testing.T) {
	store := deal.NewMemoryStore()
	d := newTestDeal(deal.StatusFunded)
	d.OnChainDealID = onChainID(42)
	d.ExpiresAt = time.Now().Add(-2 * time.Hour)
	if err := store.Create(context.Background(), d); err != nil {
		t.Fatal(err)
	}

	// Escrow already paid out on chain; refund must not be recorded.
	viewer := &fakeViewer{views: map[uint64]*chain.DealView{
		42: {DealID: 42, Status: chain.CodeCompleted},
	}}
	eng := newTestEngine(store, viewer, nil, nil)

	_, err := eng.Process(context.Background(), deal.TransitionRequest{
		DealID:  "deal-1",
		Event:   deal.EventEmergencyRefund,
		Origin:  deal.OriginAPI,
		ActorID: "buyer-1",
	})
	if !errors.Is(err, deal.ErrChainAuthorityOverride) {
		t.Fatalf("expected chain authority override, got %v", err)
	}
}

func TestProcessSerializesPerDeal(t *testing.T) {
	store := deal.NewMemoryStore()
	d := newTestDeal(deal.StatusFunded)
	d.OnChainDealID = onChainID(42)
	if err := store.Create(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	eng := newTestEngine(store, &fakeViewer{}, nil, nil)

	// Many concurrent payment-sent requests: exactly one may win.
	const n = 16
	var wg sync.WaitGroup
	results := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Process(context.Background(), deal.TransitionRequest{
				DealID:  "deal-1",
				Event:   deal.EventPaymentSent,
				Origin:  deal.OriginAPI,
				ActorID: "buyer-1",
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else if !errors.Is(err, deal.ErrInvalidTransition) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("winners = %d, want exactly 1", wins)
	}

	got, _ := store.Get(context.Background(), "deal-1")
	if got.Version != 1 {
		t.Errorf("version = %d, want 1", got.Version)
	}
}

func TestUpdateRatingUnderVersionCheck(t *testing.T) {
	store := deal.NewMemoryStore()
	d := newTestDeal(deal.StatusCompleted)
	d.Version = 3
	if err := store.Create(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	eng := newTestEngine(store, &fakeViewer{}, nil, nil)

	rating := 5
	got, err := eng.Update(context.Background(), "deal-1", func(d *deal.Deal) error {
		if d.BuyerRating != nil {
			return deal.ErrRatingAlreadySet
		}
		d.BuyerRating = &rating
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.BuyerRating == nil || *got.BuyerRating != 5 {
		t.Errorf("rating not persisted")
	}
	if got.Version != 4 {
		t.Errorf("version = %d, want 4", got.Version)
	}

	// Second write for the same side is rejected by the mutator.
	_, err = eng.Update(context.Background(), "deal-1", func(d *deal.Deal) error {
		if d.BuyerRating != nil {
			return deal.ErrRatingAlreadySet
		}
		d.BuyerRating = &rating
		return nil
	})
	if !errors.Is(err, deal.ErrRatingAlreadySet) {
		t.Fatalf("expected ErrRatingAlreadySet, got %v", err)
	}
}
