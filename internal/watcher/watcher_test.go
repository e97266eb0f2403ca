package watcher

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/paisahub/dealdesk/internal/chain"
	"github.com/paisahub/dealdesk/internal/deal"
	"github.com/paisahub/dealdesk/internal/users"
)

type fakeSource struct {
	head   uint64
	events []chain.Event

	mu      sync.Mutex
	queries [][2]uint64
}

func (f *fakeSource) BlockNumber(_ context.Context) (uint64, error) {
	return f.head, nil
}

func (f *fakeSource) DealEvents(_ context.Context, from, to uint64) ([]chain.Event, error) {
	f.mu.Lock()
	f.queries = append(f.queries, [2]uint64{from, to})
	f.mu.Unlock()

	var out []chain.Event
	for _, ev := range f.events {
		if ev.BlockNumber >= from && ev.BlockNumber <= to {
			out = append(out, ev)
		}
	}
	return out, nil
}

// applier applies the state machine directly, standing in for the
// engine.
type applier struct {
	store deal.Store
}

func (a *applier) Process(ctx context.Context, req deal.TransitionRequest) (*deal.Deal, error) {
	d, err := a.store.Get(ctx, req.DealID)
	if err != nil {
		return nil, err
	}
	if deal.Satisfied(d, req.Event) {
		return d, nil
	}
	expected := d.Version
	if err := deal.Apply(d, req, time.Now()); err != nil {
		return nil, err
	}
	if err := a.store.CompareAndSave(ctx, d, expected); err != nil {
		return nil, err
	}
	return d, nil
}

func (a *applier) Update(ctx context.Context, dealID string, mutate func(*deal.Deal) error) (*deal.Deal, error) {
	d, err := a.store.Get(ctx, dealID)
	if err != nil {
		return nil, err
	}
	expected := d.Version
	if err := mutate(d); err != nil {
		return nil, err
	}
	d.Version++
	if err := a.store.CompareAndSave(ctx, d, expected); err != nil {
		return nil, err
	}
	return d, nil
}

type fakeResolver struct {
	mu     sync.Mutex
	closed map[string]string
	opened map[string]string
}

func (f *fakeResolver) EnsureOpen(_ context.Context, dealID, initiatorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opened == nil {
		f.opened = make(map[string]string)
	}
	f.opened[dealID] = initiatorID
	return nil
}

func (f *fakeResolver) MarkResolvedByDeal(_ context.Context, dealID, txHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed == nil {
		f.closed = make(map[string]string)
	}
	f.closed[dealID] = txHash
	return nil
}

const (
	buyerWallet  = "0x1111111111111111111111111111111111111111"
	sellerWallet = "0x2222222222222222222222222222222222222222"
)

func newFixture(t *testing.T, source *fakeSource) (*Watcher, *deal.MemoryStore, CursorStore) {
	t.Helper()

	store := deal.NewMemoryStore()
	directory := users.NewMemoryDirectory()
	directory.Add(&users.User{ID: "buyer-1", WalletAddress: buyerWallet})
	directory.Add(&users.User{ID: "seller-1", WalletAddress: sellerWallet})

	cursors := NewMemoryCursorStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	w := New(Config{
		Contract:      "0x3333333333333333333333333333333333333333",
		PollInterval:  time.Minute,
		FinalityDepth: 6,
		StartBlock:    100,
	}, source, store, &applier{store: store}, cursors, directory, logger)
	return w, store, cursors
}

func seedDeal(t *testing.T, store *deal.MemoryStore, status deal.Status, onChainID *uint64) *deal.Deal {
	t.Helper()
	d := &deal.Deal{
		ID:            "deal-1",
		AdID:          "ad-1",
		BuyerID:       "buyer-1",
		SellerID:      "seller-1",
		Amount:        "100",
		Price:         "89",
		TotalFiat:     "8900",
		Status:        status,
		OnChainDealID: onChainID,
		CreatedAt:     time.Now(),
		ExpiresAt:     time.Now().Add(deal.DefaultTimeout),
	}
	if err := store.Create(context.Background(), d); err != nil {
		t.Fatal(err)
	}
	return d
}

func onChainID(v uint64) *uint64 { return &v }

func TestPollRespectsFinalityWindow(t *testing.T) {
	source := &fakeSource{head: 120}
	w, _, cursors := newFixture(t, source)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := w.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	source.mu.Lock()
	defer source.mu.Unlock()
	if len(source.queries) != 1 {
		t.Fatalf("queries = %d, want 1", len(source.queries))
	}
	// Head 120, finality 6: only blocks up to 114 may be read.
	if q := source.queries[0]; q[0] != 101 || q[1] != 114 {
		t.Errorf("scanned [%d, %d], want [101, 114]", q[0], q[1])
	}

	cursor, _ := cursors.Get(context.Background(), w.config.Contract)
	if cursor != 114 {
		t.Errorf("cursor = %d, want 114", cursor)
	}
}

func TestPollNothingFinalizedYet(t *testing.T) {
	source := &fakeSource{head: 104} // safe head 98, behind the cursor
	w, _, _ := newFixture(t, source)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := w.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}
	source.mu.Lock()
	defer source.mu.Unlock()
	if len(source.queries) != 0 {
		t.Errorf("scanned despite nothing finalized")
	}
}

func TestPollAppliesTransitionEvents(t *testing.T) {
	source := &fakeSource{head: 120, events: []chain.Event{
		{Kind: chain.EventDealFunded, DealID: 42, BlockNumber: 105, TxHash: "0xf", LogIndex: 0},
		{Kind: chain.EventPaymentSent, DealID: 42, BlockNumber: 108, TxHash: "0xp", LogIndex: 0},
	}}
	w, store, _ := newFixture(t, source)
	seedDeal(t, store, deal.StatusInitiated, onChainID(42))

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if err := w.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	got, _ := store.Get(context.Background(), "deal-1")
	if got.Status != deal.StatusPaymentSent {
		t.Errorf("status = %s, want payment_sent", got.Status)
	}
	if got.StatusSource != deal.OriginChain {
		t.Errorf("status source = %s, want chain", got.StatusSource)
	}
	if got.LastTxHash != "0xp" {
		t.Errorf("tx hash = %s, want 0xp", got.LastTxHash)
	}
}

func TestPollDuplicateEventsAreIdempotent(t *testing.T) {
	ev := chain.Event{Kind: chain.EventDealFunded, DealID: 42, BlockNumber: 105, TxHash: "0xf", LogIndex: 0}
	source := &fakeSource{head: 120, events: []chain.Event{ev, ev}}
	w, store, _ := newFixture(t, source)
	seedDeal(t, store, deal.StatusInitiated, onChainID(42))

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if err := w.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	got, _ := store.Get(context.Background(), "deal-1")
	if got.Status != deal.StatusFunded || got.Version != 1 {
		t.Errorf("duplicate applied twice: %s v%d", got.Status, got.Version)
	}
}

func TestPollIgnoresUnknownEscrow(t *testing.T) {
	source := &fakeSource{head: 120, events: []chain.Event{
		{Kind: chain.EventDealFunded, DealID: 999, BlockNumber: 105, TxHash: "0xf"},
	}}
	w, _, cursors := newFixture(t, source)
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := w.Poll(context.Background()); err != nil {
		t.Fatalf("unknown escrow should not fail the poll: %v", err)
	}
	cursor, _ := cursors.Get(context.Background(), w.config.Contract)
	if cursor != 114 {
		t.Errorf("cursor stalled on unknown escrow: %d", cursor)
	}
}

func TestPollLinksCreatedDeal(t *testing.T) {
	source := &fakeSource{head: 120, events: []chain.Event{
		{
			Kind: chain.EventDealCreated, DealID: 42,
			Buyer: buyerWallet, Seller: sellerWallet,
			BlockNumber: 105, TxHash: "0xc",
		},
	}}
	w, store, _ := newFixture(t, source)
	seedDeal(t, store, deal.StatusInitiated, nil)

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if err := w.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	got, _ := store.Get(context.Background(), "deal-1")
	if got.OnChainDealID == nil || *got.OnChainDealID != 42 {
		t.Errorf("deal not linked: %+v", got.OnChainDealID)
	}
	if got.Status != deal.StatusInitiated {
		t.Errorf("linking must not move the deal: %s", got.Status)
	}
}

func TestPollClosesDisputeOnPayout(t *testing.T) {
	source := &fakeSource{head: 120, events: []chain.Event{
		{Kind: chain.EventDealCompleted, DealID: 42, BlockNumber: 105, TxHash: "0xdone"},
	}}
	w, store, _ := newFixture(t, source)
	d := seedDeal(t, store, deal.StatusDisputed, onChainID(42))
	d.DisputeID = "dispute-1"
	if err := store.CompareAndSave(context.Background(), d, 0); err != nil {
		t.Fatal(err)
	}

	resolver := &fakeResolver{}
	w.WithDisputeResolver(resolver)

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if err := w.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	got, _ := store.Get(context.Background(), "deal-1")
	if got.Status != deal.StatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if resolver.closed["deal-1"] != "0xdone" {
		t.Errorf("dispute not closed: %v", resolver.closed)
	}
}

func TestPollOpensDisputeRecordFromChain(t *testing.T) {
	source := &fakeSource{head: 120, events: []chain.Event{
		{Kind: chain.EventDealDisputed, DealID: 42, BlockNumber: 105,
			TxHash: "0xdispute", Initiator: buyerWallet},
	}}
	w, store, _ := newFixture(t, source)
	seedDeal(t, store, deal.StatusFunded, onChainID(42))

	resolver := &fakeResolver{}
	w.WithDisputeResolver(resolver)

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if err := w.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	got, _ := store.Get(context.Background(), "deal-1")
	if got.Status != deal.StatusDisputed || got.StatusSource != deal.OriginChain {
		t.Errorf("deal = %s from %s, want disputed from chain", got.Status, got.StatusSource)
	}
	// The initiator paid the dispute fee on chain and may never call
	// the API; the record must exist regardless.
	if resolver.opened["deal-1"] != "buyer-1" {
		t.Errorf("dispute record not ensured: %v", resolver.opened)
	}
}

func TestPollCancelsFundedDeal(t *testing.T) {
	source := &fakeSource{head: 120, events: []chain.Event{
		{Kind: chain.EventDealCancelled, DealID: 42, BlockNumber: 105, TxHash: "0xrefund"},
	}}
	w, store, _ := newFixture(t, source)
	seedDeal(t, store, deal.StatusFunded, onChainID(42))

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if err := w.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	// The contract refund path cancels funded escrows directly; the
	// record must follow the chain instead of sticking at funded.
	got, _ := store.Get(context.Background(), "deal-1")
	if got.Status != deal.StatusCancelled || got.StatusSource != deal.OriginChain {
		t.Errorf("deal = %s from %s, want cancelled from chain", got.Status, got.StatusSource)
	}
	if got.LastTxHash != "0xrefund" {
		t.Errorf("tx hash = %s, want 0xrefund", got.LastTxHash)
	}
}

func TestPollPrunesDedupeCache(t *testing.T) {
	source := &fakeSource{head: 120, events: []chain.Event{
		{Kind: chain.EventDealFunded, DealID: 42, BlockNumber: 105, TxHash: "0xfund"},
	}}
	w, store, cursors := newFixture(t, source)
	seedDeal(t, store, deal.StatusInitiated, onChainID(42))

	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if err := w.Poll(context.Background()); err != nil {
		t.Fatalf("poll: %v", err)
	}

	cursor, _ := cursors.Get(context.Background(), w.config.Contract)
	if cursor != 114 {
		t.Fatalf("cursor = %d, want 114", cursor)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.seen) != 0 {
		t.Errorf("dedupe cache holds %d entries behind the cursor, want 0", len(w.seen))
	}
}
