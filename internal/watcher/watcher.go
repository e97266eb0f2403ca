// Package watcher follows the escrow contract's event log and feeds
// finalized events into the reconciliation engine.
//
// Only blocks at least FinalityDepth behind the head are read, so a
// reorged-out event is never observed: safety against reorgs comes from
// the scan window, not from rollback logic. The per-contract cursor is
// persisted after each fully processed range, and every event applies
// idempotently, so crashing between events and rescanning is harmless.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paisahub/dealdesk/internal/chain"
	"github.com/paisahub/dealdesk/internal/circuitbreaker"
	"github.com/paisahub/dealdesk/internal/deal"
	"github.com/paisahub/dealdesk/internal/users"
)

// maxBlockRange caps one poll's scan so a long-idle watcher catches up
// in bounded RPC calls.
const maxBlockRange = 5000

// EventSource reads head height and decoded escrow events. Satisfied by
// *chain.Client.
type EventSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
	DealEvents(ctx context.Context, fromBlock, toBlock uint64) ([]chain.Event, error)
}

// Applier is the engine surface the watcher drives.
type Applier interface {
	Process(ctx context.Context, req deal.TransitionRequest) (*deal.Deal, error)
	Update(ctx context.Context, dealID string, mutate func(*deal.Deal) error) (*deal.Deal, error)
}

// DisputeResolver keeps off-chain dispute records in step with chain
// events: EnsureOpen when a dispute finalizes before the initiator's
// API call, MarkResolvedByDeal when the payout lands.
type DisputeResolver interface {
	EnsureOpen(ctx context.Context, dealID, initiatorID string) error
	MarkResolvedByDeal(ctx context.Context, dealID, txHash string) error
}

// Config for the escrow event watcher.
type Config struct {
	Contract      string
	PollInterval  time.Duration
	FinalityDepth uint64
	StartBlock    uint64 // 0 = current head at startup
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:  15 * time.Second,
		FinalityDepth: 6,
	}
}

// Watcher tails finalized escrow events into the engine.
type Watcher struct {
	source    EventSource
	store     deal.Store
	applier   Applier
	cursors   CursorStore
	directory users.Directory
	disputes  DisputeResolver
	config    Config
	logger    *slog.Logger

	// Session-level dedupe on (block, tx, logIndex), keyed to the
	// event's block so entries behind the persisted cursor can be
	// pruned. The engine's no-op handling covers duplicates across
	// restarts.
	seen map[string]uint64
	mu   sync.Mutex

	// breaker backs polling off a failing RPC endpoint instead of
	// hammering it every tick.
	breaker *circuitbreaker.Breaker

	stop    chan struct{}
	done    chan struct{}
	started atomic.Bool
}

// New creates an escrow event watcher.
func New(cfg Config, source EventSource, store deal.Store, applier Applier,
	cursors CursorStore, directory users.Directory, logger *slog.Logger) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.FinalityDepth == 0 {
		cfg.FinalityDepth = 6
	}
	return &Watcher{
		source:    source,
		store:     store,
		applier:   applier,
		cursors:   cursors,
		directory: directory,
		config:    cfg,
		logger:    logger,
		seen:      make(map[string]uint64),
		breaker:   circuitbreaker.New(5, 4*cfg.PollInterval),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// WithDisputeResolver wires the dispute-closure hook.
func (w *Watcher) WithDisputeResolver(r DisputeResolver) *Watcher {
	w.disputes = r
	return w
}

// Start initializes the cursor and begins polling in a goroutine.
func (w *Watcher) Start(ctx context.Context) error {
	cursor, err := w.cursors.Get(ctx, w.config.Contract)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if cursor == 0 {
		start := w.config.StartBlock
		if start == 0 {
			head, err := w.source.BlockNumber(ctx)
			if err != nil {
				return fmt.Errorf("get head block: %w", err)
			}
			start = head
		}
		if err := w.cursors.Set(ctx, w.config.Contract, start); err != nil {
			return fmt.Errorf("init cursor: %w", err)
		}
		cursor = start
	}

	w.logger.Info("escrow watcher started",
		"contract", w.config.Contract,
		"cursor", cursor,
		"finalityDepth", w.config.FinalityDepth,
	)

	w.started.Store(true)
	go w.pollLoop(ctx)
	return nil
}

// Stop stops the watcher and waits for the loop to exit. Safe to call
// when Start failed or was never called.
func (w *Watcher) Stop() {
	if !w.started.CompareAndSwap(true, false) {
		return
	}
	close(w.stop)
	<-w.done
}

func (w *Watcher) pollLoop(ctx context.Context) {
	defer close(w.done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			if !w.breaker.Allow(w.config.Contract) {
				w.logger.Warn("rpc circuit open, skipping poll", "contract", w.config.Contract)
				continue
			}
			if err := w.Poll(ctx); err != nil {
				w.breaker.RecordFailure(w.config.Contract)
				pollErrors.Inc()
				w.logger.Error("escrow event poll failed", "error", err)
			} else {
				w.breaker.RecordSuccess(w.config.Contract)
			}
		}
	}
}

// Poll scans one window of finalized blocks. Exported so tests can
// drive the watcher without the ticker.
func (w *Watcher) Poll(ctx context.Context) error {
	head, err := w.source.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("get head block: %w", err)
	}
	if head < w.config.FinalityDepth {
		return nil
	}
	safe := head - w.config.FinalityDepth

	cursor, err := w.cursors.Get(ctx, w.config.Contract)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if safe <= cursor {
		return nil
	}

	to := safe
	if to-cursor > maxBlockRange {
		to = cursor + maxBlockRange
	}
	chainLag.Set(float64(head - cursor))

	events, err := w.source.DealEvents(ctx, cursor+1, to)
	if err != nil {
		return fmt.Errorf("filter logs [%d, %d]: %w", cursor+1, to, err)
	}

	for _, ev := range events {
		if err := w.processEvent(ctx, ev); err != nil {
			// Do not advance past the failed event; the next poll
			// rescans from its block and duplicates apply as no-ops.
			if ev.BlockNumber > cursor+1 {
				if saveErr := w.cursors.Set(ctx, w.config.Contract, ev.BlockNumber-1); saveErr != nil {
					w.logger.Error("cursor save failed", "error", saveErr)
				}
			}
			return fmt.Errorf("process %s at %s: %w", ev.Kind, ev.Key(), err)
		}
	}

	if err := w.cursors.Set(ctx, w.config.Contract, to); err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	w.pruneSeen(to)
	return nil
}

// pruneSeen drops dedupe entries at or below the persisted cursor.
// Rescans always start above the cursor, so those keys cannot recur.
func (w *Watcher) pruneSeen(cursor uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for key, block := range w.seen {
		if block <= cursor {
			delete(w.seen, key)
		}
	}
}

func (w *Watcher) processEvent(ctx context.Context, ev chain.Event) error {
	w.mu.Lock()
	if _, dup := w.seen[ev.Key()]; dup {
		w.mu.Unlock()
		return nil
	}
	w.seen[ev.Key()] = ev.BlockNumber
	w.mu.Unlock()

	eventsTotal.WithLabelValues(string(ev.Kind)).Inc()

	if ev.Kind == chain.EventDealCreated {
		return w.linkDeal(ctx, ev)
	}

	te, ok := ev.TransitionEvent()
	if !ok {
		return nil
	}

	d, err := w.store.GetByOnChainID(ctx, ev.DealID)
	if err != nil {
		if errors.Is(err, deal.ErrNotFound) {
			// An escrow opened outside this platform; nothing to track.
			w.logger.Debug("event for unknown escrow", "onChainDealId", ev.DealID, "kind", ev.Kind)
			return nil
		}
		return err
	}

	applied, err := w.applier.Process(ctx, deal.TransitionRequest{
		DealID:        d.ID,
		Event:         te,
		Origin:        deal.OriginChain,
		OnChainDealID: &ev.DealID,
		TxHash:        ev.TxHash,
	})
	if err != nil {
		if errors.Is(err, deal.ErrInvalidTransition) {
			// Contract and record genuinely disagree on the path. Log it
			// loudly and move on; stalling the cursor would not fix it.
			w.logger.Error("chain event rejected by state machine",
				"deal", d.ID, "kind", ev.Kind, "status", d.Status, "tx", ev.TxHash)
			return nil
		}
		return err
	}

	if w.disputes != nil {
		switch ev.Kind {
		case chain.EventDealDisputed:
			// The fee-paying initiator may never follow up over the
			// API; make sure a record exists for the arbitration queue.
			if err := w.disputes.EnsureOpen(ctx, applied.ID, w.resolveActor(ctx, ev.Initiator)); err != nil {
				w.logger.Error("dispute record creation failed", "deal", applied.ID, "error", err)
			}
		case chain.EventDealCompleted:
			if applied.DisputeID != "" {
				if err := w.disputes.MarkResolvedByDeal(ctx, applied.ID, ev.TxHash); err != nil {
					w.logger.Error("dispute closure failed", "deal", applied.ID, "error", err)
				}
			}
		}
	}
	return nil
}

// resolveActor maps an event's initiator wallet to a platform user id,
// or "" when the wallet is absent or unknown.
func (w *Watcher) resolveActor(ctx context.Context, wallet string) string {
	if wallet == "" {
		return ""
	}
	u, err := w.directory.ResolveWallet(ctx, wallet)
	if err != nil {
		return ""
	}
	return u.ID
}

// linkDeal attaches the contract's deal id to the matching off-chain
// record: same buyer and seller, still initiated, not yet linked.
func (w *Watcher) linkDeal(ctx context.Context, ev chain.Event) error {
	buyer, err := w.directory.ResolveWallet(ctx, ev.Buyer)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			w.logger.Debug("escrow created by unknown wallet", "buyer", ev.Buyer)
			return nil
		}
		return err
	}
	seller, err := w.directory.ResolveWallet(ctx, ev.Seller)
	if err != nil {
		if errors.Is(err, users.ErrUserNotFound) {
			return nil
		}
		return err
	}

	candidates, err := w.store.ListByUser(ctx, buyer.ID, deal.StatusInitiated, 50)
	if err != nil {
		return err
	}
	for _, d := range candidates {
		if d.SellerID != seller.ID || d.OnChainDealID != nil {
			continue
		}
		id := ev.DealID
		_, err := w.applier.Update(ctx, d.ID, func(d *deal.Deal) error {
			if d.OnChainDealID != nil {
				return nil
			}
			d.OnChainDealID = &id
			if d.LastTxHash == "" {
				d.LastTxHash = ev.TxHash
			}
			return nil
		})
		if err != nil {
			return err
		}
		w.logger.Info("deal linked to escrow", "deal", d.ID, "onChainDealId", ev.DealID)
		return nil
	}

	w.logger.Warn("no open deal matches created escrow",
		"onChainDealId", ev.DealID, "buyer", buyer.ID, "seller", seller.ID)
	return nil
}
