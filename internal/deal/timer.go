package deal

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically sweeps for deals past their expiry and moves them
// to Expired through the transition engine. Disputed deals are exempt:
// arbitration has no deadline.
type Timer struct {
	store    Store
	applier  TransitionApplier
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new deal expiry timer.
func NewTimer(store Store, applier TransitionApplier, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Timer{
		store:    store,
		applier:  applier,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the sweep loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the expiry loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeSweep(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in expiry sweep", "panic", fmt.Sprint(r))
		}
	}()
	t.Sweep(ctx)
}

// Sweep expires every overdue deal it can find. Exported so tests and
// the readiness probe can trigger a pass directly.
func (t *Timer) Sweep(ctx context.Context) {
	expired, err := t.store.ListExpired(ctx, time.Now(), 100)
	if err != nil {
		t.logger.Warn("failed to list expired deals", "error", err)
		return
	}

	for _, d := range expired {
		_, err := t.applier.Process(ctx, TransitionRequest{
			DealID: d.ID,
			Event:  EventExpire,
			Origin: OriginScheduler,
		})
		if err != nil {
			// A racing transition may have beaten the sweep; the next
			// pass will no longer see the deal.
			t.logger.Warn("failed to expire deal", "deal", d.ID, "error", err)
			continue
		}
		dealsExpired.Inc()
		t.logger.Info("deal expired", "deal", d.ID, "buyer", d.BuyerID, "seller", d.SellerID)
	}
}
