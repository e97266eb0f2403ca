package realtime

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/paisahub/dealdesk/internal/notify"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// ---------------------------------------------------------------------------
// subscription filter tests
// ---------------------------------------------------------------------------

func TestWants_EmptySubscription(t *testing.T) {
	client := &Client{}

	if !client.wants(notify.KindDealFunded) {
		t.Error("client without a kind filter should receive everything")
	}
}

func TestWants_KindFilter(t *testing.T) {
	client := &Client{sub: Subscription{
		Kinds: []string{notify.KindDealCompleted, notify.KindDisputeResolved},
	}}

	if !client.wants(notify.KindDealCompleted) {
		t.Error("should receive deal.completed")
	}
	if !client.wants(notify.KindDisputeResolved) {
		t.Error("should receive dispute.resolved")
	}
	if client.wants(notify.KindDealFunded) {
		t.Error("should NOT receive deal.funded")
	}
}

// ---------------------------------------------------------------------------
// hub lifecycle tests
// ---------------------------------------------------------------------------

func TestHub_Stats_Initial(t *testing.T) {
	h := testHub()

	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients, got %v", stats["connectedClients"])
	}
	if stats["totalEvents"].(int64) != 0 {
		t.Errorf("Expected 0 total events, got %v", stats["totalEvents"])
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	client := &Client{
		hub:    h,
		userID: "user-1",
		send:   make(chan []byte, 256),
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	stats := h.Stats()
	if stats["connectedClients"].(int) != 1 {
		t.Errorf("Expected 1 connected client, got %v", stats["connectedClients"])
	}
	if stats["connectedUsers"].(int) != 1 {
		t.Errorf("Expected 1 connected user, got %v", stats["connectedUsers"])
	}
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak 1, got %v", stats["peakClients"])
	}

	h.unregister <- client
	time.Sleep(50 * time.Millisecond)

	stats = h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("Expected 0 connected clients after unregister, got %v", stats["connectedClients"])
	}
	// Peak should still be 1
	if stats["peakClients"].(int64) != 1 {
		t.Errorf("Expected peak still 1, got %v", stats["peakClients"])
	}
}

func TestHub_NotifyTargetsUser(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	buyer := &Client{hub: h, userID: "buyer-1", send: make(chan []byte, 256)}
	seller := &Client{hub: h, userID: "seller-1", send: make(chan []byte, 256)}

	h.register <- buyer
	h.register <- seller
	time.Sleep(50 * time.Millisecond)

	err := h.Notify(ctx, "buyer-1", notify.KindDealFunded, map[string]interface{}{
		"dealId": "deal-1", "status": "funded",
	})
	if err != nil {
		t.Fatalf("notify: %v", err)
	}

	select {
	case msg := <-buyer.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Timeout waiting for buyer delivery")
	}

	select {
	case <-seller.send:
		t.Error("seller should NOT receive buyer's notification")
	default:
	}
}

func TestHub_NotifyRespectsKindFilter(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Client only wants dispute outcomes
	client := &Client{
		hub:    h,
		userID: "user-1",
		send:   make(chan []byte, 256),
		sub:    Subscription{Kinds: []string{notify.KindDisputeResolved}},
	}

	h.register <- client
	time.Sleep(50 * time.Millisecond)

	_ = h.Notify(ctx, "user-1", notify.KindDealFunded, nil)
	time.Sleep(100 * time.Millisecond)

	select {
	case <-client.send:
		t.Error("Client should NOT receive deal.funded")
	default:
		// Good - filtered out
	}

	_ = h.Notify(ctx, "user-1", notify.KindDisputeResolved, map[string]interface{}{"dealId": "deal-1"})

	select {
	case msg := <-client.send:
		if len(msg) == 0 {
			t.Error("Expected non-empty message")
		}
	case <-time.After(time.Second):
		t.Error("Client should receive dispute.resolved")
	}
}

func TestHub_NotifyUnknownUser(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go h.Run(ctx)
	time.Sleep(50 * time.Millisecond)

	// Should not error or panic with nobody connected
	if err := h.Notify(ctx, "nobody", notify.KindDealCreated, nil); err != nil {
		t.Errorf("notify with no clients: %v", err)
	}
}

func TestHub_ContextCancellation(t *testing.T) {
	h := testHub()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
		// Hub stopped
	case <-time.After(2 * time.Second):
		t.Error("Hub did not stop after context cancellation")
	}
}
