package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
)

type recordingSink struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (s *recordingSink) Notify(ctx context.Context, userID, kind string, payload map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, userID+"/"+kind)
	return s.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEmitter_FansOutToAllSinks(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	e := NewEmitter(testLogger(), a, b)

	e.Notify("buyer-1", KindDealFunded, map[string]interface{}{"dealId": "d-1"})

	for _, s := range []*recordingSink{a, b} {
		if len(s.calls) != 1 || s.calls[0] != "buyer-1/"+KindDealFunded {
			t.Fatalf("expected one delivery to buyer-1, got %v", s.calls)
		}
	}
}

func TestEmitter_SinkErrorDoesNotStopOthers(t *testing.T) {
	failing := &recordingSink{err: errors.New("socket closed")}
	healthy := &recordingSink{}
	e := NewEmitter(testLogger(), failing, healthy)

	e.Notify("seller-1", KindDealCompleted, nil)

	if len(healthy.calls) != 1 {
		t.Fatalf("expected healthy sink to receive delivery, got %v", healthy.calls)
	}
}

func TestEmitter_NilEmitterIsSafe(t *testing.T) {
	var e *Emitter
	// Must not panic; transition paths call through an optional emitter.
	e.Notify("anyone", KindDealCreated, nil)
}

func TestLogSink(t *testing.T) {
	s := &LogSink{Logger: testLogger()}
	if err := s.Notify(context.Background(), "u-1", KindDealDisputed, map[string]interface{}{"dealId": "d-9"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
