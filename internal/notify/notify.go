// Package notify delivers deal lifecycle notifications to users.
//
// Delivery is strictly fire-and-forget: a failing sink is logged and
// counted, and never blocks or fails the transition that produced the
// notification.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	notifyTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Subsystem: "notify",
		Name:      "emit_total",
		Help:      "Total notification emit attempts by kind.",
	}, []string{"kind"})

	notifyErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Subsystem: "notify",
		Name:      "emit_errors_total",
		Help:      "Total notification emit failures by kind.",
	}, []string{"kind"})
)

func init() {
	prometheus.MustRegister(notifyTotal, notifyErrors)
}

// Notification kinds emitted by the coordinator.
const (
	KindDealCreated     = "deal.created"
	KindDealFunded      = "deal.funded"
	KindPaymentSent     = "deal.payment_sent"
	KindDealCompleted   = "deal.completed"
	KindDealDisputed    = "deal.disputed"
	KindDealCancelled   = "deal.cancelled"
	KindDealExpired     = "deal.expired"
	KindDisputeResolved = "dispute.resolved"
)

// Sink receives one notification for one user.
type Sink interface {
	Notify(ctx context.Context, userID, kind string, payload map[string]interface{}) error
}

// Emitter fans a notification out to all configured sinks.
type Emitter struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewEmitter creates an emitter over the given sinks.
func NewEmitter(logger *slog.Logger, sinks ...Sink) *Emitter {
	return &Emitter{sinks: sinks, logger: logger}
}

// Notify delivers to every sink with a bounded deadline. Errors are
// logged and counted, never returned.
func (e *Emitter) Notify(userID, kind string, payload map[string]interface{}) {
	if e == nil {
		return
	}
	notifyTotal.WithLabelValues(kind).Inc()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, sink := range e.sinks {
		if err := sink.Notify(ctx, userID, kind, payload); err != nil {
			notifyErrors.WithLabelValues(kind).Inc()
			e.logger.Warn("notification delivery failed",
				"kind", kind, "user", userID, "error", err)
		}
	}
}

// LogSink writes notifications to the structured log. Useful in demo
// mode and as a delivery audit trail alongside the realtime hub.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Notify(ctx context.Context, userID, kind string, payload map[string]interface{}) error {
	s.Logger.Info("notify", "user", userID, "kind", kind, "payload", payload)
	return nil
}
