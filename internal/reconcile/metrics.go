package reconcile

import "github.com/prometheus/client_golang/prometheus"

var (
	transitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Subsystem: "reconcile",
		Name:      "transitions_total",
		Help:      "Total deal transitions applied, by event and origin.",
	}, []string{"event", "origin"})

	transitionFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Subsystem: "reconcile",
		Name:      "transition_failures_total",
		Help:      "Total rejected transition requests, by event and reason.",
	}, []string{"event", "reason"})

	overridesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Subsystem: "reconcile",
		Name:      "chain_overrides_total",
		Help:      "Total API requests rejected because they contradicted confirmed chain state.",
	})

	chainNoops = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Subsystem: "reconcile",
		Name:      "chain_noops_total",
		Help:      "Total chain events dropped because their effect was already recorded.",
	})
)

func init() {
	prometheus.MustRegister(transitionsTotal, transitionFailures, overridesTotal, chainNoops)
}
