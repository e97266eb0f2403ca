package reputation

import "github.com/prometheus/client_golang/prometheus"

var recomputeTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "dealdesk",
	Subsystem: "reputation",
	Name:      "recompute_total",
	Help:      "Total reputation score recomputations pushed to the user directory.",
})

func init() {
	prometheus.MustRegister(recomputeTotal)
}
