package watcher

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Subsystem: "watcher",
		Name:      "events_total",
		Help:      "Total finalized escrow events processed, by kind.",
	}, []string{"kind"})

	pollErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "dealdesk",
		Subsystem: "watcher",
		Name:      "poll_errors_total",
		Help:      "Total failed poll cycles.",
	})

	chainLag = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dealdesk",
		Subsystem: "watcher",
		Name:      "chain_lag_blocks",
		Help:      "Blocks between the chain head and the watcher cursor.",
	})
)

func init() {
	prometheus.MustRegister(eventsTotal, pollErrors, chainLag)
}
